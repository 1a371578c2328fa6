package ingest

import (
	"strconv"
	"strings"

	"github.com/vinibressanini/idab-processor/internal/equipment"
	"github.com/vinibressanini/idab-processor/internal/rules"
)

// castValue converts a raw UTF-8 payload string to a rules.Value per the
// tag's declared type: integers and floats via base-10 and decimal parse
// respectively, booleans via "true"/"1" vs "false"/"0" case-insensitive,
// strings verbatim. Returns ok=false on a cast failure, which the caller
// treats as "skip this reading", not an error.
func castValue(raw string, tagType equipment.TagType) (rules.Value, bool) {
	switch tagType {
	case equipment.TypeInt:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return rules.Value{}, false
		}
		return rules.NumberValue(float64(n)), true
	case equipment.TypeFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return rules.Value{}, false
		}
		return rules.NumberValue(f), true
	case equipment.TypeBool:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true", "1":
			return rules.BoolValue(true), true
		case "false", "0":
			return rules.BoolValue(false), true
		default:
			return rules.Value{}, false
		}
	case equipment.TypeString:
		return rules.StringValue(raw), true
	default:
		return rules.Value{}, false
	}
}

// addressOf returns the last '/'-separated segment of topic, the address
// in the "/<equipment_name>/.../<address>" topic shape.
func addressOf(topic string) string {
	i := strings.LastIndexByte(topic, '/')
	if i < 0 {
		return topic
	}
	return topic[i+1:]
}

// equipmentNameOf returns the first non-empty path segment of topic, the
// equipment name. ok is false when the topic has no equipment segment at
// all.
func equipmentNameOf(topic string) (string, bool) {
	trimmed := strings.TrimPrefix(topic, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "", false
	}
	return parts[0], true
}
