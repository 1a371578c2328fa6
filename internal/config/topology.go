package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/vinibressanini/idab-processor/internal/apperrors"
)

// TagSpec is one entry of an equipment's "tags" array in the topology file.
type TagSpec struct {
	Name       string `json:"name"`
	PLCAddress string `json:"plc_address"`
	Type       string `json:"type"`
}

// RuleSpec is one entry of an equipment's "event_rules" array.
type RuleSpec struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
	RoutingKey string `json:"routing_key"`
	Output     string `json:"output"`
}

// EquipmentSpec is the on-disk shape of one equipment in the topology file.
type EquipmentSpec struct {
	IP         string            `json:"ip"`
	Code       string            `json:"code"`
	Metadata   map[string]string `json:"metadata"`
	Tags       []TagSpec         `json:"tags"`
	EventRules []RuleSpec        `json:"event_rules"`
}

// Topology is the top-level mapping from equipment name to its spec.
type Topology map[string]EquipmentSpec

// LoadTopology reads and parses the JSON configuration file at path.
// Malformed JSON is a fatal startup error; this function returns a
// KindConfig apperrors.Error so cmd/worker can exit non-zero with a
// diagnostic naming the offending file.
func LoadTopology(path string) (Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrapConfigErr(path, "read topology file", err)
	}

	var topo Topology
	if err := json.Unmarshal(data, &topo); err != nil {
		return nil, wrapConfigErr(path, "decode topology JSON", err)
	}
	if len(topo) == 0 {
		return nil, wrapConfigErr(path, "topology file defines no equipments", nil)
	}
	return topo, nil
}

func wrapConfigErr(path, msg string, cause error) error {
	if cause == nil {
		cause = errors.New(msg)
	}
	return apperrors.Wrap(apperrors.KindConfig, fmt.Sprintf("%s (%s)", msg, path), cause)
}
