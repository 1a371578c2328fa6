// Package ingest demultiplexes topic-addressed telemetry into per-equipment
// reading snapshots.
package ingest

import (
	"context"

	"github.com/vinibressanini/idab-processor/internal/equipment"
	"github.com/vinibressanini/idab-processor/internal/rules"
)

// Adapter connects once against the known equipments, then drains readings
// per equipment on demand. The MQTT adapter and the simulated demo source
// both implement it so the scheduler never branches on which one it holds.
type Adapter interface {
	Connect(ctx context.Context, equipments []*equipment.Equipment) error
	Read(eq *equipment.Equipment) (rules.SymbolTable, error)
}

// addressEntry is one row of the global address→tag map, computed once at
// Connect time across every equipment's tags.
type addressEntry struct {
	tagName string
	tagType equipment.TagType
}

func buildAddressMap(equipments []*equipment.Equipment) map[string]addressEntry {
	m := make(map[string]addressEntry)
	for _, eq := range equipments {
		for _, tag := range eq.Tags {
			m[tag.Address] = addressEntry{tagName: tag.Name, tagType: tag.Type}
		}
	}
	return m
}
