package equipment

import (
	"github.com/vinibressanini/idab-processor/internal/config"
	"github.com/vinibressanini/idab-processor/internal/rules"
)

// BuildAll constructs one Equipment per entry of topo, sharing a single
// rules.Cache so identical expression text compiles exactly once across
// the whole topology. Returns the first construction error encountered,
// naming the offending equipment and rule.
func BuildAll(topo config.Topology, cache *rules.Cache) ([]*Equipment, error) {
	equipments := make([]*Equipment, 0, len(topo))
	for name, spec := range topo {
		eq, err := New(name, spec, cache)
		if err != nil {
			return nil, err
		}
		equipments = append(equipments, eq)
	}
	return equipments, nil
}
