package ingest

import (
	"context"
	"math/rand"

	"github.com/vinibressanini/idab-processor/internal/equipment"
	"github.com/vinibressanini/idab-processor/internal/rules"
)

// Simulated is a demo Adapter that fabricates a reading for every declared
// tag on each Read call instead of listening on a real bus. It exists so
// the worker can run end-to-end against a topology with no PLC or broker
// present, generalizing the random-walk reader used for local demos.
type Simulated struct {
	rng *rand.Rand
}

// NewSimulated builds a simulated source seeded with seed. A fixed seed
// makes a demo run reproducible; callers wanting real randomness should
// seed from a time- or entropy-derived value themselves.
func NewSimulated(seed int64) *Simulated {
	return &Simulated{rng: rand.New(rand.NewSource(seed))}
}

// Connect is a no-op: the simulated source has no external bus to dial.
func (s *Simulated) Connect(_ context.Context, _ []*equipment.Equipment) error {
	return nil
}

// Read fabricates one value per declared tag, typed to match the tag's
// TagType, so every rule referencing a known tag always has something to
// evaluate against.
func (s *Simulated) Read(eq *equipment.Equipment) (rules.SymbolTable, error) {
	readings := make(rules.SymbolTable, len(eq.Tags))
	for _, tag := range eq.Tags {
		readings[tag.Name] = s.randomValue(tag.Type)
	}
	return readings, nil
}

func (s *Simulated) randomValue(tagType equipment.TagType) rules.Value {
	switch tagType {
	case equipment.TypeInt:
		return rules.NumberValue(float64(s.rng.Intn(100)))
	case equipment.TypeFloat:
		return rules.NumberValue(s.rng.Float64() * 100)
	case equipment.TypeBool:
		return rules.BoolValue(s.rng.Intn(2) == 1)
	case equipment.TypeString:
		states := []string{"idle", "running", "fault"}
		return rules.StringValue(states[s.rng.Intn(len(states))])
	default:
		return rules.NumberValue(0)
	}
}
