package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinibressanini/idab-processor/internal/config"
	"github.com/vinibressanini/idab-processor/internal/equipment"
	"github.com/vinibressanini/idab-processor/internal/rules"
)

// fakeAdapter hands out one preprogrammed reading map per equipment per
// call to Read, advancing through a queue of snapshots.
type fakeAdapter struct {
	sequence map[string][]rules.SymbolTable
	pos      map[string]int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		sequence: make(map[string][]rules.SymbolTable),
		pos:      make(map[string]int),
	}
}

func (f *fakeAdapter) push(equipmentName string, reading rules.SymbolTable) {
	f.sequence[equipmentName] = append(f.sequence[equipmentName], reading)
}

func (f *fakeAdapter) Connect(_ context.Context, _ []*equipment.Equipment) error { return nil }

func (f *fakeAdapter) Read(eq *equipment.Equipment) (rules.SymbolTable, error) {
	seq := f.sequence[eq.Name]
	i := f.pos[eq.Name]
	if i >= len(seq) {
		return rules.SymbolTable{}, nil
	}
	f.pos[eq.Name] = i + 1
	return seq[i], nil
}

// fakeStore records every payload persisted by the scheduler.
type fakeStore struct {
	records []storedRecord
}

type storedRecord struct {
	eventName string
	payload   json.RawMessage
}

func (s *fakeStore) Store(_ context.Context, eventName string, payload json.RawMessage, _ int64) (int64, error) {
	s.records = append(s.records, storedRecord{eventName: eventName, payload: payload})
	return int64(len(s.records)), nil
}

func pressureSpec() config.EquipmentSpec {
	return config.EquipmentSpec{
		Code: "E1",
		Tags: []config.TagSpec{
			{Name: "Pressao", PLCAddress: "100", Type: "float"},
		},
		EventRules: []config.RuleSpec{
			{Name: "R1", Expression: "Pressao < 2.0", RoutingKey: "rk1"},
		},
	}
}

func newTestScheduler(t *testing.T, adapter *fakeAdapter, store *fakeStore, eq *equipment.Equipment) *Scheduler {
	t.Helper()
	return New(Config{Interval: time.Second}, adapter, []*equipment.Equipment{eq}, store, nil, nil)
}

func TestTickEmitsOnlyOnRisingEdge(t *testing.T) {
	cache := rules.NewCache()
	eq, err := equipment.New("E1", pressureSpec(), cache)
	require.NoError(t, err)

	adapter := newFakeAdapter()
	for _, v := range []float64{3.0, 2.5, 1.8, 1.5} {
		adapter.push("E1", rules.SymbolTable{"Pressao": rules.NumberValue(v)})
	}
	store := &fakeStore{}
	s := newTestScheduler(t, adapter, store, eq)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		s.Tick(ctx)
	}

	require.Len(t, store.records, 1, "exactly one event across readings 3.0, 2.5, 1.8, 1.5")
	assert.Equal(t, "R1", store.records[0].eventName)
}

func TestTickNoDuplicateOnSustainedTrue(t *testing.T) {
	cache := rules.NewCache()
	eq, err := equipment.New("E1", pressureSpec(), cache)
	require.NoError(t, err)

	adapter := newFakeAdapter()
	for _, v := range []float64{1.8, 1.2} {
		adapter.push("E1", rules.SymbolTable{"Pressao": rules.NumberValue(v)})
	}
	store := &fakeStore{}
	s := newTestScheduler(t, adapter, store, eq)

	ctx := context.Background()
	s.Tick(ctx)
	s.Tick(ctx)

	require.Len(t, store.records, 1)
	assert.True(t, eq.Rules[0].State)
}

func TestTickRearmsAfterFallingEdge(t *testing.T) {
	cache := rules.NewCache()
	eq, err := equipment.New("E1", pressureSpec(), cache)
	require.NoError(t, err)

	adapter := newFakeAdapter()
	for _, v := range []float64{1.8, 2.1, 1.9} {
		adapter.push("E1", rules.SymbolTable{"Pressao": rules.NumberValue(v)})
	}
	store := &fakeStore{}
	s := newTestScheduler(t, adapter, store, eq)

	ctx := context.Background()
	s.Tick(ctx) // 1.8: rising edge, emits
	s.Tick(ctx) // 2.1: falling edge, no emit
	s.Tick(ctx) // 1.9: rising edge again, emits

	require.Len(t, store.records, 2)
}

func TestTickSkipsEquipmentWithNoReadings(t *testing.T) {
	cache := rules.NewCache()
	eq, err := equipment.New("E1", pressureSpec(), cache)
	require.NoError(t, err)

	adapter := newFakeAdapter() // no readings pushed at all
	store := &fakeStore{}
	s := newTestScheduler(t, adapter, store, eq)

	s.Tick(context.Background())

	assert.Empty(t, store.records)
	assert.False(t, eq.Rules[0].State)
}

func TestTickUnknownTagEvaluatesFalseWithoutCrashing(t *testing.T) {
	spec := config.EquipmentSpec{
		Code: "E1",
		Tags: []config.TagSpec{
			{Name: "Pressao", PLCAddress: "100", Type: "float"},
		},
		EventRules: []config.RuleSpec{
			{Name: "R1", Expression: "NotATag < 2.0", RoutingKey: "rk1"},
		},
	}
	cache := rules.NewCache()
	eq, err := equipment.New("E1", spec, cache)
	require.NoError(t, err)

	adapter := newFakeAdapter()
	adapter.push("E1", rules.SymbolTable{"Pressao": rules.NumberValue(1.0)})
	store := &fakeStore{}
	s := newTestScheduler(t, adapter, store, eq)

	require.NotPanics(t, func() { s.Tick(context.Background()) })
	assert.Empty(t, store.records)
	assert.False(t, eq.Rules[0].State)
}

func TestTickAttachesOutputValueToPayload(t *testing.T) {
	spec := config.EquipmentSpec{
		Code: "E1",
		Tags: []config.TagSpec{
			{Name: "Pressao", PLCAddress: "100", Type: "float"},
		},
		EventRules: []config.RuleSpec{
			{Name: "R1", Expression: "Pressao < 2.0", RoutingKey: "rk1", Output: "Pressao"},
		},
	}
	cache := rules.NewCache()
	eq, err := equipment.New("E1", spec, cache)
	require.NoError(t, err)

	adapter := newFakeAdapter()
	adapter.push("E1", rules.SymbolTable{"Pressao": rules.NumberValue(1.5)})
	store := &fakeStore{}
	s := newTestScheduler(t, adapter, store, eq)

	s.Tick(context.Background())

	require.Len(t, store.records, 1)
	var decoded struct {
		Data map[string]float64 `json:"data"`
	}
	require.NoError(t, json.Unmarshal(store.records[0].payload, &decoded))
	assert.Equal(t, 1.5, decoded.Data["Pressao"])
}
