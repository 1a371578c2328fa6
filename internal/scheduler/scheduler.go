// Package scheduler drives the fixed-tick loop that pulls fresh readings
// into each equipment, evaluates its rules, and emits events on rising
// edges.
package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vinibressanini/idab-processor/internal/equipment"
	"github.com/vinibressanini/idab-processor/internal/ingest"
	"github.com/vinibressanini/idab-processor/internal/logging"
	"github.com/vinibressanini/idab-processor/internal/metrics"
	"github.com/vinibressanini/idab-processor/internal/rules"
)

// Store is the subset of *outbox.Store the scheduler needs to persist
// emitted events.
type Store interface {
	Store(ctx context.Context, eventName string, payload json.RawMessage, createdAt int64) (int64, error)
}

// Config tunes the scheduler's tick cadence.
type Config struct {
	Interval time.Duration
}

// Scheduler evaluates every equipment's rules once per tick.
type Scheduler struct {
	cfg        Config
	adapter    ingest.Adapter
	equipments []*equipment.Equipment
	store      Store
	metrics    *metrics.Metrics
	log        *logging.Logger

	nowFunc func() time.Time
}

// New builds a Scheduler. m may be nil to disable metrics recording.
func New(cfg Config, adapter ingest.Adapter, equipments []*equipment.Equipment, store Store, m *metrics.Metrics, log *logging.Logger) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		adapter:    adapter,
		equipments: equipments,
		store:      store,
		metrics:    m,
		log:        log,
		nowFunc:    time.Now,
	}
}

// WithClock overrides the scheduler's time source (test-only hook).
func (s *Scheduler) WithClock(fn func() time.Time) *Scheduler {
	s.nowFunc = fn
	return s
}

// Run ticks every cfg.Interval on a fixed-period schedule (not fixed-delay:
// a slow tick does not push later ticks back) until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs a single evaluation pass over every equipment. Exported so
// tests can drive individual ticks without waiting on the ticker.
func (s *Scheduler) Tick(ctx context.Context) {
	for _, eq := range s.equipments {
		readings, err := s.adapter.Read(eq)
		if err != nil {
			if s.log != nil {
				s.log.WithField("equipment", eq.Name).WithField("error", err).Warn("scheduler: read failed")
			}
			continue
		}
		eq.UpdateValues(readings)

		if s.metrics != nil {
			for name, v := range readings {
				s.metrics.RecordReading(eq.Name, name, metricsValue(v))
			}
		}

		if !eq.HasReadings() {
			continue
		}

		s.evaluateEquipment(ctx, eq)
	}
}

func (s *Scheduler) evaluateEquipment(ctx context.Context, eq *equipment.Equipment) {
	now := s.nowFunc().Unix()

	for i := range eq.Rules {
		rule := &eq.Rules[i]

		triggered, err := rules.Evaluate(rule.Expression, eq.Symtable)
		if err != nil && s.log != nil {
			s.log.WithField("equipment", eq.Name).WithField("rule", rule.Name).WithField("error", err).Warn("scheduler: rule evaluation error")
		}

		shouldEmit := triggered && !rule.State
		rule.State = triggered

		if !shouldEmit {
			continue
		}

		payload := buildPayload(eq, rule, now)
		body, err := json.Marshal(payload)
		if err != nil {
			if s.log != nil {
				s.log.WithField("equipment", eq.Name).WithField("rule", rule.Name).WithField("error", err).Error("scheduler: encode event payload failed")
			}
			continue
		}

		if _, err := s.store.Store(ctx, rule.Name, body, now); err != nil {
			if s.log != nil {
				s.log.WithField("equipment", eq.Name).WithField("rule", rule.Name).WithField("error", err).Error("scheduler: persist event failed")
			}
			continue
		}

		if s.metrics != nil {
			s.metrics.RecordTriggered(rule.Name, 1)
		}
	}
}

// eventPayload is the JSON shape persisted to the outbox and eventually
// sent to the broker.
type eventPayload struct {
	EventName  string            `json:"event_name"`
	Code       string            `json:"code"`
	RoutingKey string            `json:"routing_key"`
	Timestamp  int64             `json:"timestamp"`
	Metadata   map[string]string `json:"metadata"`
	Data       map[string]any    `json:"data,omitempty"`
}

func buildPayload(eq *equipment.Equipment, rule *equipment.Rule, now int64) eventPayload {
	p := eventPayload{
		EventName:  rule.Name,
		Code:       eq.Code,
		RoutingKey: rule.RoutingKey,
		Timestamp:  now,
		Metadata:   eq.Metadata,
	}
	if rule.Output != "" {
		if v, ok := eq.Symtable[rule.Output]; ok {
			p.Data = map[string]any{rule.Output: rawValue(v)}
		}
	}
	return p
}

func rawValue(v rules.Value) any {
	switch v.Kind {
	case rules.KindNumber:
		return v.Num
	case rules.KindBool:
		return v.Bool
	case rules.KindString:
		return v.Str
	default:
		return nil
	}
}

func metricsValue(v rules.Value) any {
	switch v.Kind {
	case rules.KindNumber:
		return v.Num
	case rules.KindBool:
		return v.Bool
	default:
		return v.Str
	}
}
