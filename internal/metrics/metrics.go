// Package metrics exposes the Prometheus collectors the worker updates:
// a per-sensor reading gauge, a raw-reading counter, a triggered-events
// counter, and a per-rule counter labeled by rule name.
package metrics

import (
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the worker updates.
type Metrics struct {
	SensorReading   *prometheus.GaugeVec
	RawDataTotal    prometheus.Counter
	EventsTriggered prometheus.Counter
	RuleTriggered   *prometheus.CounterVec
}

// New builds and registers a Metrics instance against registerer.
// Passing nil skips registration, so several instances can be built in one
// process.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		SensorReading: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "plc_sensor_reading",
				Help: "Current value of a PLC sensor reading.",
			},
			[]string{"equipment", "sensor"},
		),
		RawDataTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "raw_data_events_total",
				Help: "Total number of PLC value readings with a numeric cast.",
			},
		),
		EventsTriggered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "events_triggered_total",
				Help: "Total number of rule-triggered events emitted.",
			},
		),
		RuleTriggered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rule_triggered_total",
				Help: "Total number of triggers per rule name.",
			},
			[]string{"rule"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.SensorReading,
			m.RawDataTotal,
			m.EventsTriggered,
			m.RuleTriggered,
		)
	}
	return m
}

// RecordReading updates the sensor gauge and increments the raw-data
// counter when value casts cleanly to float64; a bool counts as 1 or 0.
// Other values (e.g. strings) only skip the gauge/counter; they are not an
// error.
func (m *Metrics) RecordReading(equipment, sensor string, value interface{}) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case int64:
		f = float64(v)
	case bool:
		if v {
			f = 1
		}
	default:
		return
	}
	m.SensorReading.WithLabelValues(equipment, sensor).Set(f)
	m.RawDataTotal.Inc()
}

// RecordTriggered increments the global triggered-events counter and the
// per-rule counter for ruleName.
func (m *Metrics) RecordTriggered(ruleName string, count int) {
	if count <= 0 {
		return
	}
	m.EventsTriggered.Add(float64(count))
	m.RuleTriggered.WithLabelValues(ruleName).Add(float64(count))
}

// Enabled reports the env-driven toggle: metrics are emitted unless
// METRICS_ENABLED is explicitly falsy.
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return true
	}
	switch raw {
	case "0", "false", "no", "off":
		return false
	default:
		return true
	}
}
