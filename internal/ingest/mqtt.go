package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/vinibressanini/idab-processor/internal/apperrors"
	"github.com/vinibressanini/idab-processor/internal/equipment"
	"github.com/vinibressanini/idab-processor/internal/logging"
	"github.com/vinibressanini/idab-processor/internal/rules"
)

const maxReconnectBackoff = 30 * time.Second

// MQTTConfig describes how to reach the telemetry broker.
type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	QueueSize int
}

// MQTT is the production Adapter: one paho client subscribed to
// "/<equipment_name>/#" per equipment, demultiplexing into per-equipment
// bounded queues.
type MQTT struct {
	cfg MQTTConfig
	log *logging.Logger

	client mqtt.Client

	mu         sync.RWMutex
	addressMap map[string]addressEntry
	queues     map[string]*boundedQueue
}

// NewMQTT returns an adapter that has not yet connected.
func NewMQTT(cfg MQTTConfig, log *logging.Logger) *MQTT {
	return &MQTT{cfg: cfg, log: log}
}

// Connect computes the global address map, allocates one bounded queue per
// equipment, and subscribes to each equipment's topic tree. Reconnection
// after a drop is handled by the paho client's own AutoReconnect, retrying
// forever with backoff capped at maxReconnectBackoff.
func (m *MQTT) Connect(ctx context.Context, equipments []*equipment.Equipment) error {
	m.mu.Lock()
	m.addressMap = buildAddressMap(equipments)
	m.queues = make(map[string]*boundedQueue, len(equipments))
	for _, eq := range equipments {
		m.queues[eq.Name] = newBoundedQueue(m.cfg.QueueSize)
	}
	m.mu.Unlock()

	opts := mqtt.NewClientOptions().
		AddBroker(m.cfg.BrokerURL).
		SetClientID(m.cfg.ClientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(maxReconnectBackoff).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			if m.log != nil {
				m.log.WithField("error", err).Warn("mqtt: connection lost, reconnecting")
			}
		})

	m.client = mqtt.NewClient(opts)
	token := m.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return apperrors.Wrap(apperrors.KindBus, "connect to mqtt broker", err)
	}

	for _, eq := range equipments {
		topic := fmt.Sprintf("/%s/#", eq.Name)
		subToken := m.client.Subscribe(topic, 1, m.onMessage)
		subToken.Wait()
		if err := subToken.Error(); err != nil {
			return apperrors.Wrap(apperrors.KindBus, fmt.Sprintf("subscribe to %q", topic), err)
		}
	}
	return nil
}

// onMessage is the bus client's own callback goroutine. It must not block
// beyond the queue push.
func (m *MQTT) onMessage(_ mqtt.Client, msg mqtt.Message) {
	name, ok := equipmentNameOf(msg.Topic())
	if !ok {
		if m.log != nil {
			m.log.WithField("topic", msg.Topic()).Warn("mqtt: topic has no equipment segment, dropping")
		}
		return
	}

	m.mu.RLock()
	q, found := m.queues[name]
	m.mu.RUnlock()

	if !found {
		if m.log != nil {
			m.log.WithField("equipment", name).WithField("topic", msg.Topic()).Debug("mqtt: no queue for equipment, dropping")
		}
		return
	}

	if dropped := q.push(rawMessage{topic: msg.Topic(), payload: string(msg.Payload())}); dropped && m.log != nil {
		m.log.WithField("equipment", name).Warn("mqtt: queue full, dropped oldest message")
	}
}

// Read drains eq's queue non-blockingly into a name→value map containing
// only addresses seen this drain. Later values for the same address within
// the drain overwrite earlier ones (last write wins).
func (m *MQTT) Read(eq *equipment.Equipment) (rules.SymbolTable, error) {
	m.mu.RLock()
	q, found := m.queues[eq.Name]
	addrMap := m.addressMap
	m.mu.RUnlock()

	if !found {
		return nil, apperrors.New(apperrors.KindBus, fmt.Sprintf("no queue registered for equipment %q", eq.Name))
	}

	readings := make(rules.SymbolTable)
	for _, msg := range q.drain() {
		addr := addressOf(msg.topic)
		entry, known := addrMap[addr]
		if !known {
			if m.log != nil {
				m.log.WithField("address", addr).Debug("mqtt: unknown address, skipping reading")
			}
			continue
		}
		value, ok := castValue(msg.payload, entry.tagType)
		if !ok {
			if m.log != nil {
				m.log.WithField("address", addr).WithField("payload", msg.payload).Debug("mqtt: cast failed, skipping reading")
			}
			continue
		}
		readings[entry.tagName] = value
	}
	return readings, nil
}

// Disconnect closes the underlying MQTT client. Safe to call even if
// Connect never succeeded.
func (m *MQTT) Disconnect() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
}
