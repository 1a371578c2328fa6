package publisher

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/vinibressanini/idab-processor/internal/apperrors"
	"github.com/vinibressanini/idab-processor/internal/logging"
)

// BrokerConfig addresses the AMQP-style broker egress: a single exchange,
// per-event routing keys supplied by the triggering rule.
type BrokerConfig struct {
	URL          string
	Exchange     string
	ExchangeKind string // "topic" or "direct"
}

// Broker is the production Publisher: a single long-lived connection and
// channel to an AMQP broker, established lazily on first use.
type Broker struct {
	cfg BrokerConfig
	log *logging.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

// NewBroker returns a Broker that has not yet connected. The connection is
// opened lazily by the first SendEvent call, so a relay restart doesn't
// fail startup just because the broker is briefly down.
func NewBroker(cfg BrokerConfig, log *logging.Logger) *Broker {
	return &Broker{cfg: cfg, log: log}
}

func (b *Broker) ensureChannel() (*amqp.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, apperrors.New(apperrors.KindPublisher, "broker publisher is closed")
	}
	if b.ch != nil {
		return b.ch, nil
	}

	conn, err := amqp.Dial(b.cfg.URL)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindPublisher, "dial amqp broker", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, apperrors.Wrap(apperrors.KindPublisher, "open amqp channel", err)
	}
	if err := ch.ExchangeDeclare(
		b.cfg.Exchange,
		b.cfg.ExchangeKind,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, apperrors.Wrap(apperrors.KindPublisher, "declare amqp exchange", err)
	}

	b.conn = conn
	b.ch = ch
	return ch, nil
}

// SendEvent publishes each event to the configured exchange using its own
// routing key. A transient connection error here is returned to the relay,
// which retries the whole batch.
func (b *Broker) SendEvent(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	ch, err := b.ensureChannel()
	if err != nil {
		return err
	}

	for _, ev := range events {
		err := ch.PublishWithContext(ctx,
			b.cfg.Exchange,
			ev.RoutingKey,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType: "application/json",
				Body:        ev.Body,
			},
		)
		if err != nil {
			b.invalidateChannel()
			return apperrors.Wrap(apperrors.KindPublisher, "publish event to amqp exchange", err)
		}
	}

	if b.log != nil {
		b.log.WithField("count", len(events)).Info("broker publisher: sent batch")
	}
	return nil
}

// invalidateChannel drops the cached channel/connection so the next
// SendEvent call reconnects instead of reusing a broken channel.
func (b *Broker) invalidateChannel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch != nil {
		b.ch.Close()
		b.ch = nil
	}
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

// Close tears down the channel and connection. Safe to call more than once.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var firstErr error
	if b.ch != nil {
		if err := b.ch.Close(); err != nil {
			firstErr = err
		}
		b.ch = nil
	}
	if b.conn != nil {
		if err := b.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		b.conn = nil
	}
	return firstErr
}
