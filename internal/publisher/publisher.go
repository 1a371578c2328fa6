// Package publisher abstracts the outbound broker. Production code talks
// to an AMQP-style broker; tests use an in-memory mock. Both satisfy the
// same Publisher interface so the relay never branches on which one it
// holds.
package publisher

import "context"

// Event is one outbox payload ready to send, carrying just what the
// publisher needs: the routing key from the triggering rule and the
// already-serialized JSON body.
type Event struct {
	RoutingKey string
	Body       []byte
}

// Publisher sends a batch and closes idempotently.
type Publisher interface {
	// SendEvent publishes every event in events. A non-nil error means the
	// whole batch should be considered undelivered; the relay retries all
	// of them.
	SendEvent(ctx context.Context, events []Event) error

	// Close releases the publisher's resources. Implementations must
	// tolerate being called more than once.
	Close() error
}
