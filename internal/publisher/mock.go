package publisher

import (
	"context"
	"sync"

	"github.com/vinibressanini/idab-processor/internal/logging"
)

// Mock is an in-memory Publisher used by tests and local demos: it logs
// and records every batch it receives instead of talking to a broker.
type Mock struct {
	log *logging.Logger

	mu     sync.Mutex
	sent   [][]Event
	closed bool

	// FailNext, when > 0, makes the next N calls to SendEvent fail instead
	// of succeeding, decrementing by one per call. Exercises the relay's
	// retry path in tests without a real broker.
	FailNext int
	FailErr  error
}

// NewMock returns a ready-to-use Mock publisher.
func NewMock(log *logging.Logger) *Mock {
	return &Mock{log: log}
}

// SendEvent records events, or returns FailErr if FailNext is positive.
func (m *Mock) SendEvent(ctx context.Context, events []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(events) == 0 {
		return nil
	}

	if m.FailNext > 0 {
		m.FailNext--
		if m.log != nil {
			m.log.WithField("count", len(events)).Warn("mock publisher: simulated send failure")
		}
		return m.FailErr
	}

	batch := make([]Event, len(events))
	copy(batch, events)
	m.sent = append(m.sent, batch)
	if m.log != nil {
		m.log.WithField("count", len(events)).Info("mock publisher: sent batch")
	}
	return nil
}

// Close marks the mock closed. Safe to call more than once.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Sent returns every batch SendEvent has successfully recorded so far, for
// test assertions.
func (m *Mock) Sent() [][]Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]Event, len(m.sent))
	copy(out, m.sent)
	return out
}

// Closed reports whether Close has been called at least once.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
