// Package relay implements the background worker that batches ready
// outbox events, hands them to a publisher, and reconciles outcomes back
// into the outbox.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/vinibressanini/idab-processor/internal/logging"
	"github.com/vinibressanini/idab-processor/internal/outbox"
	"github.com/vinibressanini/idab-processor/internal/publisher"
)

// Config tunes the relay loop's timing and batching.
type Config struct {
	SleepInterval    time.Duration
	BatchSize        int
	TTLSeconds       int64
	MaxRetries       int
	BaseDelaySeconds int64
}

// Store is the subset of *outbox.Store the relay needs, so tests can swap
// in a fake without spinning up SQLite.
type Store interface {
	FetchReady(ctx context.Context, limit int, now int64) ([]outbox.Record, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string, currentAttempts, maxRetries int, baseDelaySeconds int64) error
}

// Relay drains the outbox into a publisher.Publisher on a fixed sleep
// interval.
type Relay struct {
	cfg   Config
	store Store
	pub   publisher.Publisher
	log   *logging.Logger

	nowFunc func() time.Time
}

// New builds a Relay. nowFunc defaults to time.Now; tests may override it
// via WithClock to make TTL expiry deterministic.
func New(cfg Config, store Store, pub publisher.Publisher, log *logging.Logger) *Relay {
	return &Relay{cfg: cfg, store: store, pub: pub, log: log, nowFunc: time.Now}
}

// WithClock overrides the relay's time source (test-only hook).
func (r *Relay) WithClock(fn func() time.Time) *Relay {
	r.nowFunc = fn
	return r
}

// Run loops until ctx is canceled, calling RunOnce then sleeping
// cfg.SleepInterval (or returning promptly on cancellation).
func (r *Relay) Run(ctx context.Context) {
	for {
		if err := r.RunOnce(ctx); err != nil && r.log != nil {
			r.log.WithField("error", err).Error("relay: iteration failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.cfg.SleepInterval):
		}
	}
}

// RunOnce performs a single iteration: fetch a batch, split expired vs
// fresh, send fresh through the publisher, mark outcomes. Exported so
// tests can drive iterations without waiting on the sleep interval.
func (r *Relay) RunOnce(ctx context.Context) error {
	now := r.nowFunc().Unix()

	batch, err := r.store.FetchReady(ctx, r.cfg.BatchSize, now)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	var fresh []outbox.Record
	for _, rec := range batch {
		age := now - rec.CreatedAt
		if age > r.cfg.TTLSeconds {
			msg := fmt.Sprintf("Event expired after %d seconds (TTL is %ds).", age, r.cfg.TTLSeconds)
			if err := r.store.MarkFailed(ctx, rec.ID, msg, rec.Attempts, r.cfg.MaxRetries, r.cfg.BaseDelaySeconds); err != nil && r.log != nil {
				r.log.WithField("id", rec.ID).WithField("error", err).Error("relay: mark expired event failed")
			}
			continue
		}
		fresh = append(fresh, rec)
	}

	if len(fresh) == 0 {
		return nil
	}

	events := make([]publisher.Event, len(fresh))
	for i, rec := range fresh {
		events[i] = publisher.Event{RoutingKey: routingKeyOf(rec), Body: rec.Payload}
	}

	if err := r.pub.SendEvent(ctx, events); err != nil {
		for _, rec := range fresh {
			if mfErr := r.store.MarkFailed(ctx, rec.ID, err.Error(), rec.Attempts, r.cfg.MaxRetries, r.cfg.BaseDelaySeconds); mfErr != nil && r.log != nil {
				r.log.WithField("id", rec.ID).WithField("error", mfErr).Error("relay: mark failed event failed")
			}
		}
		return nil
	}

	for _, rec := range fresh {
		if err := r.store.MarkPublished(ctx, rec.ID); err != nil && r.log != nil {
			r.log.WithField("id", rec.ID).WithField("error", err).Error("relay: mark published failed")
		}
	}
	return nil
}

// routingKeyOf extracts the routing key embedded in the event payload at
// store time (see internal/scheduler's payload encoding). The outbox
// itself is routing-key agnostic; it stores opaque JSON.
func routingKeyOf(rec outbox.Record) string {
	rk, _ := extractRoutingKey(rec.Payload)
	return rk
}
