package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// OutboxStore is the slice of the order store the relay drains.
type OutboxStore interface {
	FetchPendingOutbox(ctx context.Context, limit int) ([]Record, error)
	MarkOutboxSent(ctx context.Context, id int64) error
}

// Relay periodically drains unsent outbox rows and publishes them.
// At-least-once: a crash between publish and MarkOutboxSent re-delivers
// the event, so consumers must deduplicate on event_id.
type Relay struct {
	store    OutboxStore
	writer   *kafka.Writer
	interval time.Duration
	batch    int
}

func NewRelay(store OutboxStore, writer *kafka.Writer, interval time.Duration) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	return &Relay{store: store, writer: writer, interval: interval, batch: 100}
}

// Run drains the outbox until ctx is cancelled. Publish errors are
// logged and retried on the next tick; rows are only marked sent after
// the broker acknowledged them.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

func (r *Relay) drain(ctx context.Context) {
	pending, err := r.store.FetchPendingOutbox(ctx, r.batch)
	if err != nil {
		slog.ErrorContext(ctx, "outbox fetch failed", "error", err)
		return
	}

	for _, rec := range pending {
		if err := Publish(ctx, r.writer, rec); err != nil {
			slog.ErrorContext(ctx, "outbox publish failed",
				"event_id", rec.EventID, "topic", rec.Topic, "error", err)
			return
		}
		if err := r.store.MarkOutboxSent(ctx, rec.ID); err != nil {
			slog.ErrorContext(ctx, "outbox mark-sent failed",
				"event_id", rec.EventID, "error", err)
			return
		}
	}
}
