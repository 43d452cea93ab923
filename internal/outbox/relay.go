package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/models"
)

// Store is the relay's view of the outbox table
type Store interface {
	FetchPending(ctx context.Context, limit int) ([]models.OutboxMessage, error)
	MarkProcessed(ctx context.Context, id int64) error
}

// Publisher sends an encoded event to the broker
type Publisher interface {
	Publish(ctx context.Context, eventType, messageID string, body []byte) error
}

// Recorder counts relayed messages. A nil Recorder is allowed.
type Recorder interface {
	OutboxRelayed(n int)
}

// Relay polls the outbox and publishes pending messages in id order.
// Delivery is at-least-once: a message that was published but could not be
// marked processed is sent again on the next poll.
type Relay struct {
	store     Store
	publisher Publisher
	recorder  Recorder
	interval  time.Duration
	batchSize int
	log       *slog.Logger
}

// NewRelay creates a relay polling every interval for up to batchSize messages
func NewRelay(store Store, publisher Publisher, interval time.Duration, batchSize int, recorder Recorder, log *slog.Logger) *Relay {
	return &Relay{
		store:     store,
		publisher: publisher,
		recorder:  recorder,
		interval:  interval,
		batchSize: batchSize,
		log:       log,
	}
}

// Run polls until ctx is cancelled
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("outbox relay started", "interval", r.interval, "batch_size", r.batchSize)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.ProcessPending(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("outbox relay iteration failed", "error", err)
			}
		}
	}
}

// ProcessPending publishes one batch and returns how many messages were
// published and marked processed. It stops at the first publish failure so
// later messages are not sent ahead of an earlier one.
func (r *Relay) ProcessPending(ctx context.Context) (int, error) {
	messages, err := r.store.FetchPending(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch pending: %w", err)
	}

	sent := 0
	defer func() {
		if sent > 0 && r.recorder != nil {
			r.recorder.OutboxRelayed(sent)
		}
	}()

	for _, msg := range messages {
		if err := r.publisher.Publish(ctx, msg.EventType, msg.MessageID, msg.Payload); err != nil {
			return sent, fmt.Errorf("publish outbox message %d: %w", msg.ID, err)
		}

		if err := r.store.MarkProcessed(ctx, msg.ID); err != nil {
			return sent, fmt.Errorf("mark outbox message %d: %w", msg.ID, err)
		}

		sent++
		r.log.Debug("outbox message relayed", "id", msg.ID, "message_id", msg.MessageID)
	}

	return sent, nil
}
