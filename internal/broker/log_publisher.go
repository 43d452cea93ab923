package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/models"
)

// LogPublisher writes events to the log instead of a broker.
// Used when no RabbitMQ URL is configured.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) PublishOrderCreated(ctx context.Context, event models.OrderCreatedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}
	return p.Publish(ctx, models.EventTypeOrderCreated, event.OrderID, body)
}

func (p *LogPublisher) Publish(ctx context.Context, eventType, messageID string, body []byte) error {
	p.log.InfoContext(ctx, "event published",
		"type", eventType,
		"message_id", messageID,
		"payload", json.RawMessage(body),
	)
	return nil
}
