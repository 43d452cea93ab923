package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/models"
)

const tracerName = "github.com/Lixing-Zhang/kart-challenge/app-orders/internal/broker"

// channel is the subset of *amqp.Channel used for publishing
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitMQPublisher publishes order events to a queue through the default exchange
type RabbitMQPublisher struct {
	ch    channel
	queue string
	log   *slog.Logger
}

// NewRabbitMQPublisher creates a publisher sending to queue over ch
func NewRabbitMQPublisher(ch channel, queue string, log *slog.Logger) *RabbitMQPublisher {
	return &RabbitMQPublisher{
		ch:    ch,
		queue: queue,
		log:   log,
	}
}

// PublishOrderCreated marshals and publishes an order-created event
func (p *RabbitMQPublisher) PublishOrderCreated(ctx context.Context, event models.OrderCreatedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}

	return p.Publish(ctx, models.EventTypeOrderCreated, event.OrderID, body)
}

// Publish sends an already encoded payload. The current trace context is
// propagated in the message headers.
func (p *RabbitMQPublisher) Publish(ctx context.Context, eventType, messageID string, body []byte) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, p.queue+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", p.queue),
			attribute.String("messaging.message.id", messageID),
		),
	)
	defer span.End()

	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))

	err := p.ch.PublishWithContext(ctx,
		"",      // exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Type:         eventType,
			Timestamp:    time.Now().UTC(),
			Headers:      headers,
			Body:         body,
		},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return fmt.Errorf("publish %s %s: %w", eventType, messageID, err)
	}

	p.log.DebugContext(ctx, "event published", "type", eventType, "message_id", messageID, "queue", p.queue)
	return nil
}

// headerCarrier adapts amqp.Table to propagation.TextMapCarrier
type headerCarrier amqp.Table

func (c headerCarrier) Get(key string) string {
	v, _ := c[key].(string)
	return v
}

func (c headerCarrier) Set(key, value string) {
	c[key] = value
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
