package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/config"
)

// Connection is a RabbitMQ connection with one channel and a declared queue
type Connection struct {
	conn    *amqp.Connection
	Channel *amqp.Channel
	Queue   string
}

// Connect dials RabbitMQ, retrying while the broker is starting up, then
// opens a channel and declares the durable orders queue.
func Connect(ctx context.Context, cfg config.BrokerConfig, log *slog.Logger) (*Connection, error) {
	attempts := max(cfg.DialAttempts, 1)

	var conn *amqp.Connection
	var err error
	for i := 0; i < attempts; i++ {
		conn, err = amqp.Dial(cfg.URL)
		if err == nil {
			break
		}
		log.Warn("failed to connect to rabbitmq",
			"attempt", i+1,
			"max_attempts", attempts,
			"error", err,
		)

		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(err, ctx.Err())
		case <-time.After(cfg.DialDelay):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("could not connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		cfg.Queue, // name
		true,      // durable
		false,     // auto-deleted
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not declare queue %q: %w", cfg.Queue, err)
	}

	return &Connection{conn: conn, Channel: ch, Queue: cfg.Queue}, nil
}

// Close closes the channel and the connection
func (c *Connection) Close() error {
	return errors.Join(c.Channel.Close(), c.conn.Close())
}
