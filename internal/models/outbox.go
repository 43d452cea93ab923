package models

import "time"

// EventTypeOrderCreated is the event type for OrderCreatedEvent
const EventTypeOrderCreated = "order.created"

// OutboxMessage is an event recorded in the same transaction as its order
// and published later by the outbox relay.
type OutboxMessage struct {
	ID        int64
	EventType string
	MessageID string
	Payload   []byte
	CreatedAt time.Time
}
