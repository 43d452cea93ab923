package models

import "time"

// OrderRequest represents an incoming order creation request.
// CustomerID is optional; the configured default customer is used when empty.
type OrderRequest struct {
	Amount     *Amount `json:"amount"`
	CustomerID string  `json:"customerId,omitempty"`
}

// Order represents a stored order row
type Order struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customerId"`
	Amount     float64   `json:"amount"`
	CreatedAt  time.Time `json:"createdAt"`
}

// EventCustomer identifies the customer inside an event payload
type EventCustomer struct {
	ID string `json:"id"`
}

// OrderCreatedEvent is the payload announced after an order is accepted
type OrderCreatedEvent struct {
	OrderID  string        `json:"orderId"`
	Amount   float64       `json:"amount"`
	Customer EventCustomer `json:"customer"`
}

// NewOrderCreatedEvent builds the event for order
func NewOrderCreatedEvent(order *Order) OrderCreatedEvent {
	return OrderCreatedEvent{
		OrderID:  order.ID,
		Amount:   order.Amount,
		Customer: EventCustomer{ID: order.CustomerID},
	}
}
