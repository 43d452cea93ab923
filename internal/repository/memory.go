package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/models"
)

var _ OrderRepository = (*InMemoryOrderRepository)(nil)

// InMemoryOrderRepository implements OrderRepository and the outbox relay store in memory
type InMemoryOrderRepository struct {
	mu        sync.RWMutex
	orders    map[string]models.Order
	outbox    []models.OutboxMessage
	processed map[int64]bool
	nextID    int64
}

// NewInMemoryOrderRepository creates an empty in-memory order repository
func NewInMemoryOrderRepository() *InMemoryOrderRepository {
	return &InMemoryOrderRepository{
		orders:    make(map[string]models.Order),
		processed: make(map[int64]bool),
	}
}

// Insert stores an order
func (r *InMemoryOrderRepository) Insert(ctx context.Context, order *models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.insertLocked(order)
}

// InsertWithOutbox stores an order and its outbox message atomically
func (r *InMemoryOrderRepository) InsertWithOutbox(ctx context.Context, order *models.Order, msg *models.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.insertLocked(order); err != nil {
		return err
	}

	r.nextID++
	msg.ID = r.nextID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	r.outbox = append(r.outbox, *msg)

	return nil
}

func (r *InMemoryOrderRepository) insertLocked(order *models.Order) error {
	if _, exists := r.orders[order.ID]; exists {
		return ErrOrderExists
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	r.orders[order.ID] = *order
	return nil
}

// FetchPending returns up to limit unprocessed outbox messages in insertion order
func (r *InMemoryOrderRepository) FetchPending(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	pending := make([]models.OutboxMessage, 0, limit)
	for _, msg := range r.outbox {
		if len(pending) == limit {
			break
		}
		if !r.processed[msg.ID] {
			pending = append(pending, msg)
		}
	}
	return pending, nil
}

// MarkProcessed flags an outbox message as published
func (r *InMemoryOrderRepository) MarkProcessed(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.processed[id] = true
	return nil
}

// Orders returns a snapshot of all stored orders sorted by creation time
func (r *InMemoryOrderRepository) Orders() []models.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orders := make([]models.Order, 0, len(r.orders))
	for _, order := range r.orders {
		orders = append(orders, order)
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders
}

// OutboxLen returns the number of outbox messages ever recorded
func (r *InMemoryOrderRepository) OutboxLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.outbox)
}
