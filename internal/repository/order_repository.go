package repository

import (
	"context"
	"errors"

	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/models"
)

var (
	ErrOrderExists = errors.New("order already exists")
)

// OrderRepository defines the interface for order data access.
// There is no read path for orders; rows are only ever inserted.
type OrderRepository interface {
	Insert(ctx context.Context, order *models.Order) error
	InsertWithOutbox(ctx context.Context, order *models.Order, msg *models.OutboxMessage) error
}
