package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/config"
	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/models"
)

const tracerName = "github.com/Lixing-Zhang/kart-challenge/app-orders/internal/service"

var (
	ErrMissingAmount   = errors.New("amount is required")
	ErrInvalidCustomer = errors.New("customer id must be a UUID")
	ErrStoreFailed     = errors.New("failed to store order")
	ErrPublishFailed   = errors.New("failed to publish order event")
)

// Failure reasons passed to Recorder.OrderFailed
const (
	ReasonValidation = "validation"
	ReasonStore      = "store"
	ReasonPublish    = "publish"
	ReasonUnknown    = "unknown"
)

// OrderRepository is the storage collaborator
type OrderRepository interface {
	Insert(ctx context.Context, order *models.Order) error
	InsertWithOutbox(ctx context.Context, order *models.Order, msg *models.OutboxMessage) error
}

// EventPublisher is the publisher collaborator
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event models.OrderCreatedEvent) error
}

// Recorder receives order outcome counts. A nil Recorder is allowed.
type Recorder interface {
	OrderCreated()
	OrderFailed(reason string)
}

// Options configures an OrderService
type Options struct {
	DefaultCustomerID string
	DeliveryMode      string
	Recorder          Recorder
	// NewID overrides order id generation; defaults to random UUIDs
	NewID func() string
}

// OrderService handles order intake: validate, assign an id, store, announce
type OrderService struct {
	repo      OrderRepository
	publisher EventPublisher
	opts      Options
	tracer    trace.Tracer
	log       *slog.Logger
}

// NewOrderService creates a new order service
func NewOrderService(repo OrderRepository, publisher EventPublisher, opts Options, log *slog.Logger) *OrderService {
	if opts.NewID == nil {
		opts.NewID = generateOrderID
	}
	if opts.DeliveryMode == "" {
		opts.DeliveryMode = config.DeliveryDirect
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}

	return &OrderService{
		repo:      repo,
		publisher: publisher,
		opts:      opts,
		tracer:    otel.Tracer(tracerName),
		log:       log,
	}
}

// CreateOrder validates the request, stores the order and announces it.
// Validation failures are returned but not recorded; the caller that
// rejects the request owns that count.
//
// The store and publish calls run on a context detached from ctx's
// cancellation, so a dropped client does not abort them.
//
// In direct mode the row is written first and the event published second.
// A publish failure returns ErrPublishFailed and the stored row is kept.
// In outbox mode the row and the event are written in one transaction and
// the relay publishes the event later.
func (s *OrderService) CreateOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	if req.Amount == nil {
		return nil, ErrMissingAmount
	}

	customerID := s.opts.DefaultCustomerID
	if req.CustomerID != "" {
		parsed, err := uuid.Parse(req.CustomerID)
		if err != nil {
			return nil, ErrInvalidCustomer
		}
		customerID = parsed.String()
	}

	amount := req.Amount.Float64()
	s.log.InfoContext(ctx, "creating order", "amount", amount)

	order := &models.Order{
		ID:         s.opts.NewID(),
		CustomerID: customerID,
		Amount:     amount,
	}

	ctx, span := s.tracer.Start(context.WithoutCancel(ctx), "orders.create",
		trace.WithAttributes(
			attribute.String("order.id", order.ID),
			attribute.Float64("order.amount", order.Amount),
			attribute.String("customer.id", order.CustomerID),
			attribute.String("order.delivery_mode", s.opts.DeliveryMode),
		),
	)
	defer span.End()

	var err error
	if s.opts.DeliveryMode == config.DeliveryOutbox {
		err = s.storeWithOutbox(ctx, order)
	} else {
		err = s.storeAndPublish(ctx, order)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.opts.Recorder.OrderFailed(failureReason(err))
		return nil, err
	}

	s.opts.Recorder.OrderCreated()
	s.log.InfoContext(ctx, "order created", "order_id", order.ID, "customer_id", order.CustomerID)

	return order, nil
}

func (s *OrderService) storeAndPublish(ctx context.Context, order *models.Order) error {
	if err := s.repo.Insert(ctx, order); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}

	if err := s.publisher.PublishOrderCreated(ctx, models.NewOrderCreatedEvent(order)); err != nil {
		// The row stays: store and publish are not atomic in direct mode.
		s.log.ErrorContext(ctx, "order stored but event not published", "order_id", order.ID, "error", err)
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

func (s *OrderService) storeWithOutbox(ctx context.Context, order *models.Order) error {
	payload, err := json.Marshal(models.NewOrderCreatedEvent(order))
	if err != nil {
		return fmt.Errorf("%w: encode event: %w", ErrStoreFailed, err)
	}

	msg := &models.OutboxMessage{
		EventType: models.EventTypeOrderCreated,
		MessageID: order.ID,
		Payload:   payload,
	}
	if err := s.repo.InsertWithOutbox(ctx, order, msg); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}

	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrPublishFailed):
		return ReasonPublish
	case errors.Is(err, ErrStoreFailed):
		return ReasonStore
	default:
		return ReasonUnknown
	}
}

// generateOrderID generates a unique order ID using UUID
func generateOrderID() string {
	return uuid.New().String()
}

type nopRecorder struct{}

func (nopRecorder) OrderCreated()      {}
func (nopRecorder) OrderFailed(string) {}
