package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/config"
	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/models"
	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/repository"
)

const defaultCustomer = "1f6766c2-ca49-44c0-ae2f-61c360cf1406"

// fakePublisher records published events
type fakePublisher struct {
	mu     sync.Mutex
	events []models.OrderCreatedEvent
	err    error
}

func (p *fakePublisher) PublishOrderCreated(_ context.Context, event models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) Events() []models.OrderCreatedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.OrderCreatedEvent(nil), p.events...)
}

// failingRepository fails every write
type failingRepository struct{ err error }

func (r failingRepository) Insert(context.Context, *models.Order) error { return r.err }
func (r failingRepository) InsertWithOutbox(context.Context, *models.Order, *models.OutboxMessage) error {
	return r.err
}

type countingRecorder struct {
	mu       sync.Mutex
	created  int
	failures map[string]int
}

func (r *countingRecorder) OrderCreated() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created++
}

func (r *countingRecorder) OrderFailed(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures == nil {
		r.failures = map[string]int{}
	}
	r.failures[reason]++
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func amount(v float64) *models.Amount {
	a := models.Amount(v)
	return &a
}

func TestOrderService_CreateOrder(t *testing.T) {
	tests := []struct {
		name         string
		req          models.OrderRequest
		wantErr      error
		wantCustomer string
	}{
		{
			name:         "default customer",
			req:          models.OrderRequest{Amount: amount(42)},
			wantCustomer: defaultCustomer,
		},
		{
			name:         "explicit customer",
			req:          models.OrderRequest{Amount: amount(10), CustomerID: "9B1DEB4D-3B7D-4BAD-9BDD-2B0D7B3DCB6D"},
			wantCustomer: "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d",
		},
		{
			name:         "zero amount is accepted",
			req:          models.OrderRequest{Amount: amount(0)},
			wantCustomer: defaultCustomer,
		},
		{
			name:    "missing amount",
			req:     models.OrderRequest{},
			wantErr: ErrMissingAmount,
		},
		{
			name:    "invalid customer",
			req:     models.OrderRequest{Amount: amount(1), CustomerID: "customer-1"},
			wantErr: ErrInvalidCustomer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := repository.NewInMemoryOrderRepository()
			pub := &fakePublisher{}
			svc := NewOrderService(repo, pub, Options{DefaultCustomerID: defaultCustomer}, discardLogger())

			order, err := svc.CreateOrder(context.Background(), tt.req)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, order)
				assert.Empty(t, repo.Orders(), "no row on validation failure")
				assert.Empty(t, pub.Events(), "no event on validation failure")
				return
			}

			require.NoError(t, err)
			require.NotNil(t, order)
			assert.NotEmpty(t, order.ID)
			assert.Equal(t, tt.wantCustomer, order.CustomerID)
			assert.Equal(t, tt.req.Amount.Float64(), order.Amount)

			orders := repo.Orders()
			require.Len(t, orders, 1)
			assert.Equal(t, order.ID, orders[0].ID)

			events := pub.Events()
			require.Len(t, events, 1)
			assert.Equal(t, models.OrderCreatedEvent{
				OrderID:  order.ID,
				Amount:   order.Amount,
				Customer: models.EventCustomer{ID: tt.wantCustomer},
			}, events[0])
		})
	}
}

func TestOrderService_PublishFailureKeepsStoredRow(t *testing.T) {
	repo := repository.NewInMemoryOrderRepository()
	pub := &fakePublisher{err: errors.New("broker down")}
	rec := &countingRecorder{}
	svc := NewOrderService(repo, pub, Options{DefaultCustomerID: defaultCustomer, Recorder: rec}, discardLogger())

	order, err := svc.CreateOrder(context.Background(), models.OrderRequest{Amount: amount(42)})

	assert.ErrorIs(t, err, ErrPublishFailed)
	assert.NotErrorIs(t, err, ErrStoreFailed)
	assert.Nil(t, order)

	// Store and publish are not atomic: the row written before the failed publish remains.
	orders := repo.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, 42.0, orders[0].Amount)
	assert.Equal(t, 1, rec.failures[ReasonPublish])
	assert.Zero(t, rec.created)
}

func TestOrderService_StoreFailureSkipsPublish(t *testing.T) {
	storeErr := errors.New("connection refused")
	pub := &fakePublisher{}
	rec := &countingRecorder{}
	svc := NewOrderService(failingRepository{err: storeErr}, pub, Options{DefaultCustomerID: defaultCustomer, Recorder: rec}, discardLogger())

	_, err := svc.CreateOrder(context.Background(), models.OrderRequest{Amount: amount(1)})

	assert.ErrorIs(t, err, ErrStoreFailed)
	assert.ErrorIs(t, err, storeErr)
	assert.Empty(t, pub.Events())
	assert.Equal(t, 1, rec.failures[ReasonStore])
}

func TestOrderService_OutboxMode(t *testing.T) {
	repo := repository.NewInMemoryOrderRepository()
	pub := &fakePublisher{}
	svc := NewOrderService(repo, pub, Options{
		DefaultCustomerID: defaultCustomer,
		DeliveryMode:      config.DeliveryOutbox,
	}, discardLogger())

	order, err := svc.CreateOrder(context.Background(), models.OrderRequest{Amount: amount(7)})
	require.NoError(t, err)

	assert.Empty(t, pub.Events(), "outbox mode never publishes inline")
	assert.Len(t, repo.Orders(), 1)

	pending, err := repo.FetchPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.EventTypeOrderCreated, pending[0].EventType)
	assert.Equal(t, order.ID, pending[0].MessageID)
	assert.JSONEq(t,
		`{"orderId":"`+order.ID+`","amount":7,"customer":{"id":"`+defaultCustomer+`"}}`,
		string(pending[0].Payload),
	)
}

func TestOrderService_OutboxStoreFailure(t *testing.T) {
	svc := NewOrderService(failingRepository{err: errors.New("tx aborted")}, &fakePublisher{}, Options{
		DefaultCustomerID: defaultCustomer,
		DeliveryMode:      config.DeliveryOutbox,
	}, discardLogger())

	_, err := svc.CreateOrder(context.Background(), models.OrderRequest{Amount: amount(7)})
	assert.ErrorIs(t, err, ErrStoreFailed)
}

func TestOrderService_UniqueIDsUnderConcurrency(t *testing.T) {
	repo := repository.NewInMemoryOrderRepository()
	pub := &fakePublisher{}
	svc := NewOrderService(repo, pub, Options{DefaultCustomerID: defaultCustomer}, discardLogger())

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			_, err := svc.CreateOrder(context.Background(), models.OrderRequest{Amount: amount(v)})
			assert.NoError(t, err)
		}(float64(i))
	}
	wg.Wait()

	orders := repo.Orders()
	require.Len(t, orders, n)

	events := pub.Events()
	require.Len(t, events, n)

	byID := make(map[string]float64, n)
	for _, o := range orders {
		byID[o.ID] = o.Amount
	}
	assert.Len(t, byID, n, "order ids must be unique")

	for _, e := range events {
		amt, ok := byID[e.OrderID]
		require.True(t, ok, "event %s has no stored row", e.OrderID)
		assert.Equal(t, amt, e.Amount)
		delete(byID, e.OrderID)
	}
	assert.Empty(t, byID, "every row is matched by exactly one event")
}

func TestOrderService_Span(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(noop.NewTracerProvider())

	pub := &fakePublisher{err: errors.New("broker down")}
	svc := NewOrderService(repository.NewInMemoryOrderRepository(), pub, Options{
		DefaultCustomerID: defaultCustomer,
		NewID:             func() string { return "order-1" },
	}, discardLogger())

	_, err := svc.CreateOrder(context.Background(), models.OrderRequest{Amount: amount(42)})
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "orders.create", span.Name)
	assert.Equal(t, codes.Error, span.Status.Code)
	assert.Contains(t, span.Attributes, attribute.String("order.id", "order-1"))
	assert.Contains(t, span.Attributes, attribute.Float64("order.amount", 42))
	assert.Contains(t, span.Attributes, attribute.String("customer.id", defaultCustomer))
}

func TestOrderService_CancelledContextStillCompletes(t *testing.T) {
	repo := repository.NewInMemoryOrderRepository()
	pub := &fakePublisher{}
	rec := &countingRecorder{}
	svc := NewOrderService(repo, pub, Options{DefaultCustomerID: defaultCustomer, Recorder: rec}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	order, err := svc.CreateOrder(ctx, models.OrderRequest{Amount: amount(42)})
	require.NoError(t, err)
	require.NotNil(t, order)

	assert.Len(t, repo.Orders(), 1)
	assert.Len(t, pub.Events(), 1)
	assert.Equal(t, 1, rec.created)
}

func TestOrderService_ValidationFailuresAreNotRecorded(t *testing.T) {
	rec := &countingRecorder{}
	svc := NewOrderService(repository.NewInMemoryOrderRepository(), &fakePublisher{}, Options{
		DefaultCustomerID: defaultCustomer,
		Recorder:          rec,
	}, discardLogger())

	_, err := svc.CreateOrder(context.Background(), models.OrderRequest{})
	assert.ErrorIs(t, err, ErrMissingAmount)
	_, err = svc.CreateOrder(context.Background(), models.OrderRequest{Amount: amount(1), CustomerID: "nope"})
	assert.ErrorIs(t, err, ErrInvalidCustomer)

	// The handler that rejects the request counts it, once.
	assert.Empty(t, rec.failures)
	assert.Zero(t, rec.created)
}
