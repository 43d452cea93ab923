package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/models"
	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/service"
)

// orderCreator is the interface for order intake
type orderCreator interface {
	CreateOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error)
}

// failureRecorder counts rejected requests
type failureRecorder interface {
	OrderFailed(reason string)
}

// OrderHandler handles order-related HTTP requests
type OrderHandler struct {
	orders   orderCreator
	failures failureRecorder
	log      *slog.Logger
}

// NewOrderHandler creates a new order handler. failures may be nil.
func NewOrderHandler(orders orderCreator, failures failureRecorder, log *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders:   orders,
		failures: failures,
		log:      log,
	}
}

// CreateOrder handles POST /orders
// Responds 201 with an empty body on success. Every 4xx rejection is
// counted here as a validation failure.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req models.OrderRequest

	if !isJSON(r) {
		h.rejected()
		WriteError(w, http.StatusUnsupportedMediaType, CodeUnsupportedType, "Content-Type must be application/json", h.log)
		return
	}

	if err := decodeJSON(w, r, &req); err != nil {
		h.log.WarnContext(r.Context(), "failed to decode order request", "error", err)
		h.rejected()
		if errors.Is(err, models.ErrInvalidAmount) {
			WriteError(w, http.StatusBadRequest, CodeInvalidAmount, "Amount must be a number", h.log)
			return
		}
		WriteError(w, http.StatusBadRequest, CodeInvalidBody, "Invalid request body", h.log)
		return
	}

	if _, err := h.orders.CreateOrder(r.Context(), req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (h *OrderHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrMissingAmount):
		h.rejected()
		WriteError(w, http.StatusBadRequest, CodeMissingAmount, "Amount is required", h.log)
	case errors.Is(err, service.ErrInvalidCustomer):
		h.rejected()
		WriteError(w, http.StatusBadRequest, CodeInvalidCustomer, "Customer id must be a UUID", h.log)
	case errors.Is(err, service.ErrPublishFailed):
		h.log.ErrorContext(r.Context(), "failed to create order", "error", err)
		WriteError(w, http.StatusBadGateway, CodePublishFailed, "Order stored but event could not be published", h.log)
	case errors.Is(err, service.ErrStoreFailed):
		h.log.ErrorContext(r.Context(), "failed to create order", "error", err)
		WriteError(w, http.StatusInternalServerError, CodeStoreFailed, "Order could not be stored", h.log)
	default:
		h.log.ErrorContext(r.Context(), "failed to create order", "error", err)
		WriteError(w, http.StatusInternalServerError, CodeInternal, "Internal server error", h.log)
	}
}

func (h *OrderHandler) rejected() {
	if h.failures != nil {
		h.failures.OrderFailed(service.ReasonValidation)
	}
}
