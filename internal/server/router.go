package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/handlers"
	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/metrics"
	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/middleware"
)

// Dependencies are the handlers and collaborators the router mounts.
// Metrics may be nil to disable /metrics and request instrumentation.
type Dependencies struct {
	Health       *handlers.HealthHandler
	Orders       *handlers.OrderHandler
	Metrics      *metrics.Metrics
	Log          *slog.Logger
	ServiceName  string
	RequestLimit time.Duration
}

// NewRouter builds the HTTP surface: GET /health, POST /orders and,
// when metrics are enabled, GET /metrics.
func NewRouter(deps Dependencies) http.Handler {
	if deps.RequestLimit <= 0 {
		deps.RequestLimit = 60 * time.Second
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(otelhttp.NewMiddleware(deps.ServiceName))
	r.Use(middleware.TraceID)
	r.Use(middleware.Logger(deps.Log))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(deps.RequestLimit))

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id", "traceparent", "tracestate"},
		ExposedHeaders:   []string{middleware.TraceIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", deps.Health.ServeHTTP)
	r.Post("/orders", deps.Orders.CreateOrder)

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	return r
}
