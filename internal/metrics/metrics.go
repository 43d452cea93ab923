package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

// Metrics holds the service's Prometheus collectors
type Metrics struct {
	gatherer prometheus.Gatherer

	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	ordersCreated prometheus.Counter
	ordersFailed  *prometheus.CounterVec
	outboxRelayed prometheus.Counter
}

// New registers the collectors on a fresh registry
func New() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		gatherer: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests made.",
		}, []string{"status", "method", "path"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "The HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status", "method", "path"}),
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders accepted and stored.",
		}),
		ordersFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_failed_total",
			Help: "Order creation failures by reason.",
		}, []string{"reason"}),
		outboxRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_relayed_total",
			Help: "Outbox messages published by the relay.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.requests, m.latency, m.ordersCreated, m.ordersFailed, m.outboxRelayed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Middleware records request counts and latencies labelled by chi route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		m.observe(r, start, strconv.Itoa(ww.Status()))
	}

	return http.HandlerFunc(fn)
}

func (m *Metrics) observe(r *http.Request, start time.Time, code string) {
	routePattern := r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil && len(rctx.RoutePatterns) > 0 {
		routePattern = strings.ReplaceAll(strings.Join(rctx.RoutePatterns, ""), "/*/", "/")
	}

	m.requests.WithLabelValues(code, r.Method, routePattern).Inc()
	observer := m.latency.WithLabelValues(code, r.Method, routePattern)
	latencySeconds := time.Since(start).Seconds()

	spanCtx := trace.SpanContextFromContext(r.Context())
	if spanCtx.HasTraceID() && spanCtx.IsSampled() {
		if exemplarObserver, ok := observer.(prometheus.ExemplarObserver); ok {
			exemplarObserver.ObserveWithExemplar(latencySeconds, prometheus.Labels{"trace_id": spanCtx.TraceID().String()})
			return
		}
	}

	observer.Observe(latencySeconds)
}

func (m *Metrics) OrderCreated() {
	m.ordersCreated.Inc()
}

// OrderFailed counts a failure under the caller's reason label
func (m *Metrics) OrderFailed(reason string) {
	m.ordersFailed.WithLabelValues(reason).Inc()
}

func (m *Metrics) OutboxRelayed(n int) {
	m.outboxRelayed.Add(float64(n))
}
