package middleware

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

// TraceIDHeader is the response header carrying the request's trace id
const TraceIDHeader = "X-Trace-Id"

// TraceID adds the active trace id to the response headers
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() && w.Header().Get(TraceIDHeader) == "" {
			w.Header().Set(TraceIDHeader, sc.TraceID().String())
		}

		next.ServeHTTP(w, r)
	})
}
