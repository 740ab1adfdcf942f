package middleware

import (
	"net/http"
	"time"

	"github.com/ayo6706/wealth-ledger/internal/observability"
	"github.com/go-chi/chi/v5"
)

// MetricsMiddleware observes request latency labelled by route pattern, so
// path parameters such as transaction ids do not explode label cardinality.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rw, r)
		observability.ObserveHTTP(r.Method, routePattern(r), rw.code(), time.Since(start))
	})
}

// routePattern falls back to a fixed label for unmatched paths.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
