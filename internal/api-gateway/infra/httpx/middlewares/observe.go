package middlewares

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/metrics"
)

const (
	requestIDAttr      = attribute.Key("http.request_id")
	idempotencyKeyAttr = attribute.Key("http.idempotency_key")
)

// Observe logs every request and records it in m under its route pattern.
func Observe(m *metrics.ServerMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			m.Observe(r.Method+" "+route, status, elapsed)

			level := slog.LevelInfo
			if status >= 500 {
				level = slog.LevelError
			}
			slog.Log(r.Context(), level, "http request",
				"method", r.Method, "route", route, "status", status,
				"duration_ms", elapsed.Milliseconds(), "request_id", middleware.GetReqID(r.Context()))
		})
	}
}
