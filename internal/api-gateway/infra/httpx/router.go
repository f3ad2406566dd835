package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jcmexdev/swifttrack-sagas/internal/api-gateway/infra/httpx/middlewares"
	"github.com/jcmexdev/swifttrack-sagas/internal/order/domain"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/metrics"
)

// NewRouter builds the gateway's routes. mounts add extra routes, such as the
// WebSocket endpoint when the notification hub runs in the same process.
func NewRouter(handler *Handler, m *metrics.ServerMetrics, mounts ...func(chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middlewares.AttachTracingMetadata)
	r.Use(middlewares.Observe(m))
	r.Use(middleware.Recoverer)

	r.Get("/health", handler.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/", handler.CreateOrder)
		r.Get("/", handler.ListOrders)
		r.Route("/{orderId}", func(r chi.Router) {
			r.Get("/", handler.GetOrderByID)
			r.Post("/cancel", handler.CancelOrder)
			r.Post("/pickup", handler.DriverAction(domain.DriverPickup))
			r.Post("/transit", handler.DriverAction(domain.DriverTransit))
			r.Post("/deliver", handler.DriverAction(domain.DriverDeliver))
			r.Get("/steps", handler.Steps)
		})
	})

	for _, mount := range mounts {
		mount(r)
	}
	return otelhttp.NewHandler(r, "api-gateway")
}
