package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jcmexdev/marketplace/internal/infra/httpx/middlewares"
	"github.com/jcmexdev/marketplace/internal/pkg/metrics"
)

func NewRouter(handler *Handler, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middlewares.AttachRequestMetadata)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", handler.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if m != nil {
			r.Use(m.Middleware("orders"))
		}
		r.Post("/orders", handler.CreateOrder)
		r.Post("/orders/{id}/initiate", handler.InitiateOrder)
		r.Get("/orders/{id}", handler.GetOrderByID)
	})

	r.Group(func(r chi.Router) {
		if m != nil {
			r.Use(m.Middleware("webhooks"))
		}
		r.Post("/webhooks/payment", handler.ReceiveWebhook)
	})

	return r
}
