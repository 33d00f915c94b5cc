package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/water-delivery-system/internal/middleware"
	"github.com/mmeshcher/water-delivery-system/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса доставки воды.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/telegram", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/auth/role", h.EscalateRole)

			r.Post("/addresses", h.CreateAddress)
			r.Get("/addresses", h.ListAddresses)

			r.Post("/orders", h.CreateOrder)
			r.Get("/orders/my", h.ListMyOrders)
			r.Get("/orders/{orderID}", h.GetOrder)

			r.Group(func(r chi.Router) {
				r.Use(custommiddleware.RequireRoles(model.RoleOperator, model.RoleCourier))

				r.Get("/orders", h.ListOrders)
				r.Get("/orders/cities", h.ListCities)
				r.Post("/orders/{orderID}/take", h.TakeOrder)
				r.Post("/orders/{orderID}/status", h.SetOrderStatus)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
