package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/renthome-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса аренды жилья.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", h.Login)
		r.Post("/auth/refresh", h.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/auth/me", h.Me)
			r.With(h.authMiddleware.RequireAdmin).Post("/auth/register", h.Register)

			r.Route("/houses", func(r chi.Router) {
				r.Get("/", h.ListHouses)
				r.Get("/{id}", h.GetHouse)

				r.Group(func(r chi.Router) {
					r.Use(h.authMiddleware.RequireAdmin)

					r.Post("/", h.CreateHouse)
					r.Patch("/{id}", h.UpdateHouse)
					r.Delete("/{id}", h.DeleteHouse)
				})
			})

			r.Route("/tenants", func(r chi.Router) {
				r.Use(h.authMiddleware.RequireAdmin)

				r.Post("/", h.CreateTenant)
				r.Get("/", h.ListTenants)
				r.Get("/{id}", h.GetTenant)
				r.Patch("/{id}", h.UpdateTenant)
				r.Delete("/{id}", h.DeleteTenant)
			})

			r.Route("/payments", func(r chi.Router) {
				r.Get("/house/{houseID}", h.GetHousePayments)
				r.Get("/house/{houseID}/balance", h.GetHouseBalance)
				r.Get("/house/{houseID}/status", h.GetHousePaymentStatus)

				r.Group(func(r chi.Router) {
					r.Use(h.authMiddleware.RequireAdmin)

					r.Post("/", h.CreatePayment)
					r.Get("/{id}", h.GetPayment)
					r.Patch("/{id}", h.UpdatePayment)
					r.Delete("/{id}", h.DeletePayment)
					r.Get("/tenant/{tenantID}", h.GetTenantPayments)
				})
			})

			r.Route("/statistics", func(r chi.Router) {
				r.Use(h.authMiddleware.RequireAdmin)

				r.Get("/overview", h.GetStatistics)
				r.Get("/monthly", h.GetMonthlyStatistics)
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
