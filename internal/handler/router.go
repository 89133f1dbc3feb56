package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/seomarket-system/internal/middleware"
	"github.com/mmeshcher/seomarket-system/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса seomarket.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/catalog", h.GetCatalog)

		r.Post("/orders", h.CreateOrder)
		r.Get("/orders/{code}", h.TrackOrder)
		r.Post("/orders/{orderID}/payments", h.StartPayment)

		r.Post("/payments/{method}/capture", h.CapturePayment)

		r.Post("/webhooks/paypal", h.Webhook(model.PaymentMethodPayPal))
		r.Post("/webhooks/stripe", h.Webhook(model.PaymentMethodStripe))

		r.Post("/staff/login", h.StaffLogin)

		r.Group(func(r chi.Router) {
			r.Use(h.staffAuth.Middleware)

			r.Get("/staff/orders", h.ListOrders)
			r.Post("/staff/orders/{orderID}/status", h.TransitionStatus)
			r.Post("/staff/orders/{orderID}/deliverables", h.UploadDeliverable)
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
