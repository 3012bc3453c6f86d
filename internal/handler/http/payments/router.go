package payments_http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"go.uber.org/zap"

	"escrow/internal/app/escrow"
)

func RegisterRoutes(r chi.Router, s escrow.EscrowService, l *zap.Logger) {
	handler := NewPaymentHandler(s, l.With(zap.String("component", "PaymentHTTPHandler")))

	r.Route("/health", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("Escrow engine is healthy!"))
		})
	})

	r.Route("/payments", func(r chi.Router) {
		r.Post("/", handler.CreatePaymentHandler)
		r.Get("/", handler.ListPaymentsHandler)
		r.Get("/statistics", handler.StatisticsHandler)
		r.Get("/search", handler.SearchPaymentsHandler)
		r.Get("/{id}", handler.GetPaymentHandler)
		r.Put("/{id}/status", handler.UpdateStatusHandler)
	})
}
