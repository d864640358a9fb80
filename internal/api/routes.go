package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Orders
	mux.Handle("POST /api/orders", chain(http.HandlerFunc(h.CreateOrder)))
	mux.Handle("GET /api/orders/{id}", chain(http.HandlerFunc(h.GetOrderStatus)))
}
