package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shaiso/orderflow/internal/domain"
	"github.com/shaiso/orderflow/internal/repo"
)

// DefaultAmount — сумма заказа, если тело запроса пустое.
// Совпадает с суммой, на которой воркер имитирует сбой.
var DefaultAmount = decimal.NewFromInt(1000)

// maxBodyBytes ограничивает тело запроса.
const maxBodyBytes = 1 << 16

// CreateOrder создаёт заказ и публикует order.created.
// POST /api/orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body")
		return
	}

	amount := DefaultAmount
	if req.Amount != nil {
		amount = *req.Amount
	}
	if !amount.IsPositive() {
		BadRequest(w, "amount must be positive")
		return
	}

	if h.publisher == nil {
		InternalError(w, h.logger, errors.New("publisher is not configured"))
		return
	}

	evt := domain.NewOrderCreatedEvent(amount)
	if err := h.publisher.PublishOrderCreated(r.Context(), evt); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	h.logger.Info("order created",
		"order_id", evt.OrderID,
		"amount", amount.String(),
	)

	Created(w, CreateOrderResponse{
		Message: "Order created and published",
		OrderID: evt.OrderID,
	})
}

// GetOrderStatus возвращает, обработан ли заказ воркером.
// GET /api/orders/{id}
func (h *Handler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid order id")
		return
	}

	if h.status == nil {
		NotImplemented(w, "order status requires the postgres idempotency store")
		return
	}

	at, err := h.status.ProcessedAt(r.Context(), id)
	if errors.Is(err, repo.ErrNotFound) {
		// Не обработан (или ещё не дошёл до воркера)
		Success(w, OrderStatusResponse{OrderID: id})
		return
	}
	if HandleRepoError(w, h.logger, err, "order not found") {
		return
	}

	Success(w, OrderStatusResponse{OrderID: id, Processed: true, ProcessedAt: &at})
}
