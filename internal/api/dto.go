package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order DTOs

// CreateOrderRequest — запрос на создание заказа. Тело необязательно.
type CreateOrderRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

// CreateOrderResponse — ответ на создание заказа.
type CreateOrderResponse struct {
	Message string    `json:"message"`
	OrderID uuid.UUID `json:"orderId"`
}

// OrderStatusResponse — состояние обработки заказа.
type OrderStatusResponse struct {
	OrderID     uuid.UUID  `json:"orderId"`
	Processed   bool       `json:"processed"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
}
