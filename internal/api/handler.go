package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/orderflow/internal/domain"
)

// EventPublisher публикует событие order.created. Реализация: *mq.Publisher.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, evt domain.OrderCreatedEvent) error
}

// StatusReader отдаёт время обработки заказа воркером.
// Реализация: *repo.ProcessedOrderRepo. Возвращает repo.ErrNotFound,
// если заказ ещё не обработан.
type StatusReader interface {
	ProcessedAt(ctx context.Context, orderID uuid.UUID) (time.Time, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	publisher EventPublisher
	status    StatusReader
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Publisher EventPublisher

	// Status — опционально; без него GET /api/orders/{id} отвечает 501.
	Status StatusReader

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		publisher: cfg.Publisher,
		status:    cfg.Status,
		logger:    logger,
	}
}
