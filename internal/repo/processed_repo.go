package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// processedOrdersSchema — таблица обработанных заказов.
// Строки только добавляются; удаление — только через Reset.
const processedOrdersSchema = `
	CREATE TABLE IF NOT EXISTS processed_orders (
		order_id     UUID PRIMARY KEY,
		processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

// ProcessedOrderRepo — репозиторий обработанных заказов.
//
// Реализует idempotency.Store поверх Postgres: в отличие от in-memory
// хранилища, переживает рестарт воркера.
type ProcessedOrderRepo struct {
	pool *pgxpool.Pool
}

// NewProcessedOrderRepo создаёт новый ProcessedOrderRepo.
func NewProcessedOrderRepo(pool *pgxpool.Pool) *ProcessedOrderRepo {
	return &ProcessedOrderRepo{pool: pool}
}

// EnsureSchema создаёт таблицу processed_orders, если её нет.
func (r *ProcessedOrderRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, processedOrdersSchema); err != nil {
		return fmt.Errorf("create processed_orders: %w", err)
	}
	return nil
}

// IsProcessed проверяет, обработан ли заказ.
func (r *ProcessedOrderRepo) IsProcessed(ctx context.Context, orderID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM processed_orders WHERE order_id = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, orderID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check processed order: %w", err)
	}
	return exists, nil
}

// MarkProcessed помечает заказ обработанным.
// Повторная вставка того же order_id игнорируется.
func (r *ProcessedOrderRepo) MarkProcessed(ctx context.Context, orderID uuid.UUID) error {
	query := `
		INSERT INTO processed_orders (order_id, processed_at)
		VALUES ($1, $2)
		ON CONFLICT (order_id) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, query, orderID, time.Now().UTC()); err != nil {
		return fmt.Errorf("insert processed order: %w", err)
	}
	return nil
}

// ProcessedAt возвращает время обработки заказа.
func (r *ProcessedOrderRepo) ProcessedAt(ctx context.Context, orderID uuid.UUID) (time.Time, error) {
	query := `SELECT processed_at FROM processed_orders WHERE order_id = $1`

	var at time.Time
	err := r.pool.QueryRow(ctx, query, orderID).Scan(&at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("get processed order: %w", err)
	}
	return at, nil
}

// Count возвращает количество обработанных заказов.
func (r *ProcessedOrderRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM processed_orders`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count processed orders: %w", err)
	}
	return n, nil
}

// Reset удаляет все записи. Только для администрирования и тестов.
func (r *ProcessedOrderRepo) Reset(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `TRUNCATE processed_orders`); err != nil {
		return fmt.Errorf("truncate processed_orders: %w", err)
	}
	return nil
}
