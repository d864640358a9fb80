package idempotency

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Store — хранилище обработанных OrderID.
//
// Ключ, попавший в хранилище, не удаляется в рабочем потоке.
// Реализации должны быть безопасны для конкурентного использования.
type Store interface {
	// IsProcessed проверяет, обработан ли заказ. Без побочных эффектов.
	IsProcessed(ctx context.Context, orderID uuid.UUID) (bool, error)

	// MarkProcessed помечает заказ обработанным. Повторный вызов — no-op.
	MarkProcessed(ctx context.Context, orderID uuid.UUID) error

	// Reset очищает хранилище (только тесты и администрирование).
	Reset(ctx context.Context) error
}

// MemoryStore — in-memory реализация Store.
// Живёт столько же, сколько процесс воркера.
type MemoryStore struct {
	mu        sync.RWMutex
	processed map[uuid.UUID]struct{}
}

// NewMemoryStore создаёт пустой MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{processed: make(map[uuid.UUID]struct{})}
}

// IsProcessed реализует Store.
func (s *MemoryStore) IsProcessed(_ context.Context, orderID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.processed[orderID]
	return ok, nil
}

// MarkProcessed реализует Store.
func (s *MemoryStore) MarkProcessed(_ context.Context, orderID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[orderID] = struct{}{}
	return nil
}

// Reset реализует Store.
func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed = make(map[uuid.UUID]struct{})
	return nil
}

// Len возвращает количество обработанных заказов.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processed)
}
