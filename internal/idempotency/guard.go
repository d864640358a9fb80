package idempotency

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Guard — страж идемпотентности.
//
// Поверх Store держит множество ключей "в работе". Ключ захватывается
// на время выполнения доменной логики; пока он захвачен, все остальные
// доставки того же OrderID получают ErrDuplicate. Поэтому для одного
// ключа MarkProcessed успешно вызывается не более одного раза.
type Guard struct {
	store Store

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
}

// NewGuard создаёт Guard поверх store.
// Если store == nil — используется NewMemoryStore().
func NewGuard(store Store) *Guard {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Guard{
		store:    store,
		inFlight: make(map[uuid.UUID]struct{}),
	}
}

// Store возвращает хранилище, поверх которого работает Guard.
func (g *Guard) Store() Store {
	return g.store
}

// IsProcessed проверяет, обработан ли заказ.
func (g *Guard) IsProcessed(ctx context.Context, orderID uuid.UUID) (bool, error) {
	return g.store.IsProcessed(ctx, orderID)
}

// MarkProcessed помечает заказ обработанным. Идемпотентен.
func (g *Guard) MarkProcessed(ctx context.Context, orderID uuid.UUID) error {
	return g.store.MarkProcessed(ctx, orderID)
}

// Reset очищает хранилище. Захваты "в работе" не трогает.
func (g *Guard) Reset(ctx context.Context) error {
	return g.store.Reset(ctx)
}

// Acquire захватывает ключ для обработки.
//
// Возвращает ErrDuplicate, если заказ уже обработан или прямо сейчас
// обрабатывается другой доставкой. При успехе вызывающий обязан
// завершить захват через Commit или Release.
func (g *Guard) Acquire(ctx context.Context, orderID uuid.UUID) (*Claim, error) {
	g.mu.Lock()
	if _, busy := g.inFlight[orderID]; busy {
		g.mu.Unlock()
		return nil, ErrDuplicate
	}
	g.inFlight[orderID] = struct{}{}
	g.mu.Unlock()

	// Проверка в хранилище — уже под захватом, но без мьютекса:
	// медленный Store (Postgres) не блокирует остальные ключи.
	processed, err := g.store.IsProcessed(ctx, orderID)
	if err != nil {
		g.release(orderID)
		return nil, fmt.Errorf("check processed: %w", err)
	}
	if processed {
		g.release(orderID)
		return nil, ErrDuplicate
	}

	return &Claim{guard: g, orderID: orderID}, nil
}

// InFlight возвращает количество захваченных ключей.
func (g *Guard) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inFlight)
}

func (g *Guard) release(orderID uuid.UUID) {
	g.mu.Lock()
	delete(g.inFlight, orderID)
	g.mu.Unlock()
}

// Claim — захват ключа на время обработки одной доставки.
// Используется из одной горутины.
type Claim struct {
	guard    *Guard
	orderID  uuid.UUID
	finished bool
}

// OrderID возвращает захваченный ключ.
func (c *Claim) OrderID() uuid.UUID {
	return c.orderID
}

// Commit помечает заказ обработанным и освобождает захват.
//
// Вызывается до ack доставки. Если MarkProcessed вернул ошибку,
// захват всё равно освобождается, а ключ остаётся необработанным.
func (c *Claim) Commit(ctx context.Context) error {
	if c.finished {
		return ErrClaimFinished
	}
	c.finished = true
	defer c.guard.release(c.orderID)

	if err := c.guard.store.MarkProcessed(ctx, c.orderID); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// Release освобождает захват, не помечая заказ обработанным.
// Повторный вызов и вызов после Commit — no-op.
func (c *Claim) Release() {
	if c.finished {
		return
	}
	c.finished = true
	c.guard.release(c.orderID)
}
