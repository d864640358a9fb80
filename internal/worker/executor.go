package worker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shaiso/orderflow/internal/domain"
)

// Значения по умолчанию для OrderExecutor.
const (
	defaultWork = time.Second
)

// DefaultFailAmount — сумма, на которой OrderExecutor детерминированно падает.
// Позволяет воспроизвести сценарий retry → DLQ без внедрения сбоев.
var DefaultFailAmount = decimal.NewFromInt(1000)

// Executor применяет доменную логику к одному событию.
//
// Process обязан уважать отмену ctx: при отмене он возвращает
// Cancelled(), а не завершает работу молча.
type Executor interface {
	Process(ctx context.Context, evt domain.OrderCreatedEvent) Outcome
}

// ExecutorFunc — адаптер функции к интерфейсу Executor.
type ExecutorFunc func(ctx context.Context, evt domain.OrderCreatedEvent) Outcome

// Process реализует Executor.
func (f ExecutorFunc) Process(ctx context.Context, evt domain.OrderCreatedEvent) Outcome {
	return f(ctx, evt)
}

// OrderExecutor — обработчик заказов.
//
// Доменная логика — заглушка: ожидание Work с учётом отмены.
// Событие с Amount == FailAmount всегда завершается Failure(ErrSimulatedFailure).
type OrderExecutor struct {
	// Work — длительность имитируемой работы (default: 1s).
	Work time.Duration

	// FailAmount — сумма, вызывающая сбой (default: 1000; ноль — тоже default).
	FailAmount decimal.Decimal
}

// NewOrderExecutor создаёт OrderExecutor со значениями по умолчанию.
func NewOrderExecutor() *OrderExecutor {
	return &OrderExecutor{
		Work:       defaultWork,
		FailAmount: DefaultFailAmount,
	}
}

// Process реализует Executor.
func (e *OrderExecutor) Process(ctx context.Context, evt domain.OrderCreatedEvent) Outcome {
	failAmount := e.FailAmount
	if failAmount.IsZero() {
		failAmount = DefaultFailAmount
	}
	if evt.Amount.Equal(failAmount) {
		return Failure(ErrSimulatedFailure)
	}

	work := e.Work
	if work <= 0 {
		work = defaultWork
	}

	timer := time.NewTimer(work)
	defer timer.Stop()

	// Context-aware ожидание
	select {
	case <-timer.C:
		return Success()
	case <-ctx.Done():
		return Cancelled()
	}
}
