package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sourcegraph/conc/pool"

	"github.com/shaiso/orderflow/internal/domain"
	"github.com/shaiso/orderflow/internal/idempotency"
	"github.com/shaiso/orderflow/internal/mq"
	"github.com/shaiso/orderflow/internal/telemetry"
)

// finalizeTimeout ограничивает commit + ack/publish одной доставки после отмены.
const finalizeTimeout = 10 * time.Second

// Dispatcher — цикл потребления доставок.
//
// Для каждой доставки:
//  1. Received  — если отмена уже запрошена, nack с requeue
//  2. Guarded   — разбор тела, захват OrderID в Guard
//  3. Skipped   — дубликат: ack без выполнения
//  4. Executing — Executor.Process
//  5. Acked / Requeued(n+1) / DeadLettered / Returned — через Router
//
// Доставки обрабатываются конкурентно (не больше Concurrency одновременно);
// единственное разделяемое состояние — Guard.
type Dispatcher struct {
	guard       *idempotency.Guard
	executor    Executor
	router      *Router
	concurrency int
	logger      *slog.Logger
	metrics     *telemetry.Metrics
}

// DispatcherConfig — конфигурация Dispatcher.
type DispatcherConfig struct {
	// Guard — страж идемпотентности (если nil — in-memory).
	Guard *idempotency.Guard

	// Executor — доменная логика (если nil — NewOrderExecutor()).
	Executor Executor

	// Publisher — повторная публикация для retry.
	Publisher Republisher

	// Concurrency — максимум одновременно обрабатываемых доставок (default: 1).
	Concurrency int

	// Metrics — метрики (опционально).
	Metrics *telemetry.Metrics

	// Logger
	Logger *slog.Logger
}

// NewDispatcher создаёт Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	guard := cfg.Guard
	if guard == nil {
		guard = idempotency.NewGuard(nil)
	}

	executor := cfg.Executor
	if executor == nil {
		executor = NewOrderExecutor()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Dispatcher{
		guard:       guard,
		executor:    executor,
		router:      NewRouter(cfg.Publisher, logger),
		concurrency: concurrency,
		logger:      logger,
		metrics:     cfg.Metrics,
	}
}

// Guard возвращает страж идемпотентности диспетчера.
func (d *Dispatcher) Guard() *idempotency.Guard {
	return d.guard
}

// Run читает доставки до отмены ctx или закрытия канала.
//
// Возвращает nil при отмене и mq.ErrDeliveriesClosed при закрытии канала.
// Перед возвратом дожидается всех доставок в работе: ни одна не остаётся
// наполовину обработанной. Доставки, полученные после отмены, возвращаются
// в очередь через nack с requeue.
func (d *Dispatcher) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	p := pool.New().WithMaxGoroutines(d.concurrency)

	for {
		select {
		case <-ctx.Done():
			p.Wait()
			returned := d.drain(deliveries)
			d.logger.Info("worker is shutting down", "returned", returned)
			return nil

		case raw, ok := <-deliveries:
			if !ok {
				p.Wait()
				return mq.ErrDeliveriesClosed
			}

			// select выбирает случайную готовую ветку — проверяем отмену явно
			if ctx.Err() != nil {
				d.returnUnhandled(raw)
				continue
			}

			p.Go(func() {
				d.Handle(ctx, raw)
			})
		}
	}
}

// drain возвращает в очередь доставки, уже лежащие в буфере канала.
func (d *Dispatcher) drain(deliveries <-chan amqp.Delivery) int {
	n := 0
	for {
		select {
		case raw, ok := <-deliveries:
			if !ok {
				return n
			}
			d.returnUnhandled(raw)
			n++
		default:
			return n
		}
	}
}

// returnUnhandled возвращает доставку в очередь без обработки.
func (d *Dispatcher) returnUnhandled(raw amqp.Delivery) {
	if err := raw.Nack(false, true); err != nil {
		d.logger.Warn("failed to return delivery to queue",
			"delivery_tag", raw.DeliveryTag,
			"error", err,
		)
		return
	}
	d.metrics.ObserveOutcome(telemetry.OutcomeReturned, 0)
}

// Handle проводит одну доставку через конечный автомат и возвращает решение.
//
// Никакая ошибка обработки не выходит наружу: всё превращается в одно из
// действий над доставкой.
func (d *Dispatcher) Handle(ctx context.Context, raw amqp.Delivery) Decision {
	start := time.Now()
	d.metrics.DeliveryStarted()
	defer d.metrics.DeliveryFinished()

	delivery := &Delivery{
		Body:       raw.Body,
		Tag:        raw.DeliveryTag,
		RetryCount: mq.RetryCount(raw.Headers),
		Raw:        raw,
	}

	// Финализация не должна обрываться отменой: commit и ack/publish
	// доводятся до конца на отвязанном контексте.
	finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	dec := d.decide(ctx, finalizeCtx, delivery)

	outcome, err := d.router.Finalize(finalizeCtx, delivery, dec)
	if err != nil {
		d.logger.Error("failed to finalize delivery",
			"delivery_tag", delivery.Tag,
			"action", dec.Action.String(),
			"error", err,
		)
	}
	d.metrics.ObserveOutcome(outcome, time.Since(start))

	return dec
}

// decide выполняет шаги Received → Guarded → Executing и возвращает решение.
func (d *Dispatcher) decide(ctx, finalizeCtx context.Context, delivery *Delivery) Decision {
	log := telemetry.WithDelivery(d.logger, delivery.Tag, delivery.RetryCount)

	// Received: отмена запрошена до начала обработки
	if ctx.Err() != nil {
		return Decision{Action: ActionReturn}
	}

	// Ошибка разбора идёт тем же путём, что и сбой обработки
	evt, err := domain.DecodeOrderCreated(delivery.Body)
	if err != nil {
		log.Warn("failed to decode order event", "error", err)
		return Decide(Failure(err), delivery.RetryCount)
	}
	delivery.Event = evt
	log = telemetry.WithOrderID(log, evt.OrderID.String())

	// Guarded
	claim, err := d.guard.Acquire(ctx, evt.OrderID)
	if err != nil {
		if errors.Is(err, idempotency.ErrDuplicate) {
			return Decision{Action: ActionSkip}
		}
		if ctx.Err() != nil {
			return Decision{Action: ActionReturn}
		}
		return Decide(Failure(fmt.Errorf("%w: %v", ErrGuardUnavailable, err)), delivery.RetryCount)
	}

	// Executing
	log.Info("order received", "amount", evt.Amount.String())
	outcome := d.executor.Process(ctx, evt)

	switch outcome.Kind {
	case OutcomeSuccess:
		// mark-before-ack
		if err := claim.Commit(finalizeCtx); err != nil {
			outcome = Failure(fmt.Errorf("%w: %v", ErrMarkFailed, err))
		}
	default:
		claim.Release()
	}

	return Decide(outcome, delivery.RetryCount)
}
