package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/shaiso/orderflow/internal/idempotency"
	"github.com/shaiso/orderflow/internal/mq"
	"github.com/shaiso/orderflow/internal/telemetry"
)

// Default configuration values.
const (
	defaultPrefetch = 5
)

// Worker потребляет события order.created.
//
// Worker — долгоживущий компонент, который:
//   - Подписывается на очередь orders с ручным ack
//   - Пропускает каждую доставку через Dispatcher (Guard → Executor → Router)
//   - Переподписывается после разрыва соединения
//   - При остановке дожидается доставок в работе
//
// Предполагается один экземпляр воркера на очередь: Guard защищает
// от дубликатов только внутри процесса (или через общий Postgres-store).
type Worker struct {
	conn       *mq.Connection
	dispatcher *Dispatcher
	consumer   *mq.Consumer
	prefetch   int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
	done       chan struct{}
	err        error
}

// Config — конфигурация Worker.
type Config struct {
	// MQ
	Conn      *mq.Connection
	Publisher Republisher

	// Guard — страж идемпотентности (если nil — in-memory).
	Guard *idempotency.Guard

	// Executor — доменная логика (если nil — NewOrderExecutor()).
	Executor Executor

	// Prefetch — максимум неподтверждённых доставок (default: 5).
	Prefetch int

	// Concurrency — параллельно обрабатываемые доставки (default: Prefetch).
	Concurrency int

	// Metrics (опционально)
	Metrics *telemetry.Metrics

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 || concurrency > prefetch {
		// Больше prefetch одновременно всё равно не придёт
		concurrency = prefetch
	}

	dispatcher := NewDispatcher(DispatcherConfig{
		Guard:       cfg.Guard,
		Executor:    cfg.Executor,
		Publisher:   cfg.Publisher,
		Concurrency: concurrency,
		Metrics:     cfg.Metrics,
		Logger:      logger,
	})

	return &Worker{
		conn:       cfg.Conn,
		dispatcher: dispatcher,
		prefetch:   prefetch,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Dispatcher возвращает диспетчер воркера.
func (w *Worker) Dispatcher() *Dispatcher {
	return w.dispatcher
}

// Start запускает потребление в отдельной горутине.
//
// Топология должна быть объявлена заранее (mq.EnsureTopology):
// воркер не начинает потреблять из непроверенной топологии.
func (w *Worker) Start(ctx context.Context) error {
	if w.conn == nil {
		return ErrNoConnection
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
		Queue:    mq.QueueOrders,
		Runner:   w.dispatcher,
		Prefetch: w.prefetch,
	})

	w.logger.Info("starting worker",
		"queue", mq.QueueOrders,
		"prefetch", w.prefetch,
		"concurrency", w.dispatcher.concurrency,
		"max_retry", MaxRetry,
	)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(w.done)
		if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("order consumer error", "error", err)
			w.err = err
		}
	}()

	w.logger.Info("worker started")
	return nil
}

// Done закрывается, когда цикл потребления завершился.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Err возвращает ошибку цикла потребления после закрытия Done.
func (w *Worker) Err() error {
	<-w.done
	return w.err
}

// Stop останавливает Worker и ждёт завершения доставок в работе.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	if w.stopped {
		w.stoppedMu.Unlock()
		return
	}
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}
