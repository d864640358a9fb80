package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/orderflow/internal/mq"
	"github.com/shaiso/orderflow/internal/telemetry"
)

// ErrNoInspector — Monitor создан без Inspector.
var ErrNoInspector = errors.New("monitor: inspector is required")

// tickTimeout ограничивает одну проверку.
const tickTimeout = 10 * time.Second

// Inspector читает состояние очереди. Реализация: *mq.Connection.
type Inspector interface {
	InspectQueue(ctx context.Context, queue mq.Queue) (mq.QueueStats, error)
}

// Monitor — периодическая проверка глубины очередей.
type Monitor struct {
	inspector Inspector
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	spec      string
	queues    []mq.Queue

	mu      sync.Mutex
	cron    *cron.Cron
	lastDLQ int
}

// Config — конфигурация Monitor.
type Config struct {
	Inspector Inspector
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger

	// Spec — cron-расписание (default: DefaultSpec).
	Spec string
}

// New создаёт Monitor. Возвращает ошибку, если расписание невалидно.
func New(cfg Config) (*Monitor, error) {
	if cfg.Inspector == nil {
		return nil, ErrNoInspector
	}

	spec := cfg.Spec
	if spec == "" {
		spec = DefaultSpec
	}
	if err := ValidateSpec(spec); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		inspector: cfg.Inspector,
		metrics:   cfg.Metrics,
		logger:    logger,
		spec:      spec,
		queues:    []mq.Queue{mq.QueueOrders, mq.QueueOrdersDLQ},
	}, nil
}

// Tick выполняет одну проверку всех очередей.
//
// Ошибка одной очереди не мешает проверке остальных;
// возвращается первая из ошибок.
func (m *Monitor) Tick(ctx context.Context) error {
	var firstErr error

	for _, q := range m.queues {
		stats, err := m.inspector.InspectQueue(ctx, q)
		if err != nil {
			m.logger.Error("failed to inspect queue", "queue", q, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("inspect %s: %w", q, err)
			}
			continue
		}

		m.metrics.SetQueueDepth(string(q), stats.Messages)

		if q == mq.QueueOrdersDLQ {
			m.reportDLQ(stats)
		}
	}

	return firstErr
}

// reportDLQ пишет предупреждение, пока DLQ не пуста,
// и один info, когда она опустела.
func (m *Monitor) reportDLQ(stats mq.QueueStats) {
	m.mu.Lock()
	prev := m.lastDLQ
	m.lastDLQ = stats.Messages
	m.mu.Unlock()

	switch {
	case stats.Messages > 0:
		m.logger.Warn("dead-letter queue is not empty",
			"queue", stats.Name,
			"messages", stats.Messages,
			"delta", stats.Messages-prev,
		)
	case prev > 0:
		m.logger.Info("dead-letter queue drained", "queue", stats.Name)
	}
}

// DLQDepth возвращает глубину DLQ на момент последней проверки.
func (m *Monitor) DLQDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastDLQ
}

// Start запускает проверки по расписанию.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cron != nil {
		return nil
	}

	c := cron.New(cron.WithParser(cronParser))
	_, err := c.AddFunc(m.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
		defer cancel()
		_ = m.Tick(ctx) // ошибки уже залогированы
	})
	if err != nil {
		return fmt.Errorf("schedule monitor: %w", err)
	}

	c.Start()
	m.cron = c

	m.logger.Info("queue monitor started", "spec", m.spec)
	return nil
}

// Stop останавливает расписание и ждёт текущую проверку.
func (m *Monitor) Stop() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	if c == nil {
		return
	}

	<-c.Stop().Done()
	m.logger.Info("queue monitor stopped")
}
