// Orders Worker — обрабатывает события order.created.
//
// Worker:
//   - Объявляет топологию orders / orders.dlq (без неё не стартует)
//   - Получает события из RabbitMQ с ручным ack
//   - Пропускает дубликаты через страж идемпотентности
//   - Повторяет сбои до MaxRetry, затем уводит сообщение в DLQ
//   - Следит за глубиной DLQ по cron-расписанию
//
// Предполагается один экземпляр на очередь.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/orderflow/internal/idempotency"
	"github.com/shaiso/orderflow/internal/monitor"
	"github.com/shaiso/orderflow/internal/mq"
	"github.com/shaiso/orderflow/internal/repo"
	"github.com/shaiso/orderflow/internal/telemetry"
	"github.com/shaiso/orderflow/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger("orders-worker")
	logger.Info("starting orders-worker")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Idempotency store
	var store idempotency.Store
	switch kind := envOr("IDEMPOTENCY_STORE", "memory"); kind {
	case "memory":
		store = idempotency.NewMemoryStore()
		logger.Info("using in-memory idempotency store")
	case "postgres":
		pool, err := repo.NewPool(ctx)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		processed := repo.NewProcessedOrderRepo(pool)
		if err := processed.EnsureSchema(ctx); err != nil {
			logger.Error("failed to prepare processed_orders table", "error", err)
			os.Exit(1)
		}
		store = processed
		logger.Info("using postgres idempotency store")
	default:
		logger.Error("unknown IDEMPOTENCY_STORE", "value", kind)
		os.Exit(1)
	}

	// RabbitMQ
	mqConn, err := mq.NewConnection(envOr("RABBITMQ_URL", mq.DefaultURL), logger,
		mq.WithPublisherConfirms(),
		mq.WithConnectionName("orders-worker"),
	)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	logger.Info("RabbitMQ connected")

	// Без проверенной топологии не потребляем
	if err := mq.EnsureTopology(ctx, mqConn); err != nil {
		logger.Error("failed to declare topology", "error", err)
		os.Exit(1)
	}
	logger.Info("topology ready", "topology", mq.TopologyInfo())

	metrics := telemetry.NewMetrics(nil)

	executor := worker.NewOrderExecutor()
	if ms := envInt("WORKER_WORK_MS", 0); ms > 0 {
		executor.Work = time.Duration(ms) * time.Millisecond
	}

	w := worker.New(worker.Config{
		Conn:      mqConn,
		Publisher: mq.NewPublisher(mqConn, logger),
		Guard:     idempotency.NewGuard(store),
		Executor:  executor,
		Prefetch:  envInt("WORKER_PREFETCH", 0),
		Metrics:   metrics,
		Logger:    logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	if err := w.Start(gctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// DLQ monitor
	if spec := envOr("DLQ_MONITOR_SPEC", monitor.DefaultSpec); spec != "off" {
		mon, err := monitor.New(monitor.Config{
			Inspector: mqConn,
			Metrics:   metrics,
			Spec:      spec,
			Logger:    logger,
		})
		if err != nil {
			logger.Error("failed to create queue monitor", "error", err)
			os.Exit(1)
		}
		if err := mon.Start(); err != nil {
			logger.Error("failed to start queue monitor", "error", err)
			os.Exit(1)
		}
		defer mon.Stop()
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		if !mqConn.IsConnected() {
			rw.WriteHeader(http.StatusServiceUnavailable)
			rw.Write([]byte("rabbitmq disconnected"))
			return
		}
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    ":" + envOr("WORKER_PORT", "8082"),
		Handler: mux,
	}

	g.Go(func() error {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		<-w.Done()
		if err := w.Err(); err != nil {
			return fmt.Errorf("worker: %w", err)
		}
		return nil
	})

	// Ожидаем сигнал завершения или падение одного из компонентов
	<-gctx.Done()
	logger.Info("worker is shutting down")

	// Останавливаем worker: доставки в работе завершаются
	w.Stop()

	if err := g.Wait(); err != nil {
		logger.Error("orders-worker exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("orders-worker stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
