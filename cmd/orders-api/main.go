// Orders API — создаёт заказы и публикует order.created.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/orderflow/internal/api"
	"github.com/shaiso/orderflow/internal/mq"
	"github.com/shaiso/orderflow/internal/repo"
	"github.com/shaiso/orderflow/internal/telemetry"
)

var (
	startTime = time.Now()
	reqTotal  = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_api_http_requests_total",
		Help: "Total HTTP requests handled by orders_api",
	})
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger("orders-api")
	logger.Info("starting orders-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// RabbitMQ
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL
	}

	mqConn, err := mq.NewConnection(mqURL, logger,
		mq.WithPublisherConfirms(),
		mq.WithConnectionName("orders-api"),
	)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()

	// Публикация в default exchange без очереди молча теряет сообщение
	if err := mq.EnsureTopology(ctx, mqConn); err != nil {
		logger.Error("failed to declare topology", "error", err)
		os.Exit(1)
	}

	cfg := api.Config{
		Publisher: mq.NewPublisher(mqConn, logger),
		Logger:    logger,
	}

	// Статус заказов доступен, только если задан DB_URL
	if os.Getenv("DB_URL") != "" {
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
		cfg.Status = processed
		logger.Info("connected to database")
	}

	handler := api.NewHandler(cfg)

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		reqTotal.Inc()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	addr := ":8080"
	if v := os.Getenv("API_PORT"); v != "" {
		addr = ":" + v
	}

	// Создаём HTTP сервер с возможностью graceful shutdown
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Запускаем сервер в горутине
	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
