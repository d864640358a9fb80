// Orders CLI — инструмент оператора.
//
// Использование:
//
//	orders-cli [--api-url URL] [--amqp-url URL] [--db-url DSN] [--json] <command> [flags]
//
// Команды:
//
//	publish      Создать заказ(ы) через API
//	order        Состояние заказа через API
//	dlq          Глубина очередей и ручной возврат из DLQ
//	idempotency  Проверка и сброс хранилища обработанных заказов
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/orderflow/internal/cli"
	"github.com/shaiso/orderflow/internal/mq"
	"github.com/shaiso/orderflow/internal/repo"
	"github.com/shaiso/orderflow/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL, amqpURL, dbURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "orders-cli",
		Short:         "orders-cli — operator tool for the orders pipeline",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().StringVar(&amqpURL, "amqp-url", envOr("RABBITMQ_URL", mq.DefaultURL), "RabbitMQ URL")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", envOr("DB_URL", repo.DefaultDSN), "Postgres DSN of the idempotency store")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	opsFn := func() (cli.QueueOps, func(), error) {
		// Логи соединения не смешиваем с выводом команды
		logger := telemetry.NewLogger(os.Stderr, "text", telemetry.LogLevel())
		conn, err := mq.NewConnection(amqpURL, logger,
			mq.WithPublisherConfirms(),
			mq.WithConnectionName("orders-cli"),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to RabbitMQ: %w", err)
		}
		ops := cli.NewBrokerOps(conn, mq.NewPublisher(conn, logger))
		return ops, func() { conn.Close() }, nil
	}

	storeFn := func(ctx context.Context) (cli.ProcessedStore, func(), error) {
		pool, err := repo.NewPoolWithDSN(ctx, dbURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		processed := repo.NewProcessedOrderRepo(pool)
		if err := processed.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return processed, pool.Close, nil
	}

	rootCmd.AddCommand(
		cli.NewPublishCmd(clientFn, outputFn),
		cli.NewOrderCmd(clientFn, outputFn),
		cli.NewDLQCmd(opsFn, outputFn),
		cli.NewIdempotencyCmd(storeFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
