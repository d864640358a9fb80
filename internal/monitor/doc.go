// Package monitor следит за глубиной очередей.
//
// Monitor по cron-расписанию читает количество сообщений в orders и
// orders.dlq, пишет их в gauge orders_queue_messages и предупреждает
// в лог, если DLQ не пуста.
//
// Monitor только читает (passive declare): он никогда не забирает
// сообщения из DLQ. Возврат сообщений — ручная команда orders-cli.
//
// Использование:
//
//	mon, err := monitor.New(monitor.Config{
//	    Inspector: conn,            // *mq.Connection
//	    Metrics:   metrics,
//	    Spec:      "@every 30s",
//	    Logger:    logger,
//	})
//	mon.Start()
//	defer mon.Stop()
package monitor
