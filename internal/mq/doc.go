// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, publisher confirms, graceful shutdown)
//   - topology.go   — объявление основной очереди и DLQ
//   - headers.go    — заголовок x-retry со счётчиком повторов
//   - publisher.go  — публикация событий и повторная публикация для retry
//   - consumer.go   — подписка с ручным ack и передача доставок диспетчеру
//   - dlq.go        — инспекция очередей и ручной перенос из DLQ
//
// Топология:
//
//	(default exchange)
//	├── orders      [durable, x-dead-letter-exchange="", x-dead-letter-routing-key=orders.dlq]
//	│       Consumer: orders-worker
//	└── orders.dlq  [durable]
//	        Ручная обработка (orders-cli dlq)
//
// Все публикации идут в default exchange с routing key, равным имени очереди.
package mq
