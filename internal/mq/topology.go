package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Queue — тип для имени очереди.
type Queue string

// Очереди.
const (
	// QueueOrders — основная очередь событий order.created.
	QueueOrders Queue = "orders"

	// QueueOrdersDLQ — dead-letter очередь для событий, исчерпавших retry.
	QueueOrdersDLQ Queue = "orders.dlq"
)

// DefaultExchange — default exchange (routing key = имя очереди).
const DefaultExchange = ""

// Аргументы dead-lettering.
const (
	argDeadLetterExchange   = "x-dead-letter-exchange"
	argDeadLetterRoutingKey = "x-dead-letter-routing-key"
)

// QueueDeclarer — часть *amqp.Channel, нужная для объявления очередей.
type QueueDeclarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}

// TopologyArgs возвращает аргументы основной очереди:
// reject без requeue уводит сообщение в QueueOrdersDLQ через default exchange.
func TopologyArgs() amqp.Table {
	return amqp.Table{
		argDeadLetterExchange:   DefaultExchange,
		argDeadLetterRoutingKey: string(QueueOrdersDLQ),
	}
}

// EnsureTopology объявляет основную очередь и DLQ.
//
// Идемпотентна: безопасно вызывать при каждом старте. Конфликт с уже
// существующим объявлением возвращается как ошибка, обёрнутая в
// ErrTopology, — потреблять из непроверенной топологии нельзя.
func EnsureTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		return DeclareTopology(ch)
	})
}

// DeclareTopology объявляет очереди через переданный канал.
func DeclareTopology(ch QueueDeclarer) error {
	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// orders — с DLQ
		{QueueOrders, TopologyArgs()},

		// orders.dlq — сама DLQ, без аргументов
		{QueueOrdersDLQ, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("%w: queue %s: %v", ErrTopology, q.name, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Orders RabbitMQ Topology:

    (default exchange)
    ├── orders [routing: orders]
    │       Consumer: orders-worker
    │       DLQ: orders.dlq (reject, requeue=false)
    └── orders.dlq [routing: orders.dlq]
            Manual processing (orders-cli dlq)
  `
}
