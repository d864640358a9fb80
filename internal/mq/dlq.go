package mq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// QueueStats — состояние очереди.
type QueueStats struct {
	Name      Queue
	Messages  int
	Consumers int
}

// InspectQueue читает количество сообщений и потребителей очереди.
//
// Использует passive declare на отдельном канале: если очереди нет,
// брокер закрывает канал, основной канал при этом не страдает.
func InspectQueue(ctx context.Context, conn *Connection, queue Queue) (QueueStats, error) {
	if err := ctx.Err(); err != nil {
		return QueueStats{}, err
	}

	ch, err := conn.OpenChannel()
	if err != nil {
		return QueueStats{}, err
	}
	defer ch.Close()

	q, err := ch.QueueDeclarePassive(
		string(queue), // name
		true,          // durable
		false,         // delete when unused
		false,         // exclusive
		false,         // no-wait
		nil,           // arguments
	)
	if err != nil {
		return QueueStats{}, fmt.Errorf("inspect queue %s: %w", queue, err)
	}

	return QueueStats{Name: queue, Messages: q.Messages, Consumers: q.Consumers}, nil
}

// InspectQueue — то же, что пакетная InspectQueue, на этом соединении.
func (c *Connection) InspectQueue(ctx context.Context, queue Queue) (QueueStats, error) {
	return InspectQueue(ctx, c, queue)
}

// Getter — часть *amqp.Channel для поштучного чтения сообщений.
type Getter interface {
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
}

// DLQChannel — часть *amqp.Channel, нужная для переноса из DLQ.
type DLQChannel interface {
	Getter
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}

// RequeueFromDLQ переносит до limit сообщений из DLQ обратно в основную очередь.
//
// Это ручное действие оператора: воркер сам никогда не читает DLQ.
// Счётчик x-retry сбрасывается в 0, заголовки dead-lettering удаляются.
// Сообщение подтверждается в DLQ только после успешной публикации.
// limit <= 0 — все сообщения, лежавшие в DLQ на момент вызова.
func RequeueFromDLQ(ctx context.Context, conn *Connection, publisher *Publisher, limit int) (int, error) {
	ch, err := conn.OpenChannel()
	if err != nil {
		return 0, err
	}
	defer ch.Close()

	return requeue(ctx, ch, publisher.PublishRetry, limit)
}

// requeue — ядро RequeueFromDLQ, отделённое от канала для тестов.
//
// Число переносимых сообщений ограничено глубиной DLQ до начала переноса:
// сообщение, которое снова упало и вернулось в DLQ во время переноса,
// повторно не переносится.
func requeue(ctx context.Context, ch DLQChannel, publish func(context.Context, amqp.Delivery, int) error, limit int) (int, error) {
	q, err := ch.QueueDeclarePassive(
		string(QueueOrdersDLQ), // name
		true,                   // durable
		false,                  // delete when unused
		false,                  // exclusive
		false,                  // no-wait
		nil,                    // arguments
	)
	if err != nil {
		return 0, fmt.Errorf("inspect queue %s: %w", QueueOrdersDLQ, err)
	}
	if limit <= 0 || limit > q.Messages {
		limit = q.Messages
	}

	moved := 0
	for moved < limit {
		if err := ctx.Err(); err != nil {
			return moved, err
		}

		d, ok, err := ch.Get(string(QueueOrdersDLQ), false)
		if err != nil {
			return moved, fmt.Errorf("get from %s: %w", QueueOrdersDLQ, err)
		}
		if !ok {
			return moved, nil
		}

		pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = publish(pubCtx, d, 0)
		cancel()
		if err != nil {
			cause := fmt.Errorf("republish %s: %w", d.MessageId, err)
			if nackErr := d.Nack(false, true); nackErr != nil {
				return moved, errors.Join(cause, fmt.Errorf("nack: %w", nackErr))
			}
			return moved, cause
		}

		if err := d.Ack(false); err != nil {
			return moved, fmt.Errorf("ack %s: %w", d.MessageId, err)
		}
		moved++
	}
	return moved, nil
}
