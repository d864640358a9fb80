package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/orderflow/internal/domain"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Publish публикует сообщение в очередь через default exchange.
//
// Если канал в confirm mode, ждёт подтверждения брокера;
// nack от брокера возвращается как ErrPublishNacked.
func (p *Publisher) Publish(ctx context.Context, queue Queue, msg amqp.Publishing) error {
	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		dc, err := ch.PublishWithDeferredConfirmWithContext(
			ctx,
			DefaultExchange, // exchange
			string(queue),   // routing key
			false,           // mandatory
			false,           // immediate
			msg,
		)
		if err != nil {
			return fmt.Errorf("publish to %s: %w", queue, err)
		}

		// dc == nil — канал не в confirm mode
		if dc != nil {
			ok, err := dc.WaitContext(ctx)
			if err != nil {
				return fmt.Errorf("wait confirm from %s: %w", queue, err)
			}
			if !ok {
				return fmt.Errorf("%w: %s", ErrPublishNacked, queue)
			}
		}

		p.logger.Debug("published message",
			"queue", queue,
			"message_id", msg.MessageId,
		)

		return nil
	})
}

// PublishOrderCreated публикует событие order.created в основную очередь.
// Потребитель: orders-worker.
func (p *Publisher) PublishOrderCreated(ctx context.Context, evt domain.OrderCreatedEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return p.Publish(ctx, QueueOrders, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
		MessageId:    evt.OrderID.String(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

// PublishRetry публикует копию доставки в основную очередь с x-retry = retry.
//
// Тело и свойства исходного сообщения сохраняются без изменений;
// меняется только счётчик повторов.
func (p *Publisher) PublishRetry(ctx context.Context, raw amqp.Delivery, retry int) error {
	return p.Publish(ctx, QueueOrders, retryPublishing(raw, retry))
}

// retryPublishing собирает публикацию для повтора из исходной доставки.
func retryPublishing(raw amqp.Delivery, retry int) amqp.Publishing {
	contentType := raw.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	return amqp.Publishing{
		Headers:       WithRetry(stripDeathHeaders(raw.Headers), retry),
		ContentType:   contentType,
		DeliveryMode:  amqp.Persistent,
		MessageId:     raw.MessageId,
		CorrelationId: raw.CorrelationId,
		Timestamp:     time.Now().UTC(),
		Body:          raw.Body,
	}
}
