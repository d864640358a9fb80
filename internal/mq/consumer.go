package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliveryRunner обрабатывает поток доставок одной подписки.
//
// Run блокируется до отмены ctx (возвращает nil) или до закрытия
// канала deliveries (возвращает ErrDeliveriesClosed).
type DeliveryRunner interface {
	Run(ctx context.Context, deliveries <-chan amqp.Delivery) error
}

// Consumer потребляет сообщения из очереди RabbitMQ.
//
// Подписка всегда с ручным ack: если воркер упадёт посреди обработки,
// брокер доставит сообщение повторно.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    Queue
	runner   DeliveryRunner
	prefetch int
	tag      string
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Queue — имя очереди.
	Queue Queue

	// Runner — обработчик потока доставок (диспетчер).
	Runner DeliveryRunner

	// Prefetch — максимум неподтверждённых доставок на канале.
	Prefetch int

	// Tag — consumer tag (по умолчанию генерируется).
	Tag string
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	tag := cfg.Tag
	if tag == "" {
		tag = "orders-worker-" + uuid.NewString()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		conn:     conn,
		logger:   logger,
		queue:    cfg.Queue,
		runner:   cfg.Runner,
		prefetch: prefetch,
		tag:      tag,
	}
}

// Start запускает потребление и блокируется до отмены ctx.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		deliveries, err := c.setupConsume()
		if err != nil {
			c.logger.Error("failed to setup consume", "queue", c.queue, "error", err)
			if err := c.waitReconnect(ctx); err != nil {
				return err
			}
			continue
		}

		c.logger.Info("consumer started", "queue", c.queue, "tag", c.tag, "prefetch", c.prefetch)

		err = c.runner.Run(ctx, deliveries)
		if ctx.Err() != nil {
			c.cancelConsume()
			return ctx.Err()
		}

		if err != nil && !errors.Is(err, ErrDeliveriesClosed) {
			c.logger.Error("delivery runner failed", "queue", c.queue, "error", err)
		}

		c.logger.Warn("deliveries channel closed, reconnecting", "queue", c.queue)
		if err := c.waitReconnect(ctx); err != nil {
			return err
		}
	}
}

// waitReconnect ждёт переподключения или отмены ctx.
func (c *Consumer) waitReconnect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.conn.ReconnectNotify():
		c.logger.Info("reconnected, restarting consumer", "queue", c.queue)
		return nil
	}
}

// setupConsume настраивает канал и начинает потребление.
func (c *Consumer) setupConsume() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		string(c.queue), // queue
		c.tag,           // consumer tag
		false,           // auto-ack (только ручной ack)
		false,           // exclusive
		false,           // no-local
		false,           // no-wait
		nil,             // args
	)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	return deliveries, nil
}

// cancelConsume останавливает доставку новых сообщений брокером.
// Неподтверждённые доставки вернутся в очередь при закрытии канала.
func (c *Consumer) cancelConsume() {
	ch := c.conn.Channel()
	if ch == nil || ch.IsClosed() {
		return
	}
	if err := ch.Cancel(c.tag, false); err != nil {
		c.logger.Warn("failed to cancel consumer", "queue", c.queue, "error", err)
	}
}
