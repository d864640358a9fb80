package mq

import "errors"

// Ошибки транспорта.
var (
	// ErrNoChannel — AMQP канал недоступен (соединение разорвано).
	ErrNoChannel = errors.New("no channel available")

	// ErrTopology — не удалось объявить очереди. Для воркера фатально.
	ErrTopology = errors.New("declare topology")

	// ErrPublishNacked — брокер не подтвердил публикацию.
	ErrPublishNacked = errors.New("publish not confirmed by broker")

	// ErrDeliveriesClosed — канал доставок закрыт (разрыв соединения).
	ErrDeliveriesClosed = errors.New("deliveries channel closed")
)
