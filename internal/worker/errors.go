package worker

import "errors"

// Ошибки воркера.
var (
	// ErrSimulatedFailure — детерминированный сбой обработки для тестовых сценариев.
	ErrSimulatedFailure = errors.New("simulated processing failure")

	// ErrMarkFailed — доменная логика выполнена, но заказ не удалось пометить обработанным.
	ErrMarkFailed = errors.New("mark processed failed")

	// ErrGuardUnavailable — хранилище идемпотентности недоступно.
	ErrGuardUnavailable = errors.New("idempotency guard unavailable")

	// ErrRetryExhausted — все попытки retry исчерпаны, сообщение уходит в DLQ.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrRepublishFailed — копию для повтора не удалось опубликовать; оригинал ушёл в DLQ.
	ErrRepublishFailed = errors.New("republish for retry failed")

	// ErrNoConnection — воркер запущен без соединения с RabbitMQ.
	ErrNoConnection = errors.New("no rabbitmq connection")
)
