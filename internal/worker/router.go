package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/orderflow/internal/domain"
	"github.com/shaiso/orderflow/internal/telemetry"
)

// MaxRetry — потолок счётчика повторов.
// Сбой при RetryCount >= MaxRetry уводит сообщение в DLQ.
const MaxRetry = 3

// Delivery — одна доставка, проходящая через роутер.
//
// RetryCount — явное поле, а не метаданные сообщения: роутер получает
// его аргументом и никогда не читает заголовки сам.
type Delivery struct {
	// Event — разобранное событие (нулевое, если тело не разобралось).
	Event domain.OrderCreatedEvent

	// Body — исходное тело сообщения.
	Body []byte

	// Tag — delivery tag для ack/nack.
	Tag uint64

	// RetryCount — текущий счётчик повторов (0 ≤ RetryCount ≤ MaxRetry).
	RetryCount int

	// Raw — сырое AMQP сообщение.
	Raw amqp.Delivery
}

// Action — что сделать с доставкой.
type Action int

const (
	// ActionAck — обработано: ack.
	ActionAck Action = iota

	// ActionSkip — дубликат: ack без выполнения.
	ActionSkip

	// ActionRequeue — повтор: публикация копии с RetryCount+1, затем ack оригинала.
	ActionRequeue

	// ActionDeadLetter — retry исчерпаны: reject без requeue (брокер уводит в DLQ).
	ActionDeadLetter

	// ActionReturn — отмена: nack с requeue, сообщение возвращается без изменений.
	ActionReturn
)

// String возвращает имя действия.
func (a Action) String() string {
	switch a {
	case ActionAck:
		return "ack"
	case ActionSkip:
		return "skip"
	case ActionRequeue:
		return "requeue"
	case ActionDeadLetter:
		return "dead_letter"
	case ActionReturn:
		return "return"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Decision — решение роутера по одной доставке.
type Decision struct {
	Action Action

	// NextRetry — счётчик для повторной публикации (только ActionRequeue).
	NextRetry int

	// Reason — причина сбоя (для Requeue и DeadLetter).
	Reason error
}

// Decide превращает результат обработки в решение.
//
//	Success                          → Ack
//	Cancelled                        → Return
//	Failure, retryCount <  MaxRetry  → Requeue(retryCount+1)
//	Failure, retryCount >= MaxRetry  → DeadLetter
func Decide(outcome Outcome, retryCount int) Decision {
	switch outcome.Kind {
	case OutcomeSuccess:
		return Decision{Action: ActionAck}
	case OutcomeCancelled:
		return Decision{Action: ActionReturn}
	}

	if retryCount < 0 {
		retryCount = 0
	}

	if retryCount < MaxRetry {
		return Decision{
			Action:    ActionRequeue,
			NextRetry: retryCount + 1,
			Reason:    outcome.Reason,
		}
	}

	return Decision{
		Action: ActionDeadLetter,
		Reason: fmt.Errorf("%w: %v", ErrRetryExhausted, outcome.Reason),
	}
}

// Republisher публикует копию доставки в основную очередь с новым счётчиком.
// Реализация: mq.Publisher.
type Republisher interface {
	PublishRetry(ctx context.Context, raw amqp.Delivery, retry int) error
}

// Router исполняет решения: ack, повторная публикация, DLQ, возврат в очередь.
type Router struct {
	publisher Republisher
	logger    *slog.Logger
}

// NewRouter создаёт Router.
func NewRouter(publisher Republisher, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{publisher: publisher, logger: logger}
}

// Finalize исполняет решение и возвращает итоговый исход (label метрики).
//
// Повтор — это publish-then-ack: ack оригинала выполняется только после
// успешной публикации копии. Если публикация не удалась, оригинал
// уходит в DLQ (reject без requeue): nack с requeue вернул бы его с тем же
// счётчиком, и потолок MaxRetry перестал бы работать. Из DLQ сообщение
// возвращается вручную через orders-cli dlq requeue.
func (r *Router) Finalize(ctx context.Context, d *Delivery, dec Decision) (string, error) {
	log := telemetry.WithDelivery(r.logger, d.Tag, d.RetryCount)
	if d.Event.OrderID != uuid.Nil {
		log = telemetry.WithOrderID(log, d.Event.OrderID.String())
	}

	// Потолок проверяется до любой повторной публикации.
	if dec.Action == ActionRequeue && dec.NextRetry > MaxRetry {
		dec = Decision{Action: ActionDeadLetter, Reason: fmt.Errorf("%w: %v", ErrRetryExhausted, dec.Reason)}
	}

	switch dec.Action {
	case ActionAck:
		if err := d.Raw.Ack(false); err != nil {
			return telemetry.OutcomeAcked, fmt.Errorf("ack: %w", err)
		}
		log.Info("order processed")
		return telemetry.OutcomeAcked, nil

	case ActionSkip:
		if err := d.Raw.Ack(false); err != nil {
			return telemetry.OutcomeSkipped, fmt.Errorf("ack duplicate: %w", err)
		}
		log.Info("order already processed, skipping")
		return telemetry.OutcomeSkipped, nil

	case ActionRequeue:
		if r.publisher == nil {
			return r.deadLetterUnscheduled(d, log, dec, fmt.Errorf("%w: %w", ErrRepublishFailed, ErrNoConnection))
		}
		if err := r.publisher.PublishRetry(ctx, d.Raw, dec.NextRetry); err != nil {
			return r.deadLetterUnscheduled(d, log, dec, fmt.Errorf("%w: %w", ErrRepublishFailed, err))
		}
		if err := d.Raw.Ack(false); err != nil {
			// Копия уже в очереди; оригинал вернётся после разрыва канала.
			// Дубликат поглотит страж идемпотентности.
			return telemetry.OutcomeRequeued, fmt.Errorf("ack after republish: %w", err)
		}
		log.Warn("order processing failed, retry scheduled",
			"next_retry", dec.NextRetry,
			"reason", dec.Reason,
		)
		return telemetry.OutcomeRequeued, nil

	case ActionDeadLetter:
		if err := d.Raw.Reject(false); err != nil {
			return telemetry.OutcomeDeadLettered, fmt.Errorf("reject: %w", err)
		}
		log.Error("message moved to DLQ", "reason", dec.Reason)
		return telemetry.OutcomeDeadLettered, nil

	case ActionReturn:
		if err := d.Raw.Nack(false, true); err != nil {
			return telemetry.OutcomeReturned, fmt.Errorf("nack: %w", err)
		}
		log.Info("delivery returned to queue")
		return telemetry.OutcomeReturned, nil

	default:
		return "", fmt.Errorf("unknown action %s", dec.Action)
	}
}

// deadLetterUnscheduled уводит оригинал в DLQ, когда копию для повтора
// не удалось опубликовать.
func (r *Router) deadLetterUnscheduled(d *Delivery, log *slog.Logger, dec Decision, cause error) (string, error) {
	log.Error("failed to schedule retry, moving message to DLQ",
		"next_retry", dec.NextRetry,
		"reason", dec.Reason,
		"error", cause,
	)
	if err := d.Raw.Reject(false); err != nil {
		return telemetry.OutcomeDeadLettered, errors.Join(cause, fmt.Errorf("reject: %w", err))
	}
	return telemetry.OutcomeDeadLettered, cause
}
