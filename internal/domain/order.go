package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrMalformedEvent — тело сообщения не удалось разобрать в событие.
var ErrMalformedEvent = errors.New("malformed order event")

// OrderCreatedEvent — событие о создании заказа.
//
// Событие неизменяемо после создания. OrderID — ключ идемпотентности:
// он глобально уникален для каждого бизнес-заказа, и повторная доставка
// события с тем же OrderID не должна приводить к повторной обработке.
type OrderCreatedEvent struct {
	// OrderID — идентификатор заказа (ключ идемпотентности).
	OrderID uuid.UUID `json:"orderId"`

	// Amount — сумма заказа.
	Amount decimal.Decimal `json:"amount"`

	// CreatedAtUTC — время создания заказа (UTC).
	CreatedAtUTC time.Time `json:"createdAtUtc"`
}

// NewOrderCreatedEvent создаёт событие для нового заказа с указанной суммой.
func NewOrderCreatedEvent(amount decimal.Decimal) OrderCreatedEvent {
	return OrderCreatedEvent{
		OrderID:      uuid.New(),
		Amount:       amount,
		CreatedAtUTC: time.Now().UTC(),
	}
}

// Validate проверяет, что у события есть ключ идемпотентности.
func (e OrderCreatedEvent) Validate() error {
	if e.OrderID == uuid.Nil {
		return fmt.Errorf("%w: orderId is empty", ErrMalformedEvent)
	}
	return nil
}

// orderCreatedWire — представление события на проводе.
// amount сериализуется числом, а не строкой.
type orderCreatedWire struct {
	OrderID      uuid.UUID   `json:"orderId"`
	Amount       json.Number `json:"amount"`
	CreatedAtUTC time.Time   `json:"createdAtUtc"`
}

// MarshalJSON сериализует событие в плоскую JSON-запись.
func (e OrderCreatedEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderCreatedWire{
		OrderID:      e.OrderID,
		Amount:       json.Number(e.Amount.String()),
		CreatedAtUTC: e.CreatedAtUTC.UTC(),
	})
}

// DecodeOrderCreated разбирает тело сообщения в OrderCreatedEvent.
//
// Имена полей сопоставляются без учёта регистра, поэтому тела вида
// {"OrderId": ..., "Amount": ..., "CreatedAtUtc": ...} тоже принимаются.
// amount может быть числом или строкой.
func DecodeOrderCreated(body []byte) (OrderCreatedEvent, error) {
	var evt OrderCreatedEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return OrderCreatedEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := evt.Validate(); err != nil {
		return OrderCreatedEvent{}, err
	}
	return evt, nil
}
