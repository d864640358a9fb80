package idempotency

import "errors"

// Ошибки идемпотентности.
var (
	// ErrDuplicate — заказ уже обработан или обрабатывается другой доставкой.
	ErrDuplicate = errors.New("order already processed")

	// ErrClaimFinished — Commit/Release уже были вызваны для этого захвата.
	ErrClaimFinished = errors.New("claim already finished")
)
