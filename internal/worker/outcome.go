package worker

import "fmt"

// OutcomeKind — вид результата обработки события.
type OutcomeKind int

const (
	// OutcomeSuccess — событие обработано.
	OutcomeSuccess OutcomeKind = iota

	// OutcomeFailure — обработка завершилась ошибкой (причина в Outcome.Reason).
	OutcomeFailure

	// OutcomeCancelled — обработка прервана отменой контекста.
	OutcomeCancelled
)

// String возвращает имя вида результата.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome — результат Executor.Process.
//
// Сбой бизнес-логики — это значение, а не паника и не error из Process:
// роутер разбирает Outcome через switch по Kind.
type Outcome struct {
	Kind   OutcomeKind
	Reason error
}

// Success возвращает успешный результат.
func Success() Outcome {
	return Outcome{Kind: OutcomeSuccess}
}

// Failure возвращает результат-сбой с причиной.
func Failure(reason error) Outcome {
	return Outcome{Kind: OutcomeFailure, Reason: reason}
}

// Cancelled возвращает результат-отмену.
func Cancelled() Outcome {
	return Outcome{Kind: OutcomeCancelled}
}

// String реализует fmt.Stringer.
func (o Outcome) String() string {
	if o.Reason != nil {
		return fmt.Sprintf("%s(%v)", o.Kind, o.Reason)
	}
	return o.Kind.String()
}
