// Package worker применяет события order.created ровно один раз с точки
// зрения потребителя, поверх доставки at-least-once.
//
// # Обзор
//
// Worker подписывается на очередь orders с ручным ack и пропускает каждую
// доставку через конвейер:
//
//	Received → Guarded → {Skipped, Executing} → {Acked, Requeued(n+1), DeadLettered}
//
// Отмена добавляет ещё один исход — Returned (nack с requeue).
//
// # Ключевые компоненты
//
// ## Executor
//
// Доменная логика для одного события:
//
//	type Executor interface {
//	    Process(ctx context.Context, evt domain.OrderCreatedEvent) Outcome
//	}
//
// Outcome — вариант Success | Failure(reason) | Cancelled. OrderExecutor —
// заглушка с отменяемым ожиданием; сумма 1000 всегда даёт Failure.
//
// ## Decide и Router
//
// Decide — чистая функция (Outcome, RetryCount) → Decision. Router исполняет
// решение:
//   - Ack — после успешного MarkProcessed (mark-before-ack)
//   - Requeue — публикация копии с x-retry = n+1, затем ack оригинала;
//     если копию опубликовать не удалось — reject без requeue (в DLQ)
//   - DeadLetter — reject без requeue; брокер уводит сообщение в orders.dlq
//   - Return — nack с requeue (только при отмене)
//
// Повтор через повторную публикацию, а не через nack-requeue: только так
// счётчик повторов можно донести до следующей доставки.
//
// ## Dispatcher
//
// Цикл потребления. Отмена проверяется перед приёмом каждой доставки и
// внутри Executor (отменяемое ожидание). Доставки обрабатываются
// конкурентно в пуле горутин, ограниченном prefetch.
//
// # Ошибки
//
// Ни одна ошибка обработки не покидает цикл. Ошибка разбора тела идёт тем
// же путём, что и сбой бизнес-логики: битое сообщение исчерпает retry и
// уйдёт в DLQ. Единственная фатальная ошибка — объявление топологии при
// старте (см. mq.EnsureTopology).
package worker
