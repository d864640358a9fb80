// Package idempotency отслеживает, какие заказы уже обработаны.
//
// # Обзор
//
// Транспорт гарантирует доставку at-least-once: одно и то же событие
// может прийти несколько раз (повторная публикация, redelivery после
// падения воркера). Пакет компенсирует это на стороне потребителя —
// доменная логика для одного OrderID выполняется не более одного раза.
//
// # Компоненты
//
//   - Store — множество обработанных OrderID (MemoryStore или repo.ProcessedOrderRepo)
//   - Guard — Store + захват ключа на время обработки
//
// Guard закрывает гонку check-then-mark: две конкурентные доставки
// одного OrderID не могут обе увидеть "не обработан".
//
//	claim, err := guard.Acquire(ctx, evt.OrderID)
//	if errors.Is(err, idempotency.ErrDuplicate) {
//	    // ack без выполнения
//	}
//	// ... выполнение ...
//	claim.Commit(ctx)  // успех: MarkProcessed, затем ack
//	claim.Release()    // ошибка или отмена: ключ остаётся необработанным
//
// # Reset
//
// Reset очищает множество. Используется только в тестах и
// административной командой orders-cli; в рабочем потоке не вызывается.
package idempotency
