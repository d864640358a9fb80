// Package api содержит HTTP API сервиса заказов.
//
// Структура:
//   - handler.go       — Handler с DI (publisher, status reader, logger)
//   - routes.go        — регистрация маршрутов
//   - middleware.go    — middleware (logging, recovery)
//   - response.go      — унифицированные JSON-ответы и обработка ошибок
//   - dto.go           — Data Transfer Objects (request/response)
//   - order_handler.go — обработчики для /orders
//
// API создаёт заказы и публикует событие order.created в очередь orders.
// Сам заказ нигде не хранится: дальше им занимается orders-worker.
package api
