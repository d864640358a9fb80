// Package cli реализует инструмент командной строки orders-cli.
//
// # Обзор
//
// CLI — утилита оператора. Заказы создаются через HTTP API (как
// настоящим клиентом), а DLQ и хранилище идемпотентности доступны
// напрямую: через RabbitMQ и Postgres.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для orders API. Инкапсулирует HTTP-запросы,
// парсинг ответов (DataResponse, ErrorResponse) и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	order, err := client.CreateOrder(decimal.NewFromInt(1000))
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: orders-cli dlq stats --json | jq .
//
// ## Commands
//
//   - publish: --amount, --count
//   - order: status
//   - dlq: stats, requeue (только ручной перенос обратно в orders)
//   - idempotency: check, reset
//
// Каждая группа создаётся через фабричную функцию (NewDLQCmd и т.д.),
// принимающую замыкания для ленивого создания зависимостей
// после парсинга PersistentFlags.
package cli
