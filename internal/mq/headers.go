package mq

import (
	"strconv"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// HeaderRetry — заголовок со счётчиком повторов.
// Значение — десятичная строка в UTF-8; отсутствие заголовка означает 0.
const HeaderRetry = "x-retry"

// RetryCount извлекает счётчик повторов из заголовков доставки.
//
// Принимает строку, []byte (так пишут клиенты на других платформах)
// и целые AMQP-типы. Отсутствующее, нечисловое или отрицательное
// значение трактуется как 0.
func RetryCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}

	raw, ok := headers[HeaderRetry]
	if !ok {
		return 0
	}

	var n int
	switch v := raw.(type) {
	case string:
		n = parseRetry(v)
	case []byte:
		n = parseRetry(string(v))
	case int:
		n = v
	case int8:
		n = int(v)
	case int16:
		n = int(v)
	case int32:
		n = int(v)
	case int64:
		n = int(v)
	case uint8:
		n = int(v)
	case uint16:
		n = int(v)
	case uint32:
		n = int(v)
	default:
		return 0
	}

	if n < 0 {
		return 0
	}
	return n
}

func parseRetry(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// WithRetry возвращает копию заголовков с x-retry = retry.
// Исходная таблица не изменяется.
func WithRetry(headers amqp.Table, retry int) amqp.Table {
	out := make(amqp.Table, len(headers)+1)
	for k, v := range headers {
		out[k] = v
	}
	out[HeaderRetry] = strconv.Itoa(retry)
	return out
}

// stripDeathHeaders удаляет заголовки, которые брокер добавляет при dead-lettering.
func stripDeathHeaders(headers amqp.Table) amqp.Table {
	out := make(amqp.Table, len(headers))
	for k, v := range headers {
		switch k {
		case "x-death", "x-first-death-exchange", "x-first-death-queue", "x-first-death-reason",
			"x-last-death-exchange", "x-last-death-queue", "x-last-death-reason":
			continue
		}
		out[k] = v
	}
	return out
}
