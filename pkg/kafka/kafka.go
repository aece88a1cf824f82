// Package kafka предоставляет обёртку над kafka-go для публикации событий чекаута.
// Сервис только пишет: уведомления об оплате и отмене заказа публикует
// outbox-воркер, потребители (email, push) живут в других сервисах.
//
// Трассировка пробрасывается в headers сообщений в формате W3C Trace Context
// (traceparent), чтобы потребители продолжали трейс обработки заказа.
package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// TopicNotifications - топик уведомлений покупателя (оплата, отмена заказа).
// Сообщения публикуются outbox-воркером с ключом order_id: события одного
// заказа попадают в одну партицию и читаются по порядку.
const TopicNotifications = "checkout.notifications"

// Ключи headers сообщений Kafka.
const (
	// HeaderEventType - тип события (ORDER_PAID, ORDER_CANCELED).
	// Позволяет потребителю фильтровать события без разбора payload.
	HeaderEventType = "event_type"

	// HeaderTimestamp - время публикации сообщения в формате RFC3339Nano.
	HeaderTimestamp = "timestamp"
)

// Config содержит настройки подключения к Kafka.
type Config struct {
	// Brokers - список адресов брокеров Kafka.
	Brokers []string
}

// Message представляет сообщение Kafka с метаданными.
type Message struct {
	// Key - ключ сообщения для партиционирования.
	Key []byte

	// Value - тело сообщения (payload).
	Value []byte

	// Topic - топик сообщения.
	Topic string

	// Headers - заголовки сообщения (event_type, traceparent и т.д.).
	Headers map[string]string

	// Time - временная метка сообщения.
	Time time.Time
}

// toKafkaMessage конвертирует Message в kafka.Message.
func (m *Message) toKafkaMessage() kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{
			Key:   k,
			Value: []byte(v),
		})
	}

	return kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Topic:   m.Topic,
		Headers: headers,
		Time:    m.Time,
	}
}

// headerCarrier адаптирует headers сообщения под otel propagation.TextMapCarrier,
// чтобы инжектить traceparent стандартным пропагатором.
type headerCarrier map[string]string

func (c headerCarrier) Get(key string) string { return c[key] }

func (c headerCarrier) Set(key, value string) { c[key] = value }

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
