// Package outbox реализует Outbox Pattern для гарантированной доставки сообщений в Kafka.
// Уведомления об оплате и отмене заказа пишутся в outbox в той же транзакции,
// что и бизнес-данные, поэтому сбой отправки не теряет событие.
// Отдельный OutboxWorker читает outbox и отправляет в Kafka.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Outbox — запись в таблице outbox для гарантированной доставки в Kafka.
type Outbox struct {
	ID            string            // UUID записи
	AggregateType string            // Тип агрегата (order)
	AggregateID   string            // ID агрегата (order_id)
	EventType     string            // Тип события (ORDER_PAID / ORDER_CANCELED)
	Topic         string            // Kafka топик
	MessageKey    string            // Ключ сообщения (для партиционирования)
	Payload       []byte            // JSON payload
	Headers       map[string]string // Headers для Kafka
	CreatedAt     time.Time         // Время создания
	ProcessedAt   *time.Time        // Время обработки (nil = не обработана)
	RetryCount    int               // Количество попыток отправки
	LastError     *string           // Последняя ошибка
}

// NewEvent собирает запись outbox для публикации события.
// Ключ сообщения равен ID агрегата: события одного заказа попадают
// в одну партицию Kafka и доставляются по порядку.
func NewEvent(aggregateType, aggregateID, eventType, topic string, payload []byte) *Outbox {
	return &Outbox{
		ID:            uuid.New().String(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Topic:         topic,
		MessageKey:    aggregateID,
		Payload:       payload,
		CreatedAt:     time.Now(),
	}
}

// HeadersJSON возвращает headers в формате JSON для БД.
func (o *Outbox) HeadersJSON() ([]byte, error) {
	if o.Headers == nil {
		return nil, nil
	}
	return json.Marshal(o.Headers)
}

// SetHeadersFromJSON устанавливает headers из JSON.
func (o *Outbox) SetHeadersFromJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &o.Headers)
}
