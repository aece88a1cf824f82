package service

import (
	"encoding/json"
	"fmt"
	"time"

	"example.com/checkout-core/pkg/outbox"
	"example.com/checkout-core/services/checkout/internal/domain"
)

// Типы событий уведомлений покупателя.
const (
	// EventOrderPaid — заказ оплачен.
	EventOrderPaid = "ORDER_PAID"

	// EventOrderCanceled — заказ отменён.
	EventOrderCanceled = "ORDER_CANCELED"
)

// orderNotification — payload уведомления для внешних сервисов рассылки.
type orderNotification struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	UserID      string    `json:"user_id"`
	EventType   string    `json:"event_type"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// newOrderNotification собирает запись outbox для уведомления покупателя.
// Запись пишется в той же транзакции, что и смена статуса заказа,
// поэтому недоступность Kafka не теряет событие: OutboxWorker отправит
// его позже.
func newOrderNotification(eventType, topic string, order *domain.Order) (*outbox.Outbox, error) {
	payload, err := json.Marshal(orderNotification{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		EventType:   eventType,
		Amount:      order.TotalAmount.Amount,
		Currency:    order.TotalAmount.Currency,
		OccurredAt:  time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации уведомления: %w", err)
	}

	return outbox.NewEvent("order", order.ID, eventType, topic, payload), nil
}
