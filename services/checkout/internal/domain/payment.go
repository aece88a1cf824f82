package domain

import (
	"slices"
	"strings"
	"time"
)

// TransactionStatus — статус платёжной транзакции у шлюза.
type TransactionStatus string

const (
	// TransactionStatusDone — шлюз подтвердил списание средств.
	// Единственный статус, при котором создаётся запись Payment.
	TransactionStatusDone TransactionStatus = "DONE"

	// TransactionStatusCanceled — транзакция отменена шлюзом.
	TransactionStatusCanceled TransactionStatus = "CANCELED"
)

// Типы событий вебхука платёжного шлюза.
const (
	// WebhookEventStatusChanged — шлюз сообщает о смене статуса платежа.
	WebhookEventStatusChanged = "PAYMENT_STATUS_CHANGED"

	// WebhookEventCanceled — шлюз сообщает об отмене платежа.
	WebhookEventCanceled = "PAYMENT_CANCELED"
)

// Payment — запись об успешной транзакции шлюза, привязанная ровно
// к одному заказу. Создаётся один раз тем путём (confirm или вебхук),
// который выиграл гонку; после создания меняется только список
// применённых событий вебхука.
type Payment struct {
	ID            string            // UUID платежа
	OrderID       string            // ID связанного заказа (уникален среди платежей)
	PaymentKey    string            // Ключ транзакции шлюза (глобально уникален)
	Amount        int64             // Сумма в минимальных единицах; равна сумме заказа
	Currency      string            // ISO 4217 код валюты
	Status        TransactionStatus // Статус транзакции
	TransactionID string            // Идентификатор транзакции из ответа шлюза
	RawResponse   []byte            // Непрозрачные поля ответа шлюза, как есть (аудит)
	AppliedEvents []string          // Типы событий вебхука, уже применённые к платежу
	RequestedAt   time.Time         // Время отправки запроса подтверждения
	ApprovedAt    *time.Time        // Время подтверждения шлюзом
	CreatedAt     time.Time         // Дата создания записи
	UpdatedAt     time.Time         // Дата обновления записи
}

// HasAppliedEvent проверяет, было ли событие вебхука уже применено.
// Используется для дедупликации повторных доставок.
func (p *Payment) HasAppliedEvent(eventType string) bool {
	return slices.Contains(p.AppliedEvents, eventType)
}

// AppendAppliedEvent добавляет тип события в историю применённых.
// Повторное добавление того же типа — no-op.
func (p *Payment) AppendAppliedEvent(eventType string) {
	if p.HasAppliedEvent(eventType) {
		return
	}
	p.AppliedEvents = append(p.AppliedEvents, eventType)
	p.UpdatedAt = time.Now()
}

// Validate проверяет корректность полей платежа перед сохранением.
func (p *Payment) Validate() error {
	if strings.TrimSpace(p.OrderID) == "" {
		return ErrInvalidOrderID
	}
	if strings.TrimSpace(p.PaymentKey) == "" {
		return ErrInvalidPaymentKey
	}
	if p.Amount <= 0 {
		return ErrInvalidAmount
	}
	if p.Currency == "" {
		return ErrInvalidCurrency
	}
	return nil
}
