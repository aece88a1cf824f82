// Package domain содержит бизнес-сущности и доменные ошибки сервиса чекаута.
package domain

import (
	"strings"
	"time"
)

// PaymentStatus — статус оплаты заказа.
// Единственный источник истины для гейта перехода PENDING→PAID.
type PaymentStatus string

const (
	// PaymentStatusPending — заказ создан, ожидает подтверждения оплаты.
	PaymentStatusPending PaymentStatus = "PENDING"

	// PaymentStatusPaid — оплата подтверждена шлюзом. В это состояние
	// заказ переходит ровно один раз.
	PaymentStatusPaid PaymentStatus = "PAID"

	// PaymentStatusCanceled — заказ отменён (покупателем до оплаты
	// или шлюзом после).
	PaymentStatusCanceled PaymentStatus = "CANCELED"

	// PaymentStatusRefunded — деньги возвращены покупателю.
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// FulfillmentStatus — статус исполнения заказа.
type FulfillmentStatus string

const (
	// FulfillmentStatusUnfulfilled — заказ ещё не передан на сборку.
	FulfillmentStatusUnfulfilled FulfillmentStatus = "UNFULFILLED"

	// FulfillmentStatusPreparing — заказ собирается.
	FulfillmentStatusPreparing FulfillmentStatus = "PREPARING"

	// FulfillmentStatusShipped — заказ передан в доставку.
	FulfillmentStatusShipped FulfillmentStatus = "SHIPPED"

	// FulfillmentStatusDelivered — заказ доставлен.
	FulfillmentStatusDelivered FulfillmentStatus = "DELIVERED"

	// FulfillmentStatusCanceled — исполнение отменено.
	FulfillmentStatusCanceled FulfillmentStatus = "CANCELED"
)

// =============================================================================
// Допустимые переходы статуса оплаты (State Machine)
// =============================================================================

// allowedPaymentTransitions определяет валидные переходы статуса оплаты.
// Авторитетная проверка выполняется условным UPDATE в репозитории;
// карта используется для предварительных проверок и тестов.
var allowedPaymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {PaymentStatusPaid, PaymentStatusCanceled},
	PaymentStatusPaid:    {PaymentStatusCanceled, PaymentStatusRefunded},
	// PaymentStatusCanceled и PaymentStatusRefunded — терминальные состояния
}

// CanTransitionTo проверяет, допустим ли переход статуса оплаты.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	allowed, ok := allowedPaymentTransitions[s]
	if !ok {
		return false // Терминальное состояние
	}
	for _, status := range allowed {
		if status == next {
			return true
		}
	}
	return false
}

// =============================================================================
// Исходы условных переходов
// =============================================================================

// PaidOutcome — исход попытки перевода заказа в PAID.
// Ровно один конкурентный вызов получает PaidOutcomeWon; только он
// запускает списание остатков и чистку корзины.
type PaidOutcome string

const (
	// PaidOutcomeWon — этот вызов выполнил переход PENDING→PAID.
	PaidOutcomeWon PaidOutcome = "WON"

	// PaidOutcomeAlreadyPaid — заказ уже оплачен другим вызовом,
	// побочные эффекты выполнять не нужно.
	PaidOutcomeAlreadyPaid PaidOutcome = "ALREADY_PAID"
)

// CancelOutcome — исход перевода заказа в CANCELED.
type CancelOutcome string

const (
	// CancelOutcomeDone — этот вызов выполнил отмену.
	CancelOutcomeDone CancelOutcome = "DONE"

	// CancelOutcomeAlreadyCanceled — заказ уже отменён ранее.
	CancelOutcomeAlreadyCanceled CancelOutcome = "ALREADY_CANCELED"
)

// =============================================================================
// Money
// =============================================================================

// Money — денежная сумма с валютой.
// Хранит сумму в минимальных единицах (копейки, центы) для избежания проблем с плавающей точкой.
type Money struct {
	Currency string // ISO 4217 код валюты (USD, RUB, EUR)
	Amount   int64  // Сумма в минимальных единицах (копейки/центы)
}

// Multiply умножает сумму на количество.
// Используется для расчёта стоимости позиции (цена * количество).
func (m Money) Multiply(quantity int32) Money {
	return Money{
		Currency: m.Currency,
		Amount:   m.Amount * int64(quantity),
	}
}

// =============================================================================
// Order — доменная сущность
// =============================================================================

// Order — заказ в системе.
// Это доменная сущность без зависимостей от инфраструктуры (GORM, HTTP).
type Order struct {
	ID                string            // Уникальный идентификатор заказа (UUID)
	OrderNumber       string            // Человекочитаемый номер заказа
	UserID            string            // ID пользователя, создавшего заказ
	Items             []OrderItem       // Позиции заказа
	TotalAmount       Money             // Итоговая сумма, фиксируется при создании заказа
	ShippingFee       int64             // Стоимость доставки в минимальных единицах
	DiscountAmount    int64             // Скидка по купону в минимальных единицах
	CouponID          *string           // ID применённого купона (nil если не применялся)
	PaymentStatus     PaymentStatus     // Статус оплаты
	FulfillmentStatus FulfillmentStatus // Статус исполнения
	StockDeducted     bool              // Остатки по заказу списаны
	PaidAt            *time.Time        // Время подтверждения оплаты
	CreatedAt         time.Time         // Дата создания заказа
	UpdatedAt         time.Time         // Дата последнего обновления
}

// CanPay проверяет, можно ли оплатить заказ.
// Оплатить можно только заказ в статусе PENDING.
func (o *Order) CanPay() bool {
	return o.PaymentStatus == PaymentStatusPending
}

// IsOwnedBy проверяет принадлежность заказа пользователю.
func (o *Order) IsOwnedBy(userID string) bool {
	return o.UserID == userID
}

// LegacyStatus выводит грубый статус для старых потребителей API.
// Значение не хранится в БД и никогда не участвует в условиях переходов —
// только payment_status является источником истины.
func (o *Order) LegacyStatus() string {
	switch o.PaymentStatus {
	case PaymentStatusCanceled:
		return "CANCELED"
	case PaymentStatusRefunded:
		return "REFUNDED"
	case PaymentStatusPaid:
		switch o.FulfillmentStatus {
		case FulfillmentStatusShipped:
			return "SHIPPED"
		case FulfillmentStatusDelivered:
			return "DELIVERED"
		case FulfillmentStatusCanceled:
			return "CANCELED"
		default:
			return "PAID"
		}
	default:
		return "PENDING"
	}
}

// Validate проверяет корректность полей заказа.
// Вызывается при создании заказа (вне этого ядра — чекаутом) и в тестах.
func (o *Order) Validate() error {
	if strings.TrimSpace(o.UserID) == "" {
		return ErrInvalidUserID
	}

	if len(o.Items) == 0 {
		return ErrEmptyOrderItems
	}

	for i := range o.Items {
		if err := o.Items[i].Validate(); err != nil {
			return err
		}
	}

	if o.TotalAmount.Amount <= 0 {
		return ErrInvalidAmount
	}

	return nil
}

// CalculateTotal пересчитывает итоговую сумму заказа из позиций,
// доставки и скидки. Используется только при создании заказа:
// после создания сумма зафиксирована и не пересчитывается.
func (o *Order) CalculateTotal() {
	if len(o.Items) == 0 {
		o.TotalAmount = Money{Amount: 0}
		return
	}

	// Берём валюту из первой позиции
	currency := o.Items[0].UnitPrice.Currency
	var itemsTotal int64

	for i := range o.Items {
		itemsTotal += o.Items[i].Total().Amount
	}

	o.TotalAmount = Money{
		Currency: currency,
		Amount:   itemsTotal + o.ShippingFee - o.DiscountAmount,
	}
}

// =============================================================================
// OrderItem
// =============================================================================

// OrderItem — позиция заказа.
// Неизменяемый снимок товара на момент оформления: название и цена
// денормализованы и никогда не обновляются вслед за каталогом.
type OrderItem struct {
	ID          string  // Уникальный идентификатор позиции (UUID)
	OrderID     string  // ID заказа, к которому относится позиция
	ProductID   string  // ID товара
	VariantID   *string // ID варианта товара (nil — товар без вариантов, остатки не отслеживаются)
	ProductName string  // Название товара (денормализовано для истории)
	Quantity    int32   // Количество единиц товара
	UnitPrice   Money   // Цена за единицу товара
}

// Validate проверяет корректность полей позиции заказа.
func (oi *OrderItem) Validate() error {
	if strings.TrimSpace(oi.ProductID) == "" {
		return ErrInvalidProductID
	}

	if strings.TrimSpace(oi.ProductName) == "" {
		return ErrInvalidProductName
	}

	if oi.Quantity <= 0 {
		return ErrInvalidQuantity
	}

	if oi.UnitPrice.Amount <= 0 {
		return ErrInvalidPrice
	}

	return nil
}

// Total возвращает общую стоимость позиции (количество * цена за единицу).
func (oi *OrderItem) Total() Money {
	return oi.UnitPrice.Multiply(oi.Quantity)
}
