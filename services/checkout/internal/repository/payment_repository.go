package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/checkout-core/services/checkout/internal/domain"
)

// PaymentRepository определяет интерфейс для работы с платежами в БД.
type PaymentRepository interface {
	// Create создаёт запись о подтверждённой транзакции шлюза.
	// Уникальные индексы по payment_key и order_id — финальная защита
	// от двойной фиксации: при дубликате возвращает domain.ErrDuplicatePayment.
	Create(ctx context.Context, payment *domain.Payment) error

	// GetByPaymentKey возвращает платёж по ключу транзакции шлюза.
	GetByPaymentKey(ctx context.Context, paymentKey string) (*domain.Payment, error)

	// GetByOrderID возвращает платёж по ID заказа.
	GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error)

	// UpdateAppliedEvents сохраняет список применённых событий вебхука.
	UpdateAppliedEvents(ctx context.Context, payment *domain.Payment) error

	// UpdateStatus меняет статус транзакции (например DONE -> CANCELED
	// после вебхука об отмене).
	UpdateStatus(ctx context.Context, paymentID string, status domain.TransactionStatus) error
}

// =============================================================================
// GORM модель
// =============================================================================

// PaymentModel — GORM модель для таблицы payments.
type PaymentModel struct {
	ID            string     `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID       string     `gorm:"column:order_id;type:varchar(36);not null;uniqueIndex"`
	PaymentKey    string     `gorm:"column:payment_key;type:varchar(200);not null;uniqueIndex"`
	Amount        int64      `gorm:"column:amount;not null"`
	Currency      string     `gorm:"column:currency;type:varchar(3);not null"`
	Status        string     `gorm:"column:status;type:varchar(20);not null;index"`
	TransactionID string     `gorm:"column:transaction_id;type:varchar(64);not null"`
	RawResponse   []byte     `gorm:"column:raw_response;type:json"`
	AppliedEvents []byte     `gorm:"column:applied_events;type:json"`
	RequestedAt   time.Time  `gorm:"column:requested_at"`
	ApprovedAt    *time.Time `gorm:"column:approved_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (PaymentModel) TableName() string {
	return "payments"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *PaymentModel) toDomain() *domain.Payment {
	p := &domain.Payment{
		ID:            m.ID,
		OrderID:       m.OrderID,
		PaymentKey:    m.PaymentKey,
		Amount:        m.Amount,
		Currency:      m.Currency,
		Status:        domain.TransactionStatus(m.Status),
		TransactionID: m.TransactionID,
		RawResponse:   m.RawResponse,
		RequestedAt:   m.RequestedAt,
		ApprovedAt:    m.ApprovedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}

	// Десериализуем применённые события из JSON
	if len(m.AppliedEvents) > 0 {
		_ = json.Unmarshal(m.AppliedEvents, &p.AppliedEvents)
	}

	return p
}

// paymentModelFromDomain конвертирует доменную сущность в GORM модель.
func paymentModelFromDomain(p *domain.Payment) *PaymentModel {
	model := &PaymentModel{
		ID:            p.ID,
		OrderID:       p.OrderID,
		PaymentKey:    p.PaymentKey,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Status:        string(p.Status),
		TransactionID: p.TransactionID,
		RawResponse:   p.RawResponse,
		RequestedAt:   p.RequestedAt,
		ApprovedAt:    p.ApprovedAt,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}

	// Сериализуем применённые события в JSON
	if len(p.AppliedEvents) > 0 {
		if data, err := json.Marshal(p.AppliedEvents); err == nil {
			model.AppliedEvents = data
		}
	}

	return model
}

// =============================================================================
// Реализация репозитория
// =============================================================================

// paymentRepository — GORM реализация PaymentRepository.
type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository создаёт новый репозиторий платежей.
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

// Create создаёт запись о подтверждённой транзакции шлюза.
func (r *paymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	if err := payment.Validate(); err != nil {
		return err
	}

	model := paymentModelFromDomain(payment)

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		// Дубликат payment_key или order_id — запись уже зафиксирована
		if isDuplicateKeyError(err) {
			return domain.ErrDuplicatePayment
		}
		return err
	}

	payment.CreatedAt = model.CreatedAt
	payment.UpdatedAt = model.UpdatedAt

	return nil
}

// GetByPaymentKey возвращает платёж по ключу транзакции шлюза.
func (r *paymentRepository) GetByPaymentKey(ctx context.Context, paymentKey string) (*domain.Payment, error) {
	var model PaymentModel

	if err := r.db.WithContext(ctx).
		Where("payment_key = ?", paymentKey).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// GetByOrderID возвращает платёж по ID заказа.
func (r *paymentRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	var model PaymentModel

	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// UpdateAppliedEvents сохраняет список применённых событий вебхука.
func (r *paymentRepository) UpdateAppliedEvents(ctx context.Context, payment *domain.Payment) error {
	model := paymentModelFromDomain(payment)
	model.UpdatedAt = time.Now()

	result := r.db.WithContext(ctx).
		Model(&PaymentModel{}).
		Where("id = ?", model.ID).
		Updates(map[string]interface{}{
			"applied_events": model.AppliedEvents,
			"updated_at":     model.UpdatedAt,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return domain.ErrPaymentNotFound
	}

	payment.UpdatedAt = model.UpdatedAt
	return nil
}

// UpdateStatus меняет статус транзакции.
func (r *paymentRepository) UpdateStatus(ctx context.Context, paymentID string, status domain.TransactionStatus) error {
	result := r.db.WithContext(ctx).
		Model(&PaymentModel{}).
		Where("id = ?", paymentID).
		Updates(map[string]interface{}{
			"status":     string(status),
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return domain.ErrPaymentNotFound
	}

	return nil
}
