// Package repository содержит реализацию доступа к данным сервиса чекаута.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"example.com/checkout-core/pkg/outbox"
	"example.com/checkout-core/services/checkout/internal/domain"
)

// OrderRepository определяет интерфейс для работы с заказами в БД.
type OrderRepository interface {
	// GetByID возвращает заказ по ID с загруженными позициями.
	GetByID(ctx context.Context, orderID string) (*domain.Order, error)

	// GetByIDForUser возвращает заказ по ID с проверкой принадлежности.
	// Для чужого заказа возвращает domain.ErrOrderAccessDenied.
	GetByIDForUser(ctx context.Context, orderID, userID string) (*domain.Order, error)

	// TryTransitionToPaid атомарно переводит заказ PENDING -> PAID.
	// Условный UPDATE сверяет и статус, и сумму, поэтому из двух конкурентных
	// вызовов ровно один получает PaidOutcomeWon. evt (может быть nil)
	// пишется в outbox в той же транзакции, что и смена статуса.
	//
	// Если UPDATE не затронул строк, выполняется одна перечитка заказа
	// для классификации: ErrOrderNotFound, ErrAmountMismatch,
	// ErrOrderNotPayable или исход PaidOutcomeAlreadyPaid.
	TryTransitionToPaid(ctx context.Context, orderID string, expectedAmount int64, evt *outbox.Outbox) (domain.PaidOutcome, error)

	// TryTransitionToCanceled атомарно переводит заказ в CANCELED
	// из PENDING или PAID. evt (может быть nil) пишется в outbox
	// в той же транзакции.
	TryTransitionToCanceled(ctx context.Context, orderID string, evt *outbox.Outbox) (domain.CancelOutcome, error)

	// MarkStockDeducted помечает заказ как заказ со списанными остатками.
	MarkStockDeducted(ctx context.Context, orderID string) error

	// FindPaidUndeducted возвращает оплаченные заказы с несписанными остатками,
	// оплаченные не позднее olderThan назад. Используется воркером досписания.
	FindPaidUndeducted(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Order, error)
}

// OrderModel — GORM модель для таблицы orders.
// Отделена от доменной сущности для гибкости.
type OrderModel struct {
	ID                string           `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderNumber       string           `gorm:"column:order_number;type:varchar(32);not null;uniqueIndex"`
	UserID            string           `gorm:"column:user_id;type:varchar(36);not null;index"`
	TotalAmount       int64            `gorm:"column:total_amount;not null"`
	Currency          string           `gorm:"column:currency;type:varchar(3);not null"`
	ShippingFee       int64            `gorm:"column:shipping_fee;not null;default:0"`
	DiscountAmount    int64            `gorm:"column:discount_amount;not null;default:0"`
	CouponID          *string          `gorm:"column:coupon_id;type:varchar(36)"`
	PaymentStatus     string           `gorm:"column:payment_status;type:varchar(20);not null;index"`
	FulfillmentStatus string           `gorm:"column:fulfillment_status;type:varchar(20);not null"`
	StockDeducted     bool             `gorm:"column:stock_deducted;not null;default:false"`
	PaidAt            *time.Time       `gorm:"column:paid_at;index"`
	CreatedAt         time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time        `gorm:"column:updated_at;autoUpdateTime"`
	Items             []OrderItemModel `gorm:"foreignKey:OrderID;references:ID"`
}

// TableName возвращает имя таблицы в БД.
func (OrderModel) TableName() string {
	return "orders"
}

// OrderItemModel — GORM модель для таблицы order_items.
type OrderItemModel struct {
	ID          string    `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID     string    `gorm:"column:order_id;type:varchar(36);not null;index"`
	ProductID   string    `gorm:"column:product_id;type:varchar(36);not null"`
	VariantID   *string   `gorm:"column:variant_id;type:varchar(36)"`
	ProductName string    `gorm:"column:product_name;type:varchar(255);not null"`
	Quantity    int32     `gorm:"column:quantity;not null"`
	UnitPrice   int64     `gorm:"column:unit_price;not null"`
	Currency    string    `gorm:"column:currency;type:varchar(3);not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (OrderItemModel) TableName() string {
	return "order_items"
}

// toDomain конвертирует GORM модель заказа в доменную сущность.
func (m *OrderModel) toDomain() *domain.Order {
	order := &domain.Order{
		ID:          m.ID,
		OrderNumber: m.OrderNumber,
		UserID:      m.UserID,
		TotalAmount: domain.Money{
			Amount:   m.TotalAmount,
			Currency: m.Currency,
		},
		ShippingFee:       m.ShippingFee,
		DiscountAmount:    m.DiscountAmount,
		CouponID:          m.CouponID,
		PaymentStatus:     domain.PaymentStatus(m.PaymentStatus),
		FulfillmentStatus: domain.FulfillmentStatus(m.FulfillmentStatus),
		StockDeducted:     m.StockDeducted,
		PaidAt:            m.PaidAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
		Items:             make([]domain.OrderItem, len(m.Items)),
	}

	for i, item := range m.Items {
		order.Items[i] = *item.toDomain()
	}

	return order
}

// toDomain конвертирует GORM модель позиции в доменную сущность.
func (m *OrderItemModel) toDomain() *domain.OrderItem {
	return &domain.OrderItem{
		ID:          m.ID,
		OrderID:     m.OrderID,
		ProductID:   m.ProductID,
		VariantID:   m.VariantID,
		ProductName: m.ProductName,
		Quantity:    m.Quantity,
		UnitPrice: domain.Money{
			Amount:   m.UnitPrice,
			Currency: m.Currency,
		},
	}
}

// orderRepository — GORM реализация OrderRepository.
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository создаёт новый репозиторий заказов.
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// GetByID возвращает заказ по ID с загруженными позициями.
func (r *orderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel

	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// GetByIDForUser возвращает заказ по ID с проверкой принадлежности.
func (r *orderRepository) GetByIDForUser(ctx context.Context, orderID, userID string) (*domain.Order, error) {
	order, err := r.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !order.IsOwnedBy(userID) {
		return nil, domain.ErrOrderAccessDenied
	}

	return order, nil
}

// TryTransitionToPaid атомарно переводит заказ PENDING -> PAID.
func (r *orderRepository) TryTransitionToPaid(ctx context.Context, orderID string, expectedAmount int64, evt *outbox.Outbox) (domain.PaidOutcome, error) {
	var won bool
	now := time.Now()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&OrderModel{}).
			Where("id = ? AND payment_status = ? AND total_amount = ?",
				orderID, string(domain.PaymentStatusPending), expectedAmount).
			Updates(map[string]interface{}{
				"payment_status": string(domain.PaymentStatusPaid),
				"paid_at":        now,
				"updated_at":     now,
			})

		if result.Error != nil {
			return result.Error
		}

		if result.RowsAffected == 0 {
			// Проигрыш гонки или несовпадение условий — классифицируем после транзакции
			return nil
		}

		won = true

		// Уведомление пишется в outbox той же транзакцией, что и смена статуса
		if evt != nil {
			if err := tx.Create(outbox.ModelFromDomain(evt)).Error; err != nil {
				return err
			}
		}

		return nil
	})

	if err != nil {
		return "", err
	}

	if won {
		return domain.PaidOutcomeWon, nil
	}

	return r.classifyPaidMiss(ctx, orderID, expectedAmount)
}

// classifyPaidMiss выполняет одну перечитку заказа и объясняет,
// почему условный UPDATE не затронул строк.
func (r *orderRepository) classifyPaidMiss(ctx context.Context, orderID string, expectedAmount int64) (domain.PaidOutcome, error) {
	var model OrderModel

	if err := r.db.WithContext(ctx).
		Where("id = ?", orderID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", domain.ErrOrderNotFound
		}
		return "", err
	}

	switch domain.PaymentStatus(model.PaymentStatus) {
	case domain.PaymentStatusPaid:
		// Конкурентный вызов уже перевёл заказ в PAID
		return domain.PaidOutcomeAlreadyPaid, nil
	case domain.PaymentStatusPending:
		// Статус совпал, значит не совпала сумма
		if model.TotalAmount != expectedAmount {
			return "", domain.ErrAmountMismatch
		}
		// Заказ успели оплатить и отменить между UPDATE и перечиткой —
		// практически недостижимо, но не падаем
		return "", domain.ErrOrderNotPayable
	default:
		return "", domain.ErrOrderNotPayable
	}
}

// TryTransitionToCanceled атомарно переводит заказ в CANCELED.
func (r *orderRepository) TryTransitionToCanceled(ctx context.Context, orderID string, evt *outbox.Outbox) (domain.CancelOutcome, error) {
	var won bool
	now := time.Now()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&OrderModel{}).
			Where("id = ? AND payment_status IN ?",
				orderID, []string{string(domain.PaymentStatusPending), string(domain.PaymentStatusPaid)}).
			Updates(map[string]interface{}{
				"payment_status":     string(domain.PaymentStatusCanceled),
				"fulfillment_status": string(domain.FulfillmentStatusCanceled),
				"updated_at":         now,
			})

		if result.Error != nil {
			return result.Error
		}

		if result.RowsAffected == 0 {
			return nil
		}

		won = true

		if evt != nil {
			if err := tx.Create(outbox.ModelFromDomain(evt)).Error; err != nil {
				return err
			}
		}

		return nil
	})

	if err != nil {
		return "", err
	}

	if won {
		return domain.CancelOutcomeDone, nil
	}

	// Классификация промаха: одна перечитка
	var model OrderModel
	if err := r.db.WithContext(ctx).
		Where("id = ?", orderID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", domain.ErrOrderNotFound
		}
		return "", err
	}

	if domain.PaymentStatus(model.PaymentStatus) == domain.PaymentStatusCanceled {
		return domain.CancelOutcomeAlreadyCanceled, nil
	}

	return "", domain.ErrOrderNotCancelable
}

// MarkStockDeducted помечает заказ как заказ со списанными остатками.
func (r *orderRepository) MarkStockDeducted(ctx context.Context, orderID string) error {
	result := r.db.WithContext(ctx).
		Model(&OrderModel{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"stock_deducted": true,
			"updated_at":     time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return domain.ErrOrderNotFound
	}

	return nil
}

// FindPaidUndeducted возвращает оплаченные заказы с несписанными остатками.
func (r *orderRepository) FindPaidUndeducted(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Order, error) {
	var models []OrderModel

	threshold := time.Now().Add(-olderThan)

	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("payment_status = ? AND stock_deducted = ? AND paid_at < ?",
			string(domain.PaymentStatusPaid), false, threshold).
		Order("paid_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	orders := make([]*domain.Order, 0, len(models))
	for i := range models {
		orders = append(orders, models[i].toDomain())
	}

	return orders, nil
}

// isDuplicateKeyError проверяет, является ли ошибка дубликатом ключа.
// MySQL возвращает ошибку с кодом 1062 при попытке вставить дубликат.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	// GORM v2 имеет ErrDuplicatedKey, также проверяем текст ошибки MySQL
	errMsg := err.Error()
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(errMsg, "Duplicate entry") ||
		strings.Contains(errMsg, "1062")
}
