package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"example.com/checkout-core/services/checkout/internal/domain"
)

// errAlreadyDeducted — внутренний маркер: запись в журнале списаний уже есть.
var errAlreadyDeducted = errors.New("списание по этой паре заказ-вариант уже выполнено")

// StockRepository определяет интерфейс для работы с остатками вариантов.
type StockRepository interface {
	// Deduct списывает остаток варианта в рамках заказа.
	// Запись в журнале stock_deductions и декремент остатка выполняются
	// в одной транзакции; уникальность пары (order_id, variant_id) делает
	// повторный вызов no-op. Возвращает false, если списание уже было
	// выполнено ранее.
	Deduct(ctx context.Context, orderID, variantID string, quantity int32) (bool, error)

	// GetVariant возвращает вариант товара по ID.
	GetVariant(ctx context.Context, variantID string) (*domain.ProductVariant, error)
}

// ProductVariantModel — GORM модель для таблицы product_variants.
type ProductVariantModel struct {
	ID        string    `gorm:"column:id;type:varchar(36);primaryKey"`
	ProductID string    `gorm:"column:product_id;type:varchar(36);not null;index"`
	Name      string    `gorm:"column:name;type:varchar(255);not null"`
	Stock     int32     `gorm:"column:stock;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (ProductVariantModel) TableName() string {
	return "product_variants"
}

// StockDeductionModel — GORM модель для таблицы stock_deductions.
// Составной уникальный индекс (order_id, variant_id) гарантирует,
// что остаток по позиции заказа списывается не более одного раза.
type StockDeductionModel struct {
	ID        string    `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID   string    `gorm:"column:order_id;type:varchar(36);not null;uniqueIndex:idx_stock_deductions_order_variant"`
	VariantID string    `gorm:"column:variant_id;type:varchar(36);not null;uniqueIndex:idx_stock_deductions_order_variant"`
	Quantity  int32     `gorm:"column:quantity;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName возвращает имя таблицы в БД.
func (StockDeductionModel) TableName() string {
	return "stock_deductions"
}

// toDomain конвертирует GORM модель варианта в доменную сущность.
func (m *ProductVariantModel) toDomain() *domain.ProductVariant {
	return &domain.ProductVariant{
		ID:        m.ID,
		ProductID: m.ProductID,
		Name:      m.Name,
		Stock:     m.Stock,
		UpdatedAt: m.UpdatedAt,
	}
}

// stockRepository — GORM реализация StockRepository.
type stockRepository struct {
	db *gorm.DB
}

// NewStockRepository создаёт новый репозиторий остатков.
func NewStockRepository(db *gorm.DB) StockRepository {
	return &stockRepository{db: db}
}

// Deduct списывает остаток варианта в рамках заказа.
func (r *stockRepository) Deduct(ctx context.Context, orderID, variantID string, quantity int32) (bool, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Сначала запись в журнал: дубликат означает, что списание
		// по этой позиции уже было
		ledger := &StockDeductionModel{
			ID:        uuid.New().String(),
			OrderID:   orderID,
			VariantID: variantID,
			Quantity:  quantity,
		}
		if err := tx.Create(ledger).Error; err != nil {
			if isDuplicateKeyError(err) {
				return errAlreadyDeducted
			}
			return err
		}

		// Условный декремент: остаток не уходит в минус
		result := tx.Model(&ProductVariantModel{}).
			Where("id = ? AND stock >= ?", variantID, quantity).
			Updates(map[string]interface{}{
				"stock":      gorm.Expr("stock - ?", quantity),
				"updated_at": time.Now(),
			})

		if result.Error != nil {
			return result.Error
		}

		if result.RowsAffected == 0 {
			// Откатываем запись журнала и выясняем причину
			var variant ProductVariantModel
			if err := tx.Where("id = ?", variantID).First(&variant).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return domain.ErrVariantNotFound
				}
				return err
			}
			return domain.ErrInsufficientStock
		}

		return nil
	})

	if errors.Is(err, errAlreadyDeducted) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

// GetVariant возвращает вариант товара по ID.
func (r *stockRepository) GetVariant(ctx context.Context, variantID string) (*domain.ProductVariant, error) {
	var model ProductVariantModel

	if err := r.db.WithContext(ctx).
		Where("id = ?", variantID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrVariantNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}
