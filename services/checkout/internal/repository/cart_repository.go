package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"example.com/checkout-core/services/checkout/internal/domain"
)

// CartRepository определяет интерфейс для работы с корзиной.
type CartRepository interface {
	// ListByUserID возвращает все позиции корзины пользователя.
	ListByUserID(ctx context.Context, userID string) ([]*domain.CartItem, error)

	// DeleteByIDs удаляет позиции корзины пользователя по списку ID.
	// Возвращает количество фактически удалённых позиций: уже удалённые
	// конкурентным вызовом просто не учитываются.
	DeleteByIDs(ctx context.Context, userID string, ids []string) (int64, error)

	// UpdateQuantity устанавливает новое количество для позиции корзины.
	// Используется при частичном выкупе, когда в корзине осталось больше,
	// чем было заказано.
	UpdateQuantity(ctx context.Context, userID, itemID string, quantity int32) error
}

// CartItemModel — GORM модель для таблицы cart_items.
type CartItemModel struct {
	ID        string    `gorm:"column:id;type:varchar(36);primaryKey"`
	UserID    string    `gorm:"column:user_id;type:varchar(36);not null;index"`
	ProductID string    `gorm:"column:product_id;type:varchar(36);not null"`
	VariantID *string   `gorm:"column:variant_id;type:varchar(36)"`
	Quantity  int32     `gorm:"column:quantity;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (CartItemModel) TableName() string {
	return "cart_items"
}

// toDomain конвертирует GORM модель позиции корзины в доменную сущность.
func (m *CartItemModel) toDomain() *domain.CartItem {
	return &domain.CartItem{
		ID:        m.ID,
		UserID:    m.UserID,
		ProductID: m.ProductID,
		VariantID: m.VariantID,
		Quantity:  m.Quantity,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// cartRepository — GORM реализация CartRepository.
type cartRepository struct {
	db *gorm.DB
}

// NewCartRepository создаёт новый репозиторий корзины.
func NewCartRepository(db *gorm.DB) CartRepository {
	return &cartRepository{db: db}
}

// ListByUserID возвращает все позиции корзины пользователя.
func (r *cartRepository) ListByUserID(ctx context.Context, userID string) ([]*domain.CartItem, error) {
	var models []CartItemModel

	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	items := make([]*domain.CartItem, 0, len(models))
	for i := range models {
		items = append(items, models[i].toDomain())
	}

	return items, nil
}

// DeleteByIDs удаляет позиции корзины пользователя по списку ID.
func (r *cartRepository) DeleteByIDs(ctx context.Context, userID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, ids).
		Delete(&CartItemModel{})

	if result.Error != nil {
		return 0, result.Error
	}

	return result.RowsAffected, nil
}

// UpdateQuantity устанавливает новое количество для позиции корзины.
func (r *cartRepository) UpdateQuantity(ctx context.Context, userID, itemID string, quantity int32) error {
	result := r.db.WithContext(ctx).
		Model(&CartItemModel{}).
		Where("id = ? AND user_id = ?", itemID, userID).
		Updates(map[string]interface{}{
			"quantity":   quantity,
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}

	// Позиция могла быть удалена параллельно — это не ошибка
	return nil
}
