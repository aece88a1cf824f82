package domain

import "time"

// CartItem — позиция корзины пользователя.
// После успешной оплаты выкупленные позиции удаляются из корзины,
// чтобы повторный заход в checkout не предлагал их снова.
type CartItem struct {
	ID        string    // UUID позиции
	UserID    string    // ID владельца корзины
	ProductID string    // ID товара
	VariantID *string   // ID варианта (nil для товаров без вариантов)
	Quantity  int32     // Количество
	CreatedAt time.Time // Дата добавления
	UpdatedAt time.Time // Дата обновления
}

// MatchesOrderItem сообщает, соответствует ли позиция корзины позиции заказа.
// Сравниваются товар и вариант; количество не учитывается, его вычитает
// чистка корзины после оплаты.
func (c *CartItem) MatchesOrderItem(item *OrderItem) bool {
	if c.ProductID != item.ProductID {
		return false
	}
	if c.VariantID == nil || item.VariantID == nil {
		return c.VariantID == nil && item.VariantID == nil
	}
	return *c.VariantID == *item.VariantID
}
