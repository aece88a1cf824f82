package domain

import "time"

// ProductVariant — вариант товара с отслеживаемым остатком.
// Каталог (вне этого ядра) пополняет остатки; здесь они только
// списываются после оплаты заказа.
type ProductVariant struct {
	ID        string    // UUID варианта
	ProductID string    // ID товара
	Name      string    // Название варианта (размер, цвет)
	Stock     int32     // Текущий остаток
	UpdatedAt time.Time // Дата обновления
}

// StockDeduction — запись журнала списаний остатков.
// Уникальность пары (order_id, variant_id) делает списание идемпотентным:
// повторный проход по заказу пропускает уже списанные позиции.
type StockDeduction struct {
	ID        string    // UUID записи
	OrderID   string    // ID заказа
	VariantID string    // ID варианта
	Quantity  int32     // Списанное количество
	CreatedAt time.Time // Время списания
}
