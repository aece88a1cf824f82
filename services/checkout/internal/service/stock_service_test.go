package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/checkout-core/services/checkout/internal/domain"
)

// newTwoItemOrder строит оплаченный заказ с двумя позициями разных вариантов.
func newTwoItemOrder() *domain.Order {
	order := newPendingOrder()
	variant2 := "variant-2"
	order.Items = append(order.Items, domain.OrderItem{
		ID:          "item-2",
		OrderID:     order.ID,
		ProductID:   "product-2",
		VariantID:   &variant2,
		ProductName: "Футболка базовая",
		Quantity:    1,
		UnitPrice:   domain.Money{Amount: 3000, Currency: "RUB"},
	})
	return order
}

func TestStockDeduction_AllItems(t *testing.T) {
	env := setupCheckout(t)
	order := newTwoItemOrder()
	env.orders.put(order)
	env.stock.putVariant("variant-1", 10)
	env.stock.putVariant("variant-2", 5)

	result, err := env.stockSvc.DeductForOrder(context.Background(), order)

	require.NoError(t, err)
	assert.True(t, result.Done())
	assert.Equal(t, 2, result.Deducted)
	assert.Equal(t, int32(8), env.stock.stockOf("variant-1"))
	assert.Equal(t, int32(4), env.stock.stockOf("variant-2"))
	assert.True(t, env.orders.get(order.ID).StockDeducted)
}

// Сбой одной позиции не прерывает списание остальных.
func TestStockDeduction_PartialFailure(t *testing.T) {
	env := setupCheckout(t)
	order := newTwoItemOrder()
	env.orders.put(order)
	env.stock.putVariant("variant-1", 10)
	env.stock.putVariant("variant-2", 5)
	env.stock.deductErrs["variant-1"] = errors.New("Lock wait timeout exceeded")

	result, err := env.stockSvc.DeductForOrder(context.Background(), order)

	require.NoError(t, err)
	assert.False(t, result.Done())
	assert.Equal(t, 1, result.Deducted)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "variant-1", result.Failures[0].VariantID)
	assert.Equal(t, int32(2), result.Failures[0].Quantity)

	// Вторая позиция списана несмотря на сбой первой
	assert.Equal(t, int32(10), env.stock.stockOf("variant-1"))
	assert.Equal(t, int32(4), env.stock.stockOf("variant-2"))

	// Заказ не отмечен — воркер вернётся к нему
	assert.False(t, env.orders.get(order.ID).StockDeducted)
}

func TestStockDeduction_InsufficientStock(t *testing.T) {
	env := setupCheckout(t)
	order := newPendingOrder()
	env.orders.put(order)
	env.stock.putVariant("variant-1", 1) // нужно 2

	result, err := env.stockSvc.DeductForOrder(context.Background(), order)

	require.NoError(t, err)
	assert.False(t, result.Done())
	require.Len(t, result.Failures, 1)
	assert.ErrorIs(t, result.Failures[0].Err, domain.ErrInsufficientStock)
	assert.Equal(t, int32(1), env.stock.stockOf("variant-1"))
	assert.False(t, env.orders.get(order.ID).StockDeducted)
}

// Повторное списание по заказу — no-op благодаря журналу списаний.
func TestStockDeduction_RepeatIsNoop(t *testing.T) {
	env := setupCheckout(t)
	order := newPendingOrder()
	env.orders.put(order)
	env.stock.putVariant("variant-1", 10)

	first, err := env.stockSvc.DeductForOrder(context.Background(), order)
	require.NoError(t, err)
	require.True(t, first.Done())

	second, err := env.stockSvc.DeductForOrder(context.Background(), order)
	require.NoError(t, err)
	assert.True(t, second.Done())

	// Остаток списан ровно один раз
	assert.Equal(t, int32(8), env.stock.stockOf("variant-1"))
}

// Товар без варианта пропускается: складской учёт по нему не ведётся.
func TestStockDeduction_NilVariantSkipped(t *testing.T) {
	env := setupCheckout(t)
	order := newPendingOrder()
	order.Items[0].VariantID = nil
	env.orders.put(order)

	result, err := env.stockSvc.DeductForOrder(context.Background(), order)

	require.NoError(t, err)
	assert.True(t, result.Done())
	assert.Equal(t, 0, result.Deducted)
	// Позиций для списания нет — заказ сразу считается обработанным
	assert.True(t, env.orders.get(order.ID).StockDeducted)
}
