// Package repository содержит unit тесты репозиториев чекаута.
package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/checkout-core/pkg/outbox"
	"example.com/checkout-core/services/checkout/internal/domain"
)

// =====================================
// Вспомогательные функции
// =====================================

// setupMockDB создаёт мок базы данных с GORM.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err, "Ошибка создания sqlmock")

	dialector := mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "Ошибка инициализации GORM")

	return gormDB, mock, func() { _ = db.Close() }
}

// orderRows возвращает строку заказа для sqlmock с нужным статусом и суммой.
func orderRows(orderID, userID string, status domain.PaymentStatus, totalAmount int64) *sqlmock.Rows {
	now := time.Now().Truncate(time.Second)
	return sqlmock.NewRows([]string{
		"id", "order_number", "user_id", "total_amount", "currency",
		"payment_status", "fulfillment_status", "stock_deducted",
		"created_at", "updated_at",
	}).AddRow(
		orderID, "ORD-20260815-0001", userID, totalAmount, "RUB",
		string(status), string(domain.FulfillmentStatusUnfulfilled), false,
		now, now,
	)
}

// =====================================
// Тесты TryTransitionToPaid
// =====================================

// TestTryTransitionToPaid тестирует условный переход PENDING -> PAID:
// победу в гонке, проигрыш и классификацию промахов.
func TestTryTransitionToPaid(t *testing.T) {
	const (
		orderID = "order-uuid-123"
		amount  = int64(15000)
	)

	evt := &outbox.Outbox{
		ID:            "outbox-uuid-123",
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     "ORDER_PAID",
		Topic:         "checkout.notifications",
		MessageKey:    orderID,
		Payload:       []byte(`{"event":"ORDER_PAID"}`),
	}

	t.Run("победа: UPDATE затронул строку, outbox в той же транзакции", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE `orders` SET")).
			WithArgs(sqlmock.AnyArg(), string(domain.PaymentStatusPaid), sqlmock.AnyArg(),
				orderID, string(domain.PaymentStatusPending), amount).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox`")).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		repo := NewOrderRepository(gormDB)
		outcome, err := repo.TryTransitionToPaid(context.Background(), orderID, amount, evt)

		require.NoError(t, err)
		assert.Equal(t, domain.PaidOutcomeWon, outcome)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("проигрыш: заказ уже PAID конкурентным вызовом", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE `orders` SET")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
		// Классификация промаха: одна перечитка
		mock.ExpectQuery("SELECT \\* FROM `orders` WHERE id = \\? ORDER BY `orders`.`id` LIMIT \\?").
			WithArgs(orderID, 1).
			WillReturnRows(orderRows(orderID, "user-1", domain.PaymentStatusPaid, amount))

		repo := NewOrderRepository(gormDB)
		outcome, err := repo.TryTransitionToPaid(context.Background(), orderID, amount, evt)

		require.NoError(t, err)
		assert.Equal(t, domain.PaidOutcomeAlreadyPaid, outcome)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("несовпадение суммы: заказ остался PENDING", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE `orders` SET")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
		mock.ExpectQuery("SELECT \\* FROM `orders` WHERE id = \\? ORDER BY `orders`.`id` LIMIT \\?").
			WithArgs(orderID, 1).
			WillReturnRows(orderRows(orderID, "user-1", domain.PaymentStatusPending, 99999))

		repo := NewOrderRepository(gormDB)
		_, err := repo.TryTransitionToPaid(context.Background(), orderID, amount, evt)

		assert.ErrorIs(t, err, domain.ErrAmountMismatch)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("заказ не найден", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE `orders` SET")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
		mock.ExpectQuery("SELECT \\* FROM `orders` WHERE id = \\? ORDER BY `orders`.`id` LIMIT \\?").
			WithArgs(orderID, 1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		repo := NewOrderRepository(gormDB)
		_, err := repo.TryTransitionToPaid(context.Background(), orderID, amount, evt)

		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("заказ отменён: оплата невозможна", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE `orders` SET")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
		mock.ExpectQuery("SELECT \\* FROM `orders` WHERE id = \\? ORDER BY `orders`.`id` LIMIT \\?").
			WithArgs(orderID, 1).
			WillReturnRows(orderRows(orderID, "user-1", domain.PaymentStatusCanceled, amount))

		repo := NewOrderRepository(gormDB)
		_, err := repo.TryTransitionToPaid(context.Background(), orderID, amount, evt)

		assert.ErrorIs(t, err, domain.ErrOrderNotPayable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ошибка БД откатывает транзакцию", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE `orders` SET")).
			WillReturnError(sql.ErrConnDone)
		mock.ExpectRollback()

		repo := NewOrderRepository(gormDB)
		_, err := repo.TryTransitionToPaid(context.Background(), orderID, amount, evt)

		assert.ErrorIs(t, err, sql.ErrConnDone)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// =====================================
// Тесты TryTransitionToCanceled
// =====================================

func TestTryTransitionToCanceled(t *testing.T) {
	const orderID = "order-uuid-123"

	t.Run("успешная отмена", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE `orders` SET")).
			WithArgs(string(domain.FulfillmentStatusCanceled), string(domain.PaymentStatusCanceled), sqlmock.AnyArg(),
				orderID, string(domain.PaymentStatusPending), string(domain.PaymentStatusPaid)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		repo := NewOrderRepository(gormDB)
		outcome, err := repo.TryTransitionToCanceled(context.Background(), orderID, nil)

		require.NoError(t, err)
		assert.Equal(t, domain.CancelOutcomeDone, outcome)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("заказ уже отменён", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE `orders` SET")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
		mock.ExpectQuery("SELECT \\* FROM `orders` WHERE id = \\? ORDER BY `orders`.`id` LIMIT \\?").
			WithArgs(orderID, 1).
			WillReturnRows(orderRows(orderID, "user-1", domain.PaymentStatusCanceled, 15000))

		repo := NewOrderRepository(gormDB)
		outcome, err := repo.TryTransitionToCanceled(context.Background(), orderID, nil)

		require.NoError(t, err)
		assert.Equal(t, domain.CancelOutcomeAlreadyCanceled, outcome)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("возврат уже оформлен: отмена невозможна", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE `orders` SET")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
		mock.ExpectQuery("SELECT \\* FROM `orders` WHERE id = \\? ORDER BY `orders`.`id` LIMIT \\?").
			WithArgs(orderID, 1).
			WillReturnRows(orderRows(orderID, "user-1", domain.PaymentStatusRefunded, 15000))

		repo := NewOrderRepository(gormDB)
		_, err := repo.TryTransitionToCanceled(context.Background(), orderID, nil)

		assert.ErrorIs(t, err, domain.ErrOrderNotCancelable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// =====================================
// Тесты GetByIDForUser
// =====================================

func TestGetByIDForUser(t *testing.T) {
	const (
		orderID = "order-uuid-123"
		userID  = "user-uuid-123"
	)

	t.Run("заказ принадлежит пользователю", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectQuery("SELECT \\* FROM `orders` WHERE id = \\? ORDER BY `orders`.`id` LIMIT \\?").
			WithArgs(orderID, 1).
			WillReturnRows(orderRows(orderID, userID, domain.PaymentStatusPending, 15000))
		mock.ExpectQuery("SELECT \\* FROM `order_items`").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "order_id", "product_id", "variant_id", "product_name", "quantity", "unit_price", "currency",
			}).AddRow("item-1", orderID, "product-1", "variant-1", "Товар 1", 2, 7500, "RUB"))

		repo := NewOrderRepository(gormDB)
		order, err := repo.GetByIDForUser(context.Background(), orderID, userID)

		require.NoError(t, err)
		assert.Equal(t, orderID, order.ID)
		assert.Equal(t, int64(15000), order.TotalAmount.Amount)
		require.Len(t, order.Items, 1)
		assert.Equal(t, "variant-1", *order.Items[0].VariantID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("чужой заказ", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectQuery("SELECT \\* FROM `orders` WHERE id = \\? ORDER BY `orders`.`id` LIMIT \\?").
			WithArgs(orderID, 1).
			WillReturnRows(orderRows(orderID, "another-user", domain.PaymentStatusPending, 15000))
		mock.ExpectQuery("SELECT \\* FROM `order_items`").
			WillReturnRows(sqlmock.NewRows([]string{"id", "order_id"}))

		repo := NewOrderRepository(gormDB)
		order, err := repo.GetByIDForUser(context.Background(), orderID, userID)

		assert.ErrorIs(t, err, domain.ErrOrderAccessDenied)
		assert.Nil(t, order)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("заказ не найден", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectQuery("SELECT \\* FROM `orders` WHERE id = \\? ORDER BY `orders`.`id` LIMIT \\?").
			WithArgs(orderID, 1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		repo := NewOrderRepository(gormDB)
		_, err := repo.GetByIDForUser(context.Background(), orderID, userID)

		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// =====================================
// Тесты MarkStockDeducted и FindPaidUndeducted
// =====================================

func TestMarkStockDeducted(t *testing.T) {
	t.Run("успешная пометка", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE `orders` SET")).
			WithArgs(true, sqlmock.AnyArg(), "order-uuid-123").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		repo := NewOrderRepository(gormDB)
		err := repo.MarkStockDeducted(context.Background(), "order-uuid-123")

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("заказ не найден", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE `orders` SET")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		repo := NewOrderRepository(gormDB)
		err := repo.MarkStockDeducted(context.Background(), "unknown-order")

		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestFindPaidUndeducted(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	now := time.Now().Truncate(time.Second)
	paidAt := now.Add(-5 * time.Minute)

	rows := sqlmock.NewRows([]string{
		"id", "user_id", "total_amount", "currency", "payment_status", "stock_deducted", "paid_at",
	}).AddRow("order-1", "user-1", 15000, "RUB", "PAID", false, paidAt)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `orders` WHERE payment_status = ? AND stock_deducted = ? AND paid_at < ?")).
		WithArgs(string(domain.PaymentStatusPaid), false, sqlmock.AnyArg(), 50).
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT \\* FROM `order_items`").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "order_id", "product_id", "variant_id", "product_name", "quantity", "unit_price", "currency",
		}).AddRow("item-1", "order-1", "product-1", "variant-1", "Товар 1", 2, 7500, "RUB"))

	repo := NewOrderRepository(gormDB)
	orders, err := repo.FindPaidUndeducted(context.Background(), 30*time.Second, 50)

	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "order-1", orders[0].ID)
	assert.False(t, orders[0].StockDeducted)
	require.Len(t, orders[0].Items, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
