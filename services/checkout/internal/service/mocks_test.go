package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"example.com/checkout-core/pkg/outbox"
	"example.com/checkout-core/services/checkout/internal/domain"
	"example.com/checkout-core/services/checkout/internal/gateway"
)

// =============================================================================
// Мок репозитория заказов
// =============================================================================

// mockOrderRepository — потокобезопасный мок для эмуляции условных
// переходов статуса. Переход под мьютексом воспроизводит семантику
// условного UPDATE: из конкурентных вызовов ровно один выигрывает.
type mockOrderRepository struct {
	mu     sync.Mutex
	orders map[string]*domain.Order

	// Записи outbox, переданные в переходы
	outboxEvents []*outbox.Outbox

	// Неоплаченные заказы для воркера досписания
	undeducted []*domain.Order

	// Настраиваемые ошибки (nil = нет ошибки)
	getErr        error
	transitionErr error
	markErr       error
	findErr       error
}

func newMockOrderRepo() *mockOrderRepository {
	return &mockOrderRepository{orders: make(map[string]*domain.Order)}
}

func (m *mockOrderRepository) put(order *domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = order
}

func (m *mockOrderRepository) get(orderID string) *domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[orderID]
}

func (m *mockOrderRepository) GetByID(ctx context.Context, orderID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	o, ok := m.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	// Возвращаем копию, как реальная БД (каждый SELECT = новый объект)
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepository) GetByIDForUser(ctx context.Context, orderID, userID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	o, ok := m.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if !o.IsOwnedBy(userID) {
		return nil, domain.ErrOrderAccessDenied
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepository) TryTransitionToPaid(ctx context.Context, orderID string, expectedAmount int64, evt *outbox.Outbox) (domain.PaidOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.transitionErr != nil {
		return "", m.transitionErr
	}
	o, ok := m.orders[orderID]
	if !ok {
		return "", domain.ErrOrderNotFound
	}

	// Эмуляция условного UPDATE: статус и сумма проверяются атомарно
	if o.PaymentStatus == domain.PaymentStatusPending && o.TotalAmount.Amount == expectedAmount {
		now := time.Now()
		o.PaymentStatus = domain.PaymentStatusPaid
		o.PaidAt = &now
		o.UpdatedAt = now
		if evt != nil {
			m.outboxEvents = append(m.outboxEvents, evt)
		}
		return domain.PaidOutcomeWon, nil
	}

	// Классификация промаха, как в реальном репозитории
	switch {
	case o.PaymentStatus == domain.PaymentStatusPaid:
		return domain.PaidOutcomeAlreadyPaid, nil
	case o.PaymentStatus == domain.PaymentStatusPending:
		return "", domain.ErrAmountMismatch
	default:
		return "", domain.ErrOrderNotPayable
	}
}

func (m *mockOrderRepository) TryTransitionToCanceled(ctx context.Context, orderID string, evt *outbox.Outbox) (domain.CancelOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.transitionErr != nil {
		return "", m.transitionErr
	}
	o, ok := m.orders[orderID]
	if !ok {
		return "", domain.ErrOrderNotFound
	}

	switch o.PaymentStatus {
	case domain.PaymentStatusPending, domain.PaymentStatusPaid:
		o.PaymentStatus = domain.PaymentStatusCanceled
		o.FulfillmentStatus = domain.FulfillmentStatusCanceled
		o.UpdatedAt = time.Now()
		if evt != nil {
			m.outboxEvents = append(m.outboxEvents, evt)
		}
		return domain.CancelOutcomeDone, nil
	case domain.PaymentStatusCanceled:
		return domain.CancelOutcomeAlreadyCanceled, nil
	default:
		return "", domain.ErrOrderNotCancelable
	}
}

func (m *mockOrderRepository) MarkStockDeducted(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.markErr != nil {
		return m.markErr
	}
	o, ok := m.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.StockDeducted = true
	return nil
}

func (m *mockOrderRepository) FindPaidUndeducted(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.undeducted, nil
}

// eventsOfType возвращает записанные события указанного типа.
func (m *mockOrderRepository) eventsOfType(eventType string) []*outbox.Outbox {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*outbox.Outbox
	for _, evt := range m.outboxEvents {
		if evt.EventType == eventType {
			out = append(out, evt)
		}
	}
	return out
}

// =============================================================================
// Мок репозитория платежей
// =============================================================================

// mockPaymentRepository — потокобезопасный мок с эмуляцией уникальных
// индексов по payment_key и order_id.
type mockPaymentRepository struct {
	mu      sync.Mutex
	byKey   map[string]*domain.Payment
	byOrder map[string]*domain.Payment

	createErr error
	getErr    error
	updateErr error
}

func newMockPaymentRepo() *mockPaymentRepository {
	return &mockPaymentRepository{
		byKey:   make(map[string]*domain.Payment),
		byOrder: make(map[string]*domain.Payment),
	}
}

func (m *mockPaymentRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byKey)
}

func (m *mockPaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	// Эмуляция UNIQUE constraint по payment_key и order_id
	if _, exists := m.byKey[payment.PaymentKey]; exists {
		return domain.ErrDuplicatePayment
	}
	if _, exists := m.byOrder[payment.OrderID]; exists {
		return domain.ErrDuplicatePayment
	}

	payment.CreatedAt = time.Now()
	payment.UpdatedAt = time.Now()

	// Снапшот, как INSERT в БД
	cp := *payment
	m.byKey[payment.PaymentKey] = &cp
	m.byOrder[payment.OrderID] = &cp
	return nil
}

func (m *mockPaymentRepository) GetByPaymentKey(ctx context.Context, paymentKey string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	if p, ok := m.byKey[paymentKey]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, domain.ErrPaymentNotFound
}

func (m *mockPaymentRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	if p, ok := m.byOrder[orderID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, domain.ErrPaymentNotFound
}

func (m *mockPaymentRepository) UpdateAppliedEvents(ctx context.Context, payment *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return m.updateErr
	}
	stored, ok := m.byKey[payment.PaymentKey]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	stored.AppliedEvents = append([]string(nil), payment.AppliedEvents...)
	stored.UpdatedAt = time.Now()
	return nil
}

func (m *mockPaymentRepository) UpdateStatus(ctx context.Context, paymentID string, status domain.TransactionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return m.updateErr
	}
	for _, p := range m.byKey {
		if p.ID == paymentID {
			p.Status = status
			p.UpdatedAt = time.Now()
			return nil
		}
	}
	return domain.ErrPaymentNotFound
}

// =============================================================================
// Мок репозитория остатков
// =============================================================================

// mockStockRepository — потокобезопасный мок с эмуляцией журнала списаний.
type mockStockRepository struct {
	mu         sync.Mutex
	variants   map[string]*domain.ProductVariant
	deductions map[string]bool // "orderID:variantID" -> списано

	deductErrs map[string]error // ошибка для конкретного варианта
}

func newMockStockRepo() *mockStockRepository {
	return &mockStockRepository{
		variants:   make(map[string]*domain.ProductVariant),
		deductions: make(map[string]bool),
		deductErrs: make(map[string]error),
	}
}

func (m *mockStockRepository) putVariant(variantID string, stock int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variants[variantID] = &domain.ProductVariant{
		ID:        variantID,
		ProductID: "product-1",
		Name:      "Вариант " + variantID,
		Stock:     stock,
	}
}

func (m *mockStockRepository) stockOf(variantID string) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.variants[variantID]; ok {
		return v.Stock
	}
	return -1
}

func (m *mockStockRepository) markDeducted(orderID, variantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deductions[orderID+":"+variantID] = true
}

func (m *mockStockRepository) Deduct(ctx context.Context, orderID, variantID string, quantity int32) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.deductErrs[variantID]; err != nil {
		return false, err
	}

	// Журнал списаний: повтор по той же паре заказ-вариант — no-op
	key := orderID + ":" + variantID
	if m.deductions[key] {
		return false, nil
	}

	v, ok := m.variants[variantID]
	if !ok {
		return false, domain.ErrVariantNotFound
	}
	if v.Stock < quantity {
		return false, domain.ErrInsufficientStock
	}

	v.Stock -= quantity
	m.deductions[key] = true
	return true, nil
}

func (m *mockStockRepository) GetVariant(ctx context.Context, variantID string) (*domain.ProductVariant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.variants[variantID]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, domain.ErrVariantNotFound
}

// =============================================================================
// Мок репозитория корзины
// =============================================================================

// mockCartRepository — потокобезопасный мок корзины.
type mockCartRepository struct {
	mu    sync.Mutex
	items map[string]*domain.CartItem // по ID позиции

	listErr   error
	deleteErr error
}

func newMockCartRepo() *mockCartRepository {
	return &mockCartRepository{items: make(map[string]*domain.CartItem)}
}

func (m *mockCartRepository) put(item *domain.CartItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
}

func (m *mockCartRepository) has(itemID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[itemID]
	return ok
}

func (m *mockCartRepository) quantityOf(itemID string) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[itemID]; ok {
		return item.Quantity
	}
	return -1
}

func (m *mockCartRepository) ListByUserID(ctx context.Context, userID string) ([]*domain.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*domain.CartItem
	for _, item := range m.items {
		if item.UserID == userID {
			cp := *item
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockCartRepository) DeleteByIDs(ctx context.Context, userID string, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	var deleted int64
	for _, id := range ids {
		if item, ok := m.items[id]; ok && item.UserID == userID {
			delete(m.items, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *mockCartRepository) UpdateQuantity(ctx context.Context, userID, itemID string, quantity int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item, ok := m.items[itemID]; ok && item.UserID == userID {
		item.Quantity = quantity
	}
	return nil
}

// =============================================================================
// Мок платёжного шлюза
// =============================================================================

// mockGateway — мок GatewayConfirmer со счётчиком вызовов: тесты
// идемпотентности проверяют, что шлюз не вызывается повторно.
type mockGateway struct {
	mu    sync.Mutex
	calls int

	result *gateway.ConfirmResult
	err    error
}

func (m *mockGateway) Confirm(ctx context.Context, req *gateway.ConfirmRequest) (*gateway.ConfirmResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		cp := *m.result
		return &cp, nil
	}

	// По умолчанию шлюз подтверждает запрошенную сумму
	now := time.Now()
	return &gateway.ConfirmResult{
		PaymentKey:    req.PaymentKey,
		OrderID:       req.OrderID,
		Status:        domain.TransactionStatusDone,
		TotalAmount:   req.Amount,
		Currency:      "RUB",
		TransactionID: "txn-" + req.OrderID,
		ApprovedAt:    &now,
		Raw:           []byte(`{"method":"CARD"}`),
	}, nil
}

func (m *mockGateway) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// =============================================================================
// Setup helpers
// =============================================================================

// checkoutEnv — сервисы и моки одного теста.
type checkoutEnv struct {
	orders   *mockOrderRepository
	payments *mockPaymentRepository
	stock    *mockStockRepository
	carts    *mockCartRepository
	gateway  *mockGateway

	guard    IdempotencyGuard
	stockSvc StockDeductionService
	cartSvc  CartReconciliationService
	confirm  ConfirmationService
	webhook  WebhookService
}

// setupCheckout создаёт полный набор сервисов на моках и miniredis.
func setupCheckout(t *testing.T) *checkoutEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &checkoutEnv{
		orders:   newMockOrderRepo(),
		payments: newMockPaymentRepo(),
		stock:    newMockStockRepo(),
		carts:    newMockCartRepo(),
		gateway:  &mockGateway{},
	}

	env.guard = NewIdempotencyGuard(env.payments, rdb)
	env.stockSvc = NewStockDeductionService(env.orders, env.stock)
	env.cartSvc = NewCartReconciliationService(env.carts)
	env.confirm = NewConfirmationService(
		env.orders, env.payments, env.guard, env.gateway,
		env.stockSvc, env.cartSvc, "checkout.notifications",
	)
	env.webhook = NewWebhookService(
		env.orders, env.payments, env.guard,
		env.stockSvc, env.cartSvc, "checkout.notifications",
	)

	return env
}

// newPendingOrder возвращает заказ на 15000 за две единицы варианта variant-1.
func newPendingOrder() *domain.Order {
	variantID := "variant-1"
	return &domain.Order{
		ID:          "order-1",
		OrderNumber: "ORD-20260815-0001",
		UserID:      "user-1",
		Items: []domain.OrderItem{
			{
				ID:          "item-1",
				OrderID:     "order-1",
				ProductID:   "product-1",
				VariantID:   &variantID,
				ProductName: "Кроссовки городские",
				Quantity:    2,
				UnitPrice:   domain.Money{Currency: "RUB", Amount: 7500},
			},
		},
		TotalAmount:       domain.Money{Currency: "RUB", Amount: 15000},
		PaymentStatus:     domain.PaymentStatusPending,
		FulfillmentStatus: domain.FulfillmentStatusUnfulfilled,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
}

// seedPendingOrder кладёт в моки заказ, остаток варианта и позицию корзины.
func seedPendingOrder(env *checkoutEnv) *domain.Order {
	order := newPendingOrder()
	env.orders.put(order)
	env.stock.putVariant("variant-1", 10)

	variantID := "variant-1"
	env.carts.put(&domain.CartItem{
		ID:        "cart-1",
		UserID:    order.UserID,
		ProductID: "product-1",
		VariantID: &variantID,
		Quantity:  2,
	})

	return order
}

// confirmReq собирает валидный запрос подтверждения для заказа.
func confirmReq(order *domain.Order) ConfirmPaymentRequest {
	return ConfirmPaymentRequest{
		PaymentKey: "tgen_20260815123456abcdef",
		OrderID:    order.ID,
		UserID:     order.UserID,
		Amount:     order.TotalAmount.Amount,
	}
}
