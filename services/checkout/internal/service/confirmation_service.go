package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/checkout-core/pkg/circuitbreaker"
	"example.com/checkout-core/pkg/logger"
	"example.com/checkout-core/pkg/metrics"
	"example.com/checkout-core/services/checkout/internal/domain"
	"example.com/checkout-core/services/checkout/internal/gateway"
	"example.com/checkout-core/services/checkout/internal/repository"
)

// =============================================================================
// Интерфейс сервиса
// =============================================================================

// GatewayConfirmer подтверждает транзакцию у платёжного шлюза.
// Реализуется gateway.Client; в тестах подменяется моком.
type GatewayConfirmer interface {
	Confirm(ctx context.Context, req *gateway.ConfirmRequest) (*gateway.ConfirmResult, error)
}

// ConfirmPaymentRequest — запрос подтверждения оплаты из браузера покупателя.
type ConfirmPaymentRequest struct {
	PaymentKey string // Ключ транзакции, выданный шлюзом на странице оплаты
	OrderID    string // ID заказа
	UserID     string // ID покупателя из токена авторизации
	Amount     int64  // Сумма, которую видел покупатель, в минимальных единицах
}

// Validate проверяет корректность полей запроса.
func (r ConfirmPaymentRequest) Validate() error {
	if strings.TrimSpace(r.PaymentKey) == "" {
		return domain.ErrInvalidPaymentKey
	}
	if strings.TrimSpace(r.OrderID) == "" {
		return domain.ErrInvalidOrderID
	}
	if strings.TrimSpace(r.UserID) == "" {
		return domain.ErrInvalidUserID
	}
	if r.Amount <= 0 {
		return domain.ErrInvalidAmount
	}
	return nil
}

// ConfirmPaymentResult — результат подтверждения оплаты.
type ConfirmPaymentResult struct {
	OrderID          string // ID заказа
	OrderNumber      string // Человекочитаемый номер заказа
	Status           string // Статус заказа для ответа API
	Amount           int64  // Подтверждённая сумма
	AlreadyConfirmed bool   // true, если оплата была подтверждена ранее
}

// ConfirmationService — синхронная точка входа подтверждения оплаты.
type ConfirmationService interface {
	// ConfirmPayment подтверждает оплату заказа у шлюза и переводит заказ
	// в PAID. Повторный вызов с тем же ключом платежа идемпотентен.
	ConfirmPayment(ctx context.Context, req ConfirmPaymentRequest) (*ConfirmPaymentResult, error)
}

// =============================================================================
// Реализация
// =============================================================================

// confirmationService — реализация ConfirmationService.
type confirmationService struct {
	orders      repository.OrderRepository
	payments    repository.PaymentRepository
	guard       IdempotencyGuard
	gateway     GatewayConfirmer
	stock       StockDeductionService
	carts       CartReconciliationService
	notifyTopic string
}

// NewConfirmationService создаёт новый сервис подтверждения оплаты.
func NewConfirmationService(
	orders repository.OrderRepository,
	payments repository.PaymentRepository,
	guard IdempotencyGuard,
	gatewayClient GatewayConfirmer,
	stock StockDeductionService,
	carts CartReconciliationService,
	notifyTopic string,
) ConfirmationService {
	return &confirmationService{
		orders:      orders,
		payments:    payments,
		guard:       guard,
		gateway:     gatewayClient,
		stock:       stock,
		carts:       carts,
		notifyTopic: notifyTopic,
	}
}

// ConfirmPayment подтверждает оплату заказа.
func (s *confirmationService) ConfirmPayment(ctx context.Context, req ConfirmPaymentRequest) (*ConfirmPaymentResult, error) {
	result, err := s.confirm(ctx, req)
	metrics.PaymentConfirmationsTotal.WithLabelValues(confirmOutcomeLabel(result, err)).Inc()
	return result, err
}

// confirm выполняет шаги подтверждения. Порядок фиксирован:
// заказ -> сумма -> статус -> идемпотентность -> шлюз -> запись платежа ->
// переход заказа -> пост-обработка.
func (s *confirmationService) confirm(ctx context.Context, req ConfirmPaymentRequest) (*ConfirmPaymentResult, error) {
	log := logger.FromContext(ctx)

	if err := req.Validate(); err != nil {
		return nil, err
	}

	// 1. Заказ в рамках владельца: чужой заказ неотличим от несуществующего
	order, err := s.orders.GetByIDForUser(ctx, req.OrderID, req.UserID)
	if err != nil {
		return nil, err
	}

	// 2. Сумма из браузера обязана совпадать с суммой заказа
	if req.Amount != order.TotalAmount.Amount {
		log.Warn().
			Str("order_id", order.ID).
			Int64("amount", req.Amount).
			Int64("order_amount", order.TotalAmount.Amount).
			Msg("Сумма подтверждения не совпадает с суммой заказа")
		return nil, domain.ErrAmountMismatch
	}

	// 3. Уже оплаченный заказ — идемпотентный успех без обращения к шлюзу
	if order.PaymentStatus == domain.PaymentStatusPaid {
		log.Info().
			Str("order_id", order.ID).
			Msg("Заказ уже оплачен, повторное подтверждение")
		return confirmedResult(order, true), nil
	}
	if !order.CanPay() {
		return nil, domain.ErrOrderNotPayable
	}

	// 4. Идемпотентность по ключу платежа — до обращения к шлюзу
	outcome, _, err := s.guard.CheckAndReserve(ctx, req.PaymentKey, req.OrderID)
	if err != nil {
		return nil, err
	}
	switch outcome {
	case IdempotencyDuplicateDifferentOrder:
		return nil, domain.ErrPaymentKeyReuse
	case IdempotencyDuplicateSameOrder:
		// Платёж уже зафиксирован, но заказ ещё PENDING: сбой случился
		// между записью платежа и сменой статуса. Шлюз не вызываем,
		// запись не дублируем, а переход доводим до конца.
		return s.finishConfirmation(ctx, order)
	}

	// 5. Подтверждение транзакции у шлюза. Клиент сам проверяет статус
	// DONE и совпадение суммы с запросом.
	confirmRes, err := s.gateway.Confirm(ctx, &gateway.ConfirmRequest{
		PaymentKey: req.PaymentKey,
		OrderID:    req.OrderID,
		Amount:     req.Amount,
	})
	if err != nil {
		log.Warn().Err(err).
			Str("order_id", order.ID).
			Str("payment_key", logger.MaskPaymentKey(req.PaymentKey)).
			Msg("Шлюз не подтвердил платёж")
		return nil, err
	}

	// Сумма, подтверждённая шлюзом, обязана совпадать с суммой заказа
	if confirmRes.TotalAmount != order.TotalAmount.Amount {
		log.Error().
			Str("order_id", order.ID).
			Int64("gateway_amount", confirmRes.TotalAmount).
			Int64("order_amount", order.TotalAmount.Amount).
			Bool("security", true).
			Msg("Шлюз подтвердил сумму, отличную от суммы заказа")
		return nil, domain.ErrAmountMismatch
	}

	// 6. Повторная проверка идемпотентности непосредственно перед записью
	outcome, _, err = s.guard.CheckAndReserve(ctx, req.PaymentKey, req.OrderID)
	if err != nil {
		return nil, err
	}
	switch outcome {
	case IdempotencyDuplicateDifferentOrder:
		return nil, domain.ErrPaymentKeyReuse
	case IdempotencyNew:
		if err := s.persistPayment(ctx, order, req.PaymentKey, confirmRes); err != nil {
			return nil, err
		}
	}

	// 7. Переход заказа в PAID и пост-обработка
	return s.finishConfirmation(ctx, order)
}

// persistPayment записывает подтверждённую транзакцию шлюза.
// Уникальные индексы по payment_key и order_id — финальная защита от
// двойной записи; дубликат по тому же заказу означает, что конкурентный
// вызов уже зафиксировал платёж.
func (s *confirmationService) persistPayment(ctx context.Context, order *domain.Order, paymentKey string, confirmRes *gateway.ConfirmResult) error {
	log := logger.FromContext(ctx)

	payment := &domain.Payment{
		ID:            uuid.New().String(),
		OrderID:       order.ID,
		PaymentKey:    paymentKey,
		Amount:        confirmRes.TotalAmount,
		Currency:      order.TotalAmount.Currency,
		Status:        domain.TransactionStatusDone,
		TransactionID: confirmRes.TransactionID,
		RawResponse:   confirmRes.Raw,
		RequestedAt:   time.Now(),
		ApprovedAt:    confirmRes.ApprovedAt,
	}

	err := s.payments.Create(ctx, payment)
	if err == nil {
		log.Info().
			Str("payment_id", payment.ID).
			Str("order_id", order.ID).
			Str("payment_key", logger.MaskPaymentKey(paymentKey)).
			Int64("amount", payment.Amount).
			Msg("Платёж зафиксирован")
		return nil
	}

	if !errors.Is(err, domain.ErrDuplicatePayment) {
		return fmt.Errorf("ошибка записи платежа: %w", err)
	}

	stored, getErr := s.payments.GetByPaymentKey(ctx, paymentKey)
	switch {
	case getErr == nil && stored.OrderID == order.ID:
		// Конкурентный вызов успел записать тот же платёж
		log.Info().
			Str("order_id", order.ID).
			Str("payment_id", stored.ID).
			Msg("Платёж уже записан конкурентным подтверждением")
		return nil

	case getErr == nil:
		log.Warn().
			Str("payment_key", logger.MaskPaymentKey(paymentKey)).
			Str("order_id", order.ID).
			Str("existing_order_id", stored.OrderID).
			Bool("security", true).
			Msg("Ключ платежа уже использован для другого заказа")
		return domain.ErrPaymentKeyReuse

	default:
		// Дубликат по order_id: заказ оплачен другим ключом, а эта
		// транзакция шлюза осталась без записи. Ручная сверка.
		log.Error().
			Str("order_id", order.ID).
			Str("payment_key", logger.MaskPaymentKey(paymentKey)).
			Str("transaction_id", confirmRes.TransactionID).
			Msg("Заказ уже оплачен другой транзакцией, текущая требует ручной сверки")
		return domain.ErrDuplicatePayment
	}
}

// finishConfirmation переводит заказ в PAID и выполняет пост-обработку.
// Вызывается и для свежего платежа, и для повторного запроса, чтобы
// довести до конца переход, прерванный сбоем.
func (s *confirmationService) finishConfirmation(ctx context.Context, order *domain.Order) (*ConfirmPaymentResult, error) {
	log := logger.FromContext(ctx)

	evt, err := newOrderNotification(EventOrderPaid, s.notifyTopic, order)
	if err != nil {
		// Уведомление не должно ломать оплату
		log.Warn().Err(err).Str("order_id", order.ID).Msg("Уведомление об оплате не будет отправлено")
		evt = nil
	}

	outcome, err := s.orders.TryTransitionToPaid(ctx, order.ID, order.TotalAmount.Amount, evt)
	if err != nil {
		return nil, err
	}

	if outcome == domain.PaidOutcomeWon {
		log.Info().
			Str("order_id", order.ID).
			Str("order_number", order.OrderNumber).
			Int64("amount", order.TotalAmount.Amount).
			Msg("Заказ переведён в PAID")
		applyPostPaymentEffects(ctx, order, s.stock, s.carts)
		return confirmedResult(order, false), nil
	}

	// Гонку выиграл другой путь (вебхук или конкурентный confirm):
	// списание и чистку корзины выполнил победитель.
	log.Info().
		Str("order_id", order.ID).
		Msg("Заказ уже оплачен конкурентным подтверждением")
	return confirmedResult(order, true), nil
}

// confirmedResult собирает ответ об успешном подтверждении.
func confirmedResult(order *domain.Order, already bool) *ConfirmPaymentResult {
	// Локальная копия заказа могла быть загружена до перехода
	order.PaymentStatus = domain.PaymentStatusPaid

	return &ConfirmPaymentResult{
		OrderID:          order.ID,
		OrderNumber:      order.OrderNumber,
		Status:           order.LegacyStatus(),
		Amount:           order.TotalAmount.Amount,
		AlreadyConfirmed: already,
	}
}

// applyPostPaymentEffects выполняет шаги после выигранного перехода в PAID:
// списание остатков и чистку корзины. Их ошибки не влияют на результат
// оплаты — деньги уже списаны, расхождения разбирают воркер досписания
// и оператор по логам.
func applyPostPaymentEffects(ctx context.Context, order *domain.Order, stock StockDeductionService, carts CartReconciliationService) {
	log := logger.FromContext(ctx)

	deduction, err := stock.DeductForOrder(ctx, order)
	if err != nil {
		log.Error().Err(err).Str("order_id", order.ID).Msg("Списание остатков не выполнено")
	} else if !deduction.Done() {
		log.Warn().
			Str("order_id", order.ID).
			Int("failed_items", len(deduction.Failures)).
			Msg("Остатки списаны частично")
	}

	if _, err := carts.Reconcile(ctx, order); err != nil {
		log.Warn().Err(err).Str("order_id", order.ID).Msg("Чистка корзины не выполнена")
	}
}

// confirmOutcomeLabel классифицирует итог подтверждения для метрики.
func confirmOutcomeLabel(result *ConfirmPaymentResult, err error) string {
	switch {
	case err == nil && result != nil && result.AlreadyConfirmed:
		return "duplicate"
	case err == nil:
		return "confirmed"
	case errors.Is(err, gateway.ErrUnavailable),
		errors.Is(err, circuitbreaker.ErrOpen),
		isGatewayRejection(err):
		return "gateway_error"
	default:
		return "rejected"
	}
}

// isGatewayRejection распознаёт бизнес-отказ шлюза.
func isGatewayRejection(err error) bool {
	var gwErr *gateway.Error
	return errors.As(err, &gwErr)
}
