package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/checkout-core/pkg/logger"
	"example.com/checkout-core/pkg/metrics"
	"example.com/checkout-core/services/checkout/internal/domain"
	"example.com/checkout-core/services/checkout/internal/repository"
)

// =============================================================================
// Интерфейс сервиса
// =============================================================================

// WebhookOutcome — итог обработки события для тела ответа шлюзу.
type WebhookOutcome string

const (
	// WebhookOutcomeApplied — событие изменило состояние заказа.
	WebhookOutcomeApplied WebhookOutcome = "applied"

	// WebhookOutcomeDuplicate — событие уже было применено ранее.
	WebhookOutcomeDuplicate WebhookOutcome = "duplicate"

	// WebhookOutcomeIgnored — событие распознано, но состояние не меняет.
	WebhookOutcomeIgnored WebhookOutcome = "ignored"
)

// WebhookEvent — событие платёжного шлюза после проверки подписи.
type WebhookEvent struct {
	EventType  string // Тип события (PAYMENT_STATUS_CHANGED, PAYMENT_CANCELED, ...)
	PaymentKey string // Ключ транзакции шлюза
	OrderID    string // ID заказа
	Status     string // Статус транзакции из события
	Raw        []byte // Исходное тело вебхука (аудит в записи платежа)
}

// WebhookService — асинхронная точка входа: применяет события шлюза
// к заказам. Ошибка обработки никогда не доходит до шлюза как не-200:
// решение об HTTP-ответе принимает handler.
type WebhookService interface {
	// ProcessEvent применяет событие шлюза. Повторная доставка уже
	// применённого события подтверждается без обработки.
	ProcessEvent(ctx context.Context, evt WebhookEvent) (WebhookOutcome, error)
}

// =============================================================================
// Реализация
// =============================================================================

// webhookService — реализация WebhookService.
type webhookService struct {
	orders      repository.OrderRepository
	payments    repository.PaymentRepository
	guard       IdempotencyGuard
	stock       StockDeductionService
	carts       CartReconciliationService
	notifyTopic string
}

// NewWebhookService создаёт новый сервис обработки вебхуков шлюза.
func NewWebhookService(
	orders repository.OrderRepository,
	payments repository.PaymentRepository,
	guard IdempotencyGuard,
	stock StockDeductionService,
	carts CartReconciliationService,
	notifyTopic string,
) WebhookService {
	return &webhookService{
		orders:      orders,
		payments:    payments,
		guard:       guard,
		stock:       stock,
		carts:       carts,
		notifyTopic: notifyTopic,
	}
}

// ProcessEvent применяет событие шлюза.
func (s *webhookService) ProcessEvent(ctx context.Context, evt WebhookEvent) (WebhookOutcome, error) {
	outcome, err := s.process(ctx, evt)

	label := string(outcome)
	if err != nil {
		label = "error"
	}
	metrics.WebhookEventsTotal.WithLabelValues(evt.EventType, label).Inc()

	return outcome, err
}

// process диспетчеризует событие по типу.
func (s *webhookService) process(ctx context.Context, evt WebhookEvent) (WebhookOutcome, error) {
	log := logger.FromContext(ctx)

	// Дедупликация на уровне события: применённые типы событий хранятся
	// в метаданных платежа, повторная доставка подтверждается сразу.
	payment, err := s.payments.GetByPaymentKey(ctx, evt.PaymentKey)
	switch {
	case err == nil:
		if payment.HasAppliedEvent(evt.EventType) {
			log.Info().
				Str("event_type", evt.EventType).
				Str("payment_id", payment.ID).
				Msg("Событие уже применено, повторная доставка")
			return WebhookOutcomeDuplicate, nil
		}
	case errors.Is(err, domain.ErrPaymentNotFound):
		payment = nil
	default:
		return "", fmt.Errorf("ошибка поиска платежа: %w", err)
	}

	var outcome WebhookOutcome
	switch evt.EventType {
	case domain.WebhookEventStatusChanged:
		outcome, err = s.applyStatusChanged(ctx, evt, payment)
	case domain.WebhookEventCanceled:
		outcome, err = s.applyCanceled(ctx, evt, payment)
	default:
		log.Info().
			Str("event_type", evt.EventType).
			Msg("Неизвестный тип события вебхука, подтверждаем без обработки")
		return WebhookOutcomeIgnored, nil
	}

	// Тип события отмечается в платеже независимо от успеха обработки,
	// чтобы повторная доставка была распознана как дубликат. Исключение —
	// событие без последствий (например смена статуса без завершения
	// оплаты): его отметка замаскировала бы последующую значимую доставку
	// того же типа.
	if err != nil || outcome != WebhookOutcomeIgnored {
		s.recordAppliedEvent(ctx, evt)
	}

	return outcome, err
}

// applyStatusChanged обрабатывает завершение оплаты, о котором сообщил
// шлюз. Вебхук сам является подтверждением: последовательность совпадает
// с synchronous confirm, но без обращения к шлюзу.
func (s *webhookService) applyStatusChanged(ctx context.Context, evt WebhookEvent, payment *domain.Payment) (WebhookOutcome, error) {
	log := logger.FromContext(ctx)

	// Событием об оплате считается только завершённая транзакция
	if evt.Status != string(domain.TransactionStatusDone) {
		log.Info().
			Str("status", evt.Status).
			Str("order_id", evt.OrderID).
			Msg("Смена статуса без завершения оплаты, состояние не меняется")
		return WebhookOutcomeIgnored, nil
	}

	order, err := s.orders.GetByID(ctx, evt.OrderID)
	if err != nil {
		return "", fmt.Errorf("ошибка загрузки заказа: %w", err)
	}

	// Сумма ранее записанного платежа обязана совпадать с суммой заказа
	if payment != nil && payment.Amount != order.TotalAmount.Amount {
		log.Error().
			Str("order_id", order.ID).
			Int64("payment_amount", payment.Amount).
			Int64("order_amount", order.TotalAmount.Amount).
			Bool("security", true).
			Msg("Сумма платежа не совпадает с суммой заказа")
		return "", domain.ErrAmountMismatch
	}

	// Идемпотентность по ключу платежа перед записью
	outcome, _, err := s.guard.CheckAndReserve(ctx, evt.PaymentKey, evt.OrderID)
	if err != nil {
		return "", err
	}
	switch outcome {
	case IdempotencyDuplicateDifferentOrder:
		return "", domain.ErrPaymentKeyReuse
	case IdempotencyNew:
		// Вебхук пришёл раньше синхронного подтверждения: фиксируем
		// платёж по данным заказа, сумма заказа авторитетна.
		now := time.Now()
		p := &domain.Payment{
			ID:          uuid.New().String(),
			OrderID:     order.ID,
			PaymentKey:  evt.PaymentKey,
			Amount:      order.TotalAmount.Amount,
			Currency:    order.TotalAmount.Currency,
			Status:      domain.TransactionStatusDone,
			RawResponse: evt.Raw,
			RequestedAt: now,
			ApprovedAt:  &now,
		}
		if err := s.payments.Create(ctx, p); err != nil {
			// Дубликат — конкурентный confirm успел первым, продолжаем
			if !errors.Is(err, domain.ErrDuplicatePayment) {
				return "", fmt.Errorf("ошибка записи платежа: %w", err)
			}
		} else {
			log.Info().
				Str("payment_id", p.ID).
				Str("order_id", order.ID).
				Str("payment_key", logger.MaskPaymentKey(evt.PaymentKey)).
				Msg("Платёж зафиксирован по вебхуку")
		}
	}

	evtRow, err := newOrderNotification(EventOrderPaid, s.notifyTopic, order)
	if err != nil {
		log.Warn().Err(err).Str("order_id", order.ID).Msg("Уведомление об оплате не будет отправлено")
		evtRow = nil
	}

	paidOutcome, err := s.orders.TryTransitionToPaid(ctx, order.ID, order.TotalAmount.Amount, evtRow)
	if err != nil {
		return "", err
	}

	if paidOutcome == domain.PaidOutcomeWon {
		log.Info().
			Str("order_id", order.ID).
			Msg("Заказ переведён в PAID по вебхуку")
		applyPostPaymentEffects(ctx, order, s.stock, s.carts)
		return WebhookOutcomeApplied, nil
	}

	log.Info().
		Str("order_id", order.ID).
		Msg("Заказ уже оплачен, вебхук ничего не меняет")
	return WebhookOutcomeDuplicate, nil
}

// applyCanceled обрабатывает отмену платежа шлюзом: заказ и запись
// платежа переводятся в CANCELED.
func (s *webhookService) applyCanceled(ctx context.Context, evt WebhookEvent, payment *domain.Payment) (WebhookOutcome, error) {
	log := logger.FromContext(ctx)

	order, err := s.orders.GetByID(ctx, evt.OrderID)
	if err != nil {
		return "", fmt.Errorf("ошибка загрузки заказа: %w", err)
	}

	evtRow, err := newOrderNotification(EventOrderCanceled, s.notifyTopic, order)
	if err != nil {
		log.Warn().Err(err).Str("order_id", order.ID).Msg("Уведомление об отмене не будет отправлено")
		evtRow = nil
	}

	outcome, err := s.orders.TryTransitionToCanceled(ctx, order.ID, evtRow)
	if err != nil {
		return "", err
	}

	// Отмена транзакции отражается в записи платежа; сбой не критичен —
	// источник истины о состоянии заказа сам заказ.
	if payment != nil && payment.Status != domain.TransactionStatusCanceled {
		if err := s.payments.UpdateStatus(ctx, payment.ID, domain.TransactionStatusCanceled); err != nil {
			log.Warn().Err(err).
				Str("payment_id", payment.ID).
				Msg("Не удалось отметить отмену в записи платежа")
		}
	}

	if outcome == domain.CancelOutcomeDone {
		log.Info().
			Str("order_id", order.ID).
			Str("payment_key", logger.MaskPaymentKey(evt.PaymentKey)).
			Msg("Заказ отменён по вебхуку шлюза")
		return WebhookOutcomeApplied, nil
	}

	log.Info().
		Str("order_id", order.ID).
		Msg("Заказ уже был отменён")
	return WebhookOutcomeDuplicate, nil
}

// recordAppliedEvent отмечает тип события в метаданных платежа.
// Если записи платежа нет (например, отмена до подтверждения),
// дедупликация держится на идемпотентности перехода заказа.
func (s *webhookService) recordAppliedEvent(ctx context.Context, evt WebhookEvent) {
	log := logger.FromContext(ctx)

	payment, err := s.payments.GetByPaymentKey(ctx, evt.PaymentKey)
	if err != nil {
		if !errors.Is(err, domain.ErrPaymentNotFound) {
			log.Warn().Err(err).
				Str("payment_key", logger.MaskPaymentKey(evt.PaymentKey)).
				Msg("Не удалось загрузить платёж для отметки события")
		}
		return
	}

	payment.AppendAppliedEvent(evt.EventType)
	if err := s.payments.UpdateAppliedEvents(ctx, payment); err != nil {
		log.Warn().Err(err).
			Str("payment_id", payment.ID).
			Str("event_type", evt.EventType).
			Msg("Не удалось отметить применённое событие")
	}
}
