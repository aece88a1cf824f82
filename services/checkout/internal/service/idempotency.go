// Package service содержит бизнес-логику сервиса чекаута: подтверждение
// оплаты, обработку вебхуков шлюза, списание остатков и чистку корзины.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/checkout-core/pkg/logger"
	"example.com/checkout-core/services/checkout/internal/domain"
	"example.com/checkout-core/services/checkout/internal/repository"
)

// =============================================================================
// Конфигурация
// =============================================================================

const (
	// idempotencyKeyPrefix — префикс для ключей платежа в Redis.
	idempotencyKeyPrefix = "checkout:payment-key:"

	// idempotencyTTL — время жизни резервации ключа платежа (24 часа).
	idempotencyTTL = 24 * time.Hour
)

// =============================================================================
// Исходы проверки
// =============================================================================

// IdempotencyOutcome — исход проверки ключа платежа.
type IdempotencyOutcome string

const (
	// IdempotencyNew — ключ не встречался, обработка продолжается.
	IdempotencyNew IdempotencyOutcome = "NEW"

	// IdempotencyDuplicateSameOrder — платёж с этим ключом уже зафиксирован
	// для того же заказа: повторный запрос, шлюз не вызывается повторно.
	IdempotencyDuplicateSameOrder IdempotencyOutcome = "DUPLICATE_SAME_ORDER"

	// IdempotencyDuplicateDifferentOrder — ключ уже использован для другого
	// заказа. Повтор ключа между заказами — признак replay-атаки,
	// запрос отклоняется и логируется.
	IdempotencyDuplicateDifferentOrder IdempotencyOutcome = "DUPLICATE_DIFFERENT_ORDER"
)

// =============================================================================
// Интерфейс
// =============================================================================

// IdempotencyGuard проверяет, не обрабатывался ли ключ платежа ранее.
// Вызывается дважды: перед обращением к шлюзу и непосредственно перед
// записью платежа. Redis сужает окно гонки между проверкой и записью,
// уникальный индекс по payment_key в БД — финальная защита.
type IdempotencyGuard interface {
	// CheckAndReserve резервирует ключ платежа за заказом и классифицирует
	// повтор. Для IdempotencyDuplicateSameOrder возвращает существующий
	// платёж, в остальных случаях платёж равен nil.
	CheckAndReserve(ctx context.Context, paymentKey, orderID string) (IdempotencyOutcome, *domain.Payment, error)
}

// =============================================================================
// Реализация
// =============================================================================

// idempotencyGuard — реализация IdempotencyGuard поверх Redis и БД.
type idempotencyGuard struct {
	payments repository.PaymentRepository
	redis    *redis.Client
}

// NewIdempotencyGuard создаёт новую проверку идемпотентности ключей платежа.
func NewIdempotencyGuard(payments repository.PaymentRepository, redisClient *redis.Client) IdempotencyGuard {
	return &idempotencyGuard{
		payments: payments,
		redis:    redisClient,
	}
}

// CheckAndReserve резервирует ключ платежа за заказом и классифицирует повтор.
func (g *idempotencyGuard) CheckAndReserve(ctx context.Context, paymentKey, orderID string) (IdempotencyOutcome, *domain.Payment, error) {
	log := logger.FromContext(ctx)

	// 1. Быстрая резервация ключа в Redis (SETNX с TTL).
	// Значение — ID заказа, за которым ключ закреплён.
	redisKey := idempotencyKeyPrefix + paymentKey

	wasSet, err := g.redis.SetNX(ctx, redisKey, orderID, idempotencyTTL).Result()
	if err != nil {
		log.Warn().Err(err).
			Str("payment_key", logger.MaskPaymentKey(paymentKey)).
			Msg("Ошибка Redis при резервации ключа платежа")
		// При ошибке Redis продолжаем — уникальный индекс в БД защитит
	}

	// Ключ уже зарезервирован: если за другим заказом — отклоняем сразу,
	// не дожидаясь появления записи в БД.
	if !wasSet && err == nil {
		heldFor, getErr := g.redis.Get(ctx, redisKey).Result()
		if getErr == nil && heldFor != "" && heldFor != orderID {
			log.Warn().
				Str("payment_key", logger.MaskPaymentKey(paymentKey)).
				Str("order_id", orderID).
				Str("reserved_for_order_id", heldFor).
				Bool("security", true).
				Msg("Ключ платежа зарезервирован за другим заказом")
			return IdempotencyDuplicateDifferentOrder, nil, nil
		}
	}

	// 2. Проверка по БД — источник истины.
	existing, dbErr := g.payments.GetByPaymentKey(ctx, paymentKey)
	switch {
	case dbErr == nil && existing.OrderID == orderID:
		log.Info().
			Str("payment_key", logger.MaskPaymentKey(paymentKey)).
			Str("order_id", orderID).
			Str("payment_id", existing.ID).
			Msg("Платёж с этим ключом уже зафиксирован (идемпотентность)")
		return IdempotencyDuplicateSameOrder, existing, nil

	case dbErr == nil:
		log.Warn().
			Str("payment_key", logger.MaskPaymentKey(paymentKey)).
			Str("order_id", orderID).
			Str("existing_order_id", existing.OrderID).
			Bool("security", true).
			Msg("Ключ платежа уже использован для другого заказа")
		return IdempotencyDuplicateDifferentOrder, nil, nil

	case errors.Is(dbErr, domain.ErrPaymentNotFound):
		return IdempotencyNew, nil, nil

	default:
		// БД недоступна: полагаемся на уникальный индекс при записи
		log.Warn().Err(dbErr).
			Str("payment_key", logger.MaskPaymentKey(paymentKey)).
			Msg("Не удалось проверить ключ платежа в БД")
		return IdempotencyNew, nil, nil
	}
}
