package service

import (
	"context"
	"fmt"

	"example.com/checkout-core/pkg/logger"
	"example.com/checkout-core/services/checkout/internal/domain"
	"example.com/checkout-core/services/checkout/internal/repository"
)

// CartReconcileOutcome — исход чистки корзины после оплаты.
type CartReconcileOutcome string

const (
	// CartReconcileDone — выкупленные позиции вычтены из корзины.
	CartReconcileDone CartReconcileOutcome = "DONE"

	// CartReconcileSkipped — в корзине не нашлось совпадающих позиций.
	// Покупка могла пройти мимо корзины ("купить сейчас"), это не ошибка.
	CartReconcileSkipped CartReconcileOutcome = "SKIPPED"
)

// CartReconciliationService вычитает выкупленные позиции из корзины покупателя.
type CartReconciliationService interface {
	// Reconcile для каждой позиции заказа находит совпадающую позицию
	// корзины (товар + вариант), вычитает выкупленное количество и
	// удаляет позицию, если остаток не положителен.
	Reconcile(ctx context.Context, order *domain.Order) (CartReconcileOutcome, error)
}

// cartReconciliationService — реализация CartReconciliationService.
type cartReconciliationService struct {
	carts repository.CartRepository
}

// NewCartReconciliationService создаёт новый сервис чистки корзины.
func NewCartReconciliationService(carts repository.CartRepository) CartReconciliationService {
	return &cartReconciliationService{carts: carts}
}

// Reconcile вычитает выкупленные позиции заказа из корзины покупателя.
func (s *cartReconciliationService) Reconcile(ctx context.Context, order *domain.Order) (CartReconcileOutcome, error) {
	log := logger.FromContext(ctx)

	cartItems, err := s.carts.ListByUserID(ctx, order.UserID)
	if err != nil {
		return CartReconcileSkipped, fmt.Errorf("ошибка чтения корзины: %w", err)
	}
	if len(cartItems) == 0 {
		return CartReconcileSkipped, nil
	}

	var toDelete []string
	matched := make(map[string]bool, len(cartItems))
	updated := 0

	for i := range order.Items {
		orderItem := &order.Items[i]

		for _, cartItem := range cartItems {
			if matched[cartItem.ID] || !cartItem.MatchesOrderItem(orderItem) {
				continue
			}
			matched[cartItem.ID] = true

			remaining := cartItem.Quantity - orderItem.Quantity
			if remaining <= 0 {
				toDelete = append(toDelete, cartItem.ID)
			} else if err := s.carts.UpdateQuantity(ctx, order.UserID, cartItem.ID, remaining); err != nil {
				// Не критично: лишняя позиция в корзине не ломает заказ
				log.Warn().Err(err).
					Str("order_id", order.ID).
					Str("cart_item_id", cartItem.ID).
					Msg("Не удалось уменьшить количество в корзине")
			} else {
				updated++
			}
			break
		}
	}

	if len(toDelete) > 0 {
		deleted, err := s.carts.DeleteByIDs(ctx, order.UserID, toDelete)
		if err != nil {
			return CartReconcileSkipped, fmt.Errorf("ошибка удаления позиций корзины: %w", err)
		}
		log.Info().
			Str("order_id", order.ID).
			Int64("deleted", deleted).
			Int("updated", updated).
			Msg("Корзина очищена от выкупленных позиций")
	}

	if len(matched) == 0 {
		return CartReconcileSkipped, nil
	}
	return CartReconcileDone, nil
}
