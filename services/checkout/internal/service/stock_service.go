package service

import (
	"context"

	"example.com/checkout-core/pkg/logger"
	"example.com/checkout-core/pkg/metrics"
	"example.com/checkout-core/services/checkout/internal/domain"
	"example.com/checkout-core/services/checkout/internal/repository"
)

// StockItemFailure — позиция заказа, по которой не удалось списать остаток.
type StockItemFailure struct {
	ProductID string // ID товара
	VariantID string // ID варианта
	Quantity  int32  // Сколько требовалось списать
	Err       error  // Причина отказа
}

// StockDeductionResult — итог списания остатков по заказу.
type StockDeductionResult struct {
	Deducted int                // Обработанные позиции (включая уже списанные ранее)
	Failures []StockItemFailure // Позиции, по которым списание не прошло
}

// Done сообщает, что все позиции заказа списаны.
func (r *StockDeductionResult) Done() bool {
	return len(r.Failures) == 0
}

// StockDeductionService списывает остатки товаров по оплаченному заказу.
type StockDeductionService interface {
	// DeductForOrder списывает остатки по всем позициям заказа.
	// Сбой отдельной позиции не прерывает остальные: заказ уже оплачен,
	// откатывать оплату из-за склада нельзя. Неудачные позиции
	// возвращаются в результате и досписываются воркером.
	//
	// Повторный вызов безопасен: журнал списаний пропускает уже
	// обработанные позиции.
	DeductForOrder(ctx context.Context, order *domain.Order) (*StockDeductionResult, error)
}

// stockDeductionService — реализация StockDeductionService.
type stockDeductionService struct {
	orders repository.OrderRepository
	stock  repository.StockRepository
}

// NewStockDeductionService создаёт новый сервис списания остатков.
func NewStockDeductionService(orders repository.OrderRepository, stock repository.StockRepository) StockDeductionService {
	return &stockDeductionService{
		orders: orders,
		stock:  stock,
	}
}

// DeductForOrder списывает остатки по всем позициям заказа.
func (s *stockDeductionService) DeductForOrder(ctx context.Context, order *domain.Order) (*StockDeductionResult, error) {
	log := logger.FromContext(ctx)

	result := &StockDeductionResult{}

	for i := range order.Items {
		item := &order.Items[i]

		// Товар без варианта — складской учёт по нему не ведётся
		if item.VariantID == nil {
			continue
		}

		applied, err := s.stock.Deduct(ctx, order.ID, *item.VariantID, item.Quantity)
		if err != nil {
			metrics.StockDeductionFailuresTotal.Inc()
			log.Warn().Err(err).
				Str("order_id", order.ID).
				Str("variant_id", *item.VariantID).
				Int32("quantity", item.Quantity).
				Msg("Не удалось списать остаток по позиции")
			result.Failures = append(result.Failures, StockItemFailure{
				ProductID: item.ProductID,
				VariantID: *item.VariantID,
				Quantity:  item.Quantity,
				Err:       err,
			})
			continue
		}

		result.Deducted++
		if !applied {
			log.Debug().
				Str("order_id", order.ID).
				Str("variant_id", *item.VariantID).
				Msg("Остаток по позиции уже был списан ранее")
		}
	}

	if result.Done() {
		// Флаг выводит заказ из выборки воркера досписания.
		// Если отметить не удалось, воркер повторит списание, а журнал
		// сделает повтор no-op.
		if err := s.orders.MarkStockDeducted(ctx, order.ID); err != nil {
			log.Warn().Err(err).
				Str("order_id", order.ID).
				Msg("Не удалось отметить заказ как списанный")
		}
	}

	return result, nil
}
