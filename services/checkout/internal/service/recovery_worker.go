package service

import (
	"context"
	"fmt"
	"time"

	"example.com/checkout-core/pkg/config"
	"example.com/checkout-core/pkg/logger"
	"example.com/checkout-core/services/checkout/internal/repository"
)

// StockRecoveryWorker досписывает остатки по оплаченным заказам, у которых
// списание не завершилось: сервис упал между оплатой и списанием, либо
// часть позиций не прошла. Журнал списаний делает повтор безопасным —
// уже списанные позиции пропускаются.
type StockRecoveryWorker struct {
	orders repository.OrderRepository
	stock  StockDeductionService
	cfg    config.RecoveryConfig
}

// NewStockRecoveryWorker создаёт новый воркер досписания остатков.
func NewStockRecoveryWorker(orders repository.OrderRepository, stock StockDeductionService, cfg config.RecoveryConfig) *StockRecoveryWorker {
	return &StockRecoveryWorker{
		orders: orders,
		stock:  stock,
		cfg:    cfg,
	}
}

// Run запускает цикл досписания. Блокирует выполнение до отмены контекста.
func (w *StockRecoveryWorker) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("interval", w.cfg.Interval).
		Dur("min_age", w.cfg.MinAge).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Запуск воркера досписания остатков")

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка воркера досписания остатков")
			return
		case <-ticker.C:
			recovered, err := w.RunOnce(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Ошибка прохода досписания остатков")
				continue
			}
			if recovered > 0 {
				log.Info().Int("count", recovered).Msg("Остатки досписаны по заказам")
			}
		}
	}
}

// RunOnce выполняет один проход: находит оплаченные заказы без списанных
// остатков старше MinAge и повторяет списание. Возвращает количество
// заказов, по которым списание завершилось полностью.
func (w *StockRecoveryWorker) RunOnce(ctx context.Context) (int, error) {
	log := logger.FromContext(ctx)

	orders, err := w.orders.FindPaidUndeducted(ctx, w.cfg.MinAge, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("ошибка выборки заказов без списания: %w", err)
	}

	recovered := 0
	for _, order := range orders {
		result, err := w.stock.DeductForOrder(ctx, order)
		if err != nil {
			log.Warn().Err(err).Str("order_id", order.ID).Msg("Досписание по заказу не выполнено")
			continue
		}
		if result.Done() {
			recovered++
			continue
		}
		// Позиции с нехваткой остатка останутся в выборке до вмешательства
		// оператора: рост счётчика ошибок списания — сигнал для разбора.
		log.Warn().
			Str("order_id", order.ID).
			Int("failed_items", len(result.Failures)).
			Msg("Досписание по заказу прошло частично")
	}

	return recovered, nil
}
