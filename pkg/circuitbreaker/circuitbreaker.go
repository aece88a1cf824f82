// Package circuitbreaker предоставляет Circuit Breaker для защиты от каскадных сбоев.
// Используется в HTTP клиенте платёжного шлюза для быстрого отказа,
// когда шлюз недоступен или отвечает ошибками.
//
// Состояния Circuit Breaker:
//   - Closed: нормальная работа, запросы проходят
//   - Open: шлюз недоступен, запросы отклоняются мгновенно (без ожидания timeout)
//   - Half-Open: пробный период, пропускаем часть запросов для проверки восстановления
//
// Использование:
//
//	cb := circuitbreaker.New("payment-gateway")
//	err := cb.Execute(func() error {
//	    return client.confirm(ctx, req)
//	}, isInfraError)
package circuitbreaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"example.com/checkout-core/pkg/logger"
)

// ErrOpen — breaker открыт, запрос к шлюзу не выполнялся.
var ErrOpen = errors.New("circuit breaker открыт — шлюз временно недоступен")

// Settings — настройки Circuit Breaker.
type Settings struct {
	MaxRequests  uint32        // Макс. запросов в Half-Open состоянии (по умолчанию 1)
	Interval     time.Duration // Интервал сброса счётчика в Closed (по умолчанию 60s)
	Timeout      time.Duration // Время в Open до перехода в Half-Open (по умолчанию 30s)
	FailureRatio float64       // Доля ошибок для перехода в Open (по умолчанию 0.5)
	MinRequests  uint32        // Мин. запросов для расчёта ratio (по умолчанию 5)
}

// DefaultSettings возвращает настройки по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:  1,                // В Half-Open пропускаем 1 запрос
		Interval:     60 * time.Second, // Сбрасываем счётчик каждые 60 секунд
		Timeout:      30 * time.Second, // Через 30 секунд пробуем восстановить связь
		FailureRatio: 0.5,              // Открываем при 50% ошибок
		MinRequests:  5,                // Минимум 5 запросов для принятия решения
	}
}

// Breaker — обёртка над gobreaker с логированием.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// New создаёт новый Circuit Breaker с настройками по умолчанию.
func New(name string) *Breaker {
	return NewWithSettings(name, DefaultSettings())
}

// NewWithSettings создаёт Circuit Breaker с пользовательскими настройками.
func NewWithSettings(name string, s Settings) *Breaker {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,

		// ReadyToTrip определяет когда открыть breaker.
		// Открываем если доля ошибок >= FailureRatio и было >= MinRequests запросов.
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= s.FailureRatio
		},

		// OnStateChange логирует смену состояния.
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log := logger.With().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Logger()

			switch to {
			case gobreaker.StateOpen:
				log.Warn().Msg("Circuit Breaker ОТКРЫТ — шлюз недоступен")
			case gobreaker.StateHalfOpen:
				log.Info().Msg("Circuit Breaker ПОЛУОТКРЫТ — пробуем восстановить")
			case gobreaker.StateClosed:
				log.Info().Msg("Circuit Breaker ЗАКРЫТ — шлюз восстановлен")
			}
		},
	})

	return &Breaker{cb: cb, name: name}
}

// State возвращает текущее состояние breaker.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Name возвращает имя breaker.
func (b *Breaker) Name() string {
	return b.name
}

// Execute выполняет fn через Circuit Breaker.
//
// isFailure определяет, какие ошибки учитываются в статистике breaker.
// Бизнес-отказы шлюза (неверная сумма, просроченный ключ) breaker не
// открывают — это ответ живого шлюза, а не сбой. isFailure == nil
// означает "любая ошибка — сбой".
//
// Когда breaker открыт, возвращает ErrOpen не вызывая fn.
func (b *Breaker) Execute(fn func() error, isFailure func(error) bool) error {
	var fnErr error

	_, cbErr := b.cb.Execute(func() (any, error) {
		fnErr = fn()
		if fnErr != nil && (isFailure == nil || isFailure(fnErr)) {
			return nil, fnErr
		}
		// Успех или бизнес-ошибка — для breaker это успех.
		return nil, nil
	})

	// Circuit Breaker открыт — мгновенный отказ.
	if errors.Is(cbErr, gobreaker.ErrOpenState) || errors.Is(cbErr, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}

	// Возвращаем оригинальную ошибку вызова (или nil).
	return fnErr
}
