package logger

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ctxKey - приватный тип для ключей контекста, защищает от коллизий
// с ключами других пакетов.
type ctxKey string

// loggerKey - ключ настроенного логгера в контексте.
const loggerKey ctxKey = "logger"

// WithLogger кладёт настроенный логгер в контекст.
// Нижние слои получают его через FromContext и пишут логи
// с уже навешанными полями.
//
// Пример:
//
//	log := logger.With().Str("service", "checkout").Logger()
//	ctx = logger.WithLogger(ctx, log)
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext возвращает логгер из контекста, добавив trace_id активного
// OpenTelemetry span. По trace_id записи логов склеиваются с трейсом
// в Jaeger: HTTP middleware открывает span, сервисный слой логирует
// через FromContext, и весь путь запроса виден по одному идентификатору.
//
// Если логгер в контекст не клали, используется глобальный.
//
// Пример:
//
//	func (s *Service) Confirm(ctx context.Context, orderID string) error {
//	    log := logger.FromContext(ctx)
//	    log.Info().Str("order_id", orderID).Msg("Начало подтверждения платежа")
//	    // ...
//	}
func FromContext(ctx context.Context) zerolog.Logger {
	l := log
	if ctxLogger, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		l = ctxLogger
	}

	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With().Str("trace_id", sc.TraceID().String()).Logger()
	}

	return l
}

// Ctx возвращает указатель на логгер из контекста.
// Альтернативный способ использования, совместимый с zerolog.Ctx().
func Ctx(ctx context.Context) *zerolog.Logger {
	l := FromContext(ctx)
	return &l
}
