package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"example.com/checkout-core/pkg/logger"
)

// Producer отправляет сообщения в Kafka с поддержкой headers и трассировки.
type Producer struct {
	writer     *kafka.Writer
	cfg        Config
	propagator propagation.TextMapPropagator
}

// NewProducer создаёт новый Producer для отправки сообщений в Kafka.
func NewProducer(cfg Config) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("не указаны брокеры Kafka")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond, // Уведомления не копим в батчи
		RequiredAcks: kafka.RequireOne,      // Ждём подтверждения от лидера
		Async:        false,                 // Sync режим: outbox-воркер должен видеть ошибку отправки
	}

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Msg("Создан Kafka Producer")

	return &Producer{
		writer:     writer,
		cfg:        cfg,
		propagator: propagation.TraceContext{},
	}, nil
}

// Send отправляет сообщение в указанный топик.
// Headers traceparent и timestamp добавляются автоматически.
func (p *Producer) Send(ctx context.Context, topic string, key []byte, value []byte) error {
	return p.SendMessage(ctx, &Message{
		Topic: topic,
		Key:   key,
		Value: value,
	})
}

// SendMessage отправляет подготовленный Message.
// В headers добавляется traceparent активного span (W3C Trace Context)
// и timestamp публикации, если их ещё нет.
func (p *Producer) SendMessage(ctx context.Context, msg *Message) error {
	if msg.Headers == nil {
		msg.Headers = make(map[string]string)
	}

	// Инжектим trace context стандартным W3C пропагатором.
	// Потребитель уведомлений продолжит трейс обработки заказа.
	p.propagator.Inject(ctx, headerCarrier(msg.Headers))

	if _, ok := msg.Headers[HeaderTimestamp]; !ok {
		msg.Headers[HeaderTimestamp] = time.Now().UTC().Format(time.RFC3339Nano)
	}

	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}

	if err := p.writer.WriteMessages(ctx, msg.toKafkaMessage()); err != nil {
		logger.Error().
			Err(err).
			Str("topic", msg.Topic).
			Str("key", string(msg.Key)).
			Str("trace_id", traceIDFromContext(ctx)).
			Msg("Ошибка отправки сообщения в Kafka")
		return fmt.Errorf("ошибка отправки в Kafka: %w", err)
	}

	logger.Debug().
		Str("topic", msg.Topic).
		Str("key", string(msg.Key)).
		Str("trace_id", traceIDFromContext(ctx)).
		Msg("Сообщение отправлено в Kafka")

	return nil
}

// Close закрывает соединение с Kafka.
// Должен вызываться при завершении работы приложения.
func (p *Producer) Close() error {
	logger.Info().Msg("Закрытие Kafka Producer")

	if err := p.writer.Close(); err != nil {
		logger.Error().Err(err).Msg("Ошибка при закрытии Kafka Producer")
		return fmt.Errorf("ошибка закрытия producer: %w", err)
	}

	logger.Info().Msg("Kafka Producer закрыт")
	return nil
}

// traceIDFromContext возвращает trace_id активного span для логов.
func traceIDFromContext(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}
