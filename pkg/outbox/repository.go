package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrOutboxNotFound — запись outbox не найдена.
var ErrOutboxNotFound = errors.New("запись outbox не найдена")

// OutboxModel — GORM модель для таблицы outbox.
type OutboxModel struct {
	ID            string     `gorm:"column:id;type:varchar(36);primaryKey"`
	AggregateType string     `gorm:"column:aggregate_type;type:varchar(50);not null;index:idx_outbox_aggregate"`
	AggregateID   string     `gorm:"column:aggregate_id;type:varchar(36);not null;index:idx_outbox_aggregate"`
	EventType     string     `gorm:"column:event_type;type:varchar(100);not null"`
	Topic         string     `gorm:"column:topic;type:varchar(100);not null"`
	MessageKey    string     `gorm:"column:message_key;type:varchar(100);not null"`
	Payload       []byte     `gorm:"column:payload;type:json;not null"`
	Headers       []byte     `gorm:"column:headers;type:json"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
	ProcessedAt   *time.Time `gorm:"column:processed_at;index:idx_outbox_unprocessed"`
	RetryCount    int        `gorm:"column:retry_count;not null;default:0;index:idx_outbox_retry"`
	LastError     *string    `gorm:"column:last_error;type:text"`
}

// TableName возвращает имя таблицы в БД.
func (OutboxModel) TableName() string {
	return "outbox"
}

// ToDomain конвертирует GORM модель в доменную сущность.
func (m *OutboxModel) ToDomain() *Outbox {
	o := &Outbox{
		ID:            m.ID,
		AggregateType: m.AggregateType,
		AggregateID:   m.AggregateID,
		EventType:     m.EventType,
		Topic:         m.Topic,
		MessageKey:    m.MessageKey,
		Payload:       m.Payload,
		CreatedAt:     m.CreatedAt,
		ProcessedAt:   m.ProcessedAt,
		RetryCount:    m.RetryCount,
		LastError:     m.LastError,
	}
	if len(m.Headers) > 0 {
		_ = o.SetHeadersFromJSON(m.Headers)
	}
	return o
}

// ModelFromDomain конвертирует доменную сущность в GORM модель.
// Экспортирован, потому что запись outbox создаётся в транзакции
// смены статуса заказа, а транзакцией владеет репозиторий заказов.
func ModelFromDomain(o *Outbox) *OutboxModel {
	model := &OutboxModel{
		ID:            o.ID,
		AggregateType: o.AggregateType,
		AggregateID:   o.AggregateID,
		EventType:     o.EventType,
		Topic:         o.Topic,
		MessageKey:    o.MessageKey,
		Payload:       o.Payload,
		CreatedAt:     o.CreatedAt,
		ProcessedAt:   o.ProcessedAt,
		RetryCount:    o.RetryCount,
		LastError:     o.LastError,
	}
	if o.Headers != nil {
		if data, err := o.HeadersJSON(); err == nil {
			model.Headers = data
		}
	}
	return model
}

// OutboxRepository определяет методы работы с outbox.
// Интерфейс для тестируемости (Dependency Inversion).
type OutboxRepository interface {
	// Create создаёт новую запись outbox.
	Create(ctx context.Context, record *Outbox) error

	// GetUnprocessed возвращает необработанные записи для отправки в Kafka.
	GetUnprocessed(ctx context.Context, limit int) ([]*Outbox, error)

	// MarkProcessed помечает запись как обработанную.
	MarkProcessed(ctx context.Context, id string) error

	// MarkFailed увеличивает счётчик ошибок и сохраняет текст ошибки.
	MarkFailed(ctx context.Context, id string, err error) error

	// DeleteProcessedBefore удаляет обработанные записи старше указанного времени.
	// Возвращает количество удалённых записей. Используется для очистки outbox.
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

// outboxRepository — GORM реализация OutboxRepository.
// aggregateType фильтрует записи по типу агрегата (сейчас только "order").
type outboxRepository struct {
	db            *gorm.DB
	aggregateType string
}

// NewOutboxRepository создаёт новый репозиторий outbox.
// aggregateType — тип агрегата для фильтрации (например, "order").
func NewOutboxRepository(db *gorm.DB, aggregateType string) OutboxRepository {
	return &outboxRepository{db: db, aggregateType: aggregateType}
}

// Create создаёт новую запись outbox.
func (r *outboxRepository) Create(ctx context.Context, record *Outbox) error {
	model := ModelFromDomain(record)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	record.CreatedAt = model.CreatedAt
	return nil
}

// GetUnprocessed возвращает необработанные записи, отсортированные по времени создания.
// Записи с большим retry_count обрабатываются позже (простой backoff).
func (r *outboxRepository) GetUnprocessed(ctx context.Context, limit int) ([]*Outbox, error) {
	var models []OutboxModel

	if err := r.db.WithContext(ctx).
		Where("processed_at IS NULL AND aggregate_type = ?", r.aggregateType).
		Order("retry_count ASC, created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	result := make([]*Outbox, len(models))
	for i := range models {
		result[i] = models[i].ToDomain()
	}
	return result, nil
}

// MarkProcessed помечает запись как обработанную.
func (r *outboxRepository) MarkProcessed(ctx context.Context, id string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&OutboxModel{}).
		Where("id = ?", id).
		Update("processed_at", now)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOutboxNotFound
	}
	return nil
}

// MarkFailed увеличивает счётчик ошибок и сохраняет текст ошибки.
func (r *outboxRepository) MarkFailed(ctx context.Context, id string, err error) error {
	errStr := err.Error()
	result := r.db.WithContext(ctx).Model(&OutboxModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  errStr,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOutboxNotFound
	}
	return nil
}

// DeleteProcessedBefore удаляет обработанные записи outbox старше указанного времени.
// Удаляет пачками по 1000 для предотвращения длинных блокировок.
func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("processed_at IS NOT NULL AND processed_at < ? AND aggregate_type = ?", before, r.aggregateType).
		Limit(1000).
		Delete(&OutboxModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
