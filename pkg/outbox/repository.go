package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrOutboxNotFound - запись outbox не найдена.
var ErrOutboxNotFound = errors.New("запись outbox не найдена")

// Repository определяет операции над таблицей outbox.
type Repository interface {
	Create(ctx context.Context, record *Outbox) error
	GetUnprocessed(ctx context.Context, limit int) ([]*Outbox, error)
	MarkProcessed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, err error) error
	// DeleteProcessedBefore удаляет обработанные записи старше before (не более 1000 за вызов).
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

type repository struct {
	db            *gorm.DB
	aggregateType string
}

// NewRepository создаёт репозиторий outbox, ограниченный одним типом агрегата.
// db может быть транзакцией: так запись попадает в ту же транзакцию, что и бизнес-данные.
func NewRepository(db *gorm.DB, aggregateType string) Repository {
	return &repository{db: db, aggregateType: aggregateType}
}

func (r *repository) Create(ctx context.Context, record *Outbox) error {
	if record.AggregateType == "" {
		record.AggregateType = r.aggregateType
	}
	model := modelFromDomain(record)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	record.CreatedAt = model.CreatedAt
	return nil
}

// GetUnprocessed возвращает записи по возрастанию retry_count, затем created_at:
// записи с ошибками уступают очередь свежим.
func (r *repository) GetUnprocessed(ctx context.Context, limit int) ([]*Outbox, error) {
	var models []Model
	if err := r.db.WithContext(ctx).
		Where("processed_at IS NULL AND aggregate_type = ?", r.aggregateType).
		Order("retry_count ASC, created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	result := make([]*Outbox, len(models))
	for i := range models {
		result[i] = models[i].toDomain()
	}
	return result, nil
}

func (r *repository) MarkProcessed(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&Model{}).
		Where("id = ? AND processed_at IS NULL", id).
		Update("processed_at", time.Now().UTC())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOutboxNotFound
	}
	return nil
}

func (r *repository) MarkFailed(ctx context.Context, id string, err error) error {
	result := r.db.WithContext(ctx).Model(&Model{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  err.Error(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOutboxNotFound
	}
	return nil
}

func (r *repository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("processed_at IS NOT NULL AND processed_at < ? AND aggregate_type = ?", before, r.aggregateType).
		Limit(1000).
		Delete(&Model{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
