package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/elysia-ai/elysia/internal/domain/entity"
	"github.com/elysia-ai/elysia/internal/domain/repository"
	"github.com/elysia-ai/elysia/internal/infrastructure/persistence/models"
	domainErrors "github.com/elysia-ai/elysia/pkg/errors"
)

// GormMemoryRepository is the GORM-backed conversation memory store.
type GormMemoryRepository struct {
	db *gorm.DB
}

func NewGormMemoryRepository(db *gorm.DB) repository.MemoryRepository {
	return &GormMemoryRepository{db: db}
}

func (r *GormMemoryRepository) AppendBatch(ctx context.Context, messages []*entity.MemoryMessage) error {
	if len(messages) == 0 {
		return nil
	}

	rows := make([]models.MemoryModel, 0, len(messages))
	base := time.Now().UTC()
	for i, msg := range messages {
		id := msg.ID
		if id == "" {
			id = uuid.NewString()
		}
		ts := msg.Timestamp
		if ts.IsZero() {
			// Preserve issue order for same-batch rows at read time.
			ts = base.Add(time.Duration(i) * time.Microsecond)
		}
		rows = append(rows, models.MemoryModel{
			ID:        id,
			UserID:    msg.UserID,
			Role:      msg.Role,
			Content:   msg.Content,
			CreatedAt: ts,
		})
	}

	if err := r.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to append memory batch", err)
	}
	return nil
}

func (r *GormMemoryRepository) Recent(ctx context.Context, userID string, limit int) ([]*entity.MemoryMessage, error) {
	var rows []models.MemoryModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to load recent memory", err)
	}

	messages := make([]*entity.MemoryMessage, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, &entity.MemoryMessage{
			ID:        row.ID,
			UserID:    row.UserID,
			Role:      row.Role,
			Content:   row.Content,
			Timestamp: row.CreatedAt,
		})
	}
	return messages, nil
}

func (r *GormMemoryRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.MemoryModel{})
	if result.Error != nil {
		return 0, domainErrors.NewInternalErrorWithCause("failed to purge memory", result.Error)
	}
	return result.RowsAffected, nil
}
