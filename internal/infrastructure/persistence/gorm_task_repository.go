package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/elysia-ai/elysia/internal/domain/entity"
	"github.com/elysia-ai/elysia/internal/domain/repository"
	"github.com/elysia-ai/elysia/internal/infrastructure/persistence/models"
	domainErrors "github.com/elysia-ai/elysia/pkg/errors"
)

// GormTaskRepository is the GORM-backed inferred-task queue.
type GormTaskRepository struct {
	db *gorm.DB
}

func NewGormTaskRepository(db *gorm.DB) repository.TaskRepository {
	return &GormTaskRepository{db: db}
}

func (r *GormTaskRepository) Create(ctx context.Context, task *entity.Task) error {
	params := task.Parameters
	if params == nil {
		params = map[string]interface{}{}
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to marshal task parameters", err)
	}

	model := models.TaskModel{
		ID:         task.ID,
		UserID:     task.UserID,
		TaskType:   task.TaskType,
		Parameters: string(encoded),
		Status:     string(task.Status),
		Priority:   entity.ClampPriority(task.Priority),
		RunAt:      task.RunAt,
		CreatedAt:  task.CreatedAt,
	}
	if model.ID == "" {
		model.ID = uuid.NewString()
	}
	if model.Status == "" {
		model.Status = string(entity.TaskQueued)
	}
	if model.RunAt.IsZero() {
		model.RunAt = time.Now().UTC()
	}

	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to create task", err)
	}
	return nil
}

func (r *GormTaskRepository) DequeueBatch(ctx context.Context, now time.Time, limit int) ([]*entity.Task, error) {
	var rows []models.TaskModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND run_at <= ?", string(entity.TaskQueued), now).
		Order("priority desc").
		Order("created_at asc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to dequeue tasks", err)
	}

	tasks := make([]*entity.Task, 0, len(rows))
	for _, row := range rows {
		task, err := r.toEntity(&row)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (r *GormTaskRepository) ClaimProcessing(ctx context.Context, id string) (bool, error) {
	// Compare-and-set on the prior status prevents double execution.
	result := r.db.WithContext(ctx).
		Model(&models.TaskModel{}).
		Where("id = ? AND status = ?", id, string(entity.TaskQueued)).
		Updates(map[string]interface{}{
			"status":     string(entity.TaskProcessing),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, domainErrors.NewInternalErrorWithCause("failed to claim task", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *GormTaskRepository) Finish(ctx context.Context, id string, status entity.TaskStatus, resultText string) error {
	if status != entity.TaskCompleted && status != entity.TaskFailed {
		return domainErrors.NewInvalidInputError("finish status must be completed or failed")
	}

	result := r.db.WithContext(ctx).
		Model(&models.TaskModel{}).
		Where("id = ? AND status = ?", id, string(entity.TaskProcessing)).
		Updates(map[string]interface{}{
			"status":     string(status),
			"result":     resultText,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return domainErrors.NewInternalErrorWithCause("failed to finish task", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("task not in processing state")
	}
	return nil
}

func (r *GormTaskRepository) toEntity(model *models.TaskModel) (*entity.Task, error) {
	params := map[string]interface{}{}
	if model.Parameters != "" {
		if err := json.Unmarshal([]byte(model.Parameters), &params); err != nil {
			params = map[string]interface{}{}
		}
	}

	return &entity.Task{
		ID:         model.ID,
		UserID:     model.UserID,
		TaskType:   model.TaskType,
		Parameters: params,
		Status:     entity.TaskStatus(model.Status),
		Priority:   model.Priority,
		CreatedAt:  model.CreatedAt,
		RunAt:      model.RunAt,
		Result:     model.Result,
	}, nil
}
