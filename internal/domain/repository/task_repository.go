package repository

import (
	"context"
	"time"

	"github.com/elysia-ai/elysia/internal/domain/entity"
)

// TaskRepository stores inferred tasks.
type TaskRepository interface {
	Create(ctx context.Context, task *entity.Task) error

	// DequeueBatch returns up to limit queued tasks with RunAt <= now,
	// ordered by priority desc, createdAt asc. It does not change status.
	DequeueBatch(ctx context.Context, now time.Time, limit int) ([]*entity.Task, error)

	// ClaimProcessing transitions id from queued to processing with a
	// compare-and-set on the prior status. Returns false when another
	// worker already owns the task.
	ClaimProcessing(ctx context.Context, id string) (bool, error)

	// Finish transitions a processing task to completed or failed with a
	// result string.
	Finish(ctx context.Context, id string, status entity.TaskStatus, result string) error
}
