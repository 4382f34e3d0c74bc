package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/elysia-ai/elysia/internal/domain/entity"
	"github.com/elysia-ai/elysia/internal/domain/repository"
)

// TaskHandler executes one inferred task and returns a result string.
type TaskHandler func(ctx context.Context, task *entity.Task) (string, error)

// RunReport summarizes one drain pass.
type RunReport struct {
	Processed int `json:"processed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// TaskRunner drains queued tasks in small batches. Each task is claimed with
// a compare-and-set before execution, so concurrent drains never run the same
// task twice. Failed tasks stay failed; there is no automatic retry.
type TaskRunner struct {
	tasks     repository.TaskRepository
	handlers  map[string]TaskHandler
	batchSize int
	observer  func(success bool)
	logger    *zap.Logger
	now       func() time.Time
}

// NewTaskRunner creates a runner with an empty handler registry.
func NewTaskRunner(tasks repository.TaskRepository, batchSize int, logger *zap.Logger) *TaskRunner {
	if batchSize <= 0 {
		batchSize = 5
	}
	return &TaskRunner{
		tasks:     tasks,
		handlers:  make(map[string]TaskHandler),
		batchSize: batchSize,
		logger:    logger.With(zap.String("component", "taskrunner")),
		now:       time.Now,
	}
}

// Register binds a handler to a task type. Later registrations win.
func (r *TaskRunner) Register(taskType string, handler TaskHandler) {
	r.handlers[taskType] = handler
}

// Observe installs a per-task outcome callback, used for metrics.
func (r *TaskRunner) Observe(fn func(success bool)) {
	r.observer = fn
}

// RunBatch dequeues up to the batch size of runnable tasks and executes them.
// A task another worker claimed first is skipped, not an error.
func (r *TaskRunner) RunBatch(ctx context.Context) (RunReport, error) {
	var report RunReport

	batch, err := r.tasks.DequeueBatch(ctx, r.now(), r.batchSize)
	if err != nil {
		return report, fmt.Errorf("dequeue tasks: %w", err)
	}

	for _, task := range batch {
		claimed, err := r.tasks.ClaimProcessing(ctx, task.ID)
		if err != nil {
			r.logger.Error("Failed to claim task",
				zap.String("task_id", task.ID),
				zap.Error(err))
			continue
		}
		if !claimed {
			report.Skipped++
			continue
		}

		report.Processed++
		status, result := r.execute(ctx, task)
		if status == entity.TaskCompleted {
			report.Completed++
		} else {
			report.Failed++
		}
		if r.observer != nil {
			r.observer(status == entity.TaskCompleted)
		}

		if err := r.tasks.Finish(ctx, task.ID, status, result); err != nil {
			r.logger.Error("Failed to finish task",
				zap.String("task_id", task.ID),
				zap.String("status", string(status)),
				zap.Error(err))
		}
	}

	return report, nil
}

func (r *TaskRunner) execute(ctx context.Context, task *entity.Task) (entity.TaskStatus, string) {
	handler, ok := r.handlers[task.TaskType]
	if !ok {
		return entity.TaskFailed, fmt.Sprintf("no handler registered for task type %q", task.TaskType)
	}

	result, err := func() (result string, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("task handler panicked: %v", rec)
			}
		}()
		return handler(ctx, task)
	}()
	if err != nil {
		r.logger.Warn("Task failed",
			zap.String("task_id", task.ID),
			zap.String("task_type", task.TaskType),
			zap.Error(err))
		return entity.TaskFailed, err.Error()
	}

	return entity.TaskCompleted, result
}
