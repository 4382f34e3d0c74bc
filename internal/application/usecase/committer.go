package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/elysia-ai/elysia/internal/domain/entity"
	"github.com/elysia-ai/elysia/internal/domain/repository"
	"github.com/elysia-ai/elysia/internal/domain/service"
	apperrors "github.com/elysia-ai/elysia/pkg/errors"
	"github.com/elysia-ai/elysia/pkg/safego"
)

// Commit is everything one finished completion writes back.
type Commit struct {
	UserID           string
	UserPrompt       string
	AssistantContent string
	Emotion          *service.ExtractedEmotion
	Task             *service.ExtractedTask
}

// Committer persists a completion's side-effects: the memory pair, an
// optional emotion entry, and an optional queued task. The three writes run
// in parallel and are best-effort — one failing must not block the others.
// The client has already received its terminator by the time this runs.
type Committer struct {
	users  repository.UserRepository
	memory repository.MemoryRepository
	tasks  repository.TaskRepository
	cache  *service.UserCache
	logger *zap.Logger

	now func() time.Time
}

func NewCommitter(
	users repository.UserRepository,
	memory repository.MemoryRepository,
	tasks repository.TaskRepository,
	cache *service.UserCache,
	logger *zap.Logger,
) *Committer {
	return &Committer{
		users:  users,
		memory: memory,
		tasks:  tasks,
		cache:  cache,
		logger: logger.With(zap.String("component", "committer")),
		now:    time.Now,
	}
}

// Commit runs all applicable writes, invalidates the user cache entry, and
// reports a combined error for observability.
func (c *Committer) Commit(ctx context.Context, commit Commit) error {
	type branch struct {
		name string
		run  func() error
	}

	branches := []branch{
		{"memory-pair", func() error { return c.appendMemoryPair(ctx, commit) }},
	}
	if commit.Emotion != nil {
		branches = append(branches, branch{"emotion", func() error { return c.appendEmotion(ctx, commit) }})
	}
	if commit.Task != nil && commit.Task.TaskType != "" {
		branches = append(branches, branch{"task", func() error { return c.createTask(ctx, commit) }})
	}

	errs := make([]error, len(branches))
	var wg sync.WaitGroup
	for i, b := range branches {
		i, b := i, b
		wg.Add(1)
		go func() {
			defer wg.Done()
			safego.Run(c.logger, "commit-"+b.name, func() {
				if err := b.run(); err != nil {
					c.logger.Error("Commit branch failed",
						zap.String("branch", b.name),
						zap.String("user_id", commit.UserID),
						zap.Error(err))
					errs[i] = err
				}
			})
		}()
	}
	wg.Wait()

	c.cache.Invalidate(commit.UserID)

	if err := errors.Join(errs...); err != nil {
		return apperrors.NewCommitFailedError(err)
	}
	return nil
}

// appendMemoryPair writes exactly one user message followed by one
// assistant message, in a single batch so they land in issue order.
func (c *Committer) appendMemoryPair(ctx context.Context, commit Commit) error {
	now := c.now()
	return c.memory.AppendBatch(ctx, []*entity.MemoryMessage{
		{UserID: commit.UserID, Role: entity.RoleUser, Content: commit.UserPrompt, Timestamp: now},
		{UserID: commit.UserID, Role: entity.RoleAssistant, Content: commit.AssistantContent, Timestamp: now},
	})
}

func (c *Committer) appendEmotion(ctx context.Context, commit Commit) error {
	return c.users.AppendEmotion(ctx, commit.UserID, entity.EmotionEntry{
		Emotion:   commit.Emotion.Emotion,
		Intensity: commit.Emotion.Intensity,
		Context:   commit.Emotion.Context,
		Timestamp: c.now(),
	})
}

func (c *Committer) createTask(ctx context.Context, commit Commit) error {
	now := c.now()
	return c.tasks.Create(ctx, &entity.Task{
		ID:         uuid.New().String(),
		UserID:     commit.UserID,
		TaskType:   commit.Task.TaskType,
		Parameters: commit.Task.Parameters,
		Status:     entity.TaskQueued,
		Priority:   0,
		CreatedAt:  now,
		RunAt:      now,
	})
}
