package repository

import (
	"context"
	"time"

	"github.com/elysia-ai/elysia/internal/domain/entity"
)

// MemoryRepository stores short-lived conversation memory.
type MemoryRepository interface {
	// AppendBatch persists messages in the order given, in one batch.
	AppendBatch(ctx context.Context, messages []*entity.MemoryMessage) error

	// Recent returns up to limit messages for the user, most-recent-first.
	Recent(ctx context.Context, userID string, limit int) ([]*entity.MemoryMessage, error)

	// PurgeOlderThan deletes messages with Timestamp before cutoff.
	// Returns the number of rows removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
