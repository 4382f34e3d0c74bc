package repository

import (
	"context"

	"github.com/elysia-ai/elysia/internal/domain/entity"
)

// UserRepository is the durable user store contract.
type UserRepository interface {
	Create(ctx context.Context, user *entity.User) error
	FindByID(ctx context.Context, id string) (*entity.User, error)
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	UpdateProfile(ctx context.Context, id string, profile map[string]string) error
	AppendEmotion(ctx context.Context, id string, entry entity.EmotionEntry) error
	Emotions(ctx context.Context, id string, limit int) ([]entity.EmotionEntry, error)
}
