package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/elysia-ai/elysia/internal/domain/entity"
	"github.com/elysia-ai/elysia/internal/domain/repository"
	"github.com/elysia-ai/elysia/internal/infrastructure/persistence/models"
	domainErrors "github.com/elysia-ai/elysia/pkg/errors"
)

// GormUserRepository is the GORM-backed user store.
type GormUserRepository struct {
	db *gorm.DB
}

func NewGormUserRepository(db *gorm.DB) repository.UserRepository {
	return &GormUserRepository{db: db}
}

func (r *GormUserRepository) Create(ctx context.Context, user *entity.User) error {
	model, err := r.toModel(user)
	if err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domainErrors.NewAlreadyExistsError("email already registered")
		}
		return domainErrors.NewInternalErrorWithCause("failed to create user", err)
	}

	return nil
}

func (r *GormUserRepository) FindByID(ctx context.Context, id string) (*entity.User, error) {
	var model models.UserModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewUserNotFoundError("user not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find user", err)
	}

	return r.toEntity(&model)
}

func (r *GormUserRepository) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	var model models.UserModel
	err := r.db.WithContext(ctx).First(&model, "email = ?", entity.NormalizeEmail(email)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewUserNotFoundError("user not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find user", err)
	}

	return r.toEntity(&model)
}

func (r *GormUserRepository) UpdateProfile(ctx context.Context, id string, profile map[string]string) error {
	encoded, err := json.Marshal(profile)
	if err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to marshal profile", err)
	}

	result := r.db.WithContext(ctx).
		Model(&models.UserModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"profile":    string(encoded),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return domainErrors.NewInternalErrorWithCause("failed to update profile", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewUserNotFoundError("user not found")
	}
	return nil
}

func (r *GormUserRepository) AppendEmotion(ctx context.Context, id string, entry entity.EmotionEntry) error {
	model := models.EmotionModel{
		UserID:    id,
		Emotion:   entry.Emotion,
		Intensity: entry.Intensity,
		Context:   entry.Context,
		CreatedAt: entry.Timestamp,
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}

	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to append emotion", err)
	}
	return nil
}

func (r *GormUserRepository) Emotions(ctx context.Context, id string, limit int) ([]entity.EmotionEntry, error) {
	var rows []models.EmotionModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", id).
		Order("created_at desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to load emotions", err)
	}

	entries := make([]entity.EmotionEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, entity.EmotionEntry{
			Emotion:   row.Emotion,
			Intensity: row.Intensity,
			Context:   row.Context,
			Timestamp: row.CreatedAt,
		})
	}
	return entries, nil
}

func (r *GormUserRepository) toModel(user *entity.User) (*models.UserModel, error) {
	profile := user.Profile
	if profile == nil {
		profile = map[string]string{}
	}
	encoded, err := json.Marshal(profile)
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to marshal profile", err)
	}

	return &models.UserModel{
		ID:           user.ID,
		Email:        entity.NormalizeEmail(user.Email),
		PasswordHash: user.PasswordHash,
		Profile:      string(encoded),
		Subscribed:   user.Subscribed,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}, nil
}

func (r *GormUserRepository) toEntity(model *models.UserModel) (*entity.User, error) {
	profile := map[string]string{}
	if model.Profile != "" {
		// A corrupt profile blob degrades to an empty profile rather than
		// failing the read.
		_ = json.Unmarshal([]byte(model.Profile), &profile)
	}

	return &entity.User{
		ID:           model.ID,
		Email:        model.Email,
		PasswordHash: model.PasswordHash,
		Profile:      profile,
		Subscribed:   model.Subscribed,
		CreatedAt:    model.CreatedAt,
		UpdatedAt:    model.UpdatedAt,
	}, nil
}
