package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/elysia-ai/elysia/internal/domain/entity"
	"github.com/elysia-ai/elysia/internal/domain/repository"
	"github.com/elysia-ai/elysia/internal/domain/service"
	"github.com/elysia-ai/elysia/internal/interfaces/http/middleware"
)

// EmotionHandler appends explicit emotion entries to the user's log.
type EmotionHandler struct {
	users  repository.UserRepository
	cache  *service.UserCache
	logger *zap.Logger
}

func NewEmotionHandler(users repository.UserRepository, cache *service.UserCache, logger *zap.Logger) *EmotionHandler {
	return &EmotionHandler{users: users, cache: cache, logger: logger}
}

type logEmotionRequest struct {
	Mood      string `json:"mood"`
	Intensity *int   `json:"intensity"`
	Notes     string `json:"notes"`
}

// Log appends one emotion entry. Intensity, when present, is clamped to
// [1,10] before it is written.
func (h *EmotionHandler) Log(c *gin.Context) {
	var req logEmotionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	mood := strings.TrimSpace(req.Mood)
	if mood == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mood is required"})
		return
	}

	entry := entity.EmotionEntry{
		Emotion:   mood,
		Context:   strings.TrimSpace(req.Notes),
		Timestamp: time.Now().UTC(),
	}
	if req.Intensity != nil {
		clamped := entity.ClampIntensity(*req.Intensity)
		entry.Intensity = &clamped
	}

	userID := middleware.UserID(c)
	if err := h.users.AppendEmotion(c.Request.Context(), userID, entry); err != nil {
		writeError(c, err)
		return
	}
	h.cache.Invalidate(userID)

	c.JSON(http.StatusCreated, gin.H{"status": "logged", "emotion": entry})
}
