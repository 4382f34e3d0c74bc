package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/elysia-ai/elysia/internal/domain/repository"
	"github.com/elysia-ai/elysia/internal/domain/service"
	"github.com/elysia-ai/elysia/internal/interfaces/http/middleware"
)

// ProfileHandler serves the authenticated user's profile.
type ProfileHandler struct {
	users  repository.UserRepository
	cache  *service.UserCache
	logger *zap.Logger
}

func NewProfileHandler(users repository.UserRepository, cache *service.UserCache, logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{users: users, cache: cache, logger: logger}
}

// Get returns the safe projection of the current user.
func (h *ProfileHandler) Get(c *gin.Context) {
	user, err := h.users.FindByID(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user.SafeView())
}

type updateProfileRequest struct {
	Profile map[string]string `json:"profile" binding:"required"`
}

// Update replaces the profile map and invalidates the cached snapshot so the
// next completion sees the new profile.
func (h *ProfileHandler) Update(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "profile object is required"})
		return
	}

	userID := middleware.UserID(c)
	if err := h.users.UpdateProfile(c.Request.Context(), userID, req.Profile); err != nil {
		writeError(c, err)
		return
	}
	h.cache.Invalidate(userID)

	user, err := h.users.FindByID(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user.SafeView())
}
