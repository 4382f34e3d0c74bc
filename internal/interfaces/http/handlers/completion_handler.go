package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/elysia-ai/elysia/internal/application/usecase"
	"github.com/elysia-ai/elysia/internal/interfaces/http/middleware"
	"github.com/elysia-ai/elysia/internal/interfaces/http/sse"
)

// CompletionHandler serves POST /completion in both streaming and
// non-streaming modes.
type CompletionHandler struct {
	completion *usecase.CompletionUseCase
	logger     *zap.Logger
}

func NewCompletionHandler(completion *usecase.CompletionUseCase, logger *zap.Logger) *CompletionHandler {
	return &CompletionHandler{completion: completion, logger: logger}
}

type completionRequest struct {
	Prompt string `json:"prompt"`
	Stream *bool  `json:"stream"`
}

// Complete runs one completion. Streaming is the default; stream:false
// returns the whole reply as JSON instead. Errors before the first SSE byte
// surface as plain HTTP errors; after that they go in-band.
func (h *CompletionHandler) Complete(c *gin.Context) {
	var req completionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	userID := middleware.UserID(c)

	if req.Stream != nil && !*req.Stream {
		content, err := h.completion.Execute(c.Request.Context(), userID, req.Prompt)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"content": content})
		return
	}

	prep, err := h.completion.Prepare(c.Request.Context(), userID, req.Prompt)
	if err != nil {
		writeError(c, err)
		return
	}

	relay, err := sse.New(c.Writer, h.logger)
	if err != nil {
		prep.Close()
		h.logger.Error("Client transport cannot stream", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	h.completion.Stream(c.Request.Context(), prep, relay)
}
