package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/elysia-ai/elysia/internal/domain/service"
)

// TaskHandler exposes the on-demand task drain.
type TaskHandler struct {
	runner *service.TaskRunner
	logger *zap.Logger
}

func NewTaskHandler(runner *service.TaskRunner, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{runner: runner, logger: logger}
}

// Run drains one batch of queued tasks and reports the outcome counts.
func (h *TaskHandler) Run(c *gin.Context) {
	report, err := h.runner.RunBatch(c.Request.Context())
	if err != nil {
		h.logger.Error("Task drain failed", zap.Error(err))
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
