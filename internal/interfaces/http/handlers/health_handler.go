package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ProbeFunc checks one dependency for the health endpoint.
type ProbeFunc func(ctx context.Context) error

// HealthHandler reports liveness of the server and its dependencies.
type HealthHandler struct {
	database ProbeFunc
	upstream ProbeFunc
	logger   *zap.Logger
}

func NewHealthHandler(database, upstream ProbeFunc, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{database: database, upstream: upstream, logger: logger}
}

// Check probes the store and the upstream model endpoint with a short
// deadline. The response always names all three subsystems; the HTTP status
// is 200 only when everything is reachable.
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := gin.H{
		"server":   "ok",
		"database": h.probe(ctx, "database", h.database),
		"llm_api":  h.probe(ctx, "llm_api", h.upstream),
	}

	code := http.StatusOK
	for _, v := range status {
		if v != "ok" {
			code = http.StatusServiceUnavailable
			break
		}
	}
	c.JSON(code, status)
}

func (h *HealthHandler) probe(ctx context.Context, name string, fn ProbeFunc) string {
	if fn == nil {
		return "unknown"
	}
	if err := fn(ctx); err != nil {
		h.logger.Warn("Health probe failed",
			zap.String("dependency", name),
			zap.Error(err))
		return "unavailable"
	}
	return "ok"
}
