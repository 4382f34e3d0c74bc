package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/elysia-ai/elysia/internal/application/usecase"
	"github.com/elysia-ai/elysia/internal/domain/repository"
	"github.com/elysia-ai/elysia/internal/domain/service"
	"github.com/elysia-ai/elysia/internal/infrastructure/auth"
	"github.com/elysia-ai/elysia/internal/infrastructure/config"
	"github.com/elysia-ai/elysia/internal/infrastructure/monitoring"
	"github.com/elysia-ai/elysia/internal/interfaces/http/handlers"
	"github.com/elysia-ai/elysia/internal/interfaces/http/middleware"
)

// Server is the HTTP front of the gateway.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Deps bundles everything the route table needs.
type Deps struct {
	Completion *usecase.CompletionUseCase
	Users      repository.UserRepository
	Cache      *service.UserCache
	Runner     *service.TaskRunner
	Tokens     *auth.TokenService
	Monitor    *monitoring.Monitor

	GlobalLimit     *middleware.Window
	CompletionLimit *middleware.Window

	DatabasePing handlers.ProbeFunc
	UpstreamPing handlers.ProbeFunc
}

// NewServer builds the router and the listener.
func NewServer(cfg config.ServerConfig, deps Deps, logger *zap.Logger) *Server {
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))
	router.Use(middleware.RateLimit(deps.GlobalLimit, deps.Monitor.RateLimited))

	setupRoutes(router, deps, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{Addr: addr, Handler: router},
		logger: logger,
	}
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func setupRoutes(router *gin.Engine, deps Deps, logger *zap.Logger) {
	authHandler := handlers.NewAuthHandler(deps.Users, deps.Tokens, logger)
	profileHandler := handlers.NewProfileHandler(deps.Users, deps.Cache, logger)
	completionHandler := handlers.NewCompletionHandler(deps.Completion, logger)
	emotionHandler := handlers.NewEmotionHandler(deps.Users, deps.Cache, logger)
	taskHandler := handlers.NewTaskHandler(deps.Runner, logger)
	healthHandler := handlers.NewHealthHandler(deps.DatabasePing, deps.UpstreamPing, logger)

	// Public surface.
	router.GET("/health", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(deps.Monitor.PrometheusHandler()))
	router.POST("/signup", authHandler.Signup)
	router.POST("/login", authHandler.Login)

	// Authenticated surface.
	authed := router.Group("/")
	authed.Use(middleware.Auth(deps.Tokens))
	{
		authed.GET("/profile", profileHandler.Get)
		authed.PUT("/profile", profileHandler.Update)
		authed.POST("/emotions", emotionHandler.Log)
		authed.GET("/run-tasks", taskHandler.Run)

		// Completions carry their own, tighter window on top of the
		// global one.
		authed.POST("/completion",
			middleware.RateLimit(deps.CompletionLimit, deps.Monitor.RateLimited),
			completionHandler.Complete)
	}
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
