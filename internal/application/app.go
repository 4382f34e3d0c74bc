package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/elysia-ai/elysia/internal/application/usecase"
	"github.com/elysia-ai/elysia/internal/domain/entity"
	"github.com/elysia-ai/elysia/internal/domain/intelligence"
	"github.com/elysia-ai/elysia/internal/domain/repository"
	"github.com/elysia-ai/elysia/internal/domain/service"
	"github.com/elysia-ai/elysia/internal/infrastructure/auth"
	"github.com/elysia-ai/elysia/internal/infrastructure/config"
	"github.com/elysia-ai/elysia/internal/infrastructure/llm"
	"github.com/elysia-ai/elysia/internal/infrastructure/monitoring"
	"github.com/elysia-ai/elysia/internal/infrastructure/persistence"
	"github.com/elysia-ai/elysia/internal/infrastructure/prompt"
	httpServer "github.com/elysia-ai/elysia/internal/interfaces/http"
	"github.com/elysia-ai/elysia/internal/interfaces/http/middleware"
	"github.com/elysia-ai/elysia/pkg/safego"
)

// App is the dependency-injection container for the gateway.
type App struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB

	users  repository.UserRepository
	memory repository.MemoryRepository
	tasks  repository.TaskRepository

	cache      *service.UserCache
	runner     *service.TaskRunner
	compressor *intelligence.Compressor
	assembler  *prompt.Assembler

	llmClient *llm.Client
	tokens    *auth.TokenService
	monitor   *monitoring.Monitor

	committer    *usecase.Committer
	completionUC *usecase.CompletionUseCase

	httpServer *httpServer.Server
	watcher    *config.Watcher

	loopCancel context.CancelFunc
}

// NewApp wires every component. Nothing starts serving until Start.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{
		config: cfg,
		logger: logger,
	}

	if err := app.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}
	app.initDomainServices()
	app.initInfrastructure()
	app.initApplicationServices()
	app.initInterfaces()

	return app, nil
}

func (app *App) initRepositories() error {
	app.logger.Info("Initializing repositories")

	db, err := persistence.NewDBConnection(&app.config.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	app.db = db

	app.users = persistence.NewGormUserRepository(db)
	app.memory = persistence.NewGormMemoryRepository(db)
	app.tasks = persistence.NewGormTaskRepository(db)

	return nil
}

func (app *App) initDomainServices() {
	app.logger.Info("Initializing domain services")

	app.cache = service.NewUserCache(app.config.Memory.CacheTTL)
	app.compressor = intelligence.NewCompressor(intelligence.NewCache(1000), app.logger)

	app.runner = service.NewTaskRunner(app.tasks, app.config.Tasks.BatchSize, app.logger)
	registerBuiltinTaskHandlers(app.runner)
}

func (app *App) initInfrastructure() {
	app.logger.Info("Initializing infrastructure")

	app.llmClient = llm.NewClient(
		app.config.Upstream,
		app.config.Completion.FirstByteTimeout,
		app.logger,
	)
	app.tokens = auth.NewTokenService(app.config.Auth)
	app.monitor = monitoring.NewMonitor(app.logger)
	app.assembler = prompt.NewAssembler(app.config.Memory.HistoryDepth)

	app.runner.Observe(app.monitor.TaskFinished)
}

func (app *App) initApplicationServices() {
	app.logger.Info("Initializing application services")

	app.committer = usecase.NewCommitter(app.users, app.memory, app.tasks, app.cache, app.logger)
	app.completionUC = usecase.NewCompletionUseCase(
		app.users,
		app.memory,
		app.cache,
		app.assembler,
		app.compressor,
		upstreamAdapter{client: app.llmClient},
		app.committer,
		app.monitor,
		app.config.Upstream.Model,
		app.config.Memory.HistoryDepth,
		app.config.Completion,
		app.logger,
	)
}

func (app *App) initInterfaces() {
	app.logger.Info("Initializing interfaces")

	deps := httpServer.Deps{
		Completion: app.completionUC,
		Users:      app.users,
		Cache:      app.cache,
		Runner:     app.runner,
		Tokens:     app.tokens,
		Monitor:    app.monitor,

		GlobalLimit: middleware.NewWindow(
			app.config.Limits.GlobalRequests, app.config.Limits.GlobalWindow),
		CompletionLimit: middleware.NewWindow(
			app.config.Limits.CompletionRequests, app.config.Limits.CompletionWindow),

		DatabasePing: func(ctx context.Context) error { return persistence.Ping(app.db) },
		UpstreamPing: app.llmClient.Ping,
	}

	app.httpServer = httpServer.NewServer(app.config.Server, deps, app.logger)
}

// Start launches the HTTP server and the background loops.
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("Starting application")

	if err := app.httpServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	app.loopCancel = cancel
	app.startMemoryPurge(loopCtx)
	app.startTaskDrain(loopCtx)

	app.logger.Info("Application started successfully")
	return nil
}

// WatchConfig begins live-reloading tunables from the given config file.
func (app *App) WatchConfig(path string) {
	watcher, err := config.NewWatcher(path, app.logger)
	if err != nil {
		app.logger.Warn("Config watching disabled", zap.Error(err))
		return
	}
	watcher.OnReload(func(cfg *config.Config) {
		// Structural settings (listeners, DSNs) need a restart; only note
		// the reload here so operators can see it landed.
		app.logger.Info("Config file changed",
			zap.Int("completion_token_cap", cfg.Completion.TokenCap))
	})
	watcher.Start()
	app.watcher = watcher
}

// Stop shuts everything down in reverse order.
func (app *App) Stop(ctx context.Context) error {
	app.logger.Info("Stopping application")

	if app.loopCancel != nil {
		app.loopCancel()
	}
	if app.watcher != nil {
		app.watcher.Stop()
	}

	if err := app.httpServer.Stop(ctx); err != nil {
		app.logger.Error("Failed to stop HTTP server", zap.Error(err))
	}

	if app.db != nil {
		sqlDB, err := app.db.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				app.logger.Error("Failed to close database connection", zap.Error(err))
			}
		}
	}

	app.logger.Info("Application stopped successfully")
	return nil
}

// startMemoryPurge deletes conversation memory past its TTL on an interval.
func (app *App) startMemoryPurge(ctx context.Context) {
	interval := app.config.Memory.PurgeInterval
	ttl := app.config.Memory.TTL
	if interval <= 0 || ttl <= 0 {
		return
	}

	safego.Go(app.logger, "memory-purge", func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-ttl)
				removed, err := app.memory.PurgeOlderThan(ctx, cutoff)
				if err != nil {
					app.logger.Warn("Memory purge failed", zap.Error(err))
					continue
				}
				if removed > 0 {
					app.logger.Info("Purged expired memory",
						zap.Int64("removed", removed),
						zap.Time("cutoff", cutoff))
				}
			}
		}
	})
}

// startTaskDrain runs the task runner periodically when configured. The
// /run-tasks endpoint remains available either way.
func (app *App) startTaskDrain(ctx context.Context) {
	interval := app.config.Tasks.DrainInterval
	if interval <= 0 {
		return
	}

	safego.Go(app.logger, "task-drain", func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				report, err := app.runner.RunBatch(ctx)
				if err != nil {
					app.logger.Warn("Periodic task drain failed", zap.Error(err))
					continue
				}
				if report.Processed > 0 {
					app.logger.Info("Drained tasks",
						zap.Int("completed", report.Completed),
						zap.Int("failed", report.Failed))
				}
			}
		}
	})
}

// upstreamAdapter narrows *llm.Client to the orchestrator's Upstream port.
// The indirection matters: returning a typed nil *llm.Stream through the
// interface would not compare equal to nil.
type upstreamAdapter struct {
	client *llm.Client
}

func (a upstreamAdapter) Stream(ctx context.Context, req llm.CompletionRequest) (usecase.DeltaStream, error) {
	stream, err := a.client.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (a upstreamAdapter) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	return a.client.Complete(ctx, req)
}

// registerBuiltinTaskHandlers binds the task types the model is prompted to
// infer. Anything else fails with a descriptive result.
func registerBuiltinTaskHandlers(runner *service.TaskRunner) {
	runner.Register("reminder", func(_ context.Context, task *entity.Task) (string, error) {
		subject, _ := task.Parameters["subject"].(string)
		if subject == "" {
			subject = "unspecified"
		}
		return fmt.Sprintf("reminder noted: %s", subject), nil
	})
	runner.Register("plan_day", func(_ context.Context, task *entity.Task) (string, error) {
		focus, _ := task.Parameters["priority"].(string)
		if focus == "" {
			return "day planned", nil
		}
		return fmt.Sprintf("day planned around %s", focus), nil
	})
	runner.Register("follow_up", func(_ context.Context, task *entity.Task) (string, error) {
		topic, _ := task.Parameters["topic"].(string)
		if topic == "" {
			topic = "previous conversation"
		}
		return fmt.Sprintf("follow-up scheduled on %s", topic), nil
	})
}
