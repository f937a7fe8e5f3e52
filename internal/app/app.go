package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/engramlabs/engram-backend/internal/data/db"
	"github.com/engramlabs/engram-backend/internal/data/repos"
	"github.com/engramlabs/engram-backend/internal/http/handlers"
	"github.com/engramlabs/engram-backend/internal/http/middleware"
	"github.com/engramlabs/engram-backend/internal/jobs/pipeline/cleanup_graph"
	"github.com/engramlabs/engram-backend/internal/jobs/pipeline/deep_research"
	"github.com/engramlabs/engram-backend/internal/jobs/pipeline/dream"
	"github.com/engramlabs/engram-backend/internal/jobs/pipeline/ingest_conversation"
	"github.com/engramlabs/engram-backend/internal/jobs/pipeline/ingest_document"
	summarizepipe "github.com/engramlabs/engram-backend/internal/jobs/pipeline/summarize"
	"github.com/engramlabs/engram-backend/internal/jobs/queue"
	"github.com/engramlabs/engram-backend/internal/jobs/runtime"
	"github.com/engramlabs/engram-backend/internal/jobs/worker"
	"github.com/engramlabs/engram-backend/internal/modules/memory"
	"github.com/engramlabs/engram-backend/internal/platform/jina"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
	"github.com/engramlabs/engram-backend/internal/platform/objstore"
	"github.com/engramlabs/engram-backend/internal/platform/openai"
	"github.com/engramlabs/engram-backend/internal/platform/redisx"
	"github.com/engramlabs/engram-backend/internal/server"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	DB       *gorm.DB
	Redis    *goredis.Client
	Router   *gin.Engine
	Worker   *worker.Worker
	Usecases memory.Usecases
}

func New(ctx context.Context) (*App, error) {
	cfg := LoadConfig()

	log, err := logger.New(cfg.Env, cfg.DebugLogs)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	handle, err := db.Open(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if cfg.RunMigrations {
		if err := db.Migrate(handle, log); err != nil {
			log.Sync()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	rdb, err := redisx.NewClient(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	ai, err := openai.NewClient(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init openai client: %w", err)
	}
	embedder, err := jina.NewClient(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init jina client: %w", err)
	}
	archive, err := objstore.New(ctx, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init object store: %w", err)
	}

	reposet := repos.NewAll(handle, log)
	q := queue.New(rdb, log, cfg.JobMaxAttempts)

	registry := runtime.NewRegistry()
	pipelines := []runtime.Handler{
		ingest_conversation.New(reposet, embedder, ai, rdb, q, log, cfg.GraphExtractionModelID),
		ingest_document.New(reposet, embedder, ai, archive, log, cfg.GraphExtractionModelID),
		summarizepipe.New(reposet, ai, embedder, log),
		dream.New(reposet, ai, embedder, log, cfg.DreamProbability, cfg.DreamSelectionProbability),
		deep_research.New(reposet, embedder, ai, rdb, log),
		cleanup_graph.New(handle, reposet, ai, embedder, log),
	}
	for _, p := range pipelines {
		if err := registry.Register(p); err != nil {
			log.Sync()
			return nil, fmt.Errorf("register pipeline: %w", err)
		}
	}
	w := worker.New(q, registry, log, cfg.WorkerConcurrency)

	usecases := memory.New(memory.UsecasesDeps{
		DB:       handle,
		Log:      log,
		Repos:    reposet,
		AI:       ai,
		Embedder: embedder,
		Redis:    rdb,
		Jobs:     q,
	})

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := server.NewRouter(server.RouterConfig{
		Log:                log,
		AuthMiddleware:     middleware.NewAuthMiddleware(log, cfg.JWTSecret),
		HealthHandler:      handlers.NewHealthHandler(),
		MemoryHandler:      handlers.NewMemoryHandler(usecases, log),
		MaintenanceHandler: handlers.NewMaintenanceHandler(usecases, log),
	})

	return &App{
		Log:      log,
		Cfg:      cfg,
		DB:       handle,
		Redis:    rdb,
		Router:   router,
		Worker:   w,
		Usecases: usecases,
	}, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
