package server

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/engramlabs/engram-backend/internal/http/handlers"
	"github.com/engramlabs/engram-backend/internal/http/middleware"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log                *logger.Logger
	AuthMiddleware     *middleware.AuthMiddleware
	HealthHandler      *handlers.HealthHandler
	MemoryHandler      *handlers.MemoryHandler
	MaintenanceHandler *handlers.MaintenanceHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(otelgin.Middleware("engram"))
	router.Use(middleware.AttachTraceContext())
	router.Use(middleware.RequestLogger(cfg.Log))

	router.GET("/healthz", cfg.HealthHandler.HealthCheck)

	v1 := router.Group("/v1")
	v1.Use(cfg.AuthMiddleware.RequireAuth())

	mem := v1.Group("/memory")
	{
		mem.POST("/conversations", cfg.MemoryHandler.IngestConversation)
		mem.POST("/documents", cfg.MemoryHandler.IngestDocument)
		mem.POST("/search", cfg.MemoryHandler.Search)
		mem.GET("/day/:date", cfg.MemoryHandler.QueryDay)
		mem.POST("/nodes/query", cfg.MemoryHandler.QueryNodeType)
		mem.POST("/graph/query", cfg.MemoryHandler.QueryGraph)
		mem.GET("/atlas", cfg.MemoryHandler.QueryAtlas)
	}

	maint := v1.Group("/maintenance")
	{
		maint.POST("/summarize", cfg.MaintenanceHandler.Summarize)
		maint.POST("/dream", cfg.MaintenanceHandler.Dream)
		maint.POST("/cleanup", cfg.MaintenanceHandler.Cleanup)
		maint.POST("/truncate-labels", cfg.MaintenanceHandler.TruncateLabels)
	}

	return router
}
