package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mx-space/chaptr/internal/config"
	"github.com/mx-space/chaptr/internal/database"
	"github.com/mx-space/chaptr/internal/middleware"
	"github.com/mx-space/chaptr/internal/modules/document"
	"github.com/mx-space/chaptr/internal/modules/processing/ai"
	pkgredis "github.com/mx-space/chaptr/internal/pkg/redis"
	"github.com/mx-space/chaptr/internal/pkg/taskqueue"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds all application dependencies.
type App struct {
	cfg    *config.AppConfig
	router *gin.Engine
	db     *gorm.DB
	redis  *pkgredis.Client
	store  document.Store
	queue  taskqueue.Queue
	ai     *ai.Service
	logger *zap.Logger
}

// New wires config → DB → Redis → services → routes. Without a DSN documents
// live in memory; without Redis tasks run in process and rate limiting is off.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	if cfg.DSN != "" {
		db, err := database.Connect(cfg, true)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		a.db = db
		a.store = document.NewGormStore(db)
	} else {
		logger.Warn("no database configured, documents are kept in memory")
		a.store = document.NewMemoryStore()
	}

	if cfg.RedisURL != "" {
		rc, err := pkgredis.Connect(cfg.RedisURL)
		if err != nil {
			_ = database.Close(a.db)
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.redis = rc
		a.queue = taskqueue.NewRedisQueue(rc)
	} else {
		a.queue = taskqueue.NewMemoryQueue()
	}

	httpClient := &http.Client{Transport: http.DefaultTransport}
	router := ai.NewRouter(
		ai.NewStructuredAnalyzer(httpClient, logger),
		ai.NewCompletionAnalyzer(httpClient, logger),
	)
	a.ai = ai.NewService(router, a.store, a.queue, logger, cfg.AI, cfg.MaxInputRunes)

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	a.router = gin.New()
	a.router.HandleMethodNotAllowed = true
	a.router.Use(gin.Recovery())
	a.router.Use(middleware.Logger(logger))
	a.router.Use(cors.New(corsConfig(cfg)))

	a.registerRoutes()
	return a, nil
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown closes the database pool and the Redis client.
func (a *App) Shutdown() {
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("close database", zap.Error(err))
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
}

func (a *App) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{"database": "memory", "redis": "disabled"}
	if a.db != nil {
		checks["database"] = "ok"
		if sqlDB, err := a.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			checks["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	if a.redis != nil {
		checks["redis"] = "ok"
		if err := a.redis.Ping(ctx); err != nil {
			checks["redis"] = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, gin.H{"ok": status == http.StatusOK, "checks": checks})
}
