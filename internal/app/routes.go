package app

import (
	"github.com/gin-gonic/gin"
	"github.com/mx-space/chaptr/internal/middleware"
	"github.com/mx-space/chaptr/internal/modules/document"
	"github.com/mx-space/chaptr/internal/modules/processing/ai"
	"github.com/mx-space/chaptr/internal/pkg/response"
)

func (a *App) registerRoutes() {
	r := a.router
	r.NoRoute(func(c *gin.Context) { response.NotFound(c) })
	r.NoMethod(func(c *gin.Context) { response.MethodNotAllowed(c) })

	r.GET("/health", a.health)

	api := r.Group("/api/v2")
	api.GET("/health", a.health)

	var (
		counter middleware.RateCounter
		idem    middleware.IdempotenceStore
	)
	if a.redis != nil {
		counter = a.redis.Raw()
		idem = a.redis.Raw()
	}
	api.Use(middleware.RateLimit(counter, middleware.RateLimitOptions{
		Max:    a.cfg.RateLimit.Max,
		Window: a.cfg.RateLimit.Window,
		Scope:  "api",
	}))

	document.NewHandler(a.store).RegisterRoutes(api)
	// Chat messages may legitimately repeat, so only analysis is deduplicated.
	ai.NewHandler(a.ai, a.logger, a.cfg.MaxUploadBytes()).RegisterRoutes(api, middleware.Idempotence(idem))
}
