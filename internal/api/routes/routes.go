package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/walletwatch/volume_watcher/internal/api/handlers"
	"github.com/walletwatch/volume_watcher/internal/api/middleware"
	"github.com/walletwatch/volume_watcher/internal/infrastructure/di"
)

// Version is reported by the health endpoint
var Version = "dev"

// SetupRoutes configures all application routes
func SetupRoutes(container *di.Container) *gin.Engine {
	cfg := container.Config
	router := gin.New()

	router.Use(otelgin.Middleware(cfg.AppName))
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(middleware.Logger(container.Logger))
	router.Use(middleware.Recovery(container.Logger))

	checks := make(map[string]handlers.HealthCheck, len(container.HealthChecks))
	for name, check := range container.HealthChecks {
		checks[name] = check
	}
	health := handlers.NewHealthHandler(checks, Version, container.Logger.Zap())
	router.GET("/health", health.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	webhook := handlers.NewWebhookHandler(container.Ingest, cfg.Webhook.SigningKey, cfg.Server.MaxBodyBytes, container.Logger)
	router.POST(cfg.Webhook.Path, middleware.RateLimit(cfg.Server.RateLimitPerMin), webhook.HandleAddressActivity)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "status": "error", "message": "not found"})
	})

	return router
}
