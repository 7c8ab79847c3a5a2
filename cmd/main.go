package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/walletwatch/volume_watcher/internal/api/routes"
	"github.com/walletwatch/volume_watcher/internal/infrastructure/config"
	"github.com/walletwatch/volume_watcher/internal/infrastructure/di"
	"github.com/walletwatch/volume_watcher/internal/workers/retention_worker"
	"github.com/walletwatch/volume_watcher/pkg/graceful"
	"github.com/walletwatch/volume_watcher/pkg/logger"
	"github.com/walletwatch/volume_watcher/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	ctx := context.Background()

	tracingShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.AppName,
		ServiceVersion: routes.Version,
		CollectorURL:   cfg.Tracing.CollectorURL,
		Environment:    cfg.Environment,
		SampleRate:     cfg.Tracing.SampleRate,
		Insecure:       cfg.Tracing.Insecure,
	}, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	container, err := di.NewContainer(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create DI container", "error", err)
	}

	router := routes.SetupRoutes(container)

	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	shutdown := graceful.NewShutdownManager(server, 30*time.Second, log)
	shutdown.OnClose(func() error { return tracingShutdown(context.Background()) })
	shutdown.OnClose(container.Close)

	// Redis expires keys natively; the reaper only runs for stores without TTL
	if cfg.Workers.RetentionEnabled && cfg.Store.Driver != "redis" {
		reaper := retention_worker.NewWorker(container.Store, cfg.Workers.RetentionSchedule, log.Zap())
		if err := reaper.Start(); err != nil {
			log.Fatal("Failed to start retention worker", "error", err)
		}
		shutdown.Register(reaper)
	}

	go func() {
		log.Info("Starting server",
			"addr", server.Addr,
			"environment", cfg.Environment,
			"webhook_path", cfg.Webhook.Path,
			"store", cfg.Store.Driver,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	shutdown.WaitForShutdown()
}
