package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/walletwatch/volume_watcher/internal/infrastructure/adapters"
	"github.com/walletwatch/volume_watcher/internal/infrastructure/config"
	"github.com/walletwatch/volume_watcher/internal/workers/notification_worker"
	"github.com/walletwatch/volume_watcher/pkg/logger"
	"github.com/walletwatch/volume_watcher/pkg/retry"
	"github.com/walletwatch/volume_watcher/pkg/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	webhookURL := cfg.Notifier.SlackWebhookURL
	if webhookURL == "" {
		webhookURL = cfg.Alerts.SlackWebhookURL
	}
	if cfg.Notifier.QueueURL == "" || webhookURL == "" {
		log.Fatal("Notifier requires notifier.queue_url and a Slack webhook URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Alerts.AWSRegion))
	if err != nil {
		log.Fatal("Failed to load AWS config", "error", err)
	}

	policy := retry.DefaultPolicy()
	if cfg.Notifier.MaxAttempts > 0 {
		policy.MaxRetries = cfg.Notifier.MaxAttempts - 1
	}

	slack := adapters.NewSlackNotifier(webhookURL, cfg.AppName, nil, log.Zap())
	worker := notification_worker.NewWorker(sqs.NewFromConfig(awsCfg), slack, notification_worker.Config{
		QueueURL:          cfg.Notifier.QueueURL,
		MaxMessages:       cfg.Notifier.MaxMessages,
		WaitTimeSeconds:   cfg.Notifier.WaitTimeSeconds,
		VisibilityTimeout: cfg.Notifier.VisibilityTimeoutSeconds,
		Retry:             policy,
	}, log.Zap())

	log.Info("Notifier starting",
		"queue", cfg.Notifier.QueueURL,
		"slack_webhook", security.MaskURL(webhookURL),
		"max_attempts", policy.MaxRetries+1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Start(ctx)
	}()

	<-ctx.Done()
	log.Info("Shutting down notifier...")

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn("Notifier did not stop in time")
	}
}
