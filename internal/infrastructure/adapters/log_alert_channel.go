package adapters

import (
	"context"

	"go.uber.org/zap"

	"github.com/walletwatch/volume_watcher/internal/domain/entities"
)

// LogAlertChannel writes alerts to the log; used for local runs
type LogAlertChannel struct {
	appName string
	logger  *zap.Logger
}

// NewLogAlertChannel creates a log-only channel
func NewLogAlertChannel(appName string, logger *zap.Logger) *LogAlertChannel {
	return &LogAlertChannel{appName: appName, logger: logger}
}

// Name identifies the channel in metrics
func (l *LogAlertChannel) Name() string { return "log" }

// Publish implements ingest.AlertChannel
func (l *LogAlertChannel) Publish(_ context.Context, alert *entities.ThresholdAlertIntent) error {
	l.logger.Warn("Threshold alert",
		zap.String("app", l.appName),
		zap.String("wallet", alert.Wallet),
		zap.String("direction", string(alert.Direction)),
		zap.String("total", alert.TotalEth.String()),
		zap.Int64("window_sec", alert.WindowSec),
		zap.String("tx_hash", alert.TxHash),
		zap.String("request_id", alert.RequestID))
	return nil
}
