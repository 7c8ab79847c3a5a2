package retention_worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/walletwatch/volume_watcher/pkg/metrics"
)

// Reaper removes expired ledger entries, buckets and cooldown markers
type Reaper interface {
	DeleteExpired(ctx context.Context, now int64) (int64, error)
}

// Worker periodically sweeps stores that have no native TTL
type Worker struct {
	reaper   Reaper
	schedule string
	clock    func() time.Time
	cron     *cron.Cron
	logger   *zap.Logger
}

func NewWorker(reaper Reaper, schedule string, logger *zap.Logger) *Worker {
	if schedule == "" {
		schedule = "@every 10m"
	}
	return &Worker{
		reaper:   reaper,
		schedule: schedule,
		clock:    time.Now,
		cron:     cron.New(),
		logger:   logger,
	}
}

func (w *Worker) Start() error {
	if _, err := w.cron.AddFunc(w.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		_, _ = w.RunOnce(ctx)
	}); err != nil {
		return err
	}

	w.cron.Start()
	w.logger.Info("Retention worker started", zap.String("schedule", w.schedule))
	return nil
}

// RunOnce performs a single sweep
func (w *Worker) RunOnce(ctx context.Context) (int64, error) {
	deleted, err := w.reaper.DeleteExpired(ctx, w.clock().Unix())
	if err != nil {
		w.logger.Error("Failed to delete expired items", zap.Error(err))
		return 0, err
	}
	metrics.RetentionDeletedTotal.Add(float64(deleted))
	if deleted > 0 {
		w.logger.Info("Expired items deleted", zap.Int64("count", deleted))
	}
	return deleted, nil
}

// Shutdown stops the scheduler and waits for a running sweep
func (w *Worker) Shutdown(ctx context.Context) error {
	stopped := w.cron.Stop()
	select {
	case <-stopped.Done():
		w.logger.Info("Retention worker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
