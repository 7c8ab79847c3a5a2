package retention_worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/walletwatch/volume_watcher/internal/domain/repositories"
	"github.com/walletwatch/volume_watcher/internal/infrastructure/store/memory"
)

type failingReaper struct{}

func (failingReaper) DeleteExpired(context.Context, int64) (int64, error) {
	return 0, errors.New("connection reset")
}

func TestRunOnce_RemovesExpiredItems(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	for i, expires := range []int64{900, 1000, 1100, 0} {
		require.NoError(t, store.ConditionalCreate(ctx, repositories.Item{
			Key:       repositories.Key{Partition: "p", Sort: int64(i)},
			Amount:    decimal.NewFromInt(1),
			ExpiresAt: expires,
		}))
	}

	w := NewWorker(store, "", zap.NewNop())
	w.clock = func() time.Time { return time.Unix(1000, 0) }

	deleted, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.Equal(t, 2, store.Len())
}

func TestRunOnce_PropagatesError(t *testing.T) {
	w := NewWorker(failingReaper{}, "@every 1h", zap.NewNop())
	_, err := w.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestStartAndShutdown(t *testing.T) {
	w := NewWorker(memory.NewStore(), "@every 1h", zap.NewNop())
	require.NoError(t, w.Start())
	assert.NoError(t, w.Shutdown(context.Background()))
}

func TestStart_InvalidSchedule(t *testing.T) {
	w := NewWorker(memory.NewStore(), "not a schedule", zap.NewNop())
	assert.Error(t, w.Start())
}
