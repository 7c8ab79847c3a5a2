// Package cooldown decides atomically whether an alert may fire for a
// (direction, wallet) key given a minimum quiet period.
package cooldown

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/walletwatch/volume_watcher/internal/domain/entities"
	"github.com/walletwatch/volume_watcher/internal/domain/repositories"
	"github.com/walletwatch/volume_watcher/pkg/metrics"
)

// Gate stores cooldown markers at the reserved sentinel position of the bucket partition
type Gate struct {
	store       repositories.Store
	cooldownSec int64
	retainSec   int64
}

// NewGate creates a gate. Markers expire after retention; a zero retention keeps them forever.
func NewGate(store repositories.Store, cooldown, retention time.Duration) *Gate {
	return &Gate{
		store:       store,
		cooldownSec: int64(cooldown / time.Second),
		retainSec:   int64(retention / time.Second),
	}
}

// TryAcquire sets lastAlert=now if no marker exists or the previous alert is
// strictly older than the cooldown. It reports whether the slot was acquired.
func (g *Gate) TryAcquire(ctx context.Context, direction entities.Direction, wallet string, now int64) (bool, error) {
	key := repositories.Key{
		Partition: entities.WalletPartition(direction, wallet),
		Sort:      entities.CooldownSortKey,
	}

	start := time.Now()
	err := g.store.ConditionalUpdate(ctx, key,
		func(cur *repositories.Item) *repositories.Item {
			next := repositories.Item{
				Direction:   string(direction),
				Wallet:      wallet,
				LastAlertAt: now,
				UpdatedAt:   now,
			}
			if g.retainSec > 0 {
				next.ExpiresAt = now + g.cooldownSec + g.retainSec
			}
			return &next
		},
		func(cur *repositories.Item) bool {
			return cur == nil || now-cur.LastAlertAt > g.cooldownSec
		})
	metrics.StoreOperationDuration.WithLabelValues("cooldown", "try_acquire").Observe(time.Since(start).Seconds())

	if errors.Is(err, repositories.ErrPreconditionFailed) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire cooldown %s: %w", key.Partition, err)
	}
	return true, nil
}

// Marker returns the current cooldown marker, or nil when none exists
func (g *Gate) Marker(ctx context.Context, direction entities.Direction, wallet string) (*entities.CooldownMarker, error) {
	items, err := g.store.Query(ctx, entities.WalletPartition(direction, wallet), entities.CooldownSortKey, entities.CooldownSortKey)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &entities.CooldownMarker{Direction: direction, Wallet: wallet, LastAlertAt: items[0].LastAlertAt}, nil
}
