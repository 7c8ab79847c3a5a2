// Package window maintains fixed-size time buckets per (direction, wallet) and
// folds them into rolling sums.
//
// A contribution may stay inside a window up to one bucket width longer than
// the window length. Reads cost O(window/bucket) regardless of event volume.
package window

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/walletwatch/volume_watcher/internal/domain/entities"
	"github.com/walletwatch/volume_watcher/internal/domain/repositories"
	"github.com/walletwatch/volume_watcher/pkg/metrics"
)

// Precision is the number of fractional digits kept in contributions and sums
const Precision int32 = 9

// DefaultBucketSize is the bucket width used when none is configured
const DefaultBucketSize = 60 * time.Second

// Config sizes the window
type Config struct {
	Window          time.Duration
	BucketSize      time.Duration
	BucketRetention time.Duration
}

// Aggregator adds contributions to buckets and computes windowed sums
type Aggregator struct {
	store     repositories.Store
	windowSec int64
	bucketSec int64
	retainSec int64
}

// AlignToBucket floors epoch to a multiple of size. Negative epochs floor toward
// minus infinity so every bucket spans exactly size seconds.
func AlignToBucket(epoch, size int64) int64 {
	if size <= 0 {
		return epoch
	}
	q := epoch / size
	if epoch%size != 0 && epoch < 0 {
		q--
	}
	return q * size
}

// NewAggregator creates an aggregator. Retention defaults to window + 2 buckets.
func NewAggregator(store repositories.Store, cfg Config) (*Aggregator, error) {
	if cfg.BucketSize <= 0 {
		cfg.BucketSize = DefaultBucketSize
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %s", cfg.Window)
	}
	if cfg.BucketRetention <= 0 {
		cfg.BucketRetention = cfg.Window + 2*cfg.BucketSize
	}
	if cfg.BucketRetention < cfg.Window+cfg.BucketSize {
		return nil, fmt.Errorf("bucket retention %s shorter than window plus one bucket (%s)",
			cfg.BucketRetention, cfg.Window+cfg.BucketSize)
	}
	return &Aggregator{
		store:     store,
		windowSec: int64(cfg.Window / time.Second),
		bucketSec: int64(cfg.BucketSize / time.Second),
		retainSec: int64(cfg.BucketRetention / time.Second),
	}, nil
}

// WindowSeconds returns the configured window length
func (a *Aggregator) WindowSeconds() int64 {
	return a.windowSec
}

// AddContribution additively upserts the bucket containing now
func (a *Aggregator) AddContribution(ctx context.Context, direction entities.Direction, wallet string, amount decimal.Decimal, now int64) error {
	if amount.IsNegative() {
		return fmt.Errorf("negative contribution %s", amount)
	}
	delta := amount.Round(Precision)
	key := repositories.Key{
		Partition: entities.WalletPartition(direction, wallet),
		Sort:      AlignToBucket(now, a.bucketSec),
	}
	expiresAt := now + a.retainSec

	start := time.Now()
	err := a.store.ConditionalUpdate(ctx, key, func(cur *repositories.Item) *repositories.Item {
		next := repositories.Item{
			Direction: string(direction),
			Wallet:    wallet,
			Sum:       delta,
			UpdatedAt: now,
			ExpiresAt: expiresAt,
		}
		if cur != nil {
			next.Sum = cur.Sum.Add(delta)
			if cur.ExpiresAt > expiresAt {
				next.ExpiresAt = cur.ExpiresAt
			}
		}
		return &next
	}, repositories.Always)
	metrics.StoreOperationDuration.WithLabelValues("window", "add_contribution").Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("add contribution to %s@%d: %w", key.Partition, key.Sort, err)
	}
	return nil
}

// WindowSum folds every bucket in [align(now-window), align(now)]
func (a *Aggregator) WindowSum(ctx context.Context, direction entities.Direction, wallet string, now int64) (decimal.Decimal, error) {
	partition := entities.WalletPartition(direction, wallet)
	from := AlignToBucket(now-a.windowSec, a.bucketSec)
	to := AlignToBucket(now, a.bucketSec)

	start := time.Now()
	items, err := a.store.Query(ctx, partition, from, to)
	metrics.StoreOperationDuration.WithLabelValues("window", "query").Observe(time.Since(start).Seconds())
	if err != nil {
		return decimal.Zero, fmt.Errorf("query window %s [%d,%d]: %w", partition, from, to, err)
	}

	sum := decimal.Zero
	for _, it := range items {
		if it.Key.Sort == entities.CooldownSortKey {
			continue
		}
		sum = sum.Add(it.Sum)
	}
	return sum.Round(Precision), nil
}

// Bucket returns the stored bucket for tests and diagnostics
func (a *Aggregator) Bucket(ctx context.Context, direction entities.Direction, wallet string, bucketStart int64) (*entities.WalletBucket, error) {
	items, err := a.store.Query(ctx, entities.WalletPartition(direction, wallet), bucketStart, bucketStart)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &entities.WalletBucket{
		Direction:   direction,
		Wallet:      wallet,
		BucketStart: bucketStart,
		Sum:         items[0].Sum,
		UpdatedAt:   items[0].UpdatedAt,
		ExpiresAt:   items[0].ExpiresAt,
	}, nil
}
