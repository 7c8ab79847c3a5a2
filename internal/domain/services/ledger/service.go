// Package ledger records each (transaction, direction) pair exactly once.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/walletwatch/volume_watcher/internal/domain/entities"
	"github.com/walletwatch/volume_watcher/internal/domain/repositories"
	"github.com/walletwatch/volume_watcher/pkg/logger"
	"github.com/walletwatch/volume_watcher/pkg/metrics"
)

// DefaultRetention is how long ledger entries are kept before reaping
const DefaultRetention = 7 * 24 * time.Hour

// Service is the idempotency accessor over the store
type Service struct {
	store     repositories.Store
	retention time.Duration
	logger    *logger.Logger
}

// NewService creates a new ledger service
func NewService(store repositories.Store, retention time.Duration, logger *logger.Logger) *Service {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Service{
		store:     store,
		retention: retention,
		logger:    logger,
	}
}

// RecordIfNew writes the entry if its (txId, direction) key has never been seen.
// A duplicate returns alreadyProcessed=true with a nil error.
func (s *Service) RecordIfNew(ctx context.Context, entry entities.LedgerEntry) (bool, error) {
	if err := entry.Direction.Validate(); err != nil {
		return false, fmt.Errorf("validate entry: %w", err)
	}
	if entry.ExpiresAt == 0 {
		entry.ExpiresAt = entry.Timestamp + int64(s.retention/time.Second)
	}

	start := time.Now()
	err := s.store.ConditionalCreate(ctx, repositories.Item{
		Key:       repositories.Key{Partition: entry.PartitionKey(), Sort: 0},
		TxID:      entry.TxID,
		Direction: string(entry.Direction),
		Wallet:    entry.Wallet,
		Amount:    entry.Amount,
		UpdatedAt: entry.Timestamp,
		ExpiresAt: entry.ExpiresAt,
	})
	metrics.StoreOperationDuration.WithLabelValues("ledger", "conditional_create").Observe(time.Since(start).Seconds())

	if errors.Is(err, repositories.ErrAlreadyExists) {
		s.logger.Debug("Duplicate ledger entry skipped",
			"tx_id", entry.TxID,
			"direction", entry.Direction)
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("record ledger entry %s: %w", entry.PartitionKey(), err)
	}
	return false, nil
}
