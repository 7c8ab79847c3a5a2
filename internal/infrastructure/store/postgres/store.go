// Package postgres implements the item store on a single Postgres table.
// Conditional creates use ON CONFLICT DO NOTHING; conditional updates lock
// the row with SELECT ... FOR UPDATE inside a transaction.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/walletwatch/volume_watcher/internal/domain/repositories"
	"github.com/walletwatch/volume_watcher/internal/infrastructure/database"
	"github.com/walletwatch/volume_watcher/pkg/tracing"
)

const (
	table = "store_items"

	// maxInsertRaces bounds retries when a concurrent writer creates the row first
	maxInsertRaces = 3
)

type itemRow struct {
	PartitionKey string          `db:"partition_key"`
	SortKey      int64           `db:"sort_key"`
	TxID         string          `db:"tx_id"`
	Direction    string          `db:"direction"`
	Wallet       string          `db:"wallet"`
	Amount       decimal.Decimal `db:"amount"`
	SumAmount    decimal.Decimal `db:"sum_amount"`
	LastAlertAt  int64           `db:"last_alert_at"`
	UpdatedAt    int64           `db:"updated_at"`
	ExpiresAt    int64           `db:"expires_at"`
}

func toRow(key repositories.Key, it repositories.Item) itemRow {
	return itemRow{
		PartitionKey: key.Partition,
		SortKey:      key.Sort,
		TxID:         it.TxID,
		Direction:    it.Direction,
		Wallet:       it.Wallet,
		Amount:       it.Amount,
		SumAmount:    it.Sum,
		LastAlertAt:  it.LastAlertAt,
		UpdatedAt:    it.UpdatedAt,
		ExpiresAt:    it.ExpiresAt,
	}
}

func (r itemRow) item() repositories.Item {
	return repositories.Item{
		Key:         repositories.Key{Partition: r.PartitionKey, Sort: r.SortKey},
		TxID:        r.TxID,
		Direction:   r.Direction,
		Wallet:      r.Wallet,
		Amount:      r.Amount,
		Sum:         r.SumAmount,
		LastAlertAt: r.LastAlertAt,
		UpdatedAt:   r.UpdatedAt,
		ExpiresAt:   r.ExpiresAt,
	}
}

const (
	insertIfAbsentQuery = `
		INSERT INTO store_items (
			partition_key, sort_key, tx_id, direction, wallet, amount,
			sum_amount, last_alert_at, updated_at, expires_at
		) VALUES (
			:partition_key, :sort_key, :tx_id, :direction, :wallet, :amount,
			:sum_amount, :last_alert_at, :updated_at, :expires_at
		)
		ON CONFLICT (partition_key, sort_key) DO NOTHING`

	selectForUpdateQuery = `
		SELECT partition_key, sort_key, tx_id, direction, wallet, amount,
		       sum_amount, last_alert_at, updated_at, expires_at
		FROM store_items
		WHERE partition_key = $1 AND sort_key = $2
		FOR UPDATE`

	updateQuery = `
		UPDATE store_items SET
			tx_id = :tx_id, direction = :direction, wallet = :wallet, amount = :amount,
			sum_amount = :sum_amount, last_alert_at = :last_alert_at,
			updated_at = :updated_at, expires_at = :expires_at
		WHERE partition_key = :partition_key AND sort_key = :sort_key`

	rangeQuery = `
		SELECT partition_key, sort_key, tx_id, direction, wallet, amount,
		       sum_amount, last_alert_at, updated_at, expires_at
		FROM store_items
		WHERE partition_key = $1 AND sort_key BETWEEN $2 AND $3
		ORDER BY sort_key`

	deleteExpiredQuery = `DELETE FROM store_items WHERE expires_at > 0 AND expires_at <= $1`
)

// Store is a Postgres backed repositories.Store
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore creates a new Postgres store
func NewStore(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// ConditionalCreate implements repositories.Store
func (s *Store) ConditionalCreate(ctx context.Context, item repositories.Item) error {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{Operation: "INSERT", Table: table})
	defer span.End()

	res, err := s.db.NamedExecContext(ctx, insertIfAbsentQuery, toRow(item.Key, item))
	if err != nil {
		tracing.EndDBSpan(span, err, 0)
		s.logger.Error("Failed to insert store item",
			zap.String("partition", item.Key.Partition),
			zap.Error(err))
		return fmt.Errorf("insert item: %w", err)
	}
	n, err := res.RowsAffected()
	tracing.EndDBSpan(span, err, n)
	if err != nil {
		return fmt.Errorf("insert item rows affected: %w", err)
	}
	if n == 0 {
		return repositories.ErrAlreadyExists
	}
	return nil
}

// ConditionalUpdate implements repositories.Store
func (s *Store) ConditionalUpdate(ctx context.Context, key repositories.Key, mutate repositories.Mutation, precondition repositories.Precondition) error {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{Operation: "UPDATE", Table: table})
	defer span.End()

	for attempt := 0; attempt < maxInsertRaces; attempt++ {
		raced := false
		err := database.WithTransaction(ctx, s.db, func(tx *sqlx.Tx) error {
			var cur *repositories.Item
			var row itemRow
			err := tx.GetContext(ctx, &row, selectForUpdateQuery, key.Partition, key.Sort)
			switch {
			case errors.Is(err, sql.ErrNoRows):
			case err != nil:
				return fmt.Errorf("select item for update: %w", err)
			default:
				it := row.item()
				cur = &it
			}

			if precondition != nil && !precondition(cur) {
				return repositories.ErrPreconditionFailed
			}
			next := mutate(cur)
			if next == nil {
				return nil
			}

			if cur != nil {
				if _, err := tx.NamedExecContext(ctx, updateQuery, toRow(key, *next)); err != nil {
					return fmt.Errorf("update item: %w", err)
				}
				return nil
			}

			// Absent rows cannot be locked; a concurrent insert shows up as zero rows affected.
			res, err := tx.NamedExecContext(ctx, insertIfAbsentQuery, toRow(key, *next))
			if err != nil {
				return fmt.Errorf("insert item: %w", err)
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				raced = true
			}
			return nil
		})
		if err != nil {
			if !errors.Is(err, repositories.ErrPreconditionFailed) {
				tracing.EndDBSpan(span, err, 0)
			}
			return err
		}
		if !raced {
			tracing.EndDBSpan(span, nil, 1)
			return nil
		}
		s.logger.Debug("Concurrent insert detected, retrying conditional update",
			zap.String("partition", key.Partition),
			zap.Int64("sort", key.Sort),
			zap.Int("attempt", attempt+1))
	}

	err := fmt.Errorf("conditional update on %s@%d lost %d insert races", key.Partition, key.Sort, maxInsertRaces)
	tracing.EndDBSpan(span, err, 0)
	return err
}

// Query implements repositories.Store
func (s *Store) Query(ctx context.Context, partition string, from, to int64) ([]repositories.Item, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{Operation: "SELECT", Table: table})
	defer span.End()

	var rows []itemRow
	if err := s.db.SelectContext(ctx, &rows, rangeQuery, partition, from, to); err != nil {
		tracing.EndDBSpan(span, err, 0)
		return nil, fmt.Errorf("query items: %w", err)
	}
	tracing.EndDBSpan(span, nil, int64(len(rows)))

	items := make([]repositories.Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.item())
	}
	return items, nil
}

// DeleteExpired implements repositories.Store
func (s *Store) DeleteExpired(ctx context.Context, now int64) (int64, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{Operation: "DELETE", Table: table})
	defer span.End()

	res, err := s.db.ExecContext(ctx, deleteExpiredQuery, now)
	if err != nil {
		tracing.EndDBSpan(span, err, 0)
		return 0, fmt.Errorf("delete expired items: %w", err)
	}
	n, err := res.RowsAffected()
	tracing.EndDBSpan(span, err, n)
	return n, err
}

var _ repositories.Store = (*Store)(nil)
