// Package redisstore implements the item store on Redis.
//
// Each item is a JSON string under {partition}:<sort>; a sorted set
// {partition}:idx indexes sort keys for range queries. The hash tag keeps an
// item and its index in one cluster slot so they can be watched together.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/walletwatch/volume_watcher/internal/domain/repositories"
	"github.com/walletwatch/volume_watcher/pkg/tracing"
)

const maxTxRetries = 10

type record struct {
	TxID        string          `json:"txId,omitempty"`
	Direction   string          `json:"direction,omitempty"`
	Wallet      string          `json:"wallet,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Sum         decimal.Decimal `json:"sum"`
	LastAlertAt int64           `json:"lastAlert,omitempty"`
	UpdatedAt   int64           `json:"updatedAt,omitempty"`
	ExpiresAt   int64           `json:"expiresAt,omitempty"`
}

func encode(it repositories.Item) ([]byte, error) {
	return json.Marshal(record{
		TxID:        it.TxID,
		Direction:   it.Direction,
		Wallet:      it.Wallet,
		Amount:      it.Amount,
		Sum:         it.Sum,
		LastAlertAt: it.LastAlertAt,
		UpdatedAt:   it.UpdatedAt,
		ExpiresAt:   it.ExpiresAt,
	})
}

func decode(key repositories.Key, raw string) (repositories.Item, error) {
	var r record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return repositories.Item{}, fmt.Errorf("decode item %s@%d: %w", key.Partition, key.Sort, err)
	}
	return repositories.Item{
		Key:         key,
		TxID:        r.TxID,
		Direction:   r.Direction,
		Wallet:      r.Wallet,
		Amount:      r.Amount,
		Sum:         r.Sum,
		LastAlertAt: r.LastAlertAt,
		UpdatedAt:   r.UpdatedAt,
		ExpiresAt:   r.ExpiresAt,
	}, nil
}

// Store is a Redis backed repositories.Store
type Store struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
}

// NewStore creates a Redis store; prefix namespaces every key
func NewStore(client redis.UniversalClient, prefix string, logger *zap.Logger) *Store {
	return &Store{client: client, prefix: prefix, logger: logger}
}

func (s *Store) itemKey(partition string, sort int64) string {
	return fmt.Sprintf("%s:{%s}:%d", s.prefix, partition, sort)
}

func (s *Store) indexKey(partition string) string {
	return fmt.Sprintf("%s:{%s}:idx", s.prefix, partition)
}

// ConditionalCreate implements repositories.Store
func (s *Store) ConditionalCreate(ctx context.Context, item repositories.Item) error {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{System: "redis", Operation: "SET NX", Table: item.Key.Partition})
	defer span.End()

	payload, err := encode(item)
	if err != nil {
		return err
	}
	args := redis.SetArgs{Mode: "NX"}
	if item.ExpiresAt > 0 {
		args.ExpireAt = time.Unix(item.ExpiresAt, 0)
	}

	err = s.client.SetArgs(ctx, s.itemKey(item.Key.Partition, item.Key.Sort), payload, args).Err()
	if errors.Is(err, redis.Nil) {
		tracing.EndDBSpan(span, nil, 0)
		return repositories.ErrAlreadyExists
	}
	if err != nil {
		tracing.EndDBSpan(span, err, 0)
		return fmt.Errorf("set item: %w", err)
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		s.indexCmds(ctx, pipe, item.Key, item.ExpiresAt)
		return nil
	})
	if err != nil {
		s.logger.Warn("Failed to index created item",
			zap.String("partition", item.Key.Partition),
			zap.Error(err))
	}
	tracing.EndDBSpan(span, nil, 1)
	return nil
}

// indexCmds queues the index write. The index TTL only ever grows so that it
// outlives every item it references.
func (s *Store) indexCmds(ctx context.Context, pipe redis.Pipeliner, key repositories.Key, expiresAt int64) {
	idx := s.indexKey(key.Partition)
	pipe.ZAdd(ctx, idx, redis.Z{Score: float64(key.Sort), Member: strconv.FormatInt(key.Sort, 10)})
	if expiresAt <= 0 {
		pipe.Persist(ctx, idx)
		return
	}
	if ttl := time.Until(time.Unix(expiresAt, 0)); ttl > 0 {
		pipe.ExpireNX(ctx, idx, ttl)
		pipe.ExpireGT(ctx, idx, ttl)
	}
}

// ConditionalUpdate implements repositories.Store with WATCH/MULTI, retrying when
// another client modifies the item between read and write.
func (s *Store) ConditionalUpdate(ctx context.Context, key repositories.Key, mutate repositories.Mutation, precondition repositories.Precondition) error {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{System: "redis", Operation: "WATCH", Table: key.Partition})
	defer span.End()

	itemKey := s.itemKey(key.Partition, key.Sort)

	txf := func(tx *redis.Tx) error {
		var cur *repositories.Item
		raw, err := tx.Get(ctx, itemKey).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("get item: %w", err)
		default:
			it, err := decode(key, raw)
			if err != nil {
				return err
			}
			cur = &it
		}

		if precondition != nil && !precondition(cur) {
			return repositories.ErrPreconditionFailed
		}
		next := mutate(cur)
		if next == nil {
			return nil
		}
		next.Key = key
		payload, err := encode(*next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, itemKey, payload, 0)
			if next.ExpiresAt > 0 {
				pipe.ExpireAt(ctx, itemKey, time.Unix(next.ExpiresAt, 0))
			}
			s.indexCmds(ctx, pipe, key, next.ExpiresAt)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, itemKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, repositories.ErrPreconditionFailed) {
			tracing.EndDBSpan(span, err, 0)
		} else if err == nil {
			tracing.EndDBSpan(span, nil, 1)
		}
		return err
	}

	err := fmt.Errorf("conditional update on %s: %w after %d attempts", itemKey, redis.TxFailedErr, maxTxRetries)
	tracing.EndDBSpan(span, err, 0)
	return err
}

// Query implements repositories.Store. Index entries whose item has expired are pruned.
func (s *Store) Query(ctx context.Context, partition string, from, to int64) ([]repositories.Item, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{System: "redis", Operation: "ZRANGEBYSCORE", Table: partition})
	defer span.End()

	var sorts []int64
	if from == to {
		sorts = []int64{from}
	} else {
		members, err := s.client.ZRangeByScore(ctx, s.indexKey(partition), &redis.ZRangeBy{
			Min: strconv.FormatInt(from, 10),
			Max: strconv.FormatInt(to, 10),
		}).Result()
		if err != nil {
			tracing.EndDBSpan(span, err, 0)
			return nil, fmt.Errorf("range index: %w", err)
		}
		for _, m := range members {
			v, err := strconv.ParseInt(m, 10, 64)
			if err != nil {
				continue
			}
			sorts = append(sorts, v)
		}
	}
	if len(sorts) == 0 {
		tracing.EndDBSpan(span, nil, 0)
		return nil, nil
	}

	keys := make([]string, len(sorts))
	for i, sort := range sorts {
		keys[i] = s.itemKey(partition, sort)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		tracing.EndDBSpan(span, err, 0)
		return nil, fmt.Errorf("load items: %w", err)
	}

	items := make([]repositories.Item, 0, len(values))
	var dangling []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			dangling = append(dangling, strconv.FormatInt(sorts[i], 10))
			continue
		}
		it, err := decode(repositories.Key{Partition: partition, Sort: sorts[i]}, raw)
		if err != nil {
			tracing.EndDBSpan(span, err, 0)
			return nil, err
		}
		items = append(items, it)
	}
	if len(dangling) > 0 && from != to {
		if err := s.client.ZRem(ctx, s.indexKey(partition), dangling...).Err(); err != nil {
			s.logger.Debug("Failed to prune index", zap.String("partition", partition), zap.Error(err))
		}
	}
	tracing.EndDBSpan(span, nil, int64(len(items)))
	return items, nil
}

// DeleteExpired implements repositories.Store. Redis expires keys natively.
func (s *Store) DeleteExpired(context.Context, int64) (int64, error) {
	return 0, nil
}

var _ repositories.Store = (*Store)(nil)
