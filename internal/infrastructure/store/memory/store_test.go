package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletwatch/volume_watcher/internal/domain/repositories"
)

func TestConditionalCreate(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	item := repositories.Item{Key: repositories.Key{Partition: "tx#0xabc#from"}, TxID: "0xabc"}

	require.NoError(t, s.ConditionalCreate(ctx, item))
	assert.ErrorIs(t, s.ConditionalCreate(ctx, item), repositories.ErrAlreadyExists)
	assert.Equal(t, 1, s.Len())
}

func TestConditionalCreateRace(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	item := repositories.Item{Key: repositories.Key{Partition: "tx#0xabc#from"}, TxID: "0xabc"}

	var created, exists int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := s.ConditionalCreate(ctx, item); {
			case err == nil:
				atomic.AddInt32(&created, 1)
			case assert.ErrorIs(t, err, repositories.ErrAlreadyExists):
				atomic.AddInt32(&exists, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created)
	assert.Equal(t, int32(31), exists)
	assert.Equal(t, 1, s.Len())
}

func TestConditionalUpdateIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	key := repositories.Key{Partition: "from#0xa", Sort: 60}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.ConditionalUpdate(ctx, key, func(cur *repositories.Item) *repositories.Item {
				next := repositories.Item{Sum: decimal.NewFromInt(1)}
				if cur != nil {
					next.Sum = cur.Sum.Add(decimal.NewFromInt(1))
				}
				return &next
			}, repositories.Always)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	items, err := s.Query(ctx, "from#0xa", 0, 120)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Sum.Equal(decimal.NewFromInt(50)))
}

func TestConditionalUpdatePreconditionRace(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	key := repositories.Key{Partition: "to#0xb", Sort: -1}

	var permitted int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.ConditionalUpdate(ctx, key,
				func(*repositories.Item) *repositories.Item { return &repositories.Item{LastAlertAt: 100} },
				func(cur *repositories.Item) bool { return cur == nil })
			if err == nil {
				atomic.AddInt32(&permitted, 1)
			} else {
				assert.ErrorIs(t, err, repositories.ErrPreconditionFailed)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), permitted)
}

func TestQueryRangeIsInclusiveAndOrdered(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	for _, sort := range []int64{-1, 0, 60, 120, 180, 240} {
		require.NoError(t, s.ConditionalCreate(ctx, repositories.Item{Key: repositories.Key{Partition: "p", Sort: sort}}))
	}

	items, err := s.Query(ctx, "p", 60, 180)
	require.NoError(t, err)
	var sorts []int64
	for _, it := range items {
		sorts = append(sorts, it.Key.Sort)
	}
	assert.Equal(t, []int64{60, 120, 180}, sorts)

	items, err = s.Query(ctx, "missing", 0, 100)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDeleteExpired(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.ConditionalCreate(ctx, repositories.Item{Key: repositories.Key{Partition: "a"}, ExpiresAt: 100}))
	require.NoError(t, s.ConditionalCreate(ctx, repositories.Item{Key: repositories.Key{Partition: "b"}, ExpiresAt: 200}))
	require.NoError(t, s.ConditionalCreate(ctx, repositories.Item{Key: repositories.Key{Partition: "c"}}))

	// expired but not yet reaped
	items, err := s.Query(ctx, "a", 0, 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	n, err := s.DeleteExpired(ctx, 150)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 2, s.Len())

	items, err = s.Query(ctx, "a", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}
