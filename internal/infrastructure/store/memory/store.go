// Package memory provides an in-process Store backed by ordered B-trees.
// It serialises every operation with a mutex, so conditional writes behave as
// they do against a shared database. It is used by tests and local runs.
package memory

import (
	"context"
	"sync"

	"github.com/tidwall/btree"

	"github.com/walletwatch/volume_watcher/internal/domain/repositories"
)

// Store keeps one sorted map per partition
type Store struct {
	mu         sync.Mutex
	partitions map[string]*btree.Map[int64, repositories.Item]
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		partitions: make(map[string]*btree.Map[int64, repositories.Item]),
	}
}

func (s *Store) partition(name string, create bool) *btree.Map[int64, repositories.Item] {
	p, ok := s.partitions[name]
	if !ok && create {
		p = btree.NewMap[int64, repositories.Item](32)
		s.partitions[name] = p
	}
	return p
}

// ConditionalCreate implements repositories.Store
func (s *Store) ConditionalCreate(ctx context.Context, item repositories.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.partition(item.Key.Partition, true)
	if _, exists := p.Get(item.Key.Sort); exists {
		return repositories.ErrAlreadyExists
	}
	p.Set(item.Key.Sort, item)
	return nil
}

// ConditionalUpdate implements repositories.Store
func (s *Store) ConditionalUpdate(ctx context.Context, key repositories.Key, mutate repositories.Mutation, precondition repositories.Precondition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur *repositories.Item
	p := s.partition(key.Partition, true)
	if existing, ok := p.Get(key.Sort); ok {
		cur = &existing
	}
	if precondition != nil && !precondition(cur) {
		return repositories.ErrPreconditionFailed
	}
	next := mutate(cur)
	if next == nil {
		return nil
	}
	next.Key = key
	p.Set(key.Sort, *next)
	return nil
}

// Query implements repositories.Store
func (s *Store) Query(ctx context.Context, partition string, from, to int64) ([]repositories.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.partition(partition, false)
	if p == nil {
		return nil, nil
	}
	var items []repositories.Item
	p.Ascend(from, func(sort int64, item repositories.Item) bool {
		if sort > to {
			return false
		}
		items = append(items, item)
		return true
	})
	return items, nil
}

// DeleteExpired implements repositories.Store
func (s *Store) DeleteExpired(ctx context.Context, now int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for name, p := range s.partitions {
		var expired []int64
		p.Scan(func(sort int64, item repositories.Item) bool {
			if item.ExpiresAt > 0 && item.ExpiresAt <= now {
				expired = append(expired, sort)
			}
			return true
		})
		for _, sort := range expired {
			p.Delete(sort)
			deleted++
		}
		if p.Len() == 0 {
			delete(s.partitions, name)
		}
	}
	return deleted, nil
}

// Len returns the number of stored items
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.partitions {
		n += p.Len()
	}
	return n
}

var _ repositories.Store = (*Store)(nil)
