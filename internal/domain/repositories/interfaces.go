package repositories

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrAlreadyExists is returned by ConditionalCreate when the key is already present
	ErrAlreadyExists = errors.New("item already exists")

	// ErrPreconditionFailed is returned by ConditionalUpdate when the precondition rejects the current item
	ErrPreconditionFailed = errors.New("precondition failed")
)

// Key addresses one item: a partition plus a numeric sort position
type Key struct {
	Partition string
	Sort      int64
}

// Item is the typed record persisted by every store. Ledger entries use
// TxID/Direction/Wallet/Amount, buckets use Sum, cooldown markers use LastAlertAt.
type Item struct {
	Key         Key
	TxID        string
	Direction   string
	Wallet      string
	Amount      decimal.Decimal
	Sum         decimal.Decimal
	LastAlertAt int64
	UpdatedAt   int64
	ExpiresAt   int64
}

// Mutation derives the next item from the current one. cur is nil when the key is absent.
type Mutation func(cur *Item) *Item

// Precondition decides whether a mutation may be applied. cur is nil when the key is absent.
type Precondition func(cur *Item) bool

// Always is a precondition that accepts any state
func Always(*Item) bool { return true }

// Store is the persistence contract of the ingestion core. Implementations must
// make ConditionalCreate and ConditionalUpdate atomic with respect to concurrent
// callers across processes.
type Store interface {
	// ConditionalCreate writes item only if its key is absent
	ConditionalCreate(ctx context.Context, item Item) error
	// ConditionalUpdate reads the item at key, checks precondition and writes mutation(cur) atomically
	ConditionalUpdate(ctx context.Context, key Key, mutate Mutation, precondition Precondition) error
	// Query returns items of partition whose sort key lies in [from, to], ordered by sort key.
	// Expired items stay visible until DeleteExpired or native key expiry removes them.
	Query(ctx context.Context, partition string, from, to int64) ([]Item, error)
	// DeleteExpired removes items whose ExpiresAt is set and not after now
	DeleteExpired(ctx context.Context, now int64) (int64, error)
}
