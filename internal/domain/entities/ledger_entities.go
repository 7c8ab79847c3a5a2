package entities

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CooldownSortKey is the reserved bucket position holding the cooldown marker.
// Aligned bucket starts are multiples of the bucket size and never collide with it
// inside a window for epochs after the window length.
const CooldownSortKey int64 = -1

// LedgerEntry records that one direction of a transaction has been counted
type LedgerEntry struct {
	TxID      string          `json:"txId"`
	Direction Direction       `json:"direction"`
	Wallet    string          `json:"wallet"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp int64           `json:"timestamp"`
	ExpiresAt int64           `json:"expiresAt"`
}

// PartitionKey returns the ledger key of the entry
func (e LedgerEntry) PartitionKey() string {
	return LedgerPartition(e.TxID, e.Direction)
}

// LedgerPartition builds the idempotency key for a (transaction, direction) pair
func LedgerPartition(txID string, d Direction) string {
	return fmt.Sprintf("tx#%s#%s", txID, d)
}

// WalletPartition builds the bucket/cooldown key for a (direction, wallet) pair
func WalletPartition(d Direction, wallet string) string {
	return fmt.Sprintf("%s#%s", d, wallet)
}

// WalletBucket holds the summed amount of one fixed-size time slice
type WalletBucket struct {
	Direction   Direction       `json:"direction"`
	Wallet      string          `json:"wallet"`
	BucketStart int64           `json:"bucketStart"`
	Sum         decimal.Decimal `json:"sumEth"`
	UpdatedAt   int64           `json:"updatedAt"`
	ExpiresAt   int64           `json:"expiresAt"`
}

// CooldownMarker holds the last permitted alert time of a (direction, wallet) key
type CooldownMarker struct {
	Direction   Direction `json:"direction"`
	Wallet      string    `json:"wallet"`
	LastAlertAt int64     `json:"lastAlert"`
}
