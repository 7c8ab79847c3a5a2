package entities

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Direction identifies which side of a transfer a wallet sits on
type Direction string

const (
	DirectionFrom Direction = "from" // wallet sent the value (outbound)
	DirectionTo   Direction = "to"   // wallet received the value (inbound)
)

// Directions lists both directions in processing order
var Directions = []Direction{DirectionFrom, DirectionTo}

// Validate checks if the direction is known
func (d Direction) Validate() error {
	switch d {
	case DirectionFrom, DirectionTo:
		return nil
	default:
		return fmt.Errorf("invalid direction: %s", d)
	}
}

// Label returns the human label used in alert text
func (d Direction) Label() string {
	if d == DirectionFrom {
		return "outbound"
	}
	return "inbound"
}

// ActivityRecord is one canonical transfer extracted from a webhook payload
type ActivityRecord struct {
	TxID   string          `json:"txId"`
	Asset  string          `json:"asset"`
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// WalletFor returns the wallet on the given side of the transfer
func (a ActivityRecord) WalletFor(d Direction) string {
	if d == DirectionFrom {
		return a.From
	}
	return a.To
}

// CounterpartyFor returns the wallet on the opposite side of the transfer
func (a ActivityRecord) CounterpartyFor(d Direction) string {
	if d == DirectionFrom {
		return a.To
	}
	return a.From
}

// DirectionalActivity is a (record, direction) pair retained for processing
type DirectionalActivity struct {
	Activity     ActivityRecord
	Direction    Direction
	Wallet       string
	Counterparty string
	// TrackedIndex is the 1-based position of Wallet in the tracked-wallet list, 0 when untracked
	TrackedIndex int
}

// NormalizedPayload is the output of payload normalization
type NormalizedPayload struct {
	MessageID string
	EventID   string
	Records   []ActivityRecord
	Pairs     []DirectionalActivity
}

// Empty reports whether nothing in the payload is relevant
func (p *NormalizedPayload) Empty() bool {
	return p == nil || len(p.Pairs) == 0
}

// NormalizeAddress lowercases and trims an address
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
