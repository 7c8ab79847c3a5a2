package entities

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AlertSource tags alerts raised from webhook ingestion
const AlertSource = "alchemy-webhook"

// ThresholdAlertIntent is produced when a wallet's rolling volume crosses the threshold
type ThresholdAlertIntent struct {
	TxHash             string          `json:"txHash"`
	Direction          Direction       `json:"direction"`
	Wallet             string          `json:"wallet"`
	TotalEth           decimal.Decimal `json:"totalEth"`
	WindowSec          int64           `json:"windowSec"`
	Timestamp          int64           `json:"timestamp"`
	Source             string          `json:"source"`
	RequestID          string          `json:"requestId,omitempty"`
	CorrelationID      string          `json:"correlationId,omitempty"`
	TrackedWalletIndex int             `json:"trackedWalletIndex,omitempty"`
	TrackedWalletAlias string          `json:"trackedWalletAlias,omitempty"`
	Counterparty       string          `json:"counterparty,omitempty"`
}

// Validate checks the fields a notifier needs to render the alert
func (a *ThresholdAlertIntent) Validate() error {
	if a == nil {
		return fmt.Errorf("alert is nil")
	}
	if err := a.Direction.Validate(); err != nil {
		return err
	}
	if a.Wallet == "" || a.TxHash == "" {
		return fmt.Errorf("alert missing wallet or txHash")
	}
	if a.WindowSec <= 0 {
		return fmt.Errorf("alert has invalid windowSec %d", a.WindowSec)
	}
	return nil
}

// TrackedWalletAliasFor builds the alias used for tracked-wallet alerts
func TrackedWalletAliasFor(index int) string {
	return fmt.Sprintf("Tracked Wallet #%d", index)
}
