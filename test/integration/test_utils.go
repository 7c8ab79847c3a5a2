package integration

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/walletwatch/volume_watcher/internal/infrastructure/config"
)

const (
	trackedWallet   = "0x1111111111111111111111111111111111111111"
	secondaryWallet = "0x2222222222222222222222222222222222222222"
	exchangeWallet  = "0x3333333333333333333333333333333333333333"
)

// getEnvOrSkip returns environment variable value or skips the test if not found
func getEnvOrSkip(t *testing.T, key string) string {
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("Environment variable %s is required for integration tests", key)
	}
	return value
}

// testConfig mirrors the deployment defaults with a short cooldown
func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		LogLevel:    "error",
		AppName:     "serverless-eth-watcher",
		Server: config.ServerConfig{
			Port:         8080,
			MaxBodyBytes: 1 << 20,
		},
		Ingest: config.IngestConfig{
			ThresholdAmount:        "1.5",
			WindowSeconds:          300,
			CooldownSeconds:        30,
			BucketSizeSeconds:      60,
			LedgerRetentionSeconds: 7 * 24 * 3600,
			TrackedAssetSymbol:     "ETH",
			RecognizedAssets:       []string{"ETH", "USDC", "DAI"},
			PairConcurrency:        4,
			AlertTimeoutSeconds:    5,
			AlertsEnabled:          true,
		},
		Store:   config.StoreConfig{Driver: "memory"},
		Alerts:  config.AlertsConfig{Channel: "log"},
		Webhook: config.WebhookConfig{Path: "/webhooks/alchemy"},
	}
}

type activitySeed struct {
	hash  string
	asset string
	value string
	from  string
	to    string
}

// addressActivity builds an ADDRESS_ACTIVITY webhook body
func addressActivity(label string, seeds ...activitySeed) string {
	entries := make([]string, 0, len(seeds))
	for _, s := range seeds {
		entries = append(entries, fmt.Sprintf(
			`{"asset":%q,"category":"external","fromAddress":%q,"toAddress":%q,"hash":%q,"value":%s,"rawContract":{"rawValue":"0x01","decimals":18}}`,
			s.asset, s.from, s.to, s.hash, s.value))
	}
	return fmt.Sprintf(
		`{"webhookId":"wh_%s","id":"whevt_%s","createdAt":"2024-09-25T13:52:47.561Z","type":"ADDRESS_ACTIVITY","event":{"network":"ETH_MAINNET","activity":[%s]}}`,
		label, label, strings.Join(entries, ","))
}
