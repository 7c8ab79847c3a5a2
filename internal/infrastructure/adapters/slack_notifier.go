package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/walletwatch/volume_watcher/internal/domain/entities"
	domainerrors "github.com/walletwatch/volume_watcher/internal/domain/errors"
)

// SlackNotifier posts formatted alerts to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	appName    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewSlackNotifier creates a Slack poster. A nil client gets a 10s timeout client.
func NewSlackNotifier(webhookURL, appName string, httpClient *http.Client, logger *zap.Logger) *SlackNotifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		appName:    appName,
		httpClient: httpClient,
		breaker:    newChannelBreaker("slack"),
		logger:     logger,
	}
}

// Name identifies the channel in metrics
func (s *SlackNotifier) Name() string { return "slack" }

// Publish posts the alert text. Non-2xx responses are errors; 5xx and 429 are retryable.
func (s *SlackNotifier) Publish(ctx context.Context, alert *entities.ThresholdAlertIntent) error {
	body, err := json.Marshal(map[string]string{"text": FormatSlackText(s.appName, alert)})
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return nil, domainerrors.ServiceUnavailableError("slack", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			err := fmt.Errorf("slack webhook responded with %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return nil, domainerrors.NewDomainError(domainerrors.ErrServiceUnavailable, "SLACK_UNAVAILABLE", err.Error()).WithRetryable(true)
			}
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		s.logger.Error("Failed to deliver Slack alert",
			zap.String("wallet", alert.Wallet),
			zap.Error(err))
		return err
	}
	return nil
}

// FormatSlackText renders the alert as Slack mrkdwn
func FormatSlackText(appName string, alert *entities.ThresholdAlertIntent) string {
	lines := []string{fmt.Sprintf("*%s* alert (%s)", appName, alert.Direction.Label())}
	if alert.TrackedWalletIndex > 0 {
		alias := alert.TrackedWalletAlias
		if alias == "" {
			alias = entities.TrackedWalletAliasFor(alert.TrackedWalletIndex)
		}
		lines = append(lines, fmt.Sprintf("%s: %s", alias, alert.Wallet))
		if alert.Counterparty != "" {
			lines = append(lines, "Counterparty: "+alert.Counterparty)
		}
	} else {
		lines = append(lines, "Wallet: "+alert.Wallet)
	}

	windowMin := decimal.NewFromInt(alert.WindowSec).Div(decimal.NewFromInt(60))
	lines = append(lines,
		"Tx Hash: "+alert.TxHash,
		fmt.Sprintf("Rolling Total: %s ETH in %s min", alert.TotalEth.StringFixed(4), windowMin.StringFixed(1)),
		"Observed: "+time.Unix(alert.Timestamp, 0).UTC().Format("2006-01-02T15:04:05.000Z"),
	)
	if alert.RequestID != "" {
		lines = append(lines, "Request ID: "+alert.RequestID)
	}
	return strings.Join(lines, "\n")
}
