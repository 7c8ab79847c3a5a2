// Package ingest drives the per-activity, per-direction pipeline:
// normalize, dedupe, aggregate, threshold check, cooldown check, alert.
package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/walletwatch/volume_watcher/internal/domain/entities"
	domainerrors "github.com/walletwatch/volume_watcher/internal/domain/errors"
	"github.com/walletwatch/volume_watcher/pkg/logger"
	"github.com/walletwatch/volume_watcher/pkg/metrics"
	"github.com/walletwatch/volume_watcher/pkg/tracing"
)

// Status classifies the result of one webhook invocation
type Status string

const (
	StatusProcessed Status = "processed"
	StatusIgnored   Status = "ignored"
	StatusRejected  Status = "rejected"
)

const (
	defaultPairConcurrency = 4
	defaultAlertTimeout    = 5 * time.Second
)

// Normalizer flattens raw payloads into directional pairs
type Normalizer interface {
	Normalize(raw []byte) (*entities.NormalizedPayload, error)
	TrackedAsset() string
}

// Recorder is the idempotency accessor
type Recorder interface {
	RecordIfNew(ctx context.Context, entry entities.LedgerEntry) (bool, error)
}

// Aggregator maintains rolling sums
type Aggregator interface {
	AddContribution(ctx context.Context, direction entities.Direction, wallet string, amount decimal.Decimal, now int64) error
	WindowSum(ctx context.Context, direction entities.Direction, wallet string, now int64) (decimal.Decimal, error)
	WindowSeconds() int64
}

// Gate decides whether an alert slot is free
type Gate interface {
	TryAcquire(ctx context.Context, direction entities.Direction, wallet string, now int64) (bool, error)
}

// AlertChannel delivers alert intents. Delivery is best effort.
type AlertChannel interface {
	Publish(ctx context.Context, alert *entities.ThresholdAlertIntent) error
}

// Deps are the collaborators of the service
type Deps struct {
	Normalizer Normalizer
	Ledger     Recorder
	Aggregator Aggregator
	Gate       Gate
	// Channel may be nil, in which case thresholds are never evaluated
	Channel AlertChannel
	Clock   func() time.Time
	Logger  *logger.Logger
}

// Config tunes evaluation
type Config struct {
	Threshold       decimal.Decimal
	PairConcurrency int
	AlertTimeout    time.Duration
}

// RequestMeta carries transport identifiers into alerts
type RequestMeta struct {
	RequestID     string
	CorrelationID string
}

// Outcome is reported back to the transport
type Outcome struct {
	Status     Status `json:"status"`
	Message    string `json:"message"`
	Reason     string `json:"reason,omitempty"`
	Pairs      int    `json:"pairs"`
	Duplicates int    `json:"duplicates"`
	Alerts     int    `json:"alerts"`
}

// Service is the ingestion orchestrator
type Service struct {
	deps Deps
	cfg  Config
}

// NewService wires the orchestrator
func NewService(deps Deps, cfg Config) (*Service, error) {
	if deps.Normalizer == nil || deps.Ledger == nil || deps.Aggregator == nil || deps.Gate == nil {
		return nil, fmt.Errorf("ingest: normalizer, ledger, aggregator and gate are required")
	}
	if !cfg.Threshold.IsPositive() {
		return nil, fmt.Errorf("ingest: threshold must be positive, got %s", cfg.Threshold)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if cfg.PairConcurrency <= 0 {
		cfg.PairConcurrency = defaultPairConcurrency
	}
	if cfg.AlertTimeout <= 0 {
		cfg.AlertTimeout = defaultAlertTimeout
	}
	return &Service{deps: deps, cfg: cfg}, nil
}

type tally struct {
	duplicates int32
	alerts     int32
}

// Process handles one webhook payload. Malformed input yields a rejected
// outcome with a nil error; store faults are returned as errors.
func (s *Service) Process(ctx context.Context, raw []byte, meta RequestMeta) (*Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "ingest.Process", attribute.String("request_id", meta.RequestID))
	defer span.End()

	now := s.deps.Clock().Unix()
	log := s.deps.Logger.With("request_id", meta.RequestID)

	payload, err := s.deps.Normalizer.Normalize(raw)
	if err != nil {
		if domainerrors.IsInvalidInput(err) {
			log.Warn("Rejected webhook payload", "reason", err.Error())
			metrics.WebhookRequestsTotal.WithLabelValues(string(StatusRejected)).Inc()
			return &Outcome{Status: StatusRejected, Message: err.Error(), Reason: err.Error()}, nil
		}
		tracing.RecordError(span, err)
		return nil, domainerrors.InternalError("normalize payload", err)
	}

	if payload.Empty() {
		msg := fmt.Sprintf("ignored non-%s asset", s.deps.Normalizer.TrackedAsset())
		if len(payload.Records) > 0 {
			msg = "ignored untracked wallets"
		}
		metrics.WebhookRequestsTotal.WithLabelValues(string(StatusIgnored)).Inc()
		log.Debug("Webhook had no relevant activity", "message_id", payload.MessageID, "records", len(payload.Records))
		return &Outcome{Status: StatusIgnored, Message: msg}, nil
	}
	span.SetAttributes(attribute.Int("pairs", len(payload.Pairs)))

	if meta.RequestID == "" {
		meta.RequestID = payload.MessageID
	}
	if meta.CorrelationID == "" {
		meta.CorrelationID = payload.EventID
	}

	var t tally
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.PairConcurrency)
	for _, pair := range payload.Pairs {
		g.Go(func() error {
			return s.processPair(gctx, pair, now, meta, &t, log)
		})
	}
	if err := g.Wait(); err != nil {
		tracing.RecordError(span, err)
		metrics.WebhookRequestsTotal.WithLabelValues("failed").Inc()
		log.Error("Webhook processing failed", "error", err, "message_id", payload.MessageID)
		return nil, domainerrors.InternalError("process activity pairs", err)
	}

	metrics.WebhookRequestsTotal.WithLabelValues(string(StatusProcessed)).Inc()
	outcome := &Outcome{
		Status:     StatusProcessed,
		Message:    "ok",
		Pairs:      len(payload.Pairs),
		Duplicates: int(atomic.LoadInt32(&t.duplicates)),
		Alerts:     int(atomic.LoadInt32(&t.alerts)),
	}
	log.Info("Webhook processed",
		"message_id", payload.MessageID,
		"pairs", outcome.Pairs,
		"duplicates", outcome.Duplicates,
		"alerts", outcome.Alerts)
	return outcome, nil
}

func (s *Service) processPair(ctx context.Context, pair entities.DirectionalActivity, now int64, meta RequestMeta, t *tally, log *logger.Logger) error {
	ctx, span := tracing.StartSpan(ctx, "ingest.processPair",
		attribute.String("direction", string(pair.Direction)),
		attribute.String("tx_id", pair.Activity.TxID))
	defer span.End()

	dup, err := s.deps.Ledger.RecordIfNew(ctx, entities.LedgerEntry{
		TxID:      pair.Activity.TxID,
		Direction: pair.Direction,
		Wallet:    pair.Wallet,
		Amount:    pair.Activity.Amount,
		Timestamp: now,
	})
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}
	if dup {
		atomic.AddInt32(&t.duplicates, 1)
		metrics.IngestPairsTotal.WithLabelValues(string(pair.Direction), "duplicate").Inc()
		return nil
	}
	metrics.IngestPairsTotal.WithLabelValues(string(pair.Direction), "counted").Inc()

	if err := s.deps.Aggregator.AddContribution(ctx, pair.Direction, pair.Wallet, pair.Activity.Amount, now); err != nil {
		tracing.RecordError(span, err)
		return err
	}
	sum, err := s.deps.Aggregator.WindowSum(ctx, pair.Direction, pair.Wallet, now)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}
	sumFloat, _ := sum.Float64()
	metrics.WindowSumEth.Observe(sumFloat)

	if s.deps.Channel == nil || sum.LessThan(s.cfg.Threshold) {
		return nil
	}

	permitted, err := s.deps.Gate.TryAcquire(ctx, pair.Direction, pair.Wallet, now)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}
	if !permitted {
		metrics.AlertsSuppressedTotal.WithLabelValues(string(pair.Direction)).Inc()
		log.Debug("Threshold breach suppressed by cooldown", "wallet", pair.Wallet, "direction", pair.Direction)
		return nil
	}

	alert := s.buildAlert(pair, sum, now, meta)
	s.publish(ctx, alert, log)
	atomic.AddInt32(&t.alerts, 1)
	return nil
}

func (s *Service) buildAlert(pair entities.DirectionalActivity, sum decimal.Decimal, now int64, meta RequestMeta) *entities.ThresholdAlertIntent {
	alert := &entities.ThresholdAlertIntent{
		TxHash:        pair.Activity.TxID,
		Direction:     pair.Direction,
		Wallet:        pair.Wallet,
		TotalEth:      sum,
		WindowSec:     s.deps.Aggregator.WindowSeconds(),
		Timestamp:     now,
		Source:        entities.AlertSource,
		RequestID:     meta.RequestID,
		CorrelationID: meta.CorrelationID,
	}
	if pair.TrackedIndex > 0 {
		alert.TrackedWalletIndex = pair.TrackedIndex
		alert.TrackedWalletAlias = entities.TrackedWalletAliasFor(pair.TrackedIndex)
		alert.Counterparty = pair.Counterparty
	}
	return alert
}

// publish never fails the ingestion; errors are logged and counted
func (s *Service) publish(ctx context.Context, alert *entities.ThresholdAlertIntent, log *logger.Logger) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.AlertTimeout)
	defer cancel()

	if err := s.deps.Channel.Publish(pubCtx, alert); err != nil {
		metrics.AlertsFailedTotal.WithLabelValues(channelName(s.deps.Channel)).Inc()
		log.Error("Failed to publish threshold alert",
			"error", err,
			"wallet", alert.Wallet,
			"direction", alert.Direction,
			"tx_hash", alert.TxHash)
		return
	}
	metrics.AlertsPublishedTotal.WithLabelValues(string(alert.Direction)).Inc()
	log.Info("Threshold alert published",
		"wallet", alert.Wallet,
		"direction", alert.Direction,
		"total", alert.TotalEth.String(),
		"window_sec", alert.WindowSec)
}

func channelName(ch AlertChannel) string {
	if named, ok := ch.(interface{ Name() string }); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", ch)
}
