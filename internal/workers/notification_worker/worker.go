package notification_worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/walletwatch/volume_watcher/internal/domain/entities"
	"github.com/walletwatch/volume_watcher/pkg/metrics"
	"github.com/walletwatch/volume_watcher/pkg/retry"
)

// errSkip marks messages that can never be delivered and should be dropped
var errSkip = errors.New("undeliverable alert message")

// SQSAPI is the subset of the SQS client the worker uses
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Poster delivers a rendered alert, e.g. to Slack
type Poster interface {
	Publish(ctx context.Context, alert *entities.ThresholdAlertIntent) error
}

// Config holds worker configuration
type Config struct {
	QueueURL          string
	MaxMessages       int32
	WaitTimeSeconds   int32
	VisibilityTimeout int32
	Retry             retry.Policy
}

// Worker drains threshold alerts from SQS and forwards them to a Poster.
// Delivered and malformed messages are deleted; failed deliveries stay on
// the queue and come back after the visibility timeout.
type Worker struct {
	sqsClient SQSAPI
	poster    Poster
	cfg       Config
	retrier   *retry.Retrier
	logger    *zap.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewWorker creates a new notification worker
func NewWorker(client SQSAPI, poster Poster, cfg Config, logger *zap.Logger) *Worker {
	if cfg.MaxMessages <= 0 || cfg.MaxMessages > 10 {
		cfg.MaxMessages = 10
	}
	if cfg.WaitTimeSeconds < 0 || cfg.WaitTimeSeconds > 20 {
		cfg.WaitTimeSeconds = 20
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 30
	}
	return &Worker{
		sqsClient: client,
		poster:    poster,
		cfg:       cfg,
		retrier:   retry.NewRetrier(cfg.Retry, logger),
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start polls the queue until ctx is cancelled or Stop is called
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Starting notification worker", zap.String("queue", w.cfg.QueueURL))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Notification worker stopped (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info("Notification worker stopped")
			return
		default:
		}

		if _, err := w.PollOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("Failed to receive messages", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-w.stopCh:
			case <-time.After(5 * time.Second):
			}
		}
	}
}

// Stop stops the worker. It is safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// PollOnce receives one batch and returns how many messages were delivered
func (w *Worker) PollOnce(ctx context.Context) (int, error) {
	result, err := w.sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(w.cfg.QueueURL),
		MaxNumberOfMessages: w.cfg.MaxMessages,
		WaitTimeSeconds:     w.cfg.WaitTimeSeconds,
		VisibilityTimeout:   w.cfg.VisibilityTimeout,
	})
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, msg := range result.Messages {
		err := w.processMessage(ctx, msg)
		switch {
		case err == nil:
			delivered++
			metrics.NotificationsTotal.WithLabelValues("delivered").Inc()
		case errors.Is(err, errSkip):
			metrics.NotificationsTotal.WithLabelValues("skipped").Inc()
			w.logger.Warn("Skipping malformed alert message",
				zap.String("message_id", aws.ToString(msg.MessageId)),
				zap.Error(err))
		default:
			metrics.NotificationsTotal.WithLabelValues("failed").Inc()
			w.logger.Error("Failed to deliver alert notification",
				zap.String("message_id", aws.ToString(msg.MessageId)),
				zap.Error(err))
			continue
		}

		if _, err := w.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(w.cfg.QueueURL),
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			w.logger.Warn("Failed to delete message", zap.Error(err))
		}
	}
	return delivered, nil
}

func (w *Worker) processMessage(ctx context.Context, msg sqstypes.Message) error {
	alert, err := DecodeAlert(aws.ToString(msg.Body))
	if err != nil {
		return err
	}
	return w.retrier.Do(ctx, func(ctx context.Context) error {
		return w.poster.Publish(ctx, alert)
	})
}

type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

type queuedAlert struct {
	TxHash             *string          `json:"txHash"`
	Direction          *string          `json:"direction"`
	Wallet             *string          `json:"wallet"`
	TotalEth           *decimal.Decimal `json:"totalEth"`
	WindowSec          *int64           `json:"windowSec"`
	Timestamp          *int64           `json:"timestamp"`
	Source             *string          `json:"source"`
	RequestID          string           `json:"requestId"`
	CorrelationID      string           `json:"correlationId"`
	TrackedWalletIndex int              `json:"trackedWalletIndex"`
	TrackedWalletAlias string           `json:"trackedWalletAlias"`
	Counterparty       string           `json:"counterparty"`
}

// DecodeAlert parses a queue body, unwrapping an SNS notification envelope
// when present. Bodies that are not a well-formed alert return errSkip.
func DecodeAlert(body string) (*entities.ThresholdAlertIntent, error) {
	var env snsEnvelope
	if err := json.Unmarshal([]byte(body), &env); err == nil && env.Type == "Notification" && env.Message != "" {
		body = env.Message
	}

	var q queuedAlert
	if err := json.Unmarshal([]byte(body), &q); err != nil {
		return nil, fmt.Errorf("%w: %v", errSkip, err)
	}
	if q.TxHash == nil || q.Direction == nil || q.Wallet == nil || q.TotalEth == nil ||
		q.WindowSec == nil || q.Timestamp == nil || q.Source == nil {
		return nil, fmt.Errorf("%w: missing required field", errSkip)
	}
	if *q.Source != entities.AlertSource {
		return nil, fmt.Errorf("%w: unexpected source %q", errSkip, *q.Source)
	}

	alert := &entities.ThresholdAlertIntent{
		TxHash:             *q.TxHash,
		Direction:          entities.Direction(*q.Direction),
		Wallet:             *q.Wallet,
		TotalEth:           *q.TotalEth,
		WindowSec:          *q.WindowSec,
		Timestamp:          *q.Timestamp,
		Source:             *q.Source,
		RequestID:          q.RequestID,
		CorrelationID:      q.CorrelationID,
		TrackedWalletIndex: q.TrackedWalletIndex,
		TrackedWalletAlias: q.TrackedWalletAlias,
		Counterparty:       q.Counterparty,
	}
	if err := alert.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errSkip, err)
	}
	return alert, nil
}
