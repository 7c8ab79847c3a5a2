package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/walletwatch/volume_watcher/internal/domain/entities"
)

// SNSAPI is the subset of the SNS client used for alert delivery
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSAlertPublisher publishes threshold alerts to an SNS topic as JSON
type SNSAlertPublisher struct {
	client   SNSAPI
	topicARN string
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// NewSNSAlertPublisher loads the default AWS config for region and builds a publisher
func NewSNSAlertPublisher(ctx context.Context, region, topicARN string, logger *zap.Logger) (*SNSAlertPublisher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSNSAlertPublisherWithClient(sns.NewFromConfig(awsCfg), topicARN, logger), nil
}

// NewSNSAlertPublisherWithClient builds a publisher around an existing client
func NewSNSAlertPublisherWithClient(client SNSAPI, topicARN string, logger *zap.Logger) *SNSAlertPublisher {
	return &SNSAlertPublisher{
		client:   client,
		topicARN: topicARN,
		breaker:  newChannelBreaker("sns"),
		logger:   logger,
	}
}

// Name identifies the channel in metrics
func (p *SNSAlertPublisher) Name() string { return "sns" }

// Publish sends the alert; the direction is also set as a message attribute for subscription filters
func (p *SNSAlertPublisher) Publish(ctx context.Context, alert *entities.ThresholdAlertIntent) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return p.client.Publish(ctx, &sns.PublishInput{
			TopicArn: aws.String(p.topicARN),
			Message:  aws.String(string(body)),
			MessageAttributes: map[string]snstypes.MessageAttributeValue{
				"direction": {DataType: aws.String("String"), StringValue: aws.String(string(alert.Direction))},
				"source":    {DataType: aws.String("String"), StringValue: aws.String(alert.Source)},
			},
		})
	})
	if err != nil {
		return fmt.Errorf("SNS publish failed: %w", err)
	}

	p.logger.Debug("Threshold alert published to SNS",
		zap.String("wallet", alert.Wallet),
		zap.String("direction", string(alert.Direction)))
	return nil
}

func newChannelBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}
