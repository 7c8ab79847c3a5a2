package notification_worker

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/walletwatch/volume_watcher/internal/domain/entities"
	domainerrors "github.com/walletwatch/volume_watcher/internal/domain/errors"
	"github.com/walletwatch/volume_watcher/pkg/retry"
)

const validBody = `{"txHash":"0xabc","direction":"from","wallet":"0x1111111111111111111111111111111111111111","totalEth":1.6,"windowSec":300,"timestamp":1700000000,"source":"alchemy-webhook","requestId":"req-1"}`

type mockSQS struct {
	mock.Mock
}

func (m *mockSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*sqs.ReceiveMessageOutput)
	return out, args.Error(1)
}

func (m *mockSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	args := m.Called(ctx, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, args.Error(0)
}

type mockPoster struct {
	mock.Mock
}

func (m *mockPoster) Publish(ctx context.Context, alert *entities.ThresholdAlertIntent) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

func message(id, body string) sqstypes.Message {
	return sqstypes.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String("rh-" + id),
		Body:          aws.String(body),
	}
}

func newTestWorker(client SQSAPI, poster Poster) *Worker {
	return NewWorker(client, poster, Config{
		QueueURL: "https://sqs.local/queue",
		Retry:    retry.Policy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	}, zap.NewNop())
}

func TestPollOnce_DeliversAndDeletes(t *testing.T) {
	client := new(mockSQS)
	poster := new(mockPoster)
	w := newTestWorker(client, poster)

	wrapped := `{"Type":"Notification","MessageId":"sns-1","Message":` + strconv.Quote(validBody) + `}`
	client.On("ReceiveMessage", mock.Anything, mock.MatchedBy(func(in *sqs.ReceiveMessageInput) bool {
		return aws.ToString(in.QueueUrl) == "https://sqs.local/queue" && in.MaxNumberOfMessages == 10
	})).Return(&sqs.ReceiveMessageOutput{Messages: []sqstypes.Message{
		message("1", validBody),
		message("2", wrapped),
	}}, nil).Once()
	poster.On("Publish", mock.Anything, mock.MatchedBy(func(a *entities.ThresholdAlertIntent) bool {
		return a.TxHash == "0xabc" && a.Direction == entities.DirectionFrom && a.TotalEth.String() == "1.6"
	})).Return(nil).Twice()
	client.On("DeleteMessage", mock.Anything, "rh-1").Return(nil).Once()
	client.On("DeleteMessage", mock.Anything, "rh-2").Return(nil).Once()

	delivered, err := w.PollOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
	client.AssertExpectations(t)
	poster.AssertExpectations(t)
}

func TestPollOnce_SkipsMalformedMessages(t *testing.T) {
	client := new(mockSQS)
	poster := new(mockPoster)
	w := newTestWorker(client, poster)

	client.On("ReceiveMessage", mock.Anything, mock.Anything).Return(&sqs.ReceiveMessageOutput{Messages: []sqstypes.Message{
		message("1", "not json"),
		message("2", `{"txHash":"0xabc"}`),
	}}, nil).Once()
	client.On("DeleteMessage", mock.Anything, "rh-1").Return(nil).Once()
	client.On("DeleteMessage", mock.Anything, "rh-2").Return(nil).Once()

	delivered, err := w.PollOnce(context.Background())

	require.NoError(t, err)
	assert.Zero(t, delivered)
	poster.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	client.AssertExpectations(t)
}

func TestPollOnce_FailedDeliveryStaysQueued(t *testing.T) {
	client := new(mockSQS)
	poster := new(mockPoster)
	w := newTestWorker(client, poster)

	client.On("ReceiveMessage", mock.Anything, mock.Anything).Return(&sqs.ReceiveMessageOutput{Messages: []sqstypes.Message{
		message("1", validBody),
	}}, nil).Once()
	poster.On("Publish", mock.Anything, mock.Anything).
		Return(domainerrors.ServiceUnavailableError("slack", nil)).Twice()

	delivered, err := w.PollOnce(context.Background())

	require.NoError(t, err)
	assert.Zero(t, delivered)
	client.AssertNotCalled(t, "DeleteMessage", mock.Anything, mock.Anything)
	poster.AssertExpectations(t)
}

func TestPollOnce_ReceiveError(t *testing.T) {
	client := new(mockSQS)
	w := newTestWorker(client, new(mockPoster))
	client.On("ReceiveMessage", mock.Anything, mock.Anything).Return(nil, errors.New("access denied")).Once()

	_, err := w.PollOnce(context.Background())
	assert.Error(t, err)
}

func TestDecodeAlert(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"plain", validBody, false},
		{"string total", `{"txHash":"0x1","direction":"to","wallet":"0xw","totalEth":"2.5","windowSec":60,"timestamp":1,"source":"alchemy-webhook"}`, false},
		{"wrong source", `{"txHash":"0x1","direction":"to","wallet":"0xw","totalEth":2,"windowSec":60,"timestamp":1,"source":"other"}`, true},
		{"bad direction", `{"txHash":"0x1","direction":"sideways","wallet":"0xw","totalEth":2,"windowSec":60,"timestamp":1,"source":"alchemy-webhook"}`, true},
		{"missing total", `{"txHash":"0x1","direction":"to","wallet":"0xw","windowSec":60,"timestamp":1,"source":"alchemy-webhook"}`, true},
		{"array", `[]`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert, err := DecodeAlert(tt.body)
			if tt.wantErr {
				assert.ErrorIs(t, err, errSkip)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, alert)
		})
	}
}

func TestStopIsIdempotent(t *testing.T) {
	w := newTestWorker(&mockSQS{}, &mockPoster{})

	w.Stop()
	assert.NotPanics(t, w.Stop)

	done := make(chan struct{})
	go func() {
		w.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
