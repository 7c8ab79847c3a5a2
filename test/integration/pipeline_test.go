package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/walletwatch/volume_watcher/internal/api/handlers"
	"github.com/walletwatch/volume_watcher/internal/api/routes"
	"github.com/walletwatch/volume_watcher/internal/domain/entities"
	"github.com/walletwatch/volume_watcher/internal/domain/repositories"
	"github.com/walletwatch/volume_watcher/internal/infrastructure/adapters"
	"github.com/walletwatch/volume_watcher/internal/infrastructure/di"
	"github.com/walletwatch/volume_watcher/internal/infrastructure/store/memory"
	"github.com/walletwatch/volume_watcher/internal/infrastructure/store/redisstore"
	"github.com/walletwatch/volume_watcher/internal/workers/notification_worker"
	"github.com/walletwatch/volume_watcher/pkg/logger"
	"github.com/walletwatch/volume_watcher/pkg/retry"
)

// topic records published alerts as SNS notification envelopes
type topic struct {
	mu       sync.Mutex
	messages []string
}

func (t *topic) Name() string { return "sns" }

func (t *topic) Publish(_ context.Context, alert *entities.ThresholdAlertIntent) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	envelope, err := json.Marshal(map[string]string{"Type": "Notification", "Message": string(body)})
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, string(envelope))
	return nil
}

func (t *topic) drain() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.messages
	t.messages = nil
	return out
}

// queue serves topic messages to the notification worker
type queue struct {
	mu       sync.Mutex
	pending  []sqstypes.Message
	deleted  []string
	received int
}

func (q *queue) push(bodies ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, b := range bodies {
		q.received++
		id := strconv.Itoa(q.received)
		q.pending = append(q.pending, sqstypes.Message{
			MessageId:     aws.String(id),
			ReceiptHandle: aws.String("rh-" + id),
			Body:          aws.String(b),
		})
	}
}

func (q *queue) ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := &sqs.ReceiveMessageOutput{Messages: q.pending}
	q.pending = nil
	return out, nil
}

func (q *queue) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

type pipeline struct {
	router *gin.Engine
	topic  *topic
	store  repositories.Store
	now    *int64
}

func newPipeline(t *testing.T, trackedWallets ...string) *pipeline {
	return newPipelineWithStore(t, memory.NewStore(), trackedWallets...)
}

func newPipelineWithStore(t *testing.T, store repositories.Store, trackedWallets ...string) *pipeline {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	cfg.Ingest.TrackedWallets = trackedWallets

	now := int64(1_700_000_000)
	p := &pipeline{topic: &topic{}, store: store, now: &now}

	container, err := di.NewContainer(context.Background(), cfg, logger.NewNop(),
		di.WithStore(p.store),
		di.WithChannel(p.topic),
		di.WithClock(func() time.Time { return time.Unix(*p.now, 0) }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })

	p.router = routes.SetupRoutes(container)
	return p
}

func (p *pipeline) post(t *testing.T, body string) handlers.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/alchemy", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	p.router.ServeHTTP(w, req)

	var resp handlers.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestPipeline_AlertReachesSlack(t *testing.T) {
	p := newPipeline(t)

	var slackBodies []string
	slack := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		slackBodies = append(slackBodies, string(b))
		w.WriteHeader(http.StatusOK)
	}))
	defer slack.Close()

	resp := p.post(t, addressActivity("mixed",
		activitySeed{hash: "0xaaa1", asset: "ETH", value: "1.2", from: exchangeWallet, to: trackedWallet},
		activitySeed{hash: "0xaaa2", asset: "USDC", value: "500", from: exchangeWallet, to: trackedWallet},
		activitySeed{hash: "0xaaa3", asset: "ETH", value: "1.3", from: exchangeWallet, to: trackedWallet},
	))
	require.True(t, resp.Success)
	assert.Equal(t, "processed", resp.Status)
	assert.Equal(t, 4, resp.Pairs)

	messages := p.topic.drain()
	require.Len(t, messages, 2, "one alert per direction key crossing 1.5")

	q := &queue{}
	q.push(messages...)
	worker := notification_worker.NewWorker(q,
		adapters.NewSlackNotifier(slack.URL, "serverless-eth-watcher", slack.Client(), zap.NewNop()),
		notification_worker.Config{QueueURL: "queue", Retry: retry.Policy{Multiplier: 1}},
		zap.NewNop())

	delivered, err := worker.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
	assert.Len(t, q.deleted, 2)
	require.Len(t, slackBodies, 2)

	var texts []string
	for _, b := range slackBodies {
		var payload map[string]string
		require.NoError(t, json.Unmarshal([]byte(b), &payload))
		texts = append(texts, payload["text"])
	}
	assert.Contains(t, texts[0]+texts[1], "*serverless-eth-watcher* alert (inbound)")
	assert.Contains(t, texts[0]+texts[1], "*serverless-eth-watcher* alert (outbound)")
	assert.Contains(t, texts[0]+texts[1], "Rolling Total: 2.5000 ETH in 5.0 min")
}

func TestPipeline_RedeliveryIsIdempotent(t *testing.T) {
	p := newPipeline(t)
	body := addressActivity("dup",
		activitySeed{hash: "0xbbb1", asset: "ETH", value: "2", from: exchangeWallet, to: trackedWallet})

	first := p.post(t, body)
	second := p.post(t, body)

	assert.Equal(t, 0, first.Duplicates)
	assert.Equal(t, 2, second.Duplicates)
	assert.Len(t, p.topic.drain(), 2)
}

func TestPipeline_CooldownAcrossRequests(t *testing.T) {
	p := newPipeline(t, trackedWallet)

	send := func(hash string) {
		p.post(t, addressActivity(hash,
			activitySeed{hash: hash, asset: "ETH", value: "2", from: exchangeWallet, to: trackedWallet}))
	}

	send("0xc1")
	require.Len(t, p.topic.drain(), 1)

	*p.now += 5
	send("0xc2")
	assert.Empty(t, p.topic.drain(), "inside cooldown")

	*p.now += 40
	send("0xc3")
	msgs := p.topic.drain()
	require.Len(t, msgs, 1)

	alert, err := notification_worker.DecodeAlert(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, entities.DirectionTo, alert.Direction)
	assert.Equal(t, 1, alert.TrackedWalletIndex)
	assert.Equal(t, exchangeWallet, alert.Counterparty)
	assert.Equal(t, "6", alert.TotalEth.String())
}

func TestPipeline_IgnoredAndRejected(t *testing.T) {
	store := memory.NewStore()
	p := newPipelineWithStore(t, store, secondaryWallet)

	ignored := p.post(t, addressActivity("untracked",
		activitySeed{hash: "0xd1", asset: "ETH", value: "9", from: exchangeWallet, to: trackedWallet}))
	assert.True(t, ignored.Success)
	assert.Equal(t, "ignored", ignored.Status)

	rejected := p.post(t, addressActivity("unknown-asset",
		activitySeed{hash: "0xd2", asset: "USD", value: "1", from: exchangeWallet, to: secondaryWallet}))
	assert.False(t, rejected.Success)
	assert.Equal(t, "rejected", rejected.Status)
	assert.Contains(t, rejected.Message, "USD")

	assert.Zero(t, store.Len())
	assert.Empty(t, p.topic.drain())
}

func TestPipeline_RedisStore(t *testing.T) {
	addr := getEnvOrSkip(t, "TEST_REDIS_ADDR")
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	p := newPipelineWithStore(t, redisstore.NewStore(client, "it-"+uuid.NewString(), zap.NewNop()))
	body := addressActivity("redis",
		activitySeed{hash: "0xe1", asset: "ETH", value: "0.5", from: exchangeWallet, to: trackedWallet},
		activitySeed{hash: "0xe2", asset: "ETH", value: "2.5", from: exchangeWallet, to: trackedWallet})

	first := p.post(t, body)
	require.True(t, first.Success)
	assert.Len(t, p.topic.drain(), 2)

	again := p.post(t, body)
	assert.Equal(t, 4, again.Duplicates)
	assert.Empty(t, p.topic.drain())
}
