package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/walletwatch/volume_watcher/internal/domain/entities"
	domainerrors "github.com/walletwatch/volume_watcher/internal/domain/errors"
	"github.com/walletwatch/volume_watcher/internal/domain/repositories"
	"github.com/walletwatch/volume_watcher/internal/domain/services/cooldown"
	"github.com/walletwatch/volume_watcher/internal/domain/services/ledger"
	"github.com/walletwatch/volume_watcher/internal/domain/services/normalizer"
	"github.com/walletwatch/volume_watcher/internal/domain/services/window"
	"github.com/walletwatch/volume_watcher/internal/infrastructure/store/memory"
	"github.com/walletwatch/volume_watcher/pkg/logger"
)

const (
	walletA = "0x1111111111111111111111111111111111111111"
	walletB = "0x2222222222222222222222222222222222222222"
)

type captureChannel struct {
	mu     sync.Mutex
	alerts []*entities.ThresholdAlertIntent
}

func (c *captureChannel) Publish(_ context.Context, alert *entities.ThresholdAlertIntent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, alert)
	return nil
}

func (c *captureChannel) byDirection(d entities.Direction) []*entities.ThresholdAlertIntent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*entities.ThresholdAlertIntent
	for _, a := range c.alerts {
		if a.Direction == d {
			out = append(out, a)
		}
	}
	return out
}

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) Publish(ctx context.Context, alert *entities.ThresholdAlertIntent) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

type clock struct{ now int64 }

func (c *clock) Now() time.Time { return time.Unix(c.now, 0) }

type harness struct {
	store   *memory.Store
	clock   *clock
	channel *captureChannel
	svc     *Service
}

type options struct {
	threshold      string
	window         time.Duration
	cooldown       time.Duration
	trackedWallets []string
	channel        AlertChannel
	store          repositories.Store
	recordOnly     bool
}

func newHarness(t *testing.T, opts options) *harness {
	t.Helper()
	if opts.threshold == "" {
		opts.threshold = "3"
	}
	if opts.window == 0 {
		opts.window = 300 * time.Second
	}
	if opts.cooldown == 0 {
		opts.cooldown = 30 * time.Second
	}
	h := &harness{store: memory.NewStore(), clock: &clock{}, channel: &captureChannel{}}
	var store repositories.Store = h.store
	if opts.store != nil {
		store = opts.store
	}
	var ch AlertChannel = h.channel
	if opts.channel != nil {
		ch = opts.channel
	}
	if opts.recordOnly {
		ch = nil
	}

	agg, err := window.NewAggregator(store, window.Config{Window: opts.window, BucketSize: time.Minute})
	require.NoError(t, err)

	svc, err := NewService(Deps{
		Normalizer: normalizer.New(normalizer.Config{TrackedAsset: "ETH", TrackedWallets: opts.trackedWallets}),
		Ledger:     ledger.NewService(store, 0, logger.NewNop()),
		Aggregator: agg,
		Gate:       cooldown.NewGate(store, opts.cooldown, 0),
		Channel:    ch,
		Clock:      h.clock.Now,
		Logger:     logger.NewNop(),
	}, Config{Threshold: decimal.RequireFromString(opts.threshold)})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func payload(t *testing.T, entries ...map[string]interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"webhookId": "wh_test",
		"id":        "whevt_test",
		"createdAt": "2026-01-14T23:13:00Z",
		"type":      "ADDRESS_ACTIVITY",
		"event":     map[string]interface{}{"network": "ETH_MAINNET", "activity": entries},
	})
	require.NoError(t, err)
	return raw
}

func eth(hash, from, to string, value float64) map[string]interface{} {
	return map[string]interface{}{"hash": hash, "fromAddress": from, "toAddress": to, "asset": "ETH", "value": value}
}

func TestProcessIsIdempotent(t *testing.T) {
	h := newHarness(t, options{threshold: "100"})
	ctx := context.Background()
	raw := payload(t, eth("0xdup", walletA, walletB, 1.5))

	first, err := h.svc.Process(ctx, raw, RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, first.Status)
	assert.Equal(t, 2, first.Pairs)
	assert.Equal(t, 0, first.Duplicates)
	itemsAfterFirst := h.store.Len()

	second, err := h.svc.Process(ctx, raw, RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, second.Status)
	assert.Equal(t, 2, second.Duplicates)
	assert.Equal(t, itemsAfterFirst, h.store.Len())

	items, err := h.store.Query(ctx, entities.WalletPartition(entities.DirectionFrom, walletA), 0, 60)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "1.5", items[0].Sum.String())
}

func TestProcessConcurrentDuplicateDelivery(t *testing.T) {
	h := newHarness(t, options{threshold: "1"})
	ctx := context.Background()
	raw := payload(t, eth("0xrace", walletA, walletB, 2))

	const deliveries = 16
	var duplicates int32
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := h.svc.Process(ctx, raw, RequestMeta{})
			if assert.NoError(t, err) {
				assert.Equal(t, StatusProcessed, out.Status)
				atomic.AddInt32(&duplicates, int32(out.Duplicates))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2*(deliveries-1)), duplicates)
	for _, d := range entities.Directions {
		wallet := walletA
		if d == entities.DirectionTo {
			wallet = walletB
		}
		sum, err := h.svc.deps.Aggregator.WindowSum(ctx, d, wallet, h.clock.now)
		require.NoError(t, err)
		assert.True(t, sum.Equal(decimal.NewFromInt(2)), "%s sum=%s", d, sum)
		assert.Len(t, h.channel.byDirection(d), 1, string(d))
	}
}

func TestProcessThresholdCrossing(t *testing.T) {
	h := newHarness(t, options{threshold: "3"})
	ctx := context.Background()

	h.clock.now = 1000
	out, err := h.svc.Process(ctx, payload(t, eth("0x01", walletA, walletB, 0.5)), RequestMeta{RequestID: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Alerts)

	h.clock.now = 1010
	out, err = h.svc.Process(ctx, payload(t, eth("0x02", walletA, walletB, 2.5)), RequestMeta{RequestID: "req-2"})
	require.NoError(t, err)

	// both directions cross: walletA outbound and walletB inbound
	assert.Equal(t, 2, out.Alerts)
	outbound := h.channel.byDirection(entities.DirectionFrom)
	require.Len(t, outbound, 1)
	alert := outbound[0]
	assert.True(t, alert.TotalEth.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, walletA, alert.Wallet)
	assert.Equal(t, "0x02", alert.TxHash)
	assert.Equal(t, int64(300), alert.WindowSec)
	assert.Equal(t, int64(1010), alert.Timestamp)
	assert.Equal(t, "req-2", alert.RequestID)
	assert.Equal(t, "whevt_test", alert.CorrelationID)
	assert.Equal(t, entities.AlertSource, alert.Source)
	assert.Zero(t, alert.TrackedWalletIndex)
}

func TestProcessCooldown(t *testing.T) {
	h := newHarness(t, options{threshold: "1", cooldown: 30 * time.Second})
	ctx := context.Background()

	for i, tc := range []struct {
		now  int64
		want int
	}{
		{0, 1},
		{5, 1},
		{45, 2},
	} {
		h.clock.now = tc.now
		_, err := h.svc.Process(ctx, payload(t, eth(fmt.Sprintf("0x%02d", i), walletA, walletB, 1)), RequestMeta{})
		require.NoError(t, err)
		assert.Len(t, h.channel.byDirection(entities.DirectionFrom), tc.want, "t=%d", tc.now)
	}
}

func TestProcessIgnoresOtherAssets(t *testing.T) {
	h := newHarness(t, options{})
	usdc := eth("0xusdc", walletA, walletB, 1000)
	usdc["asset"] = "USDC"

	out, err := h.svc.Process(context.Background(), payload(t, usdc), RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, StatusIgnored, out.Status)
	assert.Equal(t, "ignored non-ETH asset", out.Message)
	assert.Equal(t, 0, h.store.Len())
}

func TestProcessRecordOnly(t *testing.T) {
	h := newHarness(t, options{recordOnly: true})
	ctx := context.Background()

	out, err := h.svc.Process(ctx, payload(t, eth("0xbig", walletA, walletB, 5)), RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, out.Status)
	assert.Equal(t, 2, out.Pairs)
	assert.Zero(t, out.Alerts)

	// two ledger entries and two buckets, no cooldown markers
	assert.Equal(t, 4, h.store.Len())
	marker, err := h.store.Query(ctx, entities.WalletPartition(entities.DirectionFrom, walletA), entities.CooldownSortKey, entities.CooldownSortKey)
	require.NoError(t, err)
	assert.Empty(t, marker)
}

func TestProcessTrackedWalletFilter(t *testing.T) {
	tracked := "0x9999999999999999999999999999999999999999"
	h := newHarness(t, options{threshold: "1", trackedWallets: []string{tracked}})
	ctx := context.Background()

	out, err := h.svc.Process(ctx, payload(t, eth("0x01", walletA, walletB, 5)), RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, StatusIgnored, out.Status)
	assert.Equal(t, 0, h.store.Len())

	out, err = h.svc.Process(ctx, payload(t, eth("0x02", walletA, tracked, 5)), RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Pairs)
	require.Len(t, h.channel.alerts, 1)
	alert := h.channel.alerts[0]
	assert.Equal(t, entities.DirectionTo, alert.Direction)
	assert.Equal(t, 1, alert.TrackedWalletIndex)
	assert.Equal(t, "Tracked Wallet #1", alert.TrackedWalletAlias)
	assert.Equal(t, walletA, alert.Counterparty)
}

func TestProcessRejectsBlankTxHash(t *testing.T) {
	h := newHarness(t, options{})
	ctx := context.Background()

	for _, hash := range []string{"   ", " "} {
		out, err := h.svc.Process(ctx, payload(t, eth(hash, walletA, walletB, 1)), RequestMeta{})
		require.NoError(t, err)
		assert.Equal(t, StatusRejected, out.Status)
		assert.Equal(t, "missing activity[0].hash", out.Reason)
	}
	assert.Equal(t, 0, h.store.Len())
}

func TestProcessTxHashCaseIsIdempotent(t *testing.T) {
	h := newHarness(t, options{threshold: "100"})
	ctx := context.Background()

	first, err := h.svc.Process(ctx, payload(t, eth("0xABCD", walletA, walletB, 1)), RequestMeta{})
	require.NoError(t, err)
	assert.Zero(t, first.Duplicates)

	second, err := h.svc.Process(ctx, payload(t, eth("0xabcd", walletA, walletB, 1)), RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Duplicates)

	sum, err := h.svc.deps.Aggregator.WindowSum(ctx, entities.DirectionFrom, walletA, h.clock.now)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(1)), "sum=%s", sum)
}

func TestProcessRejectsMalformedPayload(t *testing.T) {
	h := newHarness(t, options{})
	entry := eth("0x01", walletA, walletB, 1)
	delete(entry, "fromAddress")

	out, err := h.svc.Process(context.Background(), payload(t, entry), RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, out.Status)
	assert.Equal(t, "missing activity[0].fromAddress", out.Reason)
	assert.Equal(t, 0, h.store.Len())
}

func TestProcessPrecisionOfFixedPointAmounts(t *testing.T) {
	h := newHarness(t, options{threshold: "1000"})
	ctx := context.Background()
	raw := []byte(`{"event":{"activity":[{"asset":"ETH","hash":"0xfp","fromAddress":"` + walletA + `","toAddress":"` + walletB + `",
		"rawContract":{"rawValue":"0x112210f4c023b6d3","decimals":18}}]}}`)

	_, err := h.svc.Process(ctx, raw, RequestMeta{})
	require.NoError(t, err)

	items, err := h.store.Query(ctx, entities.WalletPartition(entities.DirectionTo, walletB), 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Sum.Equal(decimal.RequireFromString("1.234567891")), "got %s", items[0].Sum)
}

func TestProcessSwallowsAlertFailures(t *testing.T) {
	ch := &mockChannel{}
	ch.On("Publish", mock.Anything, mock.AnythingOfType("*entities.ThresholdAlertIntent")).Return(errors.New("sns down"))
	h := newHarness(t, options{threshold: "1", channel: ch})

	out, err := h.svc.Process(context.Background(), payload(t, eth("0x01", walletA, walletB, 2)), RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, out.Status)
	ch.AssertNumberOfCalls(t, "Publish", 2)
}

type brokenStore struct {
	*memory.Store
}

func (b *brokenStore) ConditionalUpdate(context.Context, repositories.Key, repositories.Mutation, repositories.Precondition) error {
	return errors.New("throughput exceeded")
}

func TestProcessPropagatesStoreFaults(t *testing.T) {
	h := newHarness(t, options{store: &brokenStore{Store: memory.NewStore()}})

	out, err := h.svc.Process(context.Background(), payload(t, eth("0x01", walletA, walletB, 2)), RequestMeta{})
	assert.Nil(t, out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throughput exceeded")
	assert.True(t, domainerrors.IsInternal(err))
	assert.False(t, domainerrors.IsInvalidInput(err))
}

func TestNewServiceValidates(t *testing.T) {
	_, err := NewService(Deps{}, Config{Threshold: decimal.NewFromInt(1)})
	assert.Error(t, err)
}
