package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/algotrader/internal/algotrader/domain"
	"github.com/wyfcoding/algotrader/internal/algotrader/infrastructure/persistence/memory"
	"github.com/wyfcoding/algotrader/pkg/metrics"
)

type pushed struct {
	topic string
	key   string
}

type recordingPusher struct {
	mu     sync.Mutex
	calls  []pushed
	failAt int
}

func (p *recordingPusher) push(_ context.Context, topic, key string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAt > 0 && len(p.calls)+1 == p.failAt {
		p.failAt = 0
		return errors.New("broker unavailable")
	}
	p.calls = append(p.calls, pushed{topic: topic, key: key})
	return nil
}

func (p *recordingPusher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sliceEvents(t *testing.T) []domain.DomainEvent {
	t.Helper()
	order, err := domain.NewAlgoBuyOrder("ORD-1", domain.Quote{
		Symbol:        "AAPL",
		LimitPrice:    decimal.NewFromInt(150),
		TotalQuantity: decimal.NewFromInt(200),
	})
	require.NoError(t, err)
	order.ClearDomainEvents()
	_, err = order.RequestSlice(decimal.NewFromInt(149), decimal.NewFromInt(100))
	require.NoError(t, err)
	_, err = order.RequestSlice(decimal.NewFromInt(149), decimal.NewFromInt(100))
	require.NoError(t, err)
	return order.DomainEvents()
}

func TestOrderSaveFeedsRelay(t *testing.T) {
	ctx := context.Background()
	store := memory.NewEventStore()
	orders := memory.NewAlgoOrderRepository(store)

	order, err := domain.NewAlgoBuyOrder("ORD-1", domain.Quote{
		Symbol:        "AAPL",
		LimitPrice:    decimal.NewFromInt(150),
		TotalQuantity: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	require.NoError(t, orders.Save(ctx, order))
	order.ClearDomainEvents()
	_, err = order.RequestSlice(decimal.NewFromInt(149), decimal.NewFromInt(100))
	require.NoError(t, err)
	require.NoError(t, orders.Save(ctx, order))

	m := metrics.New("algotrader_outbox_test")
	pusher := &recordingPusher{}
	relay := NewOutboxRelay(store, pusher.push, 10, time.Second, discardLogger(), m)
	n, err := relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []pushed{
		{topic: domain.AlgoOrderCreatedEventType, key: "ORD-1"},
		{topic: domain.AlgoSliceRequestedEventType, key: "ORD-1"},
		{topic: domain.AlgoOrderFilledEventType, key: "ORD-1"},
	}, pusher.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublishedTotal.WithLabelValues(domain.AlgoOrderFilledEventType, "ok")))
}

func TestOutboxRelayFlushInOrder(t *testing.T) {
	ctx := context.Background()
	store := memory.NewEventStore()
	_, err := store.Append(ctx, sliceEvents(t)...)
	require.NoError(t, err)

	pusher := &recordingPusher{}
	relay := NewOutboxRelay(store, pusher.push, 10, time.Second, discardLogger(), nil)

	n, err := relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []pushed{
		{topic: domain.AlgoSliceRequestedEventType, key: "ORD-1"},
		{topic: domain.AlgoSliceRequestedEventType, key: "ORD-1"},
		{topic: domain.AlgoOrderFilledEventType, key: "ORD-1"},
	}, pusher.calls)

	n, err = relay.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutboxRelayStopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewEventStore()
	_, err := store.Append(ctx, sliceEvents(t)...)
	require.NoError(t, err)

	pusher := &recordingPusher{failAt: 2}
	relay := NewOutboxRelay(store, pusher.push, 10, time.Second, discardLogger(), nil)

	n, err := relay.Flush(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, n)

	pending, err := store.Unpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, int64(2), pending[0].EventID)

	n, err = relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestOutboxRelayBackgroundLoop(t *testing.T) {
	ctx := context.Background()
	store := memory.NewEventStore()
	pusher := &recordingPusher{}
	relay := NewOutboxRelay(store, pusher.push, 10, 10*time.Millisecond, discardLogger(), nil)

	relay.Start(ctx)
	defer relay.Stop()

	_, err := store.Append(ctx, sliceEvents(t)...)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return pusher.count() == 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestMemoryBusPushDecodes(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()

	var filled []*domain.AlgoOrderFilledEvent
	var all int
	bus.Subscribe(domain.AlgoOrderFilledEventType, func(_ context.Context, e domain.DomainEvent) {
		filled = append(filled, e.(*domain.AlgoOrderFilledEvent))
	})
	bus.SubscribeAll(func(context.Context, domain.DomainEvent) { all++ })

	store := memory.NewEventStore()
	_, err := store.Append(ctx, sliceEvents(t)...)
	require.NoError(t, err)

	relay := NewOutboxRelay(store, bus.Push, 10, time.Second, discardLogger(), nil)
	n, err := relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, all)
	require.Len(t, filled, 1)
	assert.Equal(t, "ORD-1", filled[0].OrderID)
	assert.True(t, filled[0].FillQuantity.Equal(decimal.NewFromInt(200)))

	assert.Error(t, bus.Push(ctx, "unknown.topic", "", []byte(`{}`)))
}
