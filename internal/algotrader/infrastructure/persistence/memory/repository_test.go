package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/algotrader/internal/algotrader/domain"
)

func buyOrder(t *testing.T, id, symbol string, qty int64) *domain.AlgoOrder {
	t.Helper()
	order, err := domain.NewAlgoBuyOrder(domain.OrderID(id), domain.Quote{
		Symbol:        symbol,
		LimitPrice:    decimal.NewFromInt(100),
		TotalQuantity: decimal.NewFromInt(qty),
	})
	require.NoError(t, err)
	return order
}

func TestAlgoOrderRepositoryVersioning(t *testing.T) {
	ctx := context.Background()
	repo := NewAlgoOrderRepository(NewEventStore())
	order := buyOrder(t, "A-1", "AAPL", 500)

	require.NoError(t, repo.Save(ctx, order))
	assert.Equal(t, int64(1), order.Version())

	// 重复插入
	err := repo.Save(ctx, buyOrder(t, "A-1", "AAPL", 500))
	assert.ErrorIs(t, err, domain.ErrConflict)

	first, err := repo.FindByID(ctx, "A-1")
	require.NoError(t, err)
	second, err := repo.FindByID(ctx, "A-1")
	require.NoError(t, err)

	_, err = first.RequestSlice(decimal.NewFromInt(99), decimal.NewFromInt(100))
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, first))

	_, err = second.RequestSlice(decimal.NewFromInt(99), decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Save(ctx, second), domain.ErrConflict)

	stored, err := repo.FindByID(ctx, "A-1")
	require.NoError(t, err)
	assert.True(t, stored.SharesRemaining().Equal(decimal.NewFromInt(400)))
	assert.Equal(t, int64(2), stored.Version())
}

func TestAlgoOrderRepositoryNotFound(t *testing.T) {
	_, err := NewAlgoOrderRepository(NewEventStore()).FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOpenBuyOrdersOfIsStableAndFiltered(t *testing.T) {
	ctx := context.Background()
	repo := NewAlgoOrderRepository(NewEventStore())
	for _, id := range []string{"C", "A", "B"} {
		require.NoError(t, repo.Save(ctx, buyOrder(t, id, "AAPL", 100)))
	}
	require.NoError(t, repo.Save(ctx, buyOrder(t, "OTHER", "MSFT", 100)))

	sell, err := domain.NewAlgoOrder("S", domain.OrderTypeSell, domain.Quote{Symbol: "AAPL", LimitPrice: decimal.NewFromInt(1), TotalQuantity: decimal.NewFromInt(1)})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, sell))

	filled, err := repo.FindByID(ctx, "A")
	require.NoError(t, err)
	_, err = filled.RequestSlice(decimal.NewFromInt(1), decimal.NewFromInt(100))
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, filled))

	orders, err := repo.OpenBuyOrdersOf(ctx, "AAPL")
	require.NoError(t, err)
	ids := make([]domain.OrderID, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID())
	}
	assert.Equal(t, []domain.OrderID{"C", "B"}, ids)
}

func TestVWAPAnalyticRepositoryConcurrentSavesConflict(t *testing.T) {
	ctx := context.Background()
	repo := NewVWAPAnalyticRepository()
	analytic, err := domain.NewVWAPAnalytic("AAPL")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, analytic))

	const writers = 8
	var wg sync.WaitGroup
	results := make(chan error, writers)
	loaded := make([]*domain.VWAPAnalytic, writers)
	for i := range loaded {
		loaded[i], err = repo.FindBySymbol(ctx, "AAPL")
		require.NoError(t, err)
	}
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(a *domain.VWAPAnalytic) {
			defer wg.Done()
			obs, _ := domain.NewPriceVolume(decimal.NewFromInt(10), decimal.NewFromInt(1))
			_ = a.Accumulate(obs)
			results <- repo.Save(ctx, a)
		}(loaded[i])
	}
	wg.Wait()
	close(results)

	var ok, conflicts int
	for err := range results {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, domain.ErrConflict)
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, writers-1, conflicts)

	stored, err := repo.FindBySymbol(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.BarCount())
}

func TestEventStoreSequencing(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore()
	order := buyOrder(t, "E-1", "AAPL", 100)
	order.ClearDomainEvents()
	_, err := order.RequestSlice(decimal.NewFromInt(1), decimal.NewFromInt(100))
	require.NoError(t, err)

	stored, err := store.Append(ctx, order.DomainEvents()...)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, int64(1), stored[0].EventID)
	assert.Equal(t, int64(2), stored[1].EventID)

	count, err := store.CountStoredEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	since, err := store.AllStoredEventsSince(ctx, 1)
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, domain.AlgoOrderFilledEventType, since[0].TypeName)

	between, err := store.AllStoredEventsBetween(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, between, 2)

	require.NoError(t, store.MarkPublished(ctx, 1))
	pending, err := store.Unpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(2), pending[0].EventID)
}

type toggledAppender struct {
	*EventStore
	fail bool
}

func (a *toggledAppender) Append(ctx context.Context, events ...domain.DomainEvent) ([]domain.StoredEvent, error) {
	if a.fail {
		return nil, errors.New("append refused")
	}
	return a.EventStore.Append(ctx, events...)
}

func TestAlgoOrderSaveWritesEventsAtomically(t *testing.T) {
	ctx := context.Background()
	appender := &toggledAppender{EventStore: NewEventStore()}
	repo := NewAlgoOrderRepository(appender)

	appender.fail = true
	order := buyOrder(t, "T-1", "AAPL", 100)
	assert.ErrorContains(t, repo.Save(ctx, order), "append refused")
	_, err := repo.FindByID(ctx, "T-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, order.Version())

	appender.fail = false
	require.NoError(t, repo.Save(ctx, order))
	order.ClearDomainEvents()

	_, err = order.RequestSlice(decimal.NewFromInt(99), decimal.NewFromInt(100))
	require.NoError(t, err)
	appender.fail = true
	assert.Error(t, repo.Save(ctx, order))

	stored, err := repo.FindByID(ctx, "T-1")
	require.NoError(t, err)
	assert.True(t, stored.SharesRemaining().Equal(decimal.NewFromInt(100)))
	assert.Equal(t, int64(1), stored.Version())
	count, err := appender.CountStoredEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// 冲突的保存不写事件
	stale, err := repo.FindByID(ctx, "T-1")
	require.NoError(t, err)
	appender.fail = false
	require.NoError(t, repo.Save(ctx, order))
	_, err = stale.RequestSlice(decimal.NewFromInt(99), decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Save(ctx, stale), domain.ErrConflict)

	events, err := appender.AllStoredEventsSince(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, domain.AlgoOrderCreatedEventType, events[0].TypeName)
	assert.Equal(t, domain.AlgoSliceRequestedEventType, events[1].TypeName)
	assert.Equal(t, domain.AlgoOrderFilledEventType, events[2].TypeName)
}
