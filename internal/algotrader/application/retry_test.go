package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/algotrader/internal/algotrader/domain"
	"github.com/wyfcoding/algotrader/internal/algotrader/infrastructure/persistence/memory"
)

type mockOrderRepository struct {
	mock.Mock
}

func (m *mockOrderRepository) Save(ctx context.Context, order *domain.AlgoOrder) error {
	return m.Called(ctx, order).Error(0)
}

func (m *mockOrderRepository) FindByID(ctx context.Context, id domain.OrderID) (*domain.AlgoOrder, error) {
	args := m.Called(ctx, id)
	order, _ := args.Get(0).(*domain.AlgoOrder)
	return order, args.Error(1)
}

func (m *mockOrderRepository) OpenBuyOrdersOf(ctx context.Context, symbol string) ([]*domain.AlgoOrder, error) {
	args := m.Called(ctx, symbol)
	orders, _ := args.Get(0).([]*domain.AlgoOrder)
	return orders, args.Error(1)
}

func openOrder(t *testing.T, id string) *domain.AlgoOrder {
	t.Helper()
	order, err := domain.NewAlgoBuyOrder(domain.OrderID(id), domain.Quote{
		Symbol:        "AAPL",
		LimitPrice:    d(100),
		TotalQuantity: d(500),
	})
	require.NoError(t, err)
	order.ClearDomainEvents()
	order.SetVersion(1)
	return order
}

// readyAnalytics 预置一个差一个 bar 即可交易的分析器
func readyAnalytics(t *testing.T) *memory.VWAPAnalyticRepository {
	t.Helper()
	repo := memory.NewVWAPAnalyticRepository()
	analytic, err := domain.NewVWAPAnalytic("AAPL")
	require.NoError(t, err)
	obs, err := domain.NewPriceVolume(d(100), d(1000))
	require.NoError(t, err)
	for i := 1; i < domain.TradableQuoteBars; i++ {
		require.NoError(t, analytic.Accumulate(obs))
	}
	require.NoError(t, repo.Save(context.Background(), analytic))
	return repo
}

func isOrder(id string) any {
	return mock.MatchedBy(func(o *domain.AlgoOrder) bool { return o.ID() == domain.OrderID(id) })
}

func TestSliceRetryIsBoundedAndSkips(t *testing.T) {
	ctx := context.Background()
	orders := new(mockOrderRepository)
	next := openOrder(t, "NEXT")

	orders.On("OpenBuyOrdersOf", mock.Anything, "AAPL").
		Return([]*domain.AlgoOrder{openOrder(t, "STUCK"), next}, nil)
	orders.On("Save", mock.Anything, isOrder("STUCK")).Return(domain.ErrConflict)
	orders.On("FindByID", mock.Anything, domain.OrderID("STUCK")).Return(openOrder(t, "STUCK"), nil).Once()
	orders.On("FindByID", mock.Anything, domain.OrderID("STUCK")).Return(openOrder(t, "STUCK"), nil).Once()
	orders.On("Save", mock.Anything, isOrder("NEXT")).Return(nil)

	service := NewVWAPTradingService(orders, readyAnalytics(t), discardLogger(), nil, DefaultOptions())

	result, err := service.OnQuoteBar(ctx, bar("AAPL", 100, 1000, 1000))
	require.NoError(t, err)

	require.Len(t, result.Slices, 1)
	assert.Equal(t, domain.OrderID("NEXT"), result.Slices[0].OrderID)
	assert.True(t, result.RemainingVolume.Equal(d(900)))

	saves := 0
	for _, call := range orders.Calls {
		if call.Method == "Save" && call.Arguments.Get(1).(*domain.AlgoOrder).ID() == "STUCK" {
			saves++
		}
	}
	assert.Equal(t, DefaultMaxSliceAttempts, saves)
	orders.AssertNumberOfCalls(t, "FindByID", DefaultMaxSliceAttempts-1)
	orders.AssertExpectations(t)

	// 保存成功后事件已随订单落库，聚合上不再保留
	assert.Empty(t, next.DomainEvents())
}

func TestSliceRetrySucceedsAfterReload(t *testing.T) {
	ctx := context.Background()
	orders := new(mockOrderRepository)

	stale := openOrder(t, "A")
	fresh := openOrder(t, "A")
	_, err := fresh.RequestSlice(d(100), d(100))
	require.NoError(t, err)
	fresh.ClearDomainEvents()
	fresh.SetVersion(2)

	orders.On("OpenBuyOrdersOf", mock.Anything, "AAPL").Return([]*domain.AlgoOrder{stale}, nil)
	orders.On("Save", mock.Anything, stale).Return(domain.ErrConflict).Once()
	orders.On("FindByID", mock.Anything, domain.OrderID("A")).Return(fresh, nil).Once()
	orders.On("Save", mock.Anything, fresh).Return(nil).Once()

	service := NewVWAPTradingService(orders, readyAnalytics(t), discardLogger(), nil, DefaultOptions())

	result, err := service.OnQuoteBar(ctx, bar("AAPL", 100, 1000, 1000))
	require.NoError(t, err)
	require.Len(t, result.Slices, 1)
	assert.True(t, result.Slices[0].SharesRemaining.Equal(d(300)))
	orders.AssertExpectations(t)
}

func TestSliceSkippedWhenReloadedOrderFilled(t *testing.T) {
	ctx := context.Background()
	orders := new(mockOrderRepository)

	stale := openOrder(t, "A")
	filled, err := domain.NewAlgoBuyOrder("A", domain.Quote{Symbol: "AAPL", LimitPrice: d(100), TotalQuantity: d(100)})
	require.NoError(t, err)
	filled.ClearDomainEvents()
	_, err = filled.RequestSlice(d(100), d(100))
	require.NoError(t, err)

	orders.On("OpenBuyOrdersOf", mock.Anything, "AAPL").Return([]*domain.AlgoOrder{stale}, nil)
	orders.On("Save", mock.Anything, stale).Return(domain.ErrConflict).Once()
	orders.On("FindByID", mock.Anything, domain.OrderID("A")).Return(filled, nil).Once()

	service := NewVWAPTradingService(orders, readyAnalytics(t), discardLogger(), nil, DefaultOptions())

	result, err := service.OnQuoteBar(ctx, bar("AAPL", 100, 1000, 1000))
	require.NoError(t, err)
	assert.Empty(t, result.Slices)
	assert.True(t, result.RemainingVolume.Equal(d(1000)))
	orders.AssertNumberOfCalls(t, "Save", 1)
}
