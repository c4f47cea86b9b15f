package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/algotrader/internal/algotrader/domain"
)

// ErrInvalidEventRange 事件区间下界大于上界
var ErrInvalidEventRange = errors.New("invalid event range")

// QueryService 处理只读查询
type QueryService struct {
	orders    domain.AlgoOrderRepository
	analytics domain.VWAPAnalyticRepository
	events    domain.EventStore
}

func NewQueryService(orders domain.AlgoOrderRepository, analytics domain.VWAPAnalyticRepository, events domain.EventStore) *QueryService {
	return &QueryService{orders: orders, analytics: analytics, events: events}
}

func (q *QueryService) GetAlgoOrder(ctx context.Context, id string) (*AlgoOrderDTO, error) {
	orderID, err := domain.NewOrderID(id)
	if err != nil {
		return nil, err
	}
	order, err := q.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return toAlgoOrderDTO(order), nil
}

// ListOpenBuyOrders 按创建顺序列出标的下未完成的买单
func (q *QueryService) ListOpenBuyOrders(ctx context.Context, symbol string) ([]*AlgoOrderDTO, error) {
	orders, err := q.orders.OpenBuyOrdersOf(ctx, domain.NormalizeSymbol(symbol))
	if err != nil {
		return nil, err
	}
	dtos := make([]*AlgoOrderDTO, 0, len(orders))
	for _, o := range orders {
		dtos = append(dtos, toAlgoOrderDTO(o))
	}
	return dtos, nil
}

func (q *QueryService) GetVWAPAnalytic(ctx context.Context, symbol string) (*VWAPAnalyticDTO, error) {
	analytic, err := q.analytics.FindBySymbol(ctx, domain.NormalizeSymbol(symbol))
	if err != nil {
		return nil, err
	}
	return toVWAPAnalyticDTO(analytic), nil
}

// EventsSince 返回 EventID 大于 eventID 的事件
func (q *QueryService) EventsSince(ctx context.Context, eventID int64) ([]*StoredEventDTO, error) {
	events, err := q.events.AllStoredEventsSince(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return toStoredEventDTOs(events), nil
}

// EventsBetween 返回 [low, high] 区间内的事件
func (q *QueryService) EventsBetween(ctx context.Context, low, high int64) ([]*StoredEventDTO, error) {
	if low > high {
		return nil, fmt.Errorf("%w: [%d, %d]", ErrInvalidEventRange, low, high)
	}
	events, err := q.events.AllStoredEventsBetween(ctx, low, high)
	if err != nil {
		return nil, err
	}
	return toStoredEventDTOs(events), nil
}

func (q *QueryService) CountEvents(ctx context.Context) (int64, error) {
	return q.events.CountStoredEvents(ctx)
}
