package application

import (
	"context"
	"log/slog"

	"github.com/wyfcoding/algotrader/internal/algotrader/domain"
	"github.com/wyfcoding/algotrader/pkg/metrics"
)

// AlgoOrderCommandService 处理算法订单的写入操作
type AlgoOrderCommandService struct {
	orders  domain.AlgoOrderRepository
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewAlgoOrderCommandService(orders domain.AlgoOrderRepository, logger *slog.Logger, m *metrics.Metrics) *AlgoOrderCommandService {
	return &AlgoOrderCommandService{
		orders:  orders,
		logger:  logger.With("component", "algo_order_command_service"),
		metrics: m,
	}
}

// CreateAlgoBuyOrder 创建买入算法订单，订单 ID 重复时返回 ErrConflict。
// AlgoOrderCreatedEvent 与订单一同写入。
func (s *AlgoOrderCommandService) CreateAlgoBuyOrder(ctx context.Context, cmd CreateAlgoBuyOrderCommand) (domain.OrderID, error) {
	id := domain.UniqueOrderID()
	if cmd.OrderID != "" {
		var err error
		if id, err = domain.NewOrderID(cmd.OrderID); err != nil {
			return "", err
		}
	}

	order, err := domain.NewAlgoBuyOrder(id, domain.Quote{
		Symbol:        cmd.Symbol,
		LimitPrice:    cmd.LimitPrice,
		TotalQuantity: cmd.Quantity,
	})
	if err != nil {
		return "", err
	}

	if err := s.orders.Save(ctx, order); err != nil {
		return "", err
	}
	order.ClearDomainEvents()
	s.metrics.RecordOrderCreated()

	q := order.Quote()
	s.logger.InfoContext(ctx, "algo buy order created",
		"order_id", id,
		"symbol", q.Symbol,
		"limit_price", q.LimitPrice.String(),
		"quantity", q.TotalQuantity.String())
	return id, nil
}
