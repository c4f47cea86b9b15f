// Package application VWAP 算法交易的应用服务层
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/algotrader/internal/algotrader/domain"
	"github.com/wyfcoding/algotrader/pkg/metrics"
)

const (
	DefaultSliceSize           = 100
	DefaultMaxSliceAttempts    = 3
	DefaultMaxAnalyticAttempts = 5
)

// Options 交易服务参数
type Options struct {
	// SliceSize 每个订单每个 tick 最多释放的数量
	SliceSize           decimal.Decimal
	MaxSliceAttempts    int
	MaxAnalyticAttempts int
}

func DefaultOptions() Options {
	return Options{
		SliceSize:           decimal.NewFromInt(DefaultSliceSize),
		MaxSliceAttempts:    DefaultMaxSliceAttempts,
		MaxAnalyticAttempts: DefaultMaxAnalyticAttempts,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if !o.SliceSize.IsPositive() {
		o.SliceSize = d.SliceSize
	}
	if o.MaxSliceAttempts <= 0 {
		o.MaxSliceAttempts = d.MaxSliceAttempts
	}
	if o.MaxAnalyticAttempts <= 0 {
		o.MaxAnalyticAttempts = d.MaxAnalyticAttempts
	}
	return o
}

// VWAPTradingService 在每个 quote bar 上更新 VWAP，并把 bar 的流动性预算分配给合格的买单。
// 所有共享状态都经由仓储的乐观锁访问，可被并发调用。
type VWAPTradingService struct {
	orders    domain.AlgoOrderRepository
	analytics domain.VWAPAnalyticRepository
	logger    *slog.Logger
	metrics   *metrics.Metrics
	opts      Options
}

func NewVWAPTradingService(
	orders domain.AlgoOrderRepository,
	analytics domain.VWAPAnalyticRepository,
	logger *slog.Logger,
	m *metrics.Metrics,
	opts Options,
) *VWAPTradingService {
	return &VWAPTradingService{
		orders:    orders,
		analytics: analytics,
		logger:    logger.With("component", "vwap_trading_service"),
		metrics:   m,
		opts:      opts.withDefaults(),
	}
}

// OnQuoteBar 处理一个 quote bar。
// 观测值非法时返回 ErrInvalidObservation 且不修改任何状态；
// 分析器未就绪时只累计观测值；单个订单的失败只影响该订单本 tick 的切片。
func (s *VWAPTradingService) OnQuoteBar(ctx context.Context, bar domain.QuoteBar) (TickResult, error) {
	start := time.Now()
	bar = bar.Normalized()
	result := TickResult{Symbol: bar.Symbol, RemainingVolume: bar.TotalQuantity}

	if err := bar.Validate(); err != nil {
		s.metrics.ObserveQuoteBar("invalid", time.Since(start).Seconds())
		return result, err
	}
	obs, err := bar.Observation()
	if err != nil {
		s.metrics.ObserveQuoteBar("invalid", time.Since(start).Seconds())
		return result, err
	}

	analytic, err := s.accumulate(ctx, bar.Symbol, obs)
	if err != nil {
		s.metrics.ObserveQuoteBar("error", time.Since(start).Seconds())
		s.logger.ErrorContext(ctx, "failed to update vwap analytic", "symbol", bar.Symbol, "error", err)
		return result, err
	}

	vwap, err := analytic.VWAP()
	if err != nil {
		s.metrics.ObserveQuoteBar("error", time.Since(start).Seconds())
		return result, err
	}
	result.VWAP = vwap
	s.metrics.SetVWAP(bar.Symbol, vwap.InexactFloat64())

	if !analytic.IsReadyToTrade() {
		s.logger.DebugContext(ctx, "vwap analytic not ready", "symbol", bar.Symbol, "bar_count", analytic.BarCount())
		s.metrics.ObserveQuoteBar("not_ready", time.Since(start).Seconds())
		return result, nil
	}
	result.Ready = true

	orders, err := s.orders.OpenBuyOrdersOf(ctx, bar.Symbol)
	if err != nil {
		s.metrics.ObserveQuoteBar("error", time.Since(start).Seconds())
		return result, fmt.Errorf("load open buy orders of %s: %w", bar.Symbol, err)
	}

	remaining := bar.TotalQuantity
	for _, order := range orders {
		if !remaining.IsPositive() {
			break
		}
		if !analytic.QualifiesAsTradePrice(order.Quote().LimitPrice) {
			continue
		}
		slice, ok := s.attemptSlice(ctx, order, vwap, remaining)
		if !ok {
			continue
		}
		remaining = remaining.Sub(slice.Quantity)
		result.Slices = append(result.Slices, slice)
	}
	result.RemainingVolume = remaining

	s.logger.DebugContext(ctx, "quote bar processed",
		"symbol", bar.Symbol,
		"vwap", vwap.String(),
		"open_orders", len(orders),
		"slices", len(result.Slices),
		"remaining_volume", remaining.String())
	s.metrics.ObserveQuoteBar("ok", time.Since(start).Seconds())
	return result, nil
}

// accumulate 读取（或新建）分析器、累计观测值并保存，冲突时重读重试
func (s *VWAPTradingService) accumulate(ctx context.Context, symbol string, obs domain.PriceVolume) (*domain.VWAPAnalytic, error) {
	for attempt := 1; attempt <= s.opts.MaxAnalyticAttempts; attempt++ {
		analytic, err := s.analytics.FindBySymbol(ctx, symbol)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			if analytic, err = domain.NewVWAPAnalytic(symbol); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, fmt.Errorf("load analytic %s: %w", symbol, err)
		}

		if err := analytic.Accumulate(obs); err != nil {
			return nil, err
		}

		err = s.analytics.Save(ctx, analytic)
		if err == nil {
			return analytic, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("save analytic %s: %w", symbol, err)
		}
		s.metrics.RecordConflict("vwap_analytic")
		s.logger.WarnContext(ctx, "vwap analytic save conflict, retrying", "symbol", symbol, "attempt", attempt)
	}
	return nil, fmt.Errorf("%w: analytic %s after %d attempts", domain.ErrConflict, symbol, s.opts.MaxAnalyticAttempts)
}

// attemptSlice 对单个订单请求切片并保存，冲突时重新加载订单后重试。
// 返回 false 表示本 tick 该订单没有切片。
func (s *VWAPTradingService) attemptSlice(ctx context.Context, order *domain.AlgoOrder, vwap, budget decimal.Decimal) (SliceResult, bool) {
	id := order.ID()
	current := order

	for attempt := 1; attempt <= s.opts.MaxSliceAttempts; attempt++ {
		if attempt > 1 {
			reloaded, err := s.orders.FindByID(ctx, id)
			if err != nil {
				s.logger.WarnContext(ctx, "failed to reload algo order", "order_id", id, "error", err)
				return SliceResult{}, false
			}
			current = reloaded
		}

		if current.IsFilled() {
			return SliceResult{}, false
		}
		if decimal.Min(current.SharesRemaining(), s.opts.SliceSize).GreaterThan(budget) {
			return SliceResult{}, false
		}

		quantity, err := current.RequestSlice(vwap, s.opts.SliceSize)
		if err != nil {
			s.logger.WarnContext(ctx, "slice request rejected", "order_id", id, "error", err)
			return SliceResult{}, false
		}

		err = s.orders.Save(ctx, current)
		if err == nil {
			s.recordEvents(ctx, current)
			return SliceResult{
				OrderID:         id,
				Quantity:        quantity,
				SharesRemaining: current.SharesRemaining(),
				Filled:          current.IsFilled(),
			}, true
		}
		if !errors.Is(err, domain.ErrConflict) {
			s.logger.ErrorContext(ctx, "failed to save algo order", "order_id", id, "error", err)
			return SliceResult{}, false
		}
		s.metrics.RecordConflict("algo_order")
		s.logger.WarnContext(ctx, "algo order save conflict", "order_id", id, "attempt", attempt)
	}

	s.metrics.RecordSliceExhausted()
	s.logger.WarnContext(ctx, "slice attempts exhausted, skipping order this tick",
		"order_id", id, "attempts", s.opts.MaxSliceAttempts)
	return SliceResult{}, false
}

// recordEvents 订单事件已随 Save 写入事件存储，这里只做指标与日志
func (s *VWAPTradingService) recordEvents(ctx context.Context, order *domain.AlgoOrder) {
	for _, event := range order.DomainEvents() {
		switch e := event.(type) {
		case *domain.AlgoSliceRequestedEvent:
			s.metrics.RecordSlice(e.Quantity.InexactFloat64())
		case *domain.AlgoOrderFilledEvent:
			s.metrics.RecordFill()
			s.logger.InfoContext(ctx, "algo order filled",
				"order_id", e.OrderID,
				"symbol", e.Symbol,
				"fill_price", e.FillPrice.String(),
				"fill_quantity", e.FillQuantity.String())
		}
	}
	order.ClearDomainEvents()
}
