// Package consumer Kafka 消息处理器
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/algotrader/internal/algotrader/application"
	"github.com/wyfcoding/algotrader/internal/algotrader/domain"
	"github.com/wyfcoding/algotrader/pkg/metrics"
)

const (
	QuoteBarTopic       = "marketdata.quote_bar"
	BuyOrderPlacedTopic = "order.buy_order_placed"
)

// QuoteBarHandler 消费行情 bar 并驱动 VWAP 交易。
// 无法解析或观测值非法的消息直接确认丢弃，其余错误返回给消费者进入死信队列。
type QuoteBarHandler struct {
	service *application.VWAPTradingService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewQuoteBarHandler(service *application.VWAPTradingService, logger *slog.Logger, m *metrics.Metrics) *QuoteBarHandler {
	return &QuoteBarHandler{service: service, logger: logger, metrics: m}
}

func (h *QuoteBarHandler) Handle(ctx context.Context, msg kafka.Message) error {
	err := h.handle(ctx, msg)
	h.metrics.RecordConsumed(msg.Topic, err)
	return err
}

func (h *QuoteBarHandler) handle(ctx context.Context, msg kafka.Message) error {
	var bar domain.QuoteBar
	if err := json.Unmarshal(msg.Value, &bar); err != nil {
		h.logger.WarnContext(ctx, "dropping malformed quote bar", "offset", msg.Offset, "error", err)
		return nil
	}
	if bar.Timestamp.IsZero() {
		bar.Timestamp = msg.Time
	}

	result, err := h.service.OnQuoteBar(ctx, bar)
	switch {
	case errors.Is(err, domain.ErrInvalidObservation), errors.Is(err, domain.ErrInvalidQuoteBar):
		h.logger.WarnContext(ctx, "dropping invalid quote bar", "symbol", bar.Symbol, "offset", msg.Offset, "error", err)
		return nil
	case err != nil:
		return err
	}

	if len(result.Slices) > 0 {
		h.logger.InfoContext(ctx, "quote bar allocated slices",
			"symbol", result.Symbol,
			"vwap", result.VWAP.String(),
			"slices", len(result.Slices),
			"sliced_quantity", result.SlicedQuantity().String())
	}
	return nil
}

type buyOrderPlaced struct {
	OrderID    string          `json:"order_id"`
	Symbol     string          `json:"symbol"`
	LimitPrice decimal.Decimal `json:"limit_price"`
	Quantity   decimal.Decimal `json:"quantity"`
	PlacedAt   time.Time       `json:"placed_at"`
}

// BuyOrderPlacedHandler 把上游下单事件转换为买入算法订单。
// 重复投递的同一订单视为已处理。
type BuyOrderPlacedHandler struct {
	service *application.AlgoOrderCommandService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewBuyOrderPlacedHandler(service *application.AlgoOrderCommandService, logger *slog.Logger, m *metrics.Metrics) *BuyOrderPlacedHandler {
	return &BuyOrderPlacedHandler{service: service, logger: logger, metrics: m}
}

func (h *BuyOrderPlacedHandler) Handle(ctx context.Context, msg kafka.Message) error {
	err := h.handle(ctx, msg)
	h.metrics.RecordConsumed(msg.Topic, err)
	return err
}

func (h *BuyOrderPlacedHandler) handle(ctx context.Context, msg kafka.Message) error {
	var event buyOrderPlaced
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.WarnContext(ctx, "dropping malformed buy order event", "offset", msg.Offset, "error", err)
		return nil
	}

	id, err := h.service.CreateAlgoBuyOrder(ctx, application.CreateAlgoBuyOrderCommand{
		OrderID:    event.OrderID,
		Symbol:     event.Symbol,
		LimitPrice: event.LimitPrice,
		Quantity:   event.Quantity,
	})
	switch {
	case errors.Is(err, domain.ErrConflict):
		h.logger.InfoContext(ctx, "buy order already registered", "order_id", event.OrderID)
		return nil
	case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrInvalidOrderID):
		h.logger.WarnContext(ctx, "dropping invalid buy order event", "order_id", event.OrderID, "error", err)
		return nil
	case err != nil:
		return err
	}

	h.logger.InfoContext(ctx, "algo buy order registered from upstream", "order_id", id, "symbol", event.Symbol)
	return nil
}
