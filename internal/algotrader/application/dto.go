package application

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/algotrader/internal/algotrader/domain"
)

// CreateAlgoBuyOrderCommand 创建买入算法订单命令，OrderID 为空时自动生成
type CreateAlgoBuyOrderCommand struct {
	OrderID    string
	Symbol     string
	LimitPrice decimal.Decimal
	Quantity   decimal.Decimal
}

// SliceResult 一次成功落库的切片
type SliceResult struct {
	OrderID         domain.OrderID  `json:"order_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	SharesRemaining decimal.Decimal `json:"shares_remaining"`
	Filled          bool            `json:"filled"`
}

// TickResult 单个 quote bar 的处理结果
type TickResult struct {
	Symbol          string          `json:"symbol"`
	Ready           bool            `json:"ready"`
	VWAP            decimal.Decimal `json:"vwap"`
	Slices          []SliceResult   `json:"slices"`
	RemainingVolume decimal.Decimal `json:"remaining_volume"`
}

// SlicedQuantity 本 tick 释放的切片总量
func (r TickResult) SlicedQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, s := range r.Slices {
		total = total.Add(s.Quantity)
	}
	return total
}

// AlgoOrderDTO 算法订单视图
type AlgoOrderDTO struct {
	OrderID         string     `json:"order_id"`
	OrderType       string     `json:"order_type"`
	Symbol          string     `json:"symbol"`
	LimitPrice      string     `json:"limit_price"`
	TotalQuantity   string     `json:"total_quantity"`
	SharesRemaining string     `json:"shares_remaining"`
	SharesSliced    string     `json:"shares_sliced"`
	Filled          bool       `json:"filled"`
	FillPrice       string     `json:"fill_price,omitempty"`
	FillQuantity    string     `json:"fill_quantity,omitempty"`
	FilledOn        *time.Time `json:"filled_on,omitempty"`
	Version         int64      `json:"version"`
	CreatedAt       time.Time  `json:"created_at"`
}

// VWAPAnalyticDTO VWAP 分析器视图，无观测值时 VWAP 为空
type VWAPAnalyticDTO struct {
	Symbol                string    `json:"symbol"`
	VWAP                  string    `json:"vwap,omitempty"`
	BarCount              int64     `json:"bar_count"`
	CumulativePriceVolume string    `json:"cumulative_price_volume"`
	CumulativeVolume      string    `json:"cumulative_volume"`
	ReadyToTrade          bool      `json:"ready_to_trade"`
	Version               int64     `json:"version"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// StoredEventDTO 事件存储记录视图
type StoredEventDTO struct {
	EventID     int64           `json:"event_id"`
	TypeName    string          `json:"type_name"`
	AggregateID string          `json:"aggregate_id"`
	Body        json.RawMessage `json:"body"`
	OccurredOn  time.Time       `json:"occurred_on"`
}

func toAlgoOrderDTO(o *domain.AlgoOrder) *AlgoOrderDTO {
	q := o.Quote()
	dto := &AlgoOrderDTO{
		OrderID:         o.ID().String(),
		OrderType:       string(o.OrderType()),
		Symbol:          q.Symbol,
		LimitPrice:      q.LimitPrice.String(),
		TotalQuantity:   q.TotalQuantity.String(),
		SharesRemaining: o.SharesRemaining().String(),
		SharesSliced:    o.SharesSliced().String(),
		Filled:          o.IsFilled(),
		Version:         o.Version(),
		CreatedAt:       o.CreatedAt(),
	}
	if fill, err := o.Fill(); err == nil {
		dto.FillPrice = fill.Price.String()
		dto.FillQuantity = fill.Quantity.String()
		dto.FilledOn = &fill.FilledOn
	}
	return dto
}

func toVWAPAnalyticDTO(a *domain.VWAPAnalytic) *VWAPAnalyticDTO {
	dto := &VWAPAnalyticDTO{
		Symbol:                a.Symbol(),
		BarCount:              a.BarCount(),
		CumulativePriceVolume: a.CumulativePriceVolume().String(),
		CumulativeVolume:      a.CumulativeVolume().String(),
		ReadyToTrade:          a.IsReadyToTrade(),
		Version:               a.Version(),
		UpdatedAt:             a.UpdatedAt(),
	}
	if vwap, err := a.VWAP(); err == nil {
		dto.VWAP = vwap.String()
	}
	return dto
}

func toStoredEventDTOs(events []domain.StoredEvent) []*StoredEventDTO {
	dtos := make([]*StoredEventDTO, 0, len(events))
	for _, e := range events {
		dtos = append(dtos, &StoredEventDTO{
			EventID:     e.EventID,
			TypeName:    e.TypeName,
			AggregateID: e.AggregateID,
			Body:        e.Body,
			OccurredOn:  e.OccurredOn,
		})
	}
	return dtos
}
