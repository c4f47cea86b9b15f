package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// TradableQuoteBars 累计观测数达到该值后分析器才允许交易
	TradableQuoteBars = 10
	// RecentObservationLimit 保留最近观测值的个数，仅用于诊断展示
	RecentObservationLimit = 100
)

// PriceVolume 一次行情的价量观测值，不可变
type PriceVolume struct {
	price  decimal.Decimal
	volume decimal.Decimal
}

// NewPriceVolume 创建观测值，价格与成交量必须为正
func NewPriceVolume(price, volume decimal.Decimal) (PriceVolume, error) {
	if !price.IsPositive() || !volume.IsPositive() {
		return PriceVolume{}, fmt.Errorf("%w: price=%s volume=%s", ErrInvalidObservation, price, volume)
	}
	return PriceVolume{price: price, volume: volume}, nil
}

func (pv PriceVolume) Price() decimal.Decimal  { return pv.price }
func (pv PriceVolume) Volume() decimal.Decimal { return pv.volume }

// Notional price * volume
func (pv PriceVolume) Notional() decimal.Decimal {
	return pv.price.Mul(pv.volume)
}

// VWAPAnalytic 单个标的的滚动 VWAP 聚合。
// 累计和覆盖所有历史观测值，VWAP 每次调用时重新计算。
type VWAPAnalytic struct {
	symbol                string
	recent                []PriceVolume
	cumulativePriceVolume decimal.Decimal
	cumulativeVolume      decimal.Decimal
	barCount              int64
	version               int64
	updatedAt             time.Time
}

// NewVWAPAnalytic 为标的创建空的分析器
func NewVWAPAnalytic(symbol string) (*VWAPAnalytic, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", ErrInvalidQuoteBar)
	}
	return &VWAPAnalytic{
		symbol:                symbol,
		cumulativePriceVolume: decimal.Zero,
		cumulativeVolume:      decimal.Zero,
	}, nil
}

// Accumulate 追加一个观测值
func (a *VWAPAnalytic) Accumulate(obs PriceVolume) error {
	if !obs.price.IsPositive() || !obs.volume.IsPositive() {
		return fmt.Errorf("%w: price=%s volume=%s", ErrInvalidObservation, obs.price, obs.volume)
	}

	a.cumulativePriceVolume = a.cumulativePriceVolume.Add(obs.Notional())
	a.cumulativeVolume = a.cumulativeVolume.Add(obs.volume)
	a.barCount++

	a.recent = append(a.recent, obs)
	if len(a.recent) > RecentObservationLimit {
		a.recent = append([]PriceVolume(nil), a.recent[len(a.recent)-RecentObservationLimit:]...)
	}
	a.updatedAt = time.Now()
	return nil
}

// VWAP 返回 Σ(price*volume)/Σ(volume)
func (a *VWAPAnalytic) VWAP() (decimal.Decimal, error) {
	if a.barCount == 0 || !a.cumulativeVolume.IsPositive() {
		return decimal.Zero, ErrNotReady
	}
	return a.cumulativePriceVolume.Div(a.cumulativeVolume), nil
}

// IsReadyToTrade 观测数达到 TradableQuoteBars 后为 true，且不会再变回 false
func (a *VWAPAnalytic) IsReadyToTrade() bool {
	return a.barCount >= TradableQuoteBars
}

// QualifiesAsTradePrice 买方规则：候选价格不高于当前 VWAP。
// 尚无观测值时任何价格都不合格。
func (a *VWAPAnalytic) QualifiesAsTradePrice(candidate decimal.Decimal) bool {
	vwap, err := a.VWAP()
	if err != nil {
		return false
	}
	return candidate.LessThanOrEqual(vwap)
}

func (a *VWAPAnalytic) Symbol() string                         { return a.symbol }
func (a *VWAPAnalytic) BarCount() int64                        { return a.barCount }
func (a *VWAPAnalytic) CumulativePriceVolume() decimal.Decimal { return a.cumulativePriceVolume }
func (a *VWAPAnalytic) CumulativeVolume() decimal.Decimal      { return a.cumulativeVolume }
func (a *VWAPAnalytic) UpdatedAt() time.Time                   { return a.updatedAt }
func (a *VWAPAnalytic) Version() int64                         { return a.version }

// SetVersion 由仓储在保存成功后调用
func (a *VWAPAnalytic) SetVersion(v int64) { a.version = v }

// RecentObservations 返回最近观测值的副本，按到达顺序
func (a *VWAPAnalytic) RecentObservations() []PriceVolume {
	return append([]PriceVolume(nil), a.recent...)
}

// PriceVolumeSnapshot 观测值的持久化形式
type PriceVolumeSnapshot struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

// VWAPAnalyticSnapshot 分析器的持久化形式
type VWAPAnalyticSnapshot struct {
	Symbol                string                `json:"symbol"`
	CumulativePriceVolume decimal.Decimal       `json:"cumulative_price_volume"`
	CumulativeVolume      decimal.Decimal       `json:"cumulative_volume"`
	BarCount              int64                 `json:"bar_count"`
	Recent                []PriceVolumeSnapshot `json:"recent"`
	Version               int64                 `json:"version"`
	UpdatedAt             time.Time             `json:"updated_at"`
}

// Snapshot 导出当前状态
func (a *VWAPAnalytic) Snapshot() VWAPAnalyticSnapshot {
	recent := make([]PriceVolumeSnapshot, len(a.recent))
	for i, pv := range a.recent {
		recent[i] = PriceVolumeSnapshot{Price: pv.price, Volume: pv.volume}
	}
	return VWAPAnalyticSnapshot{
		Symbol:                a.symbol,
		CumulativePriceVolume: a.cumulativePriceVolume,
		CumulativeVolume:      a.cumulativeVolume,
		BarCount:              a.barCount,
		Recent:                recent,
		Version:               a.version,
		UpdatedAt:             a.updatedAt,
	}
}

// RestoreVWAPAnalytic 从持久化状态重建分析器
func RestoreVWAPAnalytic(s VWAPAnalyticSnapshot) (*VWAPAnalytic, error) {
	if s.Symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", ErrInvalidQuoteBar)
	}
	if s.BarCount < 0 || (s.BarCount > 0 && !s.CumulativeVolume.IsPositive()) {
		return nil, fmt.Errorf("%w: inconsistent analytic state for %s", ErrInvalidObservation, s.Symbol)
	}
	recent := make([]PriceVolume, 0, len(s.Recent))
	for _, pv := range s.Recent {
		obs, err := NewPriceVolume(pv.Price, pv.Volume)
		if err != nil {
			return nil, err
		}
		recent = append(recent, obs)
	}
	return &VWAPAnalytic{
		symbol:                s.Symbol,
		recent:                recent,
		cumulativePriceVolume: s.CumulativePriceVolume,
		cumulativeVolume:      s.CumulativeVolume,
		barCount:              s.BarCount,
		version:               s.Version,
		updatedAt:             s.UpdatedAt,
	}, nil
}
