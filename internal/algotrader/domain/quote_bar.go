package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// QuoteBar 一个行情 bar。
// RepresentativePrice 与 Volume 进入 VWAP，TotalQuantity 是该 bar 可分配的流动性预算。
type QuoteBar struct {
	Symbol              string          `json:"symbol"`
	RepresentativePrice decimal.Decimal `json:"price"`
	Volume              decimal.Decimal `json:"volume"`
	TotalQuantity       decimal.Decimal `json:"total_quantity"`
	Open                decimal.Decimal `json:"open"`
	High                decimal.Decimal `json:"high"`
	Low                 decimal.Decimal `json:"low"`
	Close               decimal.Decimal `json:"close"`
	Timestamp           time.Time       `json:"timestamp"`
}

// NormalizeSymbol 标的的规范形式，仓储均以规范形式作为键
func NormalizeSymbol(symbol string) string {
	return strings.TrimSpace(symbol)
}

// Normalized 返回标的已规范化的副本
func (b QuoteBar) Normalized() QuoteBar {
	b.Symbol = NormalizeSymbol(b.Symbol)
	return b
}

// Validate 校验标的与流动性预算，价量由 Observation 校验
func (b QuoteBar) Validate() error {
	if NormalizeSymbol(b.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidQuoteBar)
	}
	if b.TotalQuantity.IsNegative() {
		return fmt.Errorf("%w: total quantity %s is negative", ErrInvalidQuoteBar, b.TotalQuantity)
	}
	return nil
}

// Observation 构造该 bar 的价量观测值
func (b QuoteBar) Observation() (PriceVolume, error) {
	return NewPriceVolume(b.RepresentativePrice, b.Volume)
}
