package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxOrderIDLength 订单 ID 最大长度
const MaxOrderIDLength = 36

// OrderID 算法订单标识
type OrderID string

// NewOrderID 校验并创建订单 ID
func NewOrderID(id string) (OrderID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: required", ErrInvalidOrderID)
	}
	if len(id) > MaxOrderIDLength {
		return "", fmt.Errorf("%w: %d characters or less required", ErrInvalidOrderID, MaxOrderIDLength)
	}
	return OrderID(id), nil
}

// UniqueOrderID 生成大写 UUID 形式的订单 ID
func UniqueOrderID() OrderID {
	return OrderID(strings.ToUpper(uuid.NewString()))
}

func (id OrderID) String() string { return string(id) }

// OrderType 订单方向
type OrderType string

const (
	OrderTypeBuy  OrderType = "BUY"
	OrderTypeSell OrderType = "SELL"
)

func (t OrderType) validate() error {
	if t != OrderTypeBuy && t != OrderTypeSell {
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, t)
	}
	return nil
}

// Quote 原始委托条款，创建后不可变
type Quote struct {
	Symbol        string
	LimitPrice    decimal.Decimal
	TotalQuantity decimal.Decimal
}

// Fill 成交信息，仅在订单全部切片完成后存在
type Fill struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
	FilledOn time.Time
}

// AlgoOrder 算法订单聚合根。
// 状态机只有 Open（sharesRemaining > 0）与 Filled（终态）两个状态，
// 唯一的状态迁移入口是 RequestSlice。
type AlgoOrder struct {
	id              OrderID
	orderType       OrderType
	quote           Quote
	sharesRemaining decimal.Decimal
	fill            *Fill
	version         int64
	createdAt       time.Time

	domainEvents []DomainEvent
}

// NewAlgoBuyOrder 创建买入算法订单
func NewAlgoBuyOrder(id OrderID, quote Quote) (*AlgoOrder, error) {
	return NewAlgoOrder(id, OrderTypeBuy, quote)
}

// NewAlgoOrder 创建算法订单，并记录 AlgoOrderCreatedEvent
func NewAlgoOrder(id OrderID, orderType OrderType, quote Quote) (*AlgoOrder, error) {
	id, err := NewOrderID(string(id))
	if err != nil {
		return nil, err
	}
	if err := orderType.validate(); err != nil {
		return nil, err
	}
	quote.Symbol = NormalizeSymbol(quote.Symbol)
	if quote.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}
	if !quote.LimitPrice.IsPositive() {
		return nil, fmt.Errorf("%w: limit price must be positive", ErrInvalidOrder)
	}
	if !quote.TotalQuantity.IsPositive() {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}

	now := time.Now()
	o := &AlgoOrder{
		id:              id,
		orderType:       orderType,
		quote:           quote,
		sharesRemaining: quote.TotalQuantity,
		createdAt:       now,
	}
	o.addEvent(&AlgoOrderCreatedEvent{
		OrderID:       id.String(),
		OrderType:     orderType,
		Symbol:        quote.Symbol,
		LimitPrice:    quote.LimitPrice,
		TotalQuantity: quote.TotalQuantity,
		Timestamp:     now,
	})
	return o, nil
}

// RequestSlice 从剩余数量中释放一个切片，返回实际切片数量。
// 剩余归零时订单以 limitPrice 成交并进入终态。
func (o *AlgoOrder) RequestSlice(limitPrice, maxSliceSize decimal.Decimal) (decimal.Decimal, error) {
	if o.IsFilled() {
		return decimal.Zero, fmt.Errorf("%w: order %s is already filled", ErrIllegalState, o.id)
	}
	if !maxSliceSize.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidSliceSize, maxSliceSize)
	}

	slice := decimal.Min(o.sharesRemaining, maxSliceSize)
	o.sharesRemaining = o.sharesRemaining.Sub(slice)

	now := time.Now()
	o.addEvent(&AlgoSliceRequestedEvent{
		OrderID:         o.id.String(),
		Symbol:          o.quote.Symbol,
		Quantity:        slice,
		LimitPrice:      limitPrice,
		SharesRemaining: o.sharesRemaining,
		Timestamp:       now,
	})

	if !o.sharesRemaining.IsPositive() {
		o.fill = &Fill{
			Price:    limitPrice,
			Quantity: o.quote.TotalQuantity,
			FilledOn: now,
		}
		o.addEvent(&AlgoOrderFilledEvent{
			OrderID:      o.id.String(),
			Symbol:       o.quote.Symbol,
			FillPrice:    limitPrice,
			FillQuantity: o.quote.TotalQuantity,
			FilledOn:     now,
		})
	}
	return slice, nil
}

// Fill 返回成交信息，订单未成交时返回 ErrIllegalState
func (o *AlgoOrder) Fill() (Fill, error) {
	if o.fill == nil {
		return Fill{}, fmt.Errorf("%w: order %s is not filled", ErrIllegalState, o.id)
	}
	return *o.fill, nil
}

func (o *AlgoOrder) ID() OrderID                      { return o.id }
func (o *AlgoOrder) OrderType() OrderType             { return o.orderType }
func (o *AlgoOrder) Quote() Quote                     { return o.quote }
func (o *AlgoOrder) Symbol() string                   { return o.quote.Symbol }
func (o *AlgoOrder) SharesRemaining() decimal.Decimal { return o.sharesRemaining }
func (o *AlgoOrder) HasSharesRemaining() bool         { return o.sharesRemaining.IsPositive() }
func (o *AlgoOrder) IsFilled() bool                   { return o.fill != nil }
func (o *AlgoOrder) CreatedAt() time.Time             { return o.createdAt }
func (o *AlgoOrder) Version() int64                   { return o.version }

// SetVersion 由仓储在保存成功后调用
func (o *AlgoOrder) SetVersion(v int64) { o.version = v }

// SharesSliced 已释放的切片总量
func (o *AlgoOrder) SharesSliced() decimal.Decimal {
	return o.quote.TotalQuantity.Sub(o.sharesRemaining)
}

func (o *AlgoOrder) addEvent(event DomainEvent) {
	o.domainEvents = append(o.domainEvents, event)
}

// DomainEvents 返回待发布的领域事件
func (o *AlgoOrder) DomainEvents() []DomainEvent {
	return o.domainEvents
}

// ClearDomainEvents 清空待发布事件
func (o *AlgoOrder) ClearDomainEvents() {
	o.domainEvents = nil
}

// AlgoOrderSnapshot 订单的持久化形式
type AlgoOrderSnapshot struct {
	ID              string           `json:"id"`
	OrderType       OrderType        `json:"order_type"`
	Symbol          string           `json:"symbol"`
	LimitPrice      decimal.Decimal  `json:"limit_price"`
	TotalQuantity   decimal.Decimal  `json:"total_quantity"`
	SharesRemaining decimal.Decimal  `json:"shares_remaining"`
	FillPrice       *decimal.Decimal `json:"fill_price,omitempty"`
	FillQuantity    *decimal.Decimal `json:"fill_quantity,omitempty"`
	FilledOn        *time.Time       `json:"filled_on,omitempty"`
	Version         int64            `json:"version"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Snapshot 导出当前状态，不包含待发布事件
func (o *AlgoOrder) Snapshot() AlgoOrderSnapshot {
	s := AlgoOrderSnapshot{
		ID:              o.id.String(),
		OrderType:       o.orderType,
		Symbol:          o.quote.Symbol,
		LimitPrice:      o.quote.LimitPrice,
		TotalQuantity:   o.quote.TotalQuantity,
		SharesRemaining: o.sharesRemaining,
		Version:         o.version,
		CreatedAt:       o.createdAt,
	}
	if o.fill != nil {
		price, qty, on := o.fill.Price, o.fill.Quantity, o.fill.FilledOn
		s.FillPrice, s.FillQuantity, s.FilledOn = &price, &qty, &on
	}
	return s
}

// RestoreAlgoOrder 从持久化状态重建订单，并校验数量与成交信息的一致性
func RestoreAlgoOrder(s AlgoOrderSnapshot) (*AlgoOrder, error) {
	id, err := NewOrderID(s.ID)
	if err != nil {
		return nil, err
	}
	if err := s.OrderType.validate(); err != nil {
		return nil, fmt.Errorf("restore order %s: %w", id, err)
	}
	if s.SharesRemaining.IsNegative() || s.SharesRemaining.GreaterThan(s.TotalQuantity) {
		return nil, fmt.Errorf("%w: order %s has shares remaining %s of %s", ErrIllegalState, id, s.SharesRemaining, s.TotalQuantity)
	}

	o := &AlgoOrder{
		id:        id,
		orderType: s.OrderType,
		quote: Quote{
			Symbol:        s.Symbol,
			LimitPrice:    s.LimitPrice,
			TotalQuantity: s.TotalQuantity,
		},
		sharesRemaining: s.SharesRemaining,
		version:         s.Version,
		createdAt:       s.CreatedAt,
	}

	filled := s.FillPrice != nil && s.FillQuantity != nil && s.FilledOn != nil
	if filled != s.SharesRemaining.IsZero() {
		return nil, fmt.Errorf("%w: order %s fill does not match shares remaining", ErrIllegalState, id)
	}
	if filled {
		o.fill = &Fill{Price: *s.FillPrice, Quantity: *s.FillQuantity, FilledOn: *s.FilledOn}
	}
	return o, nil
}
