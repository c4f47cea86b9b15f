package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	AlgoOrderCreatedEventType   = "algotrader.order_created"
	AlgoSliceRequestedEventType = "algotrader.slice_requested"
	AlgoOrderFilledEventType    = "algotrader.order_filled"
)

// DomainEvent 领域事件
type DomainEvent interface {
	EventName() string
	OccurredAt() time.Time
	AggregateID() string
}

// AlgoOrderCreatedEvent 算法订单创建
type AlgoOrderCreatedEvent struct {
	OrderID       string          `json:"order_id"`
	OrderType     OrderType       `json:"order_type"`
	Symbol        string          `json:"symbol"`
	LimitPrice    decimal.Decimal `json:"limit_price"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	Timestamp     time.Time       `json:"timestamp"`
}

func (e *AlgoOrderCreatedEvent) EventName() string     { return AlgoOrderCreatedEventType }
func (e *AlgoOrderCreatedEvent) OccurredAt() time.Time { return e.Timestamp }
func (e *AlgoOrderCreatedEvent) AggregateID() string   { return e.OrderID }

// AlgoSliceRequestedEvent 释放了一个切片
type AlgoSliceRequestedEvent struct {
	OrderID         string          `json:"order_id"`
	Symbol          string          `json:"symbol"`
	Quantity        decimal.Decimal `json:"quantity"`
	LimitPrice      decimal.Decimal `json:"limit_price"`
	SharesRemaining decimal.Decimal `json:"shares_remaining"`
	Timestamp       time.Time       `json:"timestamp"`
}

func (e *AlgoSliceRequestedEvent) EventName() string     { return AlgoSliceRequestedEventType }
func (e *AlgoSliceRequestedEvent) OccurredAt() time.Time { return e.Timestamp }
func (e *AlgoSliceRequestedEvent) AggregateID() string   { return e.OrderID }

// AlgoOrderFilledEvent 订单全部数量已切片完成
type AlgoOrderFilledEvent struct {
	OrderID      string          `json:"order_id"`
	Symbol       string          `json:"symbol"`
	FillPrice    decimal.Decimal `json:"fill_price"`
	FillQuantity decimal.Decimal `json:"fill_quantity"`
	FilledOn     time.Time       `json:"filled_on"`
}

func (e *AlgoOrderFilledEvent) EventName() string     { return AlgoOrderFilledEventType }
func (e *AlgoOrderFilledEvent) OccurredAt() time.Time { return e.FilledOn }
func (e *AlgoOrderFilledEvent) AggregateID() string   { return e.OrderID }

// StoredEvent 事件存储中的一条记录，EventID 从 1 开始单调递增
type StoredEvent struct {
	EventID     int64           `json:"event_id"`
	TypeName    string          `json:"type_name"`
	AggregateID string          `json:"aggregate_id"`
	Body        json.RawMessage `json:"body"`
	OccurredOn  time.Time       `json:"occurred_on"`
}

// NewStoredEvent 序列化领域事件，EventID 由事件存储分配
func NewStoredEvent(event DomainEvent) (StoredEvent, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return StoredEvent{}, fmt.Errorf("marshal %s: %w", event.EventName(), err)
	}
	return StoredEvent{
		TypeName:    event.EventName(),
		AggregateID: event.AggregateID(),
		Body:        body,
		OccurredOn:  event.OccurredAt(),
	}, nil
}

// DecodeEvent 按事件类型名还原领域事件
func DecodeEvent(typeName string, body []byte) (DomainEvent, error) {
	var event DomainEvent
	switch typeName {
	case AlgoOrderCreatedEventType:
		event = &AlgoOrderCreatedEvent{}
	case AlgoSliceRequestedEventType:
		event = &AlgoSliceRequestedEvent{}
	case AlgoOrderFilledEventType:
		event = &AlgoOrderFilledEvent{}
	default:
		return nil, fmt.Errorf("unknown event type %q", typeName)
	}
	if err := json.Unmarshal(body, event); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", typeName, err)
	}
	return event, nil
}

// Event 还原存储事件对应的领域事件
func (e StoredEvent) Event() (DomainEvent, error) {
	return DecodeEvent(e.TypeName, e.Body)
}
