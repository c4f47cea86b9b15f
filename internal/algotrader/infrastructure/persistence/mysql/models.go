package mysql

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/algotrader/internal/algotrader/domain"
	"gorm.io/gorm"
)

// AlgoOrderModel 算法订单表映射
type AlgoOrderModel struct {
	gorm.Model
	OrderID         string              `gorm:"column:order_id;type:varchar(36);uniqueIndex;not null;comment:算法订单ID"`
	OrderType       string              `gorm:"column:order_type;type:varchar(10);not null;comment:方向"`
	Symbol          string              `gorm:"column:symbol;type:varchar(20);index;not null;comment:标的"`
	LimitPrice      decimal.Decimal     `gorm:"column:limit_price;type:decimal(32,18);not null;comment:限价"`
	TotalQuantity   decimal.Decimal     `gorm:"column:total_quantity;type:decimal(32,18);not null;comment:总量"`
	SharesRemaining decimal.Decimal     `gorm:"column:shares_remaining;type:decimal(32,18);not null;comment:剩余数量"`
	FillPrice       decimal.NullDecimal `gorm:"column:fill_price;type:decimal(32,18);comment:成交价"`
	FillQuantity    decimal.NullDecimal `gorm:"column:fill_quantity;type:decimal(32,18);comment:成交量"`
	FilledOn        *time.Time          `gorm:"column:filled_on;comment:成交时间"`
	Version         int64               `gorm:"column:version;not null;default:0;comment:乐观锁版本"`
}

func (AlgoOrderModel) TableName() string {
	return "algo_orders"
}

// VWAPAnalyticModel VWAP 分析器表映射
type VWAPAnalyticModel struct {
	gorm.Model
	Symbol                string          `gorm:"column:symbol;type:varchar(20);uniqueIndex;not null;comment:标的"`
	CumulativePriceVolume decimal.Decimal `gorm:"column:cumulative_price_volume;type:decimal(38,18);not null;comment:累计成交额"`
	CumulativeVolume      decimal.Decimal `gorm:"column:cumulative_volume;type:decimal(38,18);not null;comment:累计成交量"`
	BarCount              int64           `gorm:"column:bar_count;not null;comment:观测数"`
	Recent                string          `gorm:"column:recent;type:text;comment:最近观测值"`
	LastObservedAt        time.Time       `gorm:"column:last_observed_at;comment:最近观测时间"`
	Version               int64           `gorm:"column:version;not null;default:0;comment:乐观锁版本"`
}

func (VWAPAnalyticModel) TableName() string {
	return "vwap_analytics"
}

// StoredEventModel 事件存储表，同时作为 outbox
type StoredEventModel struct {
	EventID     int64      `gorm:"column:event_id;primaryKey;autoIncrement"`
	TypeName    string     `gorm:"column:type_name;type:varchar(64);not null"`
	AggregateID string     `gorm:"column:aggregate_id;type:varchar(64);index;not null"`
	Body        string     `gorm:"column:body;type:text;not null"`
	OccurredOn  time.Time  `gorm:"column:occurred_on;not null"`
	Published   bool       `gorm:"column:published;index;not null;default:false"`
	PublishedAt *time.Time `gorm:"column:published_at"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
}

func (StoredEventModel) TableName() string {
	return "stored_events"
}

// AutoMigrate 创建或更新表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&AlgoOrderModel{}, &VWAPAnalyticModel{}, &StoredEventModel{})
}

func toAlgoOrderModel(o *domain.AlgoOrder) *AlgoOrderModel {
	s := o.Snapshot()
	m := &AlgoOrderModel{
		OrderID:         s.ID,
		OrderType:       string(s.OrderType),
		Symbol:          s.Symbol,
		LimitPrice:      s.LimitPrice,
		TotalQuantity:   s.TotalQuantity,
		SharesRemaining: s.SharesRemaining,
		FilledOn:        s.FilledOn,
		Version:         s.Version,
	}
	m.CreatedAt = s.CreatedAt
	if s.FillPrice != nil {
		m.FillPrice = decimal.NewNullDecimal(*s.FillPrice)
	}
	if s.FillQuantity != nil {
		m.FillQuantity = decimal.NewNullDecimal(*s.FillQuantity)
	}
	return m
}

func toAlgoOrder(m *AlgoOrderModel) (*domain.AlgoOrder, error) {
	s := domain.AlgoOrderSnapshot{
		ID:              m.OrderID,
		OrderType:       domain.OrderType(m.OrderType),
		Symbol:          m.Symbol,
		LimitPrice:      m.LimitPrice,
		TotalQuantity:   m.TotalQuantity,
		SharesRemaining: m.SharesRemaining,
		FilledOn:        m.FilledOn,
		Version:         m.Version,
		CreatedAt:       m.CreatedAt,
	}
	if m.FillPrice.Valid {
		price := m.FillPrice.Decimal
		s.FillPrice = &price
	}
	if m.FillQuantity.Valid {
		qty := m.FillQuantity.Decimal
		s.FillQuantity = &qty
	}
	return domain.RestoreAlgoOrder(s)
}

func toVWAPAnalyticModel(a *domain.VWAPAnalytic) (*VWAPAnalyticModel, error) {
	s := a.Snapshot()
	recent, err := json.Marshal(s.Recent)
	if err != nil {
		return nil, fmt.Errorf("marshal recent observations: %w", err)
	}
	return &VWAPAnalyticModel{
		Symbol:                s.Symbol,
		CumulativePriceVolume: s.CumulativePriceVolume,
		CumulativeVolume:      s.CumulativeVolume,
		BarCount:              s.BarCount,
		Recent:                string(recent),
		LastObservedAt:        s.UpdatedAt,
		Version:               s.Version,
	}, nil
}

func toVWAPAnalytic(m *VWAPAnalyticModel) (*domain.VWAPAnalytic, error) {
	var recent []domain.PriceVolumeSnapshot
	if m.Recent != "" {
		if err := json.Unmarshal([]byte(m.Recent), &recent); err != nil {
			return nil, fmt.Errorf("unmarshal recent observations: %w", err)
		}
	}
	return domain.RestoreVWAPAnalytic(domain.VWAPAnalyticSnapshot{
		Symbol:                m.Symbol,
		CumulativePriceVolume: m.CumulativePriceVolume,
		CumulativeVolume:      m.CumulativeVolume,
		BarCount:              m.BarCount,
		Recent:                recent,
		Version:               m.Version,
		UpdatedAt:             m.LastObservedAt,
	})
}

func toStoredEvent(m *StoredEventModel) domain.StoredEvent {
	return domain.StoredEvent{
		EventID:     m.EventID,
		TypeName:    m.TypeName,
		AggregateID: m.AggregateID,
		Body:        json.RawMessage(m.Body),
		OccurredOn:  m.OccurredOn,
	}
}
