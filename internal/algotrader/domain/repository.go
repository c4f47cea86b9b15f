package domain

import "context"

// AlgoOrderRepository 算法订单仓储。
// Save 对 Version()==0 的订单执行插入，否则按版本号做乐观更新，
// 版本已被推进时返回 ErrConflict，成功后推进聚合的版本号。
// 订单状态与其待发布的领域事件在同一事务内写入，任一失败则都不生效；
// Save 不清空聚合上的事件，由调用方处理。
type AlgoOrderRepository interface {
	Save(ctx context.Context, order *AlgoOrder) error
	FindByID(ctx context.Context, id OrderID) (*AlgoOrder, error)
	// OpenBuyOrdersOf 返回标的下尚有剩余数量的买单，顺序稳定（按创建顺序）
	OpenBuyOrdersOf(ctx context.Context, symbol string) ([]*AlgoOrder, error)
}

// VWAPAnalyticRepository VWAP 分析器仓储，版本语义同 AlgoOrderRepository
type VWAPAnalyticRepository interface {
	Save(ctx context.Context, analytic *VWAPAnalytic) error
	FindBySymbol(ctx context.Context, symbol string) (*VWAPAnalytic, error)
}

// EventAppender 事件追加
type EventAppender interface {
	Append(ctx context.Context, events ...DomainEvent) ([]StoredEvent, error)
}

// EventStore 追加式事件存储
type EventStore interface {
	EventAppender
	AllStoredEventsSince(ctx context.Context, eventID int64) ([]StoredEvent, error)
	AllStoredEventsBetween(ctx context.Context, lowEventID, highEventID int64) ([]StoredEvent, error)
	CountStoredEvents(ctx context.Context) (int64, error)
}
