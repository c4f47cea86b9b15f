// Package memory 进程内的版本化仓储实现，用于测试与单机模式
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wyfcoding/algotrader/internal/algotrader/domain"
)

type orderEntry struct {
	seq      int64
	snapshot domain.AlgoOrderSnapshot
}

// AlgoOrderRepository 内存订单仓储，保存快照副本，读取时重建聚合。
// 待发布事件在持有写锁期间追加到 events，追加失败时订单不落库。
type AlgoOrderRepository struct {
	mu     sync.RWMutex
	orders map[domain.OrderID]orderEntry
	seq    int64
	events domain.EventAppender
}

func NewAlgoOrderRepository(events domain.EventAppender) *AlgoOrderRepository {
	return &AlgoOrderRepository{
		orders: make(map[domain.OrderID]orderEntry),
		events: events,
	}
}

func (r *AlgoOrderRepository) Save(ctx context.Context, order *domain.AlgoOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := order.ID()
	current, exists := r.orders[id]
	version := order.Version()
	switch {
	case version == 0 && exists:
		return fmt.Errorf("%w: order %s already exists", domain.ErrConflict, id)
	case version == 0:
		r.seq++
		current.seq = r.seq
	case !exists:
		return fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	case current.snapshot.Version != version:
		return fmt.Errorf("%w: order %s version %d, stored %d", domain.ErrConflict, id, version, current.snapshot.Version)
	}

	if events := order.DomainEvents(); len(events) > 0 {
		if _, err := r.events.Append(ctx, events...); err != nil {
			return fmt.Errorf("append events of order %s: %w", id, err)
		}
	}

	snapshot := order.Snapshot()
	snapshot.Version = version + 1
	r.orders[id] = orderEntry{seq: current.seq, snapshot: snapshot}
	order.SetVersion(version + 1)
	return nil
}

func (r *AlgoOrderRepository) FindByID(_ context.Context, id domain.OrderID) (*domain.AlgoOrder, error) {
	r.mu.RLock()
	entry, ok := r.orders[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	return domain.RestoreAlgoOrder(entry.snapshot)
}

func (r *AlgoOrderRepository) OpenBuyOrdersOf(_ context.Context, symbol string) ([]*domain.AlgoOrder, error) {
	r.mu.RLock()
	entries := make([]orderEntry, 0)
	for _, entry := range r.orders {
		s := entry.snapshot
		if s.Symbol == symbol && s.OrderType == domain.OrderTypeBuy && s.SharesRemaining.IsPositive() {
			entries = append(entries, entry)
		}
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	orders := make([]*domain.AlgoOrder, 0, len(entries))
	for _, entry := range entries {
		order, err := domain.RestoreAlgoOrder(entry.snapshot)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// VWAPAnalyticRepository 内存分析器仓储
type VWAPAnalyticRepository struct {
	mu        sync.RWMutex
	analytics map[string]domain.VWAPAnalyticSnapshot
}

func NewVWAPAnalyticRepository() *VWAPAnalyticRepository {
	return &VWAPAnalyticRepository{analytics: make(map[string]domain.VWAPAnalyticSnapshot)}
}

func (r *VWAPAnalyticRepository) Save(_ context.Context, analytic *domain.VWAPAnalytic) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	symbol := analytic.Symbol()
	current, exists := r.analytics[symbol]
	version := analytic.Version()
	switch {
	case version == 0 && exists:
		return fmt.Errorf("%w: analytic %s already exists", domain.ErrConflict, symbol)
	case version != 0 && !exists:
		return fmt.Errorf("%w: analytic %s", domain.ErrNotFound, symbol)
	case version != 0 && current.Version != version:
		return fmt.Errorf("%w: analytic %s version %d, stored %d", domain.ErrConflict, symbol, version, current.Version)
	}

	snapshot := analytic.Snapshot()
	snapshot.Version = version + 1
	r.analytics[symbol] = snapshot
	analytic.SetVersion(version + 1)
	return nil
}

func (r *VWAPAnalyticRepository) FindBySymbol(_ context.Context, symbol string) (*domain.VWAPAnalytic, error) {
	r.mu.RLock()
	snapshot, ok := r.analytics[symbol]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: analytic %s", domain.ErrNotFound, symbol)
	}
	return domain.RestoreVWAPAnalytic(snapshot)
}
