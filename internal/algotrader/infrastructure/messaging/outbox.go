// Package messaging 领域事件出口：outbox 投递中继与进程内总线。
// 事件由仓储在保存聚合的同一事务中写入事件存储，这里负责把它们推送出去。
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wyfcoding/algotrader/internal/algotrader/domain"
	"github.com/wyfcoding/algotrader/pkg/metrics"
)

// OutboxStore 支持投递状态的事件存储
type OutboxStore interface {
	domain.EventStore
	Unpublished(ctx context.Context, limit int) ([]domain.StoredEvent, error)
	MarkPublished(ctx context.Context, eventIDs ...int64) error
}

// Pusher 将一条事件投递到外部传输，topic 为事件名，key 为聚合 ID
type Pusher func(ctx context.Context, topic, key string, payload []byte) error

// OutboxRelay 周期性地把未投递事件按 EventID 顺序推送出去
type OutboxRelay struct {
	store     OutboxStore
	pusher    Pusher
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewOutboxRelay(store OutboxStore, pusher Pusher, batchSize int, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &OutboxRelay{
		store:     store,
		pusher:    pusher,
		batchSize: batchSize,
		interval:  interval,
		logger:    logger,
		metrics:   m,
	}
}

// Flush 投递一批事件，返回成功投递的条数。
// 某条投递失败时停止本批次，已成功的部分仍会被标记，保证顺序。
func (r *OutboxRelay) Flush(ctx context.Context) (int, error) {
	events, err := r.store.Unpublished(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("load unpublished events: %w", err)
	}

	delivered := make([]int64, 0, len(events))
	var pushErr error
	for _, e := range events {
		err := r.pusher(ctx, e.TypeName, e.AggregateID, e.Body)
		r.metrics.RecordPublish(e.TypeName, err)
		if err != nil {
			pushErr = fmt.Errorf("push event %d: %w", e.EventID, err)
			break
		}
		delivered = append(delivered, e.EventID)
	}

	if err := r.store.MarkPublished(ctx, delivered...); err != nil {
		return 0, fmt.Errorf("mark events published: %w", err)
	}
	return len(delivered), pushErr
}

// Start 启动后台投递循环
func (r *OutboxRelay) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.stopped = make(chan struct{})

	go func() {
		defer close(r.stopped)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := r.Flush(ctx)
				if err != nil && ctx.Err() == nil {
					r.logger.ErrorContext(ctx, "outbox relay flush failed", "delivered", n, "error", err)
				} else if n > 0 {
					r.logger.DebugContext(ctx, "outbox relay delivered events", "count", n)
				}
			}
		}
	}()
}

// Stop 停止投递循环并等待其退出
func (r *OutboxRelay) Stop() {
	r.mu.Lock()
	cancel, stopped := r.cancel, r.stopped
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}
