package messaging

import (
	"context"
	"sync"

	"github.com/wyfcoding/algotrader/internal/algotrader/domain"
)

// EventHandler 事件订阅回调
type EventHandler func(ctx context.Context, event domain.DomainEvent)

// MemoryBus 进程内事件总线，未配置 Kafka 时作为 outbox 的投递目标
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
	all      []EventHandler
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string][]EventHandler)}
}

// Subscribe 订阅指定事件名
func (b *MemoryBus) Subscribe(eventName string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventName] = append(b.handlers[eventName], handler)
}

// SubscribeAll 订阅全部事件
func (b *MemoryBus) SubscribeAll(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, handler)
}

// Publish 同步分发给订阅者
func (b *MemoryBus) Publish(ctx context.Context, event domain.DomainEvent) error {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.all)+len(b.handlers[event.EventName()]))
	handlers = append(handlers, b.handlers[event.EventName()]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, event)
	}
	return nil
}

// Push 实现 Pusher，将存储的事件还原后分发
func (b *MemoryBus) Push(ctx context.Context, topic, _ string, payload []byte) error {
	event, err := domain.DecodeEvent(topic, payload)
	if err != nil {
		return err
	}
	return b.Publish(ctx, event)
}
