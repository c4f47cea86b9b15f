package memory

import (
	"context"
	"sync"

	"github.com/wyfcoding/algotrader/internal/algotrader/domain"
)

// EventStore 内存事件存储，同时实现 outbox 的未发布查询
type EventStore struct {
	mu        sync.RWMutex
	events    []domain.StoredEvent
	published map[int64]bool
}

func NewEventStore() *EventStore {
	return &EventStore{published: make(map[int64]bool)}
}

func (s *EventStore) Append(_ context.Context, events ...domain.DomainEvent) ([]domain.StoredEvent, error) {
	stored := make([]domain.StoredEvent, 0, len(events))
	for _, event := range events {
		se, err := domain.NewStoredEvent(event)
		if err != nil {
			return nil, err
		}
		stored = append(stored, se)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range stored {
		stored[i].EventID = int64(len(s.events)) + 1
		s.events = append(s.events, stored[i])
	}
	return stored, nil
}

func (s *EventStore) AllStoredEventsSince(_ context.Context, eventID int64) ([]domain.StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(func(e domain.StoredEvent) bool { return e.EventID > eventID }, 0), nil
}

func (s *EventStore) AllStoredEventsBetween(_ context.Context, low, high int64) ([]domain.StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(func(e domain.StoredEvent) bool { return e.EventID >= low && e.EventID <= high }, 0), nil
}

func (s *EventStore) CountStoredEvents(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.events)), nil
}

// Unpublished 按 EventID 升序返回尚未投递的事件
func (s *EventStore) Unpublished(_ context.Context, limit int) ([]domain.StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(func(e domain.StoredEvent) bool { return !s.published[e.EventID] }, limit), nil
}

// MarkPublished 标记事件已投递
func (s *EventStore) MarkPublished(_ context.Context, eventIDs ...int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range eventIDs {
		s.published[id] = true
	}
	return nil
}

func (s *EventStore) filter(keep func(domain.StoredEvent) bool, limit int) []domain.StoredEvent {
	out := make([]domain.StoredEvent, 0)
	for _, e := range s.events {
		if limit > 0 && len(out) >= limit {
			break
		}
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
