package mysql

import (
	"context"
	"fmt"
	"time"

	"github.com/wyfcoding/algotrader/internal/algotrader/domain"
	"github.com/wyfcoding/algotrader/pkg/db"
	"gorm.io/gorm"
)

// EventStore 基于 stored_events 表的事件存储与 outbox
type EventStore struct {
	db *gorm.DB
}

func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db}
}

// Append 在同一事务中追加事件，EventID 由自增主键分配
func (s *EventStore) Append(ctx context.Context, events ...domain.DomainEvent) ([]domain.StoredEvent, error) {
	var stored []domain.StoredEvent
	err := db.WithTx(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		stored, err = appendEvents(tx, events)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// appendEvents 在调用方的事务中写入事件
func appendEvents(tx *gorm.DB, events []domain.DomainEvent) ([]domain.StoredEvent, error) {
	models := make([]*StoredEventModel, 0, len(events))
	for _, event := range events {
		se, err := domain.NewStoredEvent(event)
		if err != nil {
			return nil, err
		}
		models = append(models, &StoredEventModel{
			TypeName:    se.TypeName,
			AggregateID: se.AggregateID,
			Body:        string(se.Body),
			OccurredOn:  se.OccurredOn,
		})
	}
	for _, m := range models {
		if err := tx.Create(m).Error; err != nil {
			return nil, fmt.Errorf("append %s: %w", m.TypeName, err)
		}
	}

	stored := make([]domain.StoredEvent, len(models))
	for i, m := range models {
		stored[i] = toStoredEvent(m)
	}
	return stored, nil
}

func (s *EventStore) AllStoredEventsSince(ctx context.Context, eventID int64) ([]domain.StoredEvent, error) {
	return s.query(s.db.WithContext(ctx).Where("event_id > ?", eventID), 0)
}

func (s *EventStore) AllStoredEventsBetween(ctx context.Context, low, high int64) ([]domain.StoredEvent, error) {
	return s.query(s.db.WithContext(ctx).Where("event_id BETWEEN ? AND ?", low, high), 0)
}

func (s *EventStore) CountStoredEvents(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&StoredEventModel{}).Count(&count).Error
	return count, err
}

// Unpublished 按 EventID 升序返回尚未投递的事件
func (s *EventStore) Unpublished(ctx context.Context, limit int) ([]domain.StoredEvent, error) {
	return s.query(s.db.WithContext(ctx).Where("published = ?", false), limit)
}

// MarkPublished 标记事件已投递
func (s *EventStore) MarkPublished(ctx context.Context, eventIDs ...int64) error {
	if len(eventIDs) == 0 {
		return nil
	}
	now := time.Now()
	return s.db.WithContext(ctx).Model(&StoredEventModel{}).
		Where("event_id IN ?", eventIDs).
		Updates(map[string]any{"published": true, "published_at": &now}).Error
}

func (s *EventStore) query(q *gorm.DB, limit int) ([]domain.StoredEvent, error) {
	q = q.Order("event_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []StoredEventModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	events := make([]domain.StoredEvent, len(models))
	for i := range models {
		events[i] = toStoredEvent(&models[i])
	}
	return events, nil
}
