package logic

import (
	"context"
	"encoding/json"
	"time"

	"github.com/blues/fundledger/internal/event"
	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/model"
	"github.com/blues/fundledger/internal/repository"
)

// Outbox 发件箱事件的确认与重放
type Outbox struct {
	store     repository.Store
	publisher Publisher
	now       func() time.Time
}

func NewOutbox(store repository.Store, publisher Publisher) *Outbox {
	return &Outbox{store: store, publisher: publisher, now: time.Now}
}

func outboxRecord(e event.Event) *model.EventModel {
	return &model.EventModel{
		Id:          e.ID,
		EventType:   e.TypeName,
		AggregateId: e.CampaignID,
		Data:        string(e.Data),
	}
}

// EventFromRecord 发件箱记录还原为事件
func EventFromRecord(m model.EventModel) (event.Event, error) {
	t, err := event.ParseType(m.EventType)
	if err != nil {
		return event.Event{}, err
	}
	return event.Event{
		ID:         m.Id,
		Type:       t,
		TypeName:   m.EventType,
		CampaignID: m.AggregateId,
		Data:       json.RawMessage(m.Data),
		OccurredAt: m.CreatedAt,
	}, nil
}

// Ack 事件处理完成
func (o *Outbox) Ack(ctx context.Context, eventID string) error {
	return o.store.MarkEventProcessed(ctx, eventID, o.now())
}

// Nack 记录一次失败尝试，事件保持未处理
func (o *Outbox) Nack(ctx context.Context, eventID string) {
	if err := o.store.IncrementEventAttempts(ctx, eventID); err != nil {
		logger.Warn("Failed to record attempt for event %s: %v", eventID, err)
	}
}

// ReplayPending 重新投递早于 olderThan 的未处理事件，返回投递数量
func (o *Outbox) ReplayPending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	records, err := o.store.ListPendingEvents(ctx, o.now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, record := range records {
		e, err := EventFromRecord(record)
		if err != nil {
			logger.Error("Skipping outbox event %s: %v", record.Id, err)
			continue
		}
		if err := o.publisher.Publish(ctx, e); err != nil {
			logger.Error("Failed to replay event %s: %v", record.Id, err)
			continue
		}
		replayed++
	}
	return replayed, nil
}
