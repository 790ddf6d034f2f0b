package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"citizen-reporting-system/pkg/events"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OutboxRecord struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement"`
	EventID       string     `gorm:"column:event_id;size:36;uniqueIndex;not null"`
	ReportID      string     `gorm:"column:report_id;size:36;index;not null"`
	Topic         string     `gorm:"column:topic;size:64;not null"`
	PayloadJSON   string     `gorm:"column:payload_json;not null"`
	Status        string     `gorm:"column:status;size:16;not null;index:idx_outbox_status_next,priority:1"`
	Attempts      int        `gorm:"column:attempts;not null;default:0"`
	NextAttemptAt time.Time  `gorm:"column:next_attempt_at;not null;index:idx_outbox_status_next,priority:2"`
	LastError     string     `gorm:"column:last_error"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	DispatchedAt  *time.Time `gorm:"column:dispatched_at"`
}

func (OutboxRecord) TableName() string { return "outbox_events" }

func (r OutboxRecord) toEvent() events.OutboxEvent {
	return events.OutboxEvent{
		ID:            r.ID,
		EventID:       r.EventID,
		ReportID:      r.ReportID,
		Topic:         r.Topic,
		PayloadJSON:   json.RawMessage(r.PayloadJSON),
		Status:        r.Status,
		Attempts:      r.Attempts,
		NextAttemptAt: r.NextAttemptAt,
		LastError:     r.LastError,
		CreatedAt:     r.CreatedAt,
		DispatchedAt:  r.DispatchedAt,
	}
}

// appendOutbox stores env for publication after commit. A replayed derived
// event (same id) is silently dropped.
func appendOutbox(tx *gorm.DB, reportID string, env events.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", env.Type, err)
	}
	row := OutboxRecord{
		EventID:       env.EventID,
		ReportID:      reportID,
		Topic:         string(env.Type),
		PayloadJSON:   string(body),
		Status:        events.OutboxPending,
		NextAttemptAt: env.Timestamp,
		CreatedAt:     env.Timestamp,
	}
	err = tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("insert outbox %s: %w", env.Type, err)
	}
	return nil
}

var _ events.OutboxRepository = (*Store)(nil)

func (s *Store) FetchPending(ctx context.Context, now time.Time, limit int) ([]events.OutboxEvent, error) {
	now = now.UTC()
	var rows []OutboxRecord
	err := s.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", events.OutboxPending, now).
		Where(`NOT EXISTS (
			SELECT 1 FROM outbox_events o2
			WHERE o2.report_id = outbox_events.report_id
			  AND o2.status = ?
			  AND o2.id < outbox_events.id
			  AND o2.next_attempt_at > ?)`, events.OutboxPending, now).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox: %w", err)
	}
	out := make([]events.OutboxEvent, len(rows))
	for i, r := range rows {
		out[i] = r.toEvent()
	}
	return out, nil
}

func (s *Store) MarkDispatched(ctx context.Context, id int64, at time.Time) error {
	at = at.UTC()
	return s.db.WithContext(ctx).Model(&OutboxRecord{}).Where("id = ?", id).
		Updates(map[string]any{"status": events.OutboxDispatched, "dispatched_at": at, "last_error": ""}).Error
}

func (s *Store) MarkFailed(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, errMsg string) error {
	return s.db.WithContext(ctx).Model(&OutboxRecord{}).Where("id = ?", id).
		Updates(map[string]any{"attempts": attempts, "next_attempt_at": nextAttemptAt.UTC(), "last_error": errMsg}).Error
}

func (s *Store) MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error {
	return s.db.WithContext(ctx).Model(&OutboxRecord{}).Where("id = ?", id).
		Updates(map[string]any{"status": events.OutboxDead, "attempts": attempts, "last_error": errMsg}).Error
}

// OutboxForReport lists every stored event of a report in write order.
func (s *Store) OutboxForReport(ctx context.Context, reportID string) ([]events.OutboxEvent, error) {
	var rows []OutboxRecord
	if err := s.db.WithContext(ctx).Where("report_id = ?", reportID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load outbox: %w", err)
	}
	out := make([]events.OutboxEvent, len(rows))
	for i, r := range rows {
		out[i] = r.toEvent()
	}
	return out, nil
}
