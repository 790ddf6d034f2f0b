package store

import (
	"context"
	"fmt"
	"time"

	"citizen-reporting-system/pkg/report"

	"gorm.io/gorm"
)

// Snapshot holds point-in-time escalation counts.
type Snapshot struct {
	Active            int64            `json:"active" bson:"active"`
	PendingEscalation int64            `json:"pending_escalation" bson:"pending_escalation"`
	EscalatedLastHour int64            `json:"escalated_last_hour" bson:"escalated_last_hour"`
	Critical          int64            `json:"critical" bson:"critical"`
	ByDepartment      map[string]int64 `json:"by_department" bson:"by_department"`
}

const unassignedDepartment = "unassigned"

// EscalationSnapshot counts active reports, reports due within window,
// reports escalated within the last window, and overdue reports at level 2
// or higher.
func (s *Store) EscalationSnapshot(ctx context.Context, now time.Time, window time.Duration) (Snapshot, error) {
	now = now.UTC()
	terminal := statusStrings(report.EscalationTerminalStatuses())
	db := s.db.WithContext(ctx)
	var snap Snapshot

	active := func() *gorm.DB { return db.Model(&report.Report{}).Where("status NOT IN ?", terminal) }

	if err := active().Count(&snap.Active).Error; err != nil {
		return Snapshot{}, fmt.Errorf("count active: %w", err)
	}
	if err := active().Where("sla_deadline >= ? AND sla_deadline < ?", now, now.Add(window)).
		Count(&snap.PendingEscalation).Error; err != nil {
		return Snapshot{}, fmt.Errorf("count pending escalation: %w", err)
	}
	if err := db.Model(&report.Report{}).Where("last_escalated_at >= ?", now.Add(-window)).
		Count(&snap.EscalatedLastHour).Error; err != nil {
		return Snapshot{}, fmt.Errorf("count recently escalated: %w", err)
	}
	if err := active().Where("escalation_level >= ? AND sla_deadline < ?", 2, now).
		Count(&snap.Critical).Error; err != nil {
		return Snapshot{}, fmt.Errorf("count critical: %w", err)
	}

	var rows []struct {
		Department *string
		Total      int64
	}
	if err := active().
		Select("department_id AS department, COUNT(*) AS total").
		Group("department_id").
		Scan(&rows).Error; err != nil {
		return Snapshot{}, fmt.Errorf("count by department: %w", err)
	}
	snap.ByDepartment = make(map[string]int64, len(rows))
	for _, r := range rows {
		dept := report.StringValue(r.Department)
		if dept == "" {
			dept = unassignedDepartment
		}
		snap.ByDepartment[dept] += r.Total
	}
	return snap, nil
}
