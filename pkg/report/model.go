package report

import (
	"time"
)

// Report is one citizen complaint.
type Report struct {
	ID              string     `gorm:"column:id;primaryKey;size:36" json:"id"`
	ReferenceNumber string     `gorm:"column:reference_number;uniqueIndex;size:32;not null" json:"reference_number"`
	Title           string     `gorm:"column:title;not null" json:"title"`
	Description     string     `gorm:"column:description;not null" json:"description"`
	Category        Category   `gorm:"column:category;size:32;not null" json:"category"`
	Visibility      Visibility `gorm:"column:visibility;size:16;not null" json:"visibility"`
	Status          Status     `gorm:"column:status;size:32;not null;index:idx_reports_status_deadline,priority:1" json:"status"`
	Priority        int        `gorm:"column:priority;not null" json:"priority"`
	EscalationLevel int        `gorm:"column:escalation_level;not null" json:"escalation_level"`
	SLADeadline     time.Time  `gorm:"column:sla_deadline;not null;index:idx_reports_status_deadline,priority:2" json:"sla_deadline"`
	LastEscalatedAt *time.Time `gorm:"column:last_escalated_at" json:"last_escalated_at,omitempty"`
	DepartmentID    *string    `gorm:"column:department_id;size:64;index" json:"department_id,omitempty"`
	AssignedToID    *string    `gorm:"column:assigned_to_id;size:64" json:"assigned_to_id,omitempty"`
	UpvoteCount     int64      `gorm:"column:upvote_count;not null;default:0" json:"upvote_count"`
	ViewCount       int64      `gorm:"column:view_count;not null;default:0" json:"view_count"`
	// ReporterID is always nil for anonymous reports; the real id lives
	// encrypted in AnonymousIdentity.
	ReporterID *string    `gorm:"column:reporter_id;size:64;index" json:"reporter_id,omitempty"`
	ImageURL   string     `gorm:"column:image_url" json:"image_url,omitempty"`
	CreatedAt  time.Time  `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;not null" json:"updated_at"`
	ResolvedAt *time.Time `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
}

func (Report) TableName() string { return "reports" }

// StatusHistoryEntry is an immutable audit row, one per transition.
type StatusHistoryEntry struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ReportID  string    `gorm:"column:report_id;size:36;not null;index" json:"report_id"`
	OldStatus Status    `gorm:"column:old_status;size:32" json:"old_status,omitempty"`
	NewStatus Status    `gorm:"column:new_status;size:32;not null" json:"new_status"`
	Notes     string    `gorm:"column:notes" json:"notes,omitempty"`
	ChangedBy *string   `gorm:"column:changed_by;size:64" json:"changed_by,omitempty"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (StatusHistoryEntry) TableName() string { return "report_status_history" }

// AnonymousIdentity links an anonymous report to its encrypted submitter.
type AnonymousIdentity struct {
	ReportID            string    `gorm:"column:report_id;primaryKey;size:36"`
	EncryptedReporterID string    `gorm:"column:encrypted_reporter_id;not null"`
	KeyID               string    `gorm:"column:key_id;size:64;not null"`
	TrackingTokenHash   string    `gorm:"column:tracking_token_hash;not null"`
	CreatedAt           time.Time `gorm:"column:created_at;not null"`
}

func (AnonymousIdentity) TableName() string { return "anonymous_identities" }

// ReferenceSequence holds the per-year reference counter.
type ReferenceSequence struct {
	Year    int   `gorm:"column:year;primaryKey;autoIncrement:false"`
	Counter int64 `gorm:"column:counter;not null"`
}

func (ReferenceSequence) TableName() string { return "reference_sequences" }

type Upvote struct {
	ReportID  string    `gorm:"column:report_id;size:36;primaryKey"`
	UserID    string    `gorm:"column:user_id;size:64;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (Upvote) TableName() string { return "report_upvotes" }

// Active reports whether the sweep may still touch the report.
func (r *Report) Active() bool {
	return !r.Status.EscalationTerminal()
}

// Overdue reports whether the SLA deadline passed before now.
func (r *Report) Overdue(now time.Time) bool {
	return r.SLADeadline.Before(now)
}

func (r *Report) IsAnonymous() bool {
	return r.Visibility == VisibilityAnonymous
}

func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
