// Package store is the gorm-backed Report Store. Every state change writes
// the report row, its history entry and its outbox events in one transaction.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"citizen-reporting-system/pkg/events"
	"citizen-reporting-system/pkg/report"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the handle for health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&report.Report{},
		&report.StatusHistoryEntry{},
		&report.AnonymousIdentity{},
		&report.ReferenceSequence{},
		&report.Upvote{},
		&OutboxRecord{},
	)
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) writeTX(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// NextReference atomically increments the year's counter and formats the
// reference. The increment commits on its own: a create that fails later
// burns the number.
func (s *Store) NextReference(ctx context.Context, year int) (string, error) {
	var counter int64
	err := s.db.WithContext(ctx).Raw(
		`INSERT INTO reference_sequences (year, counter) VALUES (?, 1)
		 ON CONFLICT (year) DO UPDATE SET counter = reference_sequences.counter + 1
		 RETURNING counter`, year,
	).Scan(&counter).Error
	if err != nil {
		return "", fmt.Errorf("next reference for %d: %w", year, err)
	}
	if counter <= 0 {
		return "", fmt.Errorf("next reference for %d: sequence returned %d", year, counter)
	}
	if counter > report.MaxReferenceSequence {
		return "", fmt.Errorf("next reference for %d: %w", year, report.ErrReferenceExhausted)
	}
	return report.FormatReference(year, counter), nil
}

// Create inserts a new report with its optional anonymous identity, the
// synthetic first history entry and the report.created event.
func (s *Store) Create(ctx context.Context, r *report.Report, identity *report.AnonymousIdentity) error {
	env, err := events.New(events.ReportCreated, events.SourceReportService, r.CreatedAt, events.CreatedPayload{
		ReportRef:   events.ReportRef{ReportID: r.ID, ReferenceNumber: r.ReferenceNumber},
		Title:       r.Title,
		Description: r.Description,
		Category:    string(r.Category),
		Visibility:  string(r.Visibility),
		ReporterID:  r.ReporterID,
		Priority:    r.Priority,
		SLADeadline: r.SLADeadline,
	})
	if err != nil {
		return err
	}

	return s.writeTX(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(r).Error; err != nil {
			return fmt.Errorf("insert report: %w", err)
		}
		if identity != nil {
			if err := tx.Create(identity).Error; err != nil {
				return fmt.Errorf("insert anonymous identity: %w", err)
			}
		}
		entry := report.StatusHistoryEntry{
			ReportID:  r.ID,
			NewStatus: r.Status,
			Notes:     "Report submitted",
			ChangedBy: r.ReporterID,
			CreatedAt: r.CreatedAt,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
		return appendOutbox(tx, r.ID, env)
	})
}

type TransitionParams struct {
	ReportID string
	To       report.Status
	ActorID  *string
	Notes    string
	Now      time.Time
}

// Transition applies a manual status change. The update is a compare-and-set
// on the status read inside the transaction.
func (s *Store) Transition(ctx context.Context, p TransitionParams) (*report.Report, error) {
	now := p.Now.UTC()
	var out *report.Report
	err := s.writeTX(ctx, func(tx *gorm.DB) error {
		current, err := findByID(tx, p.ReportID)
		if err != nil {
			return err
		}
		if err := report.CheckTransition(current.Status, p.To); err != nil {
			return err
		}

		updates := map[string]any{"status": string(p.To), "updated_at": now}
		if p.To == report.StatusResolved {
			updates["resolved_at"] = now
		}
		res := tx.Model(&report.Report{}).
			Where("id = ? AND status = ?", current.ID, string(current.Status)).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: report %s changed concurrently", report.ErrConflict, current.ID)
		}

		entry := report.StatusHistoryEntry{
			ReportID:  current.ID,
			OldStatus: current.Status,
			NewStatus: p.To,
			Notes:     p.Notes,
			ChangedBy: p.ActorID,
			CreatedAt: now,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("insert history: %w", err)
		}

		env, err := events.New(events.ReportStatusChanged, events.SourceReportService, now, events.StatusChangedPayload{
			ReportRef:    refOf(current),
			OldStatus:    string(current.Status),
			NewStatus:    string(p.To),
			Notes:        p.Notes,
			ChangedBy:    p.ActorID,
			ReporterID:   current.ReporterID,
			DepartmentID: current.DepartmentID,
			Title:        current.Title,
		})
		if err != nil {
			return err
		}
		if err := appendOutbox(tx, current.ID, env); err != nil {
			return err
		}

		current.Status = p.To
		current.UpdatedAt = now
		if p.To == report.StatusResolved {
			current.ResolvedAt = &now
		}
		out = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type EscalateParams struct {
	ReportID      string
	ExpectedLevel int
	MaxLevel      int
	// NewDeadline is now + hours(ExpectedLevel+1); the stored deadline never
	// moves earlier than its current value.
	NewDeadline time.Time
	Now         time.Time
}

type EscalationResult struct {
	Escalated     bool
	Report        report.Report
	PreviousLevel int
	StatusChanged bool
}

// EscalationNote is the history note written for an automatic escalation.
func EscalationNote(from, to int) string {
	return fmt.Sprintf("SLA deadline exceeded: escalation level %d -> %d", from, to)
}

// Escalate raises one overdue report by one level. Every precondition is
// re-checked inside the transaction; a report that no longer qualifies is
// left untouched and Escalated is false.
func (s *Store) Escalate(ctx context.Context, p EscalateParams) (EscalationResult, error) {
	now := p.Now.UTC()
	var result EscalationResult
	err := s.writeTX(ctx, func(tx *gorm.DB) error {
		current, err := findByID(tx, p.ReportID)
		if err != nil {
			return err
		}
		if current.Status.EscalationTerminal() ||
			current.EscalationLevel != p.ExpectedLevel ||
			!current.Overdue(now) ||
			current.EscalationLevel >= p.MaxLevel {
			result.Report = *current
			return nil
		}

		prevLevel := current.EscalationLevel
		prevStatus := current.Status
		newLevel := prevLevel + 1
		deadline := p.NewDeadline.UTC()
		if deadline.Before(current.SLADeadline) {
			deadline = current.SLADeadline
		}

		res := tx.Model(&report.Report{}).
			Where("id = ? AND status = ? AND escalation_level = ?", current.ID, string(prevStatus), prevLevel).
			Updates(map[string]any{
				"status":            string(report.StatusEscalated),
				"escalation_level":  newLevel,
				"sla_deadline":      deadline,
				"last_escalated_at": now,
				"updated_at":        now,
			})
		if res.Error != nil {
			return fmt.Errorf("escalate report: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: report %s changed concurrently", report.ErrConflict, current.ID)
		}

		note := EscalationNote(prevLevel, newLevel)
		entry := report.StatusHistoryEntry{
			ReportID:  current.ID,
			OldStatus: prevStatus,
			NewStatus: report.StatusEscalated,
			Notes:     note,
			CreatedAt: now,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("insert history: %w", err)
		}

		escalated, err := events.New(events.ReportEscalated, events.SourceEscalationScheduler, now, events.EscalatedPayload{
			ReportRef:     refOf(current),
			PreviousLevel: prevLevel,
			NewLevel:      newLevel,
			OldStatus:     string(prevStatus),
			NewStatus:     string(report.StatusEscalated),
			SLADeadline:   deadline,
			Reason:        note,
			DepartmentID:  current.DepartmentID,
			ReporterID:    current.ReporterID,
			Title:         current.Title,
		})
		if err != nil {
			return err
		}
		if err := appendOutbox(tx, current.ID, escalated); err != nil {
			return err
		}

		statusChanged := prevStatus != report.StatusEscalated
		if statusChanged {
			changed, err := events.NewCaused(events.ReportStatusChanged, events.SourceEscalationScheduler, escalated.EventID, now, events.StatusChangedPayload{
				ReportRef:    refOf(current),
				OldStatus:    string(prevStatus),
				NewStatus:    string(report.StatusEscalated),
				Notes:        note,
				ReporterID:   current.ReporterID,
				DepartmentID: current.DepartmentID,
				Title:        current.Title,
			})
			if err != nil {
				return err
			}
			if err := appendOutbox(tx, current.ID, changed); err != nil {
				return err
			}
		}

		current.Status = report.StatusEscalated
		current.EscalationLevel = newLevel
		current.SLADeadline = deadline
		current.LastEscalatedAt = &now
		current.UpdatedAt = now
		result = EscalationResult{Escalated: true, Report: *current, PreviousLevel: prevLevel, StatusChanged: statusChanged}
		return nil
	})
	if err != nil {
		return EscalationResult{}, err
	}
	return result, nil
}

// ListOverdue returns non-terminal reports below maxLevel whose deadline is
// before now, oldest deadline first.
func (s *Store) ListOverdue(ctx context.Context, now time.Time, maxLevel, limit int) ([]report.Report, error) {
	var rows []report.Report
	q := s.db.WithContext(ctx).
		Where("sla_deadline < ? AND escalation_level < ? AND status NOT IN ?", now.UTC(), maxLevel, statusStrings(report.EscalationTerminalStatuses())).
		Order("sla_deadline ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list overdue: %w", err)
	}
	return rows, nil
}

type RoutingUpdate struct {
	ReportID     string
	DepartmentID string
	Priority     int
	Reason       string
	Fallback     bool
	// CausationID is the report.created event the decision was made for.
	CausationID string
	Now         time.Time
}

// AssignDepartment overwrites department and priority. Applying the same
// decision twice is a no-op and returns false.
func (s *Store) AssignDepartment(ctx context.Context, u RoutingUpdate) (bool, error) {
	now := u.Now.UTC()
	changed := false
	err := s.writeTX(ctx, func(tx *gorm.DB) error {
		current, err := findByID(tx, u.ReportID)
		if err != nil {
			return err
		}
		if report.StringValue(current.DepartmentID) == u.DepartmentID && current.Priority == u.Priority {
			return nil
		}

		res := tx.Model(&report.Report{}).
			Where("id = ?", current.ID).
			Updates(map[string]any{"department_id": u.DepartmentID, "priority": u.Priority, "updated_at": now})
		if res.Error != nil {
			return fmt.Errorf("assign department: %w", res.Error)
		}

		env, err := events.NewCaused(events.RoutingCompleted, events.SourceRoutingEngine, u.CausationID, now, events.RoutingCompletedPayload{
			ReportRef:          refOf(current),
			DepartmentID:       u.DepartmentID,
			PreviousDepartment: current.DepartmentID,
			Priority:           u.Priority,
			Reason:             u.Reason,
			Fallback:           u.Fallback,
			ReporterID:         current.ReporterID,
			Title:              current.Title,
		})
		if err != nil {
			return err
		}
		changed = true
		return appendOutbox(tx, current.ID, env)
	})
	return changed, err
}

type AssignOfficerParams struct {
	ReportID  string
	OfficerID string
	ActorID   *string
	Now       time.Time
}

// AssignOfficer sets the handling officer and emits report.assigned when the
// assignee actually changes.
func (s *Store) AssignOfficer(ctx context.Context, p AssignOfficerParams) (*report.Report, error) {
	now := p.Now.UTC()
	var out *report.Report
	err := s.writeTX(ctx, func(tx *gorm.DB) error {
		current, err := findByID(tx, p.ReportID)
		if err != nil {
			return err
		}
		out = current
		if current.Status.Terminal() {
			return fmt.Errorf("%w: report %s is %s", report.ErrConflict, current.ID, current.Status)
		}
		if report.StringValue(current.AssignedToID) == p.OfficerID {
			return nil
		}

		res := tx.Model(&report.Report{}).
			Where("id = ?", current.ID).
			Updates(map[string]any{"assigned_to_id": p.OfficerID, "updated_at": now})
		if res.Error != nil {
			return fmt.Errorf("assign officer: %w", res.Error)
		}

		env, err := events.New(events.ReportAssigned, events.SourceReportService, now, events.AssignedPayload{
			ReportRef:          refOf(current),
			AssignedToID:       p.OfficerID,
			PreviousAssigneeID: current.AssignedToID,
			AssignedBy:         p.ActorID,
			DepartmentID:       current.DepartmentID,
			ReporterID:         current.ReporterID,
			Title:              current.Title,
		})
		if err != nil {
			return err
		}
		if err := appendOutbox(tx, current.ID, env); err != nil {
			return err
		}
		current.AssignedToID = &p.OfficerID
		current.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type ContentUpdate struct {
	ReportID    string
	Title       *string
	Description *string
	Category    *report.Category
	ImageURL    *string
	ActorID     *string
	Now         time.Time
}

// UpdateContent edits the descriptive fields of a report that is still open.
func (s *Store) UpdateContent(ctx context.Context, u ContentUpdate) (*report.Report, error) {
	now := u.Now.UTC()
	var out *report.Report
	err := s.writeTX(ctx, func(tx *gorm.DB) error {
		current, err := findByID(tx, u.ReportID)
		if err != nil {
			return err
		}
		out = current
		if current.Status.EscalationTerminal() {
			return fmt.Errorf("%w: report %s is %s", report.ErrConflict, current.ID, current.Status)
		}

		updates := map[string]any{}
		var fields []string
		if u.Title != nil && *u.Title != current.Title {
			updates["title"] = *u.Title
			fields = append(fields, "title")
			current.Title = *u.Title
		}
		if u.Description != nil && *u.Description != current.Description {
			updates["description"] = *u.Description
			fields = append(fields, "description")
			current.Description = *u.Description
		}
		if u.Category != nil && *u.Category != current.Category {
			updates["category"] = string(*u.Category)
			fields = append(fields, "category")
			current.Category = *u.Category
		}
		if u.ImageURL != nil && *u.ImageURL != current.ImageURL {
			updates["image_url"] = *u.ImageURL
			fields = append(fields, "image_url")
			current.ImageURL = *u.ImageURL
		}
		if len(fields) == 0 {
			return nil
		}
		updates["updated_at"] = now

		if err := tx.Model(&report.Report{}).Where("id = ?", current.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update content: %w", err)
		}
		env, err := events.New(events.ReportUpdated, events.SourceReportService, now, events.UpdatedPayload{
			ReportRef: refOf(current),
			Fields:    fields,
			UpdatedBy: u.ActorID,
		})
		if err != nil {
			return err
		}
		current.UpdatedAt = now
		return appendOutbox(tx, current.ID, env)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Upvote records one vote per user. Reporters cannot vote on their own
// report; both cases return ErrConflict. Anonymous reports carry no reporter
// id, so their submitter votes like anyone else.
func (s *Store) Upvote(ctx context.Context, reportID, userID string, now time.Time) (int64, error) {
	var count int64
	err := s.writeTX(ctx, func(tx *gorm.DB) error {
		current, err := findByID(tx, reportID)
		if err != nil {
			return err
		}
		if report.StringValue(current.ReporterID) == userID {
			return fmt.Errorf("%w: cannot upvote own report", report.ErrConflict)
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&report.Upvote{ReportID: reportID, UserID: userID, CreatedAt: now.UTC()})
		if res.Error != nil {
			return fmt.Errorf("insert upvote: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: already upvoted", report.ErrConflict)
		}
		if err := tx.Model(&report.Report{}).Where("id = ?", reportID).
			UpdateColumn("upvote_count", gorm.Expr("upvote_count + 1")).Error; err != nil {
			return fmt.Errorf("increment upvotes: %w", err)
		}
		count = current.UpvoteCount + 1
		return nil
	})
	return count, err
}

func (s *Store) IncrementView(ctx context.Context, reportID string) error {
	res := s.db.WithContext(ctx).Model(&report.Report{}).Where("id = ?", reportID).
		UpdateColumn("view_count", gorm.Expr("view_count + 1"))
	if res.Error != nil {
		return fmt.Errorf("increment views: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return report.ErrNotFound
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*report.Report, error) {
	return findByID(s.db.WithContext(ctx), id)
}

func (s *Store) FindByReference(ctx context.Context, ref string) (*report.Report, error) {
	var r report.Report
	err := s.db.WithContext(ctx).Where("reference_number = ?", ref).Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, report.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find report by reference: %w", err)
	}
	return &r, nil
}

// History returns the audit trail in insertion order.
func (s *Store) History(ctx context.Context, reportID string) ([]report.StatusHistoryEntry, error) {
	var rows []report.StatusHistoryEntry
	if err := s.db.WithContext(ctx).Where("report_id = ?", reportID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return rows, nil
}

func (s *Store) Identity(ctx context.Context, reportID string) (*report.AnonymousIdentity, error) {
	var id report.AnonymousIdentity
	err := s.db.WithContext(ctx).Where("report_id = ?", reportID).Take(&id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, report.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	return &id, nil
}

type ListFilter struct {
	ReporterID   string
	DepartmentID string
	Status       report.Status
	// PublicOnly restricts results to PUBLIC and ANONYMOUS reports.
	PublicOnly bool
	Limit      int
	Offset     int
}

func (s *Store) List(ctx context.Context, f ListFilter) ([]report.Report, error) {
	q := s.db.WithContext(ctx).Model(&report.Report{})
	if f.ReporterID != "" {
		q = q.Where("reporter_id = ?", f.ReporterID)
	}
	if f.DepartmentID != "" {
		q = q.Where("department_id = ?", f.DepartmentID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.PublicOnly {
		q = q.Where("visibility <> ?", string(report.VisibilityPrivate))
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []report.Report
	if err := q.Order("created_at DESC").Limit(limit).Offset(f.Offset).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return rows, nil
}

func findByID(tx *gorm.DB, id string) (*report.Report, error) {
	var r report.Report
	err := tx.Where("id = ?", id).Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, report.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find report: %w", err)
	}
	return &r, nil
}

func refOf(r *report.Report) events.ReportRef {
	return events.ReportRef{ReportID: r.ID, ReferenceNumber: r.ReferenceNumber}
}

func statusStrings(statuses []report.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
