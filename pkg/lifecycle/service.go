// Package lifecycle is the intake and workflow API of the Report Store.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"citizen-reporting-system/pkg/logging"
	"citizen-reporting-system/pkg/report"
	"citizen-reporting-system/pkg/routing"
	"citizen-reporting-system/pkg/security"
	"citizen-reporting-system/pkg/store"

	"github.com/google/uuid"
)

// Repository is the persistence the service needs; *store.Store implements it.
type Repository interface {
	NextReference(ctx context.Context, year int) (string, error)
	Create(ctx context.Context, r *report.Report, identity *report.AnonymousIdentity) error
	Transition(ctx context.Context, p store.TransitionParams) (*report.Report, error)
	AssignDepartment(ctx context.Context, u store.RoutingUpdate) (bool, error)
	AssignOfficer(ctx context.Context, p store.AssignOfficerParams) (*report.Report, error)
	UpdateContent(ctx context.Context, u store.ContentUpdate) (*report.Report, error)
	Upvote(ctx context.Context, reportID, userID string, now time.Time) (int64, error)
	IncrementView(ctx context.Context, reportID string) error
	FindByID(ctx context.Context, id string) (*report.Report, error)
	FindByReference(ctx context.Context, ref string) (*report.Report, error)
	History(ctx context.Context, reportID string) ([]report.StatusHistoryEntry, error)
	Identity(ctx context.Context, reportID string) (*report.AnonymousIdentity, error)
	List(ctx context.Context, f store.ListFilter) ([]report.Report, error)
}

var _ Repository = (*store.Store)(nil)

const (
	minTitleLen       = 5
	maxTitleLen       = 200
	minDescriptionLen = 10
	maxDescriptionLen = 5000
)

type Service struct {
	repo   Repository
	vault  *security.Vault
	policy report.SLAPolicy
	now    func() time.Time
	log    *logging.Logger
}

type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, vault *security.Vault, policy report.SLAPolicy, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		vault:  vault,
		policy: policy,
		now:    time.Now,
		log:    logging.New("lifecycle"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type SubmitInput struct {
	Title       string
	Description string
	Category    report.Category
	Visibility  report.Visibility
	// ReporterID is optional only for ANONYMOUS reports.
	ReporterID string
	ImageURL   string
}

type SubmitResult struct {
	ID              string        `json:"id"`
	ReferenceNumber string        `json:"reference_number"`
	Status          report.Status `json:"status"`
	SLADeadline     time.Time     `json:"sla_deadline"`
	// TrackingToken is returned once, for anonymous submissions only.
	TrackingToken string `json:"tracking_token,omitempty"`
}

func (in *SubmitInput) normalize() {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.ReporterID = strings.TrimSpace(in.ReporterID)
	in.ImageURL = strings.TrimSpace(in.ImageURL)
	in.Category = report.Category(strings.ToUpper(strings.TrimSpace(string(in.Category))))
	in.Visibility = report.Visibility(strings.ToUpper(strings.TrimSpace(string(in.Visibility))))
	if in.Visibility == "" {
		in.Visibility = report.VisibilityPublic
	}
}

func (in SubmitInput) validate() error {
	if err := validateTitle(in.Title); err != nil {
		return err
	}
	if err := validateDescription(in.Description); err != nil {
		return err
	}
	if !in.Category.Valid() {
		return report.NewValidationError("category", fmt.Sprintf("unknown category %q", in.Category))
	}
	if !in.Visibility.Valid() {
		return report.NewValidationError("visibility", fmt.Sprintf("unknown visibility %q", in.Visibility))
	}
	if in.ReporterID == "" && in.Visibility != report.VisibilityAnonymous {
		return report.NewValidationError("reporterId", "required unless the report is anonymous")
	}
	return nil
}

func validateTitle(title string) error {
	n := utf8.RuneCountInString(title)
	if n < minTitleLen || n > maxTitleLen {
		return report.NewValidationError("title", fmt.Sprintf("must be %d-%d characters", minTitleLen, maxTitleLen))
	}
	return nil
}

func validateDescription(desc string) error {
	n := utf8.RuneCountInString(desc)
	if n < minDescriptionLen || n > maxDescriptionLen {
		return report.NewValidationError("description", fmt.Sprintf("must be %d-%d characters", minDescriptionLen, maxDescriptionLen))
	}
	return nil
}

// SubmitReport validates and persists a new report. Anonymous reports with a
// known submitter get a sealed identity and a one-time tracking token.
func (s *Service) SubmitReport(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return SubmitResult{}, err
	}

	now := s.now().UTC()
	ref, err := s.repo.NextReference(ctx, now.Year())
	if err != nil {
		return SubmitResult{}, err
	}

	r := &report.Report{
		ID:              uuid.NewString(),
		ReferenceNumber: ref,
		Title:           in.Title,
		Description:     in.Description,
		Category:        in.Category,
		Visibility:      in.Visibility,
		Status:          report.StatusPending,
		Priority:        3,
		EscalationLevel: 1,
		SLADeadline:     s.policy.Deadline(1, now),
		ImageURL:        in.ImageURL,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var (
		identity *report.AnonymousIdentity
		token    string
	)
	if in.Visibility == report.VisibilityAnonymous {
		if in.ReporterID != "" {
			sealed, err := s.vault.Encrypt(in.ReporterID)
			if err != nil {
				return SubmitResult{}, fmt.Errorf("seal reporter: %w", err)
			}
			hash, err := s.vault.HashTrackingToken(sealed.TrackingToken)
			if err != nil {
				return SubmitResult{}, err
			}
			identity = &report.AnonymousIdentity{
				ReportID:            r.ID,
				EncryptedReporterID: sealed.EncryptedReporterID,
				KeyID:               sealed.KeyID,
				TrackingTokenHash:   hash,
				CreatedAt:           now,
			}
			token = sealed.TrackingToken
		}
	} else {
		r.ReporterID = &in.ReporterID
	}

	if err := s.repo.Create(ctx, r, identity); err != nil {
		return SubmitResult{}, err
	}

	s.log.Info(ctx, "report submitted", logging.Fields{
		"report_id": r.ID, "reference": r.ReferenceNumber, "category": r.Category, "visibility": r.Visibility,
	})
	return SubmitResult{
		ID:              r.ID,
		ReferenceNumber: r.ReferenceNumber,
		Status:          r.Status,
		SLADeadline:     r.SLADeadline,
		TrackingToken:   token,
	}, nil
}

// TransitionStatus applies a manual workflow move.
func (s *Service) TransitionStatus(ctx context.Context, reportID string, actorID *string, to report.Status, notes string) (*report.Report, error) {
	to = report.Status(strings.ToUpper(strings.TrimSpace(string(to))))
	if !to.Valid() {
		return nil, report.NewValidationError("status", fmt.Sprintf("unknown status %q", to))
	}
	r, err := s.repo.Transition(ctx, store.TransitionParams{
		ReportID: reportID,
		To:       to,
		ActorID:  actorID,
		Notes:    strings.TrimSpace(notes),
		Now:      s.now(),
	})
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "report status changed", logging.Fields{"report_id": reportID, "status": to})
	return r, nil
}

type TrackQuery struct {
	ReferenceNumber string
	TrackingToken   string
	// ViewerID is the authenticated caller, if any.
	ViewerID string
}

type TrackingEvent struct {
	OldStatus report.Status `json:"old_status,omitempty"`
	NewStatus report.Status `json:"new_status"`
	Notes     string        `json:"notes,omitempty"`
	At        time.Time     `json:"at"`
}

// Tracking is the public view of a report's progress. It never carries the
// reporter's identity.
type Tracking struct {
	ReferenceNumber string          `json:"reference_number"`
	Title           string          `json:"title"`
	Category        report.Category `json:"category"`
	Status          report.Status   `json:"status"`
	Priority        int             `json:"priority"`
	EscalationLevel int             `json:"escalation_level"`
	DepartmentID    *string         `json:"department_id,omitempty"`
	SLADeadline     time.Time       `json:"sla_deadline"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	History         []TrackingEvent `json:"history"`
}

// TrackByReference looks a report up by its reference number. Anonymous
// reports require their tracking token and private ones their reporter; any
// mismatch is indistinguishable from a missing report.
func (s *Service) TrackByReference(ctx context.Context, q TrackQuery) (*Tracking, error) {
	ref := strings.ToUpper(strings.TrimSpace(q.ReferenceNumber))
	if _, _, err := report.ParseReference(ref); err != nil {
		return nil, err
	}

	r, err := s.repo.FindByReference(ctx, ref)
	if errors.Is(err, report.ErrNotFound) {
		if q.TrackingToken != "" {
			s.vault.VerifyTrackingToken("", q.TrackingToken)
		}
		return nil, report.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	switch r.Visibility {
	case report.VisibilityAnonymous:
		hash := ""
		identity, err := s.repo.Identity(ctx, r.ID)
		switch {
		case err == nil:
			hash = identity.TrackingTokenHash
		case !errors.Is(err, report.ErrNotFound):
			return nil, err
		}
		if !s.vault.VerifyTrackingToken(hash, strings.TrimSpace(q.TrackingToken)) {
			return nil, report.ErrInvalidTrackingToken
		}
	case report.VisibilityPrivate:
		if q.ViewerID == "" || q.ViewerID != report.StringValue(r.ReporterID) {
			return nil, report.ErrNotFound
		}
	}

	history, err := s.repo.History(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	t := &Tracking{
		ReferenceNumber: r.ReferenceNumber,
		Title:           r.Title,
		Category:        r.Category,
		Status:          r.Status,
		Priority:        r.Priority,
		EscalationLevel: r.EscalationLevel,
		DepartmentID:    r.DepartmentID,
		SLADeadline:     r.SLADeadline,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ResolvedAt:      r.ResolvedAt,
		History:         make([]TrackingEvent, 0, len(history)),
	}
	for _, h := range history {
		t.History = append(t.History, TrackingEvent{OldStatus: h.OldStatus, NewStatus: h.NewStatus, Notes: h.Notes, At: h.CreatedAt})
	}
	return t, nil
}

type RoutingInput struct {
	ReportID     string
	DepartmentID string
	Priority     int
	Reason       string
	Fallback     bool
	CausationID  string
}

// AssignDepartment records a routing decision. Re-applying the same decision
// changes nothing.
func (s *Service) AssignDepartment(ctx context.Context, in RoutingInput) (bool, error) {
	if !routing.KnownDepartment(in.DepartmentID) {
		return false, report.NewValidationError("departmentId", fmt.Sprintf("unknown department %q", in.DepartmentID))
	}
	if in.Priority < 1 || in.Priority > 5 {
		return false, report.NewValidationError("priority", "must be between 1 and 5")
	}
	changed, err := s.repo.AssignDepartment(ctx, store.RoutingUpdate{
		ReportID:     in.ReportID,
		DepartmentID: in.DepartmentID,
		Priority:     in.Priority,
		Reason:       in.Reason,
		Fallback:     in.Fallback,
		CausationID:  in.CausationID,
		Now:          s.now(),
	})
	if err != nil {
		return false, err
	}
	if changed {
		s.log.Info(ctx, "report routed", logging.Fields{"report_id": in.ReportID, "department": in.DepartmentID, "priority": in.Priority})
	}
	return changed, nil
}

func (s *Service) AssignOfficer(ctx context.Context, reportID, officerID string, actorID *string) (*report.Report, error) {
	officerID = strings.TrimSpace(officerID)
	if officerID == "" {
		return nil, report.NewValidationError("officerId", "required")
	}
	return s.repo.AssignOfficer(ctx, store.AssignOfficerParams{ReportID: reportID, OfficerID: officerID, ActorID: actorID, Now: s.now()})
}

type ContentInput struct {
	Title       *string
	Description *string
	Category    *report.Category
	ImageURL    *string
}

// UpdateContent lets the submitter correct an open report.
func (s *Service) UpdateContent(ctx context.Context, reportID, actorID string, in ContentInput) (*report.Report, error) {
	current, err := s.repo.FindByID(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if current.ReporterID == nil || *current.ReporterID != actorID {
		return nil, report.ErrNotFound
	}
	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		if err := validateTitle(t); err != nil {
			return nil, err
		}
		in.Title = &t
	}
	if in.Description != nil {
		d := strings.TrimSpace(*in.Description)
		if err := validateDescription(d); err != nil {
			return nil, err
		}
		in.Description = &d
	}
	if in.Category != nil {
		c := report.Category(strings.ToUpper(strings.TrimSpace(string(*in.Category))))
		if !c.Valid() {
			return nil, report.NewValidationError("category", fmt.Sprintf("unknown category %q", c))
		}
		in.Category = &c
	}
	return s.repo.UpdateContent(ctx, store.ContentUpdate{
		ReportID:    reportID,
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		ImageURL:    in.ImageURL,
		ActorID:     &actorID,
		Now:         s.now(),
	})
}

func (s *Service) Upvote(ctx context.Context, reportID, userID string) (int64, error) {
	if userID == "" {
		return 0, report.NewValidationError("userId", "required")
	}
	if _, err := s.visible(ctx, reportID, Viewer{ID: userID}); err != nil {
		return 0, err
	}
	return s.repo.Upvote(ctx, reportID, userID, s.now())
}

func (s *Service) RecordView(ctx context.Context, reportID string) error {
	return s.repo.IncrementView(ctx, reportID)
}

// Viewer is the caller of a read operation.
type Viewer struct {
	ID string
	// Staff sees every report regardless of visibility.
	Staff bool
}

// GetReport returns a report the viewer may see. Private reports of other
// users look missing.
func (s *Service) GetReport(ctx context.Context, reportID string, v Viewer) (*report.Report, error) {
	return s.visible(ctx, reportID, v)
}

func (s *Service) visible(ctx context.Context, reportID string, v Viewer) (*report.Report, error) {
	r, err := s.repo.FindByID(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if r.Visibility == report.VisibilityPrivate && !v.Staff && report.StringValue(r.ReporterID) != v.ID {
		return nil, report.ErrNotFound
	}
	return r, nil
}

func (s *Service) ListReports(ctx context.Context, f store.ListFilter) ([]report.Report, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, report.NewValidationError("status", fmt.Sprintf("unknown status %q", f.Status))
	}
	return s.repo.List(ctx, f)
}

// RevealReporter returns the real submitter id. Anonymous identities are
// opened through the vault; callers must be privileged.
func (s *Service) RevealReporter(ctx context.Context, reportID string) (string, error) {
	r, err := s.repo.FindByID(ctx, reportID)
	if err != nil {
		return "", err
	}
	if !r.IsAnonymous() {
		return report.StringValue(r.ReporterID), nil
	}
	identity, err := s.repo.Identity(ctx, r.ID)
	if err != nil {
		return "", err
	}
	id, err := s.vault.Decrypt(identity.EncryptedReporterID, identity.KeyID)
	if err != nil {
		return "", fmt.Errorf("reveal reporter of %s: %w", reportID, err)
	}
	s.log.Warn(ctx, "anonymous reporter revealed", nil, logging.Fields{"report_id": reportID})
	return id, nil
}
