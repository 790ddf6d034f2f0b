package models

import (
	"strings"
	"time"

	"citizen-reporting-system/pkg/report"
)

const AnonymousReporterName = "Pelapor Anonim"

// Report is the API view of a report. Anonymous reports never carry a
// reporter id; they show AnonymousReporterName instead.
type Report struct {
	ID              string            `json:"id"`
	ReferenceNumber string            `json:"reference_number"`
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	Category        report.Category   `json:"category"`
	Visibility      report.Visibility `json:"visibility"`
	IsAnonymous     bool              `json:"is_anonymous"`
	IsPublic        bool              `json:"is_public"`
	Status          report.Status     `json:"status"`
	Priority        int               `json:"priority"`
	EscalationLevel int               `json:"escalation_level"`
	IsEscalated     bool              `json:"is_escalated"`
	SlaDeadline     time.Time         `json:"sla_deadline"`
	EscalatedAt     *time.Time        `json:"escalated_at,omitempty"`
	DepartmentID    string            `json:"department_id,omitempty"`
	AssignedToID    string            `json:"assigned_to_id,omitempty"`
	ReporterID      string            `json:"reporter_id,omitempty"`
	Reporter        string            `json:"reporter_name,omitempty"`
	ImageURL        string            `json:"image_url,omitempty"`
	Upvotes         int64             `json:"upvotes"`
	Views           int64             `json:"views"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	ResolvedAt      *time.Time        `json:"resolved_at,omitempty"`
}

func FromReport(r *report.Report) Report {
	out := Report{
		ID:              r.ID,
		ReferenceNumber: r.ReferenceNumber,
		Title:           r.Title,
		Description:     r.Description,
		Category:        r.Category,
		Visibility:      r.Visibility,
		IsAnonymous:     r.IsAnonymous(),
		IsPublic:        r.Visibility != report.VisibilityPrivate,
		Status:          r.Status,
		Priority:        r.Priority,
		EscalationLevel: r.EscalationLevel,
		IsEscalated:     r.EscalationLevel > 1,
		SlaDeadline:     r.SLADeadline,
		EscalatedAt:     r.LastEscalatedAt,
		DepartmentID:    report.StringValue(r.DepartmentID),
		AssignedToID:    report.StringValue(r.AssignedToID),
		ReporterID:      report.StringValue(r.ReporterID),
		ImageURL:        r.ImageURL,
		Upvotes:         r.UpvoteCount,
		Views:           r.ViewCount,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ResolvedAt:      r.ResolvedAt,
	}
	if out.IsAnonymous {
		out.ReporterID = ""
		out.Reporter = AnonymousReporterName
	}
	return out
}

func FromReports(rs []report.Report) []Report {
	out := make([]Report, 0, len(rs))
	for i := range rs {
		out = append(out, FromReport(&rs[i]))
	}
	return out
}

// CreateReportRequest accepts either an explicit visibility or the older
// privacy/isAnonymous fields sent by the web client.
type CreateReportRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	ImageUrl    string `json:"imageUrl"`
	Visibility  string `json:"visibility"`
	Privacy     string `json:"privacy"` // "public", "private", "anonymous"
	IsAnonymous bool   `json:"isAnonymous"`
}

func (req CreateReportRequest) ResolveVisibility() report.Visibility {
	if v := strings.TrimSpace(req.Visibility); v != "" {
		return report.Visibility(strings.ToUpper(v))
	}
	switch strings.ToLower(strings.TrimSpace(req.Privacy)) {
	case "private":
		return report.VisibilityPrivate
	case "anonymous":
		return report.VisibilityAnonymous
	}
	if req.IsAnonymous {
		return report.VisibilityAnonymous
	}
	return report.VisibilityPublic
}

type UpdateReportRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
	ImageUrl    *string `json:"imageUrl"`
}

type StatusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

type AssigneeRequest struct {
	OfficerID string `json:"officer_id"`
}

// RoutingRequest is the body of the internal routing callback.
type RoutingRequest struct {
	DepartmentID string `json:"department_id"`
	Priority     int    `json:"priority"`
	Reason       string `json:"reason"`
	Fallback     bool   `json:"fallback"`
	CausationID  string `json:"causation_id"`
}
