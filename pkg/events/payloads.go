package events

import "time"

// ReportRef is embedded in every payload.
type ReportRef struct {
	ReportID        string `json:"report_id"`
	ReferenceNumber string `json:"reference_number"`
}

type CreatedPayload struct {
	ReportRef
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Visibility  string    `json:"visibility"`
	ReporterID  *string   `json:"reporter_id,omitempty"`
	Priority    int       `json:"priority"`
	SLADeadline time.Time `json:"sla_deadline"`
}

type UpdatedPayload struct {
	ReportRef
	Fields    []string `json:"fields"`
	UpdatedBy *string  `json:"updated_by,omitempty"`
}

type StatusChangedPayload struct {
	ReportRef
	OldStatus    string  `json:"old_status"`
	NewStatus    string  `json:"new_status"`
	Notes        string  `json:"notes,omitempty"`
	ChangedBy    *string `json:"changed_by,omitempty"`
	ReporterID   *string `json:"reporter_id,omitempty"`
	DepartmentID *string `json:"department_id,omitempty"`
	Title        string  `json:"title"`
}

type AssignedPayload struct {
	ReportRef
	AssignedToID       string  `json:"assigned_to_id"`
	PreviousAssigneeID *string `json:"previous_assignee_id,omitempty"`
	AssignedBy         *string `json:"assigned_by,omitempty"`
	DepartmentID       *string `json:"department_id,omitempty"`
	ReporterID         *string `json:"reporter_id,omitempty"`
	Title              string  `json:"title"`
}

type EscalatedPayload struct {
	ReportRef
	PreviousLevel int       `json:"previous_level"`
	NewLevel      int       `json:"new_level"`
	OldStatus     string    `json:"old_status"`
	NewStatus     string    `json:"new_status"`
	SLADeadline   time.Time `json:"sla_deadline"`
	Reason        string    `json:"reason"`
	DepartmentID  *string   `json:"department_id,omitempty"`
	ReporterID    *string   `json:"reporter_id,omitempty"`
	Title         string    `json:"title"`
}

type RoutingCompletedPayload struct {
	ReportRef
	DepartmentID       string  `json:"department_id"`
	PreviousDepartment *string `json:"previous_department_id,omitempty"`
	Priority           int     `json:"priority"`
	Reason             string  `json:"reason"`
	Fallback           bool    `json:"fallback"`
	ReporterID         *string `json:"reporter_id,omitempty"`
	Title              string  `json:"title"`
}
