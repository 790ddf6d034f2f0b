// Package notification turns report events into per-recipient inbox entries
// and pushes in-app ones to connected dashboards.
package notification

import (
	"fmt"
	"time"

	"citizen-reporting-system/pkg/events"
	"citizen-reporting-system/pkg/report"
	"citizen-reporting-system/pkg/routing"
)

type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
)

const (
	userPrefix       = "user:"
	departmentPrefix = "department:"
)

// Notification is one delivery of one event to one recipient on one channel.
type Notification struct {
	EventID         string      `json:"event_id" bson:"event_id"`
	EventType       events.Type `json:"event_type" bson:"event_type"`
	Recipient       string      `json:"recipient" bson:"recipient"`
	Channel         Channel     `json:"channel" bson:"channel"`
	ReportID        string      `json:"report_id" bson:"report_id"`
	ReferenceNumber string      `json:"reference_number" bson:"reference_number"`
	Title           string      `json:"title" bson:"title"`
	Message         string      `json:"message" bson:"message"`
	Status          string      `json:"status,omitempty" bson:"status,omitempty"`
	CreatedAt       time.Time   `json:"created_at" bson:"created_at"`
}

// UserID returns the user id for user recipients.
func (n Notification) UserID() (string, bool) {
	return trimPrefix(n.Recipient, userPrefix)
}

// Department returns the department code for department recipients.
func (n Notification) Department() (string, bool) {
	return trimPrefix(n.Recipient, departmentPrefix)
}

func trimPrefix(s, prefix string) (string, bool) {
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):], true
	}
	return "", false
}

func UserRecipient(id string) string { return userPrefix + id }

func DepartmentRecipient(code string) string { return departmentPrefix + code }

// Resolve computes the notifications an event produces. It performs no I/O.
// Event types that notify nobody yield an empty slice.
func Resolve(env events.Envelope) ([]Notification, error) {
	var (
		out  []Notification
		ref  events.ReportRef
		base = func(recipient string, ch Channel, title, msg, status string) Notification {
			return Notification{
				EventID:         env.EventID,
				EventType:       env.Type,
				Recipient:       recipient,
				Channel:         ch,
				ReportID:        ref.ReportID,
				ReferenceNumber: ref.ReferenceNumber,
				Title:           title,
				Message:         msg,
				Status:          status,
				CreatedAt:       env.Timestamp.UTC(),
			}
		}
	)

	switch env.Type {
	case events.ReportStatusChanged:
		var p events.StatusChangedPayload
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		ref = p.ReportRef
		if id := report.StringValue(p.ReporterID); id != "" {
			msg := fmt.Sprintf("Report %s moved from %s to %s", ref.ReferenceNumber, p.OldStatus, p.NewStatus)
			if p.Notes != "" {
				msg += ": " + p.Notes
			}
			out = append(out, base(UserRecipient(id), ChannelInApp, p.Title, msg, p.NewStatus))
		}

	case events.ReportEscalated:
		var p events.EscalatedPayload
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		ref = p.ReportRef
		if id := report.StringValue(p.ReporterID); id != "" {
			msg := fmt.Sprintf("Report %s has been escalated to level %d", ref.ReferenceNumber, p.NewLevel)
			out = append(out, base(UserRecipient(id), ChannelInApp, p.Title, msg, p.NewStatus))
		}
		if dept := report.StringValue(p.DepartmentID); dept != "" {
			msg := fmt.Sprintf("Report %s missed its SLA deadline: escalation level %d -> %d, next deadline %s",
				ref.ReferenceNumber, p.PreviousLevel, p.NewLevel, p.SLADeadline.UTC().Format(time.RFC3339))
			out = append(out,
				base(DepartmentRecipient(dept), ChannelInApp, p.Title, msg, p.NewStatus),
				base(DepartmentRecipient(dept), ChannelEmail, p.Title, msg, p.NewStatus),
			)
		}

	case events.ReportAssigned:
		var p events.AssignedPayload
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		ref = p.ReportRef
		if id := report.StringValue(p.ReporterID); id != "" {
			msg := fmt.Sprintf("An officer has been assigned to report %s", ref.ReferenceNumber)
			out = append(out, base(UserRecipient(id), ChannelInApp, p.Title, msg, ""))
		}
		if p.AssignedToID != "" {
			msg := fmt.Sprintf("Report %s has been assigned to you", ref.ReferenceNumber)
			out = append(out, base(UserRecipient(p.AssignedToID), ChannelInApp, p.Title, msg, ""))
		}

	case events.RoutingCompleted:
		var p events.RoutingCompletedPayload
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		ref = p.ReportRef
		if id := report.StringValue(p.ReporterID); id != "" {
			msg := fmt.Sprintf("Report %s has been forwarded to %s", ref.ReferenceNumber, routing.DepartmentName(p.DepartmentID))
			out = append(out, base(UserRecipient(id), ChannelInApp, p.Title, msg, ""))
		}
		if p.DepartmentID != "" {
			msg := fmt.Sprintf("New report %s routed to your department (priority %d)", ref.ReferenceNumber, p.Priority)
			out = append(out, base(DepartmentRecipient(p.DepartmentID), ChannelInApp, p.Title, msg, ""))
		}
	}
	return out, nil
}
