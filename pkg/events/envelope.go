package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type is both the event name and its broker routing key.
type Type string

const (
	ReportCreated       Type = "report.created"
	ReportUpdated       Type = "report.updated"
	ReportStatusChanged Type = "report.status_changed"
	ReportAssigned      Type = "report.assigned"
	ReportEscalated     Type = "report.escalated"
	RoutingCompleted    Type = "routing.completed"
)

var Catalog = []Type{
	ReportCreated,
	ReportUpdated,
	ReportStatusChanged,
	ReportAssigned,
	ReportEscalated,
	RoutingCompleted,
}

func (t Type) Valid() bool {
	for _, known := range Catalog {
		if t == known {
			return true
		}
	}
	return false
}

// Component names used as source_component.
const (
	SourceReportService       = "report-service"
	SourceRoutingEngine       = "routing-engine"
	SourceEscalationScheduler = "escalation-scheduler"
)

// Envelope is the immutable wire unit of the choreography.
type Envelope struct {
	EventID         string          `json:"event_id"`
	Type            Type            `json:"type"`
	Timestamp       time.Time       `json:"timestamp"`
	SourceComponent string          `json:"source_component"`
	CausationID     string          `json:"causation_id,omitempty"`
	Payload         json.RawMessage `json:"payload"`
}

// derivedNamespace seeds deterministic ids for events caused by other events.
var derivedNamespace = uuid.MustParse("4f6d1a52-3c55-4d0e-9a57-2b7b0b9e8c11")

// New builds an envelope with a fresh event id.
func New(t Type, source string, at time.Time, payload any) (Envelope, error) {
	return build(uuid.NewString(), t, source, "", at, payload)
}

// NewCaused builds an envelope whose id is derived from the causing event, so
// replaying the cause yields the same id and consumers can drop the duplicate.
func NewCaused(t Type, source, causationID string, at time.Time, payload any) (Envelope, error) {
	if causationID == "" {
		return New(t, source, at, payload)
	}
	id := uuid.NewSHA1(derivedNamespace, []byte(causationID+"/"+string(t))).String()
	return build(id, t, source, causationID, at, payload)
}

func build(id string, t Type, source, causationID string, at time.Time, payload any) (Envelope, error) {
	if !t.Valid() {
		return Envelope{}, fmt.Errorf("unknown event type %q", t)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{
		EventID:         id,
		Type:            t,
		Timestamp:       at.UTC(),
		SourceComponent: source,
		CausationID:     causationID,
		Payload:         body,
	}, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Ref extracts the report reference every payload carries.
func (e Envelope) Ref() (ReportRef, error) {
	var ref ReportRef
	if err := e.Decode(&ref); err != nil {
		return ReportRef{}, err
	}
	if ref.ReportID == "" || ref.ReferenceNumber == "" {
		return ReportRef{}, fmt.Errorf("%s payload missing report reference", e.Type)
	}
	return ref, nil
}

// Parse decodes and validates a raw envelope body.
func Parse(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventID == "" {
		return Envelope{}, fmt.Errorf("envelope missing event_id")
	}
	if !env.Type.Valid() {
		return Envelope{}, fmt.Errorf("unknown event type %q", env.Type)
	}
	return env, nil
}
