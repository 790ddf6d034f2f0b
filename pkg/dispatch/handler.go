// Package dispatch turns report.created events into routing decisions.
package dispatch

import (
	"context"
	"fmt"
	"strconv"

	"citizen-reporting-system/pkg/events"
	"citizen-reporting-system/pkg/logging"
	"citizen-reporting-system/pkg/metrics"
	"citizen-reporting-system/pkg/report"
	"citizen-reporting-system/pkg/routing"
)

type Handler struct {
	engine   *routing.Engine
	assigner Assigner
	log      *logging.Logger
}

func NewHandler(engine *routing.Engine, assigner Assigner) *Handler {
	return &Handler{engine: engine, assigner: assigner, log: logging.New("dispatcher")}
}

// Handle routes a report.created event. Other event types are ignored.
func (h *Handler) Handle(ctx context.Context, env events.Envelope) error {
	if env.Type != events.ReportCreated {
		return nil
	}
	var p events.CreatedPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	if p.ReportID == "" {
		return fmt.Errorf("%s payload missing report id", env.Type)
	}

	d := h.engine.Route(p.Title, p.Description, report.Category(p.Category))
	changed, err := h.assigner.AssignDepartment(ctx, Assignment{
		ReportID:     p.ReportID,
		DepartmentID: d.DepartmentCode,
		Priority:     d.Priority,
		Reason:       d.Reason,
		Fallback:     d.Fallback,
		CausationID:  env.EventID,
	})
	if err != nil {
		return fmt.Errorf("assign %s: %w", p.ReferenceNumber, err)
	}

	metrics.ReportsRouted.WithLabelValues(d.DepartmentCode, strconv.FormatBool(d.Fallback)).Inc()
	h.log.Info(ctx, "report routed", logging.Fields{
		"report_id":  p.ReportID,
		"reference":  p.ReferenceNumber,
		"department": routing.DepartmentName(d.DepartmentCode),
		"priority":   d.Priority,
		"reason":     d.Reason,
		"changed":    changed,
	})
	return nil
}
