package escalation_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"citizen-reporting-system/pkg/dispatch"
	"citizen-reporting-system/pkg/escalation"
	"citizen-reporting-system/pkg/events"
	"citizen-reporting-system/pkg/lifecycle"
	"citizen-reporting-system/pkg/report"
	"citizen-reporting-system/pkg/routing"
	"citizen-reporting-system/pkg/security"
	"citizen-reporting-system/pkg/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// serviceAssigner records routing decisions in-process instead of over HTTP.
type serviceAssigner struct {
	svc *lifecycle.Service
}

func (a serviceAssigner) AssignDepartment(ctx context.Context, in dispatch.Assignment) (bool, error) {
	return a.svc.AssignDepartment(ctx, lifecycle.RoutingInput{
		ReportID:     in.ReportID,
		DepartmentID: in.DepartmentID,
		Priority:     in.Priority,
		Reason:       in.Reason,
		Fallback:     in.Fallback,
		CausationID:  in.CausationID,
	})
}

func TestRoadDamageReportEscalatesAfterDeadline(t *testing.T) {
	ctx := context.Background()
	st := storetest.Open(t)
	clock := storetest.NewClock(time.Date(2026, 8, 17, 8, 0, 0, 0, time.UTC))
	vault, err := security.NewVaultWithCost(bytes.Repeat([]byte{5}, 32), bcrypt.MinCost)
	require.NoError(t, err)
	svc := lifecycle.NewService(st, vault, report.DefaultSLAPolicy(), lifecycle.WithClock(clock.Now))

	submitted, err := svc.SubmitReport(ctx, lifecycle.SubmitInput{
		Title:       "Jalan rusak parah",
		Description: "jalan rusak parah di depan sekolah",
		Category:    report.CategoryJalanRusak,
		Visibility:  report.VisibilityPublic,
		ReporterID:  "warga-17",
	})
	require.NoError(t, err)

	// deliver report.created to the dispatcher
	rows, err := st.OutboxForReport(ctx, submitted.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	created, err := events.Parse(rows[0].PayloadJSON)
	require.NoError(t, err)
	require.Equal(t, events.ReportCreated, created.Type)

	handler := dispatch.NewHandler(routing.NewEngine(routing.DefaultConfig()), serviceAssigner{svc: svc})
	require.NoError(t, handler.Handle(ctx, created))

	r, err := st.FindByID(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, "pekerjaan_umum", report.StringValue(r.DepartmentID))
	assert.Equal(t, 2, r.Priority)

	clock.Advance(time.Hour)
	officer := "petugas-3"
	_, err = svc.TransitionStatus(ctx, submitted.ID, &officer, report.StatusInProgress, "")
	require.NoError(t, err)

	clock.Advance(72 * time.Hour)
	sched := escalation.NewScheduler(st, escalation.DefaultConfig(), escalation.WithClock(clock.Now))
	res, err := sched.RunNow(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Escalated)

	r, err = st.FindByID(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusEscalated, r.Status)
	assert.Equal(t, 2, r.EscalationLevel)

	rows, err = st.OutboxForReport(ctx, submitted.ID)
	require.NoError(t, err)
	var types []events.Type
	var escalated events.EscalatedPayload
	for _, row := range rows {
		env, err := events.Parse(row.PayloadJSON)
		require.NoError(t, err)
		types = append(types, env.Type)
		if env.Type == events.ReportEscalated {
			require.NoError(t, env.Decode(&escalated))
		}
	}
	assert.Equal(t, []events.Type{
		events.ReportCreated,
		events.RoutingCompleted,
		events.ReportStatusChanged,
		events.ReportEscalated,
		events.ReportStatusChanged,
	}, types)
	assert.Equal(t, 1, escalated.PreviousLevel)
	assert.Equal(t, 2, escalated.NewLevel)
	assert.Equal(t, submitted.ReferenceNumber, escalated.ReferenceNumber)

	tracking, err := svc.TrackByReference(ctx, lifecycle.TrackQuery{ReferenceNumber: submitted.ReferenceNumber})
	require.NoError(t, err)
	require.Len(t, tracking.History, 3)
	assert.Equal(t, "SLA deadline exceeded: escalation level 1 -> 2", tracking.History[2].Notes)
}
