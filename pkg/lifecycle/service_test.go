package lifecycle

import (
	"bytes"
	"context"
	"testing"
	"time"

	"citizen-reporting-system/pkg/events"
	"citizen-reporting-system/pkg/report"
	"citizen-reporting-system/pkg/security"
	"citizen-reporting-system/pkg/store"
	"citizen-reporting-system/pkg/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var start = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	store *store.Store
	clock *storetest.Clock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := storetest.Open(t)
	vault, err := security.NewVaultWithCost(bytes.Repeat([]byte{3}, 32), bcrypt.MinCost)
	require.NoError(t, err)
	clock := storetest.NewClock(start)
	return fixture{
		svc:   NewService(st, vault, report.DefaultSLAPolicy(), WithClock(clock.Now)),
		store: st,
		clock: clock,
	}
}

func validInput() SubmitInput {
	return SubmitInput{
		Title:       "Jalan rusak parah",
		Description: "jalan rusak parah di depan sekolah",
		Category:    report.CategoryJalanRusak,
		Visibility:  report.VisibilityPublic,
		ReporterID:  "citizen-1",
	}
}

func TestSubmitReportInitialState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.SubmitReport(ctx, validInput())
	require.NoError(t, err)
	assert.Equal(t, "LP-2026-000001", res.ReferenceNumber)
	assert.Empty(t, res.TrackingToken)

	r, err := f.store.FindByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusPending, r.Status)
	assert.Equal(t, 3, r.Priority)
	assert.Equal(t, 1, r.EscalationLevel)
	assert.True(t, r.SLADeadline.Equal(start.Add(72*time.Hour)))
	assert.Equal(t, "citizen-1", report.StringValue(r.ReporterID))

	second, err := f.svc.SubmitReport(ctx, validInput())
	require.NoError(t, err)
	assert.Equal(t, "LP-2026-000002", second.ReferenceNumber)
}

func TestSubmitReportValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]func(*SubmitInput){
		"short title":       func(in *SubmitInput) { in.Title = "abc" },
		"short description": func(in *SubmitInput) { in.Description = "rusak" },
		"unknown category":  func(in *SubmitInput) { in.Category = "BANJIR" },
		"unknown visibility": func(in *SubmitInput) {
			in.Visibility = "SECRET"
		},
		"missing reporter": func(in *SubmitInput) { in.ReporterID = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			mutate(&in)
			_, err := f.svc.SubmitReport(ctx, in)
			assert.True(t, report.IsValidation(err), "got %v", err)
		})
	}

	// nothing was drawn from the sequence
	ref, err := f.store.NextReference(ctx, 2026)
	require.NoError(t, err)
	assert.Equal(t, "LP-2026-000001", ref)
}

func TestAnonymousTrackingIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := validInput()
	in.Visibility = report.VisibilityAnonymous
	res, err := f.svc.SubmitReport(ctx, in)
	require.NoError(t, err)
	require.NotEmpty(t, res.TrackingToken)

	stored, err := f.store.FindByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ReporterID)

	tracking, err := f.svc.TrackByReference(ctx, TrackQuery{ReferenceNumber: res.ReferenceNumber, TrackingToken: res.TrackingToken})
	require.NoError(t, err)
	assert.Equal(t, report.StatusPending, tracking.Status)
	require.Len(t, tracking.History, 1)

	_, wrongErr := f.svc.TrackByReference(ctx, TrackQuery{ReferenceNumber: res.ReferenceNumber, TrackingToken: "trk_wrong"})
	assert.ErrorIs(t, wrongErr, report.ErrNotFound)
	_, noTokenErr := f.svc.TrackByReference(ctx, TrackQuery{ReferenceNumber: res.ReferenceNumber})
	assert.ErrorIs(t, noTokenErr, report.ErrNotFound)
	_, missingErr := f.svc.TrackByReference(ctx, TrackQuery{ReferenceNumber: "LP-2026-999999", TrackingToken: "trk_wrong"})
	assert.ErrorIs(t, missingErr, report.ErrNotFound)

	// the reporter id never leaves the vault through events
	rows, err := f.store.OutboxForReport(ctx, res.ID)
	require.NoError(t, err)
	for _, row := range rows {
		assert.NotContains(t, string(row.PayloadJSON), "citizen-1")
	}

	revealed, err := f.svc.RevealReporter(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "citizen-1", revealed)
}

func TestAnonymousWithoutReporterHasNoToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := validInput()
	in.Visibility = report.VisibilityAnonymous
	in.ReporterID = ""
	res, err := f.svc.SubmitReport(ctx, in)
	require.NoError(t, err)
	assert.Empty(t, res.TrackingToken)

	_, err = f.store.Identity(ctx, res.ID)
	assert.ErrorIs(t, err, report.ErrNotFound)
	_, err = f.svc.TrackByReference(ctx, TrackQuery{ReferenceNumber: res.ReferenceNumber, TrackingToken: "trk_guess"})
	assert.ErrorIs(t, err, report.ErrInvalidTrackingToken)
}

func TestPrivateTrackingOnlyForReporter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := validInput()
	in.Visibility = report.VisibilityPrivate
	res, err := f.svc.SubmitReport(ctx, in)
	require.NoError(t, err)

	_, err = f.svc.TrackByReference(ctx, TrackQuery{ReferenceNumber: res.ReferenceNumber})
	assert.ErrorIs(t, err, report.ErrNotFound)
	_, err = f.svc.TrackByReference(ctx, TrackQuery{ReferenceNumber: res.ReferenceNumber, ViewerID: "someone-else"})
	assert.ErrorIs(t, err, report.ErrNotFound)
	got, err := f.svc.TrackByReference(ctx, TrackQuery{ReferenceNumber: res.ReferenceNumber, ViewerID: "citizen-1"})
	require.NoError(t, err)
	assert.Equal(t, res.ReferenceNumber, got.ReferenceNumber)

	_, err = f.svc.GetReport(ctx, res.ID, Viewer{ID: "someone-else"})
	assert.ErrorIs(t, err, report.ErrNotFound)
	_, err = f.svc.GetReport(ctx, res.ID, Viewer{ID: "officer", Staff: true})
	assert.NoError(t, err)
}

func TestTrackByReferenceRejectsMalformedReference(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.TrackByReference(context.Background(), TrackQuery{ReferenceNumber: "REF-1"})
	assert.True(t, report.IsValidation(err))
}

func TestTransitionStatusHistoryAndEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.SubmitReport(ctx, validInput())
	require.NoError(t, err)

	actor := "officer-1"
	f.clock.Advance(time.Hour)
	r, err := f.svc.TransitionStatus(ctx, res.ID, &actor, "in_progress", "on site")
	require.NoError(t, err)
	assert.Equal(t, report.StatusInProgress, r.Status)

	_, err = f.svc.TransitionStatus(ctx, res.ID, &actor, report.StatusClosed, "")
	assert.ErrorIs(t, err, report.ErrInvalidTransition)

	_, err = f.svc.TransitionStatus(ctx, res.ID, &actor, "DONE", "")
	assert.True(t, report.IsValidation(err))

	rows, err := f.store.OutboxForReport(ctx, res.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	env, err := events.Parse(rows[1].PayloadJSON)
	require.NoError(t, err)
	var payload events.StatusChangedPayload
	require.NoError(t, env.Decode(&payload))
	assert.Equal(t, "PENDING", payload.OldStatus)
	assert.Equal(t, "IN_PROGRESS", payload.NewStatus)
	assert.Equal(t, "on site", payload.Notes)
}

func TestAssignDepartmentValidatesAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.SubmitReport(ctx, validInput())
	require.NoError(t, err)

	_, err = f.svc.AssignDepartment(ctx, RoutingInput{ReportID: res.ID, DepartmentID: "dinas_rahasia", Priority: 2})
	assert.True(t, report.IsValidation(err))
	_, err = f.svc.AssignDepartment(ctx, RoutingInput{ReportID: res.ID, DepartmentID: "pekerjaan_umum", Priority: 9})
	assert.True(t, report.IsValidation(err))

	in := RoutingInput{ReportID: res.ID, DepartmentID: "pekerjaan_umum", Priority: 2, Reason: "keyword match", CausationID: "evt"}
	changed, err := f.svc.AssignDepartment(ctx, in)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = f.svc.AssignDepartment(ctx, in)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestUpdateContentOnlyByReporter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.SubmitReport(ctx, validInput())
	require.NoError(t, err)

	title := "Jalan berlubang besar"
	_, err = f.svc.UpdateContent(ctx, res.ID, "intruder", ContentInput{Title: &title})
	assert.ErrorIs(t, err, report.ErrNotFound)

	short := "x"
	_, err = f.svc.UpdateContent(ctx, res.ID, "citizen-1", ContentInput{Title: &short})
	assert.True(t, report.IsValidation(err))

	r, err := f.svc.UpdateContent(ctx, res.ID, "citizen-1", ContentInput{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, r.Title)
}

func TestUpvoteAndViews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.SubmitReport(ctx, validInput())
	require.NoError(t, err)

	n, err := f.svc.Upvote(ctx, res.ID, "citizen-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = f.svc.Upvote(ctx, res.ID, "citizen-1")
	assert.ErrorIs(t, err, report.ErrConflict)

	require.NoError(t, f.svc.RecordView(ctx, res.ID))
	r, err := f.svc.GetReport(ctx, res.ID, Viewer{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.ViewCount)
}

func TestAnonymousSubmitterVoteCountsAsAnyOther(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := validInput()
	in.Visibility = report.VisibilityAnonymous
	res, err := f.svc.SubmitReport(ctx, in)
	require.NoError(t, err)

	// the store holds no reporter id to compare against
	n, err := f.svc.Upvote(ctx, res.ID, "citizen-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = f.svc.Upvote(ctx, res.ID, "citizen-1")
	assert.ErrorIs(t, err, report.ErrConflict)
}
