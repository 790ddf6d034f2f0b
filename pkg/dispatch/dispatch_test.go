package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"citizen-reporting-system/pkg/events"
	"citizen-reporting-system/pkg/middleware"
	"citizen-reporting-system/pkg/report"
	"citizen-reporting-system/pkg/response"
	"citizen-reporting-system/pkg/routing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAssigner struct {
	mu    sync.Mutex
	calls []Assignment
	err   error
}

func (r *recordingAssigner) AssignDepartment(_ context.Context, a Assignment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, a)
	return len(r.calls) == 1, r.err
}

func createdEvent(t *testing.T, title, desc string, category report.Category) events.Envelope {
	t.Helper()
	env, err := events.New(events.ReportCreated, events.SourceReportService, time.Now(), events.CreatedPayload{
		ReportRef:   events.ReportRef{ReportID: "r-1", ReferenceNumber: "LP-2026-000001"},
		Title:       title,
		Description: desc,
		Category:    string(category),
	})
	require.NoError(t, err)
	return env
}

func TestHandleRoutesCreatedReport(t *testing.T) {
	assigner := &recordingAssigner{}
	h := NewHandler(routing.NewEngine(routing.DefaultConfig()), assigner)

	env := createdEvent(t, "Jalan rusak parah", "jalan rusak parah di depan sekolah", report.CategoryJalanRusak)
	require.NoError(t, h.Handle(context.Background(), env))
	// redelivery produces the same decision
	require.NoError(t, h.Handle(context.Background(), env))

	require.Len(t, assigner.calls, 2)
	assert.Equal(t, assigner.calls[0], assigner.calls[1])
	got := assigner.calls[0]
	assert.Equal(t, "r-1", got.ReportID)
	assert.Equal(t, "pekerjaan_umum", got.DepartmentID)
	assert.Equal(t, 2, got.Priority)
	assert.Equal(t, env.EventID, got.CausationID)
}

func TestHandleIgnoresOtherTypes(t *testing.T) {
	assigner := &recordingAssigner{}
	h := NewHandler(routing.NewEngine(routing.DefaultConfig()), assigner)

	env, err := events.New(events.ReportUpdated, events.SourceReportService, time.Now(), events.UpdatedPayload{
		ReportRef: events.ReportRef{ReportID: "r-1", ReferenceNumber: "LP-2026-000001"},
	})
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), env))
	assert.Empty(t, assigner.calls)
}

func TestHandlePropagatesAssignerFailure(t *testing.T) {
	assigner := &recordingAssigner{err: report.ErrDependencyUnavailable}
	h := NewHandler(routing.NewEngine(routing.DefaultConfig()), assigner)

	err := h.Handle(context.Background(), createdEvent(t, "Sampah", "sampah menumpuk di pasar", report.CategorySampah))
	assert.ErrorIs(t, err, report.ErrDependencyUnavailable)
}

func TestHTTPAssignerSendsDecision(t *testing.T) {
	var got Assignment
	var path, token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		token = r.Header.Get(middleware.InternalTokenHeader)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		response.Success(w, http.StatusOK, "routed", map[string]bool{"changed": true})
	}))
	defer srv.Close()

	a := NewHTTPAssigner(srv.URL+"/", "s3cret", time.Second)
	changed, err := a.AssignDepartment(context.Background(), Assignment{ReportID: "r-9", DepartmentID: "kebersihan", Priority: 3, CausationID: "evt"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "/internal/reports/r-9/routing", path)
	assert.Equal(t, "s3cret", token)
	assert.Equal(t, "kebersihan", got.DepartmentID)
	assert.Equal(t, "evt", got.CausationID)
}

func TestHTTPAssignerMapsFailures(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, status, "nope", "")
	}))
	defer srv.Close()
	a := NewHTTPAssigner(srv.URL, "", time.Second)

	_, err := a.AssignDepartment(context.Background(), Assignment{ReportID: "r"})
	assert.ErrorIs(t, err, report.ErrDependencyUnavailable)

	status = http.StatusNotFound
	_, err = a.AssignDepartment(context.Background(), Assignment{ReportID: "r"})
	assert.ErrorIs(t, err, report.ErrNotFound)

	status = http.StatusBadRequest
	_, err = a.AssignDepartment(context.Background(), Assignment{ReportID: "r"})
	assert.True(t, report.IsValidation(err))
}

func TestHTTPAssignerTimeoutIsDependencyUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	a := NewHTTPAssigner(srv.URL, "", 20*time.Millisecond)
	_, err := a.AssignDepartment(context.Background(), Assignment{ReportID: "r"})
	assert.ErrorIs(t, err, report.ErrDependencyUnavailable)
}
