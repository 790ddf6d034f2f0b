package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"citizen-reporting-system/pkg/lifecycle"
	"citizen-reporting-system/pkg/logging"
	"citizen-reporting-system/pkg/media"
	"citizen-reporting-system/pkg/middleware"
	"citizen-reporting-system/pkg/report"
	"citizen-reporting-system/pkg/response"
	"citizen-reporting-system/pkg/store"
	"citizen-reporting-system/services/report-service/models"

	"github.com/go-chi/chi/v5"
)

const (
	requestTimeout      = 5 * time.Second
	maxBodyBytes        = 1 << 20
	TrackingTokenHeader = "X-Tracking-Token"
)

// Uploader stores media attachments.
type Uploader interface {
	Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) (string, error)
}

type api struct {
	svc      *lifecycle.Service
	store    *store.Store
	uploader Uploader
	now      func() time.Time
	log      *logging.Logger
}

func newAPI(svc *lifecycle.Service, st *store.Store, uploader Uploader) *api {
	return &api{svc: svc, store: st, uploader: uploader, now: time.Now, log: logging.New("report-service")}
}

func (a *api) routes(auth *middleware.Authenticator, internalToken string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware, middleware.MetricsMiddleware, middleware.LoggerMiddleware)

	r.Get("/health", a.health)
	r.Handle("/metrics", middleware.GetMetricsHandler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.Optional)
			r.Get("/reports", a.listReports)
			r.Post("/reports", a.createReport)
			r.Get("/reports/{id}", a.getReport)
			r.Get("/track/{reference}", a.trackReport)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.Require)
			r.Get("/reports/mine", a.myReports)
			r.Patch("/reports/{id}", a.updateReport)
			r.Post("/reports/{id}/upvote", a.upvote)
			r.Post("/media", a.uploadMedia)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(middleware.RoleAdmin))
				r.Post("/reports/{id}/status", a.updateStatus)
				r.Post("/reports/{id}/assignee", a.assignOfficer)
			})
		})
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(middleware.RequireInternalToken(internalToken))
		r.Post("/reports/{id}/routing", a.applyRouting)
		r.Get("/reports/{id}/reporter", a.revealReporter)
	})
	return r
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status, code := "UP", http.StatusOK
	if err := a.store.Ping(ctx); err != nil {
		status, code = "DOWN", http.StatusServiceUnavailable
	}
	response.JSON(w, code, map[string]interface{}{
		"status":  status,
		"service": "report-service",
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return false
	}
	return true
}

func callerID(r *http.Request) (string, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return "", false
	}
	return claims.UserID, true
}

func viewer(r *http.Request) lifecycle.Viewer {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return lifecycle.Viewer{}
	}
	return lifecycle.Viewer{ID: claims.UserID, Staff: claims.IsStaff()}
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func statusFilter(r *http.Request) report.Status {
	return report.Status(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
}

func (a *api) createReport(w http.ResponseWriter, r *http.Request) {
	var input models.CreateReportRequest
	if !decodeJSON(w, r, &input) {
		return
	}
	reporterID, _ := callerID(r)

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	res, err := a.svc.SubmitReport(ctx, lifecycle.SubmitInput{
		Title:       input.Title,
		Description: input.Description,
		Category:    report.Category(input.Category),
		Visibility:  input.ResolveVisibility(),
		ReporterID:  reporterID,
		ImageURL:    input.ImageUrl,
	})
	if err != nil {
		a.fail(ctx, w, "create report", err)
		return
	}
	response.Success(w, http.StatusCreated, "Report created successfully", res)
}

func (a *api) listReports(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	v := viewer(r)
	filter := store.ListFilter{
		Status:       statusFilter(r),
		DepartmentID: r.URL.Query().Get("department"),
		PublicOnly:   !v.Staff,
		Limit:        limit,
		Offset:       offset,
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	reports, err := a.svc.ListReports(ctx, filter)
	if err != nil {
		a.fail(ctx, w, "list reports", err)
		return
	}
	response.Success(w, http.StatusOK, "Reports fetched successfully", models.FromReports(reports))
}

// myReports lists the caller's own non-anonymous reports. Anonymous ones are
// tracked by reference number and token only.
func (a *api) myReports(w http.ResponseWriter, r *http.Request) {
	userID, _ := callerID(r)
	limit, offset := pagination(r)

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	reports, err := a.svc.ListReports(ctx, store.ListFilter{
		ReporterID: userID,
		Status:     statusFilter(r),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		a.fail(ctx, w, "list own reports", err)
		return
	}
	response.Success(w, http.StatusOK, "User reports fetched successfully", models.FromReports(reports))
}

func (a *api) getReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	rep, err := a.svc.GetReport(ctx, id, viewer(r))
	if err != nil {
		a.fail(ctx, w, "get report", err)
		return
	}
	if err := a.svc.RecordView(ctx, id); err != nil {
		a.log.Warn(ctx, "record view", err, logging.Fields{"report_id": id})
	}
	response.Success(w, http.StatusOK, "Report fetched successfully", models.FromReport(rep))
}

func (a *api) trackReport(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(TrackingTokenHeader)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	userID, _ := callerID(r)

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	tracking, err := a.svc.TrackByReference(ctx, lifecycle.TrackQuery{
		ReferenceNumber: chi.URLParam(r, "reference"),
		TrackingToken:   token,
		ViewerID:        userID,
	})
	if err != nil {
		a.fail(ctx, w, "track report", err)
		return
	}
	response.Success(w, http.StatusOK, "Report tracked successfully", tracking)
}

func (a *api) updateReport(w http.ResponseWriter, r *http.Request) {
	var input models.UpdateReportRequest
	if !decodeJSON(w, r, &input) {
		return
	}
	userID, _ := callerID(r)
	in := lifecycle.ContentInput{Title: input.Title, Description: input.Description, ImageURL: input.ImageUrl}
	if input.Category != nil {
		c := report.Category(strings.ToUpper(strings.TrimSpace(*input.Category)))
		in.Category = &c
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	rep, err := a.svc.UpdateContent(ctx, chi.URLParam(r, "id"), userID, in)
	if err != nil {
		a.fail(ctx, w, "update report", err)
		return
	}
	response.Success(w, http.StatusOK, "Report updated successfully", models.FromReport(rep))
}

func (a *api) updateStatus(w http.ResponseWriter, r *http.Request) {
	var input models.StatusRequest
	if !decodeJSON(w, r, &input) {
		return
	}
	userID, _ := callerID(r)

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	rep, err := a.svc.TransitionStatus(ctx, chi.URLParam(r, "id"), &userID, report.Status(input.Status), input.Notes)
	if err != nil {
		a.fail(ctx, w, "update status", err)
		return
	}
	response.Success(w, http.StatusOK, "Status updated successfully", models.FromReport(rep))
}

func (a *api) assignOfficer(w http.ResponseWriter, r *http.Request) {
	var input models.AssigneeRequest
	if !decodeJSON(w, r, &input) {
		return
	}
	userID, _ := callerID(r)

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	rep, err := a.svc.AssignOfficer(ctx, chi.URLParam(r, "id"), input.OfficerID, &userID)
	if err != nil {
		a.fail(ctx, w, "assign officer", err)
		return
	}
	response.Success(w, http.StatusOK, "Officer assigned successfully", models.FromReport(rep))
}

func (a *api) upvote(w http.ResponseWriter, r *http.Request) {
	userID, _ := callerID(r)
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	count, err := a.svc.Upvote(ctx, chi.URLParam(r, "id"), userID)
	if err != nil {
		a.fail(ctx, w, "upvote", err)
		return
	}
	response.Success(w, http.StatusOK, "Report upvoted", map[string]int64{"upvotes": count})
}

func (a *api) uploadMedia(w http.ResponseWriter, r *http.Request) {
	if a.uploader == nil {
		response.FromError(w, report.ErrDependencyUnavailable)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, media.MaxUploadSize+(1<<20))
	file, header, err := r.FormFile("file")
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid upload", err.Error())
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if err := media.ValidateUpload(contentType, header.Size); err != nil {
		response.FromError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	url, err := a.uploader.Upload(ctx, media.ObjectPath(a.now(), contentType), file, header.Size, contentType)
	if err != nil {
		a.fail(ctx, w, "upload media", err)
		return
	}
	response.Success(w, http.StatusCreated, "File uploaded successfully", map[string]string{"url": url})
}

func (a *api) applyRouting(w http.ResponseWriter, r *http.Request) {
	var input models.RoutingRequest
	if !decodeJSON(w, r, &input) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	changed, err := a.svc.AssignDepartment(ctx, lifecycle.RoutingInput{
		ReportID:     chi.URLParam(r, "id"),
		DepartmentID: input.DepartmentID,
		Priority:     input.Priority,
		Reason:       input.Reason,
		Fallback:     input.Fallback,
		CausationID:  input.CausationID,
	})
	if err != nil {
		a.fail(ctx, w, "apply routing", err)
		return
	}
	response.Success(w, http.StatusOK, "Routing recorded", map[string]bool{"changed": changed})
}

func (a *api) revealReporter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	reporterID, err := a.svc.RevealReporter(ctx, id)
	if err != nil {
		a.fail(ctx, w, "reveal reporter", err)
		return
	}
	response.Success(w, http.StatusOK, "Reporter resolved", map[string]string{"reporter_id": reporterID})
}

// fail logs unexpected errors before writing the mapped response.
func (a *api) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if !report.IsValidation(err) && !isExpected(err) {
		a.log.Error(ctx, op+" failed", err, nil)
	}
	response.FromError(w, err)
}

func isExpected(err error) bool {
	return errors.Is(err, report.ErrNotFound) ||
		errors.Is(err, report.ErrConflict) ||
		errors.Is(err, report.ErrInvalidTransition)
}
