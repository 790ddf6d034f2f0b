package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"citizen-reporting-system/pkg/escalation"
	"citizen-reporting-system/pkg/middleware"
	"citizen-reporting-system/pkg/response"
	"citizen-reporting-system/pkg/store"

	"github.com/go-chi/chi/v5"
)

type opsAPI struct {
	scheduler *escalation.Scheduler
	reporter  *escalation.Reporter
	store     *store.Store
}

func (o *opsAPI) routes(auth *middleware.Authenticator) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware, middleware.MetricsMiddleware, middleware.LoggerMiddleware)

	r.Get("/health", o.health)
	r.Handle("/metrics", middleware.GetMetricsHandler())

	r.Route("/ops/escalations", func(r chi.Router) {
		r.Use(auth.Require, middleware.RequireRole(middleware.RoleAdmin))
		r.Post("/sweep", o.triggerSweep)
		r.Get("/stats", o.stats)
		r.Get("/report", o.latestReport)
	})
	return r
}

func (o *opsAPI) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status, code := "UP", http.StatusOK
	if err := o.store.Ping(ctx); err != nil {
		status, code = "DOWN", http.StatusServiceUnavailable
	}
	stats := o.scheduler.Stats()
	response.JSON(w, code, map[string]interface{}{
		"status":      status,
		"service":     "escalation-service",
		"last_result": stats.LastResult,
		"sweeping":    stats.Running,
	})
}

// triggerSweep runs a sweep synchronously. A sweep already in flight is
// reported as a conflict rather than queued.
func (o *opsAPI) triggerSweep(w http.ResponseWriter, r *http.Request) {
	res, err := o.scheduler.RunNow(r.Context())
	switch {
	case errors.Is(err, escalation.ErrSweepInProgress):
		response.Error(w, http.StatusConflict, "Sweep already running", "")
	case err != nil:
		response.FromError(w, err)
	default:
		response.Success(w, http.StatusOK, "Sweep completed", res)
	}
}

func (o *opsAPI) stats(w http.ResponseWriter, _ *http.Request) {
	response.Success(w, http.StatusOK, "Scheduler stats", o.scheduler.Stats())
}

func (o *opsAPI) latestReport(w http.ResponseWriter, r *http.Request) {
	if rep, ok := o.reporter.Latest(); ok && r.URL.Query().Get("refresh") == "" {
		response.Success(w, http.StatusOK, "Escalation report", rep)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	rep, err := o.reporter.Generate(ctx)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Escalation report", rep)
}
