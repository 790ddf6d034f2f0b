package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"citizen-reporting-system/pkg/logging"
	"citizen-reporting-system/pkg/middleware"
	"citizen-reporting-system/pkg/report"
)

// Assignment is one routing decision to be recorded by the Report Store.
type Assignment struct {
	ReportID     string `json:"-"`
	DepartmentID string `json:"department_id"`
	Priority     int    `json:"priority"`
	Reason       string `json:"reason"`
	Fallback     bool   `json:"fallback"`
	CausationID  string `json:"causation_id"`
}

// Assigner records routing decisions. Implementations must be idempotent.
type Assigner interface {
	AssignDepartment(ctx context.Context, a Assignment) (changed bool, err error)
}

// HTTPAssigner calls the report service's internal routing endpoint.
type HTTPAssigner struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPAssigner(baseURL, internalToken string, timeout time.Duration) *HTTPAssigner {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPAssigner{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   internalToken,
		client:  &http.Client{Timeout: timeout},
	}
}

type assignResponse struct {
	Data struct {
		Changed bool `json:"changed"`
	} `json:"data"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (a *HTTPAssigner) AssignDepartment(ctx context.Context, in Assignment) (bool, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return false, err
	}
	endpoint := fmt.Sprintf("%s/internal/reports/%s/routing", a.baseURL, url.PathEscape(in.ReportID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.InternalTokenHeader, a.token)
	middleware.PropagateTraceID(req, logging.TraceID(ctx))

	resp, err := a.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: routing callback: %v", report.ErrDependencyUnavailable, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var decoded assignResponse
	_ = json.Unmarshal(raw, &decoded)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return decoded.Data.Changed, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, fmt.Errorf("%w: report %s", report.ErrNotFound, in.ReportID)
	case resp.StatusCode == http.StatusBadRequest:
		return false, report.NewValidationError("routing", decoded.Error)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return false, fmt.Errorf("%w: routing callback returned %d", report.ErrDependencyUnavailable, resp.StatusCode)
	default:
		return false, fmt.Errorf("routing callback returned %d: %s", resp.StatusCode, decoded.Message)
	}
}
