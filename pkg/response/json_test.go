package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"citizen-reporting-system/pkg/report"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{report.NewValidationError("title", "too short"), http.StatusBadRequest},
		{report.ErrNotFound, http.StatusNotFound},
		{report.ErrInvalidTrackingToken, http.StatusNotFound},
		{fmt.Errorf("wrap: %w", report.ErrInvalidTransition), http.StatusUnprocessableEntity},
		{report.ErrConflict, http.StatusConflict},
		{report.ErrDependencyUnavailable, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		FromError(rec, tc.err)
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
	}
}

func TestInvalidTokenLooksLikeMissingReport(t *testing.T) {
	a := httptest.NewRecorder()
	FromError(a, report.ErrNotFound)
	b := httptest.NewRecorder()
	FromError(b, report.ErrInvalidTrackingToken)

	assert.Equal(t, a.Code, b.Code)
	assert.Equal(t, a.Body.String(), b.Body.String())
}

func TestSuccessEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Success(rec, http.StatusCreated, "created", map[string]string{"id": "1"})

	var body APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
