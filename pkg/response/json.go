package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"citizen-reporting-system/pkg/report"
)

type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func JSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func Success(w http.ResponseWriter, statusCode int, message string, data interface{}) {
	resp := APIResponse{
		Status:  "success",
		Message: message,
		Data:    data,
	}
	JSON(w, statusCode, resp)
}

func Error(w http.ResponseWriter, statusCode int, message string, errDetail string) {
	resp := APIResponse{
		Status:  "error",
		Message: message,
		Error:   errDetail,
	}
	JSON(w, statusCode, resp)
}

// FromError writes the status matching the error's class. Tracking-token
// mismatches share the not-found body.
func FromError(w http.ResponseWriter, err error) {
	var ve *report.ValidationError
	switch {
	case errors.As(err, &ve):
		Error(w, http.StatusBadRequest, "Validation failed", ve.Error())
	case errors.Is(err, report.ErrNotFound):
		Error(w, http.StatusNotFound, "Report not found", "")
	case errors.Is(err, report.ErrInvalidTransition):
		Error(w, http.StatusUnprocessableEntity, "Invalid status transition", err.Error())
	case errors.Is(err, report.ErrConflict):
		Error(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, report.ErrDependencyUnavailable):
		w.Header().Set("Retry-After", "5")
		Error(w, http.StatusServiceUnavailable, "Service temporarily unavailable", "")
	default:
		Error(w, http.StatusInternalServerError, "Internal server error", "")
	}
}
