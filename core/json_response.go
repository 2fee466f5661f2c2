// Package core holds the HTTP response vocabulary shared by all modules:
// typed HTTP errors and JSON response writers.
package core

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ErrorDetail is the error payload of a JSON error response.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// JSON writes data as a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// JSONError writes err as a JSON error response. HTTPError values map to
// their own status and code; anything else becomes a 500 with a generic code
// so internal details never leak to clients.
func JSONError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	detail := ErrorDetail{Code: ErrInternalServerError.Code}

	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.Status
		detail.Code = httpErr.Code
		detail.Message = http.StatusText(httpErr.Status)
	}

	JSON(w, status, map[string]any{"error": detail})
}
