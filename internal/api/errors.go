package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/nerrad567/fluxquery/internal/flux"
	"github.com/nerrad567/fluxquery/internal/query"
	"github.com/nerrad567/fluxquery/internal/snapshot"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`

	// Reference is the server-side code of a failed Flux query.
	Reference int `json:"reference,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeInternal    = "internal_error"
	ErrCodeUnavailable = "unavailable"
	ErrCodeQuery       = "query_error"
	ErrCodeUpstream    = "upstream_error"
	ErrCodeTooLarge    = "response_too_large"
	ErrCodeTimeout     = "timeout"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeQueryError maps a query client error to a response.
//
// A failed Flux query is the caller's problem (400). Transport, upstream
// and decoding failures are reported as 502 so clients can tell them apart.
func writeQueryError(w http.ResponseWriter, err error) {
	var qe *flux.QueryError
	var he *query.HTTPError
	var pe *flux.ParseError

	switch {
	case errors.Is(err, query.ErrEmptyQuery), errors.Is(err, snapshot.ErrEmptyQuery):
		writeBadRequest(w, "query is required")
	case errors.As(err, &qe):
		writeJSON(w, http.StatusBadRequest, Error{
			Status:    http.StatusBadRequest,
			Code:      ErrCodeQuery,
			Message:   qe.Message,
			Reference: qe.Reference,
		})
	case errors.As(err, &he):
		status := http.StatusBadGateway
		if he.StatusCode == http.StatusBadRequest {
			status = http.StatusBadRequest
		}
		writeError(w, status, ErrCodeUpstream, he.Error())
	case errors.As(err, &pe):
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, pe.Error())
	case errors.Is(err, query.ErrResponseTooLarge):
		writeError(w, http.StatusBadGateway, ErrCodeTooLarge, err.Error())
	case errors.Is(err, query.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	default:
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
	}
}
