package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/nerrad567/fluxquery/internal/flux"
	"github.com/nerrad567/fluxquery/internal/query"
)

// QueryRequest is the body of POST /api/v1/query and /api/v1/query/raw.
type QueryRequest struct {
	Query string `json:"query"`

	// Dialect overrides the default dialect of raw queries.
	Dialect *query.Dialect `json:"dialect,omitempty"`
}

// QueryResponse carries decoded tables.
type QueryResponse struct {
	Tables  []*flux.Table `json:"tables"`
	Records int           `json:"records"`
}

// decodeJSON reads a JSON request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty")
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func countRecords(tables []*flux.Table) int {
	n := 0
	for _, t := range tables {
		n += len(t.Records)
	}
	return n
}

// handleQuery runs a Flux query and returns the decoded tables.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeBadRequest(w, "query is required")
		return
	}

	tables, err := s.query.Query(r.Context(), req.Query)
	if err != nil {
		s.logger.Warn("query failed", "error", err, "request_id", requestIDFrom(r.Context()))
		writeQueryError(w, err)
		return
	}
	if tables == nil {
		tables = []*flux.Table{}
	}

	writeJSON(w, http.StatusOK, QueryResponse{Tables: tables, Records: countRecords(tables)})
}

// handleQueryRaw runs a Flux query and returns the annotated CSV untouched.
func (s *Server) handleQueryRaw(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeBadRequest(w, "query is required")
		return
	}

	raw, err := s.query.QueryRaw(r.Context(), req.Query, req.Dialect)
	if err != nil {
		s.logger.Warn("raw query failed", "error", err, "request_id", requestIDFrom(r.Context()))
		writeQueryError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	io.WriteString(w, raw)
}
