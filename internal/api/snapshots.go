package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fluxquery/internal/flux"
	"github.com/nerrad567/fluxquery/internal/snapshot"
)

// CreateSnapshotRequest is the body of POST /api/v1/snapshots.
type CreateSnapshotRequest struct {
	Name  string `json:"name"`
	Query string `json:"query"`
}

// SnapshotTablesResponse carries a stored result.
type SnapshotTablesResponse struct {
	Snapshot *snapshot.Snapshot `json:"snapshot"`
	Tables   []*flux.Table      `json:"tables"`
}

// handleListSnapshots returns stored snapshots, newest first.
func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	snaps, err := s.snapshots.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing snapshots", "error", err)
		writeInternalError(w, "failed to list snapshots")
		return
	}
	if snaps == nil {
		snaps = []snapshot.Snapshot{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"snapshots": snaps,
		"count":     len(snaps),
	})
}

// handleCreateSnapshot runs a query and stores its result.
func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var req CreateSnapshotRequest
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
		writeQueryError(w, err)
		return
	}

	snap, err := s.snapshots.Save(r.Context(), req.Name, req.Query, s.query.Parser().Mode(), tables)
	if err != nil {
		s.logger.Error("saving snapshot", "error", err)
		writeInternalError(w, "failed to save snapshot")
		return
	}

	s.logger.Info("snapshot saved", "id", snap.ID, "tables", snap.TableCount, "records", snap.RecordCount)
	writeJSON(w, http.StatusCreated, snap)
}

// handleGetSnapshot returns snapshot metadata.
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshots.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeSnapshotError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleSnapshotTables returns a snapshot with its stored tables.
func (s *Server) handleSnapshotTables(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, err := s.snapshots.Get(r.Context(), id)
	if err != nil {
		s.writeSnapshotError(w, err)
		return
	}
	tables, err := s.snapshots.Tables(r.Context(), id)
	if err != nil {
		s.writeSnapshotError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SnapshotTablesResponse{Snapshot: snap, Tables: tables})
}

// handleDeleteSnapshot removes a snapshot.
func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.snapshots.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeSnapshotError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeSnapshotError(w http.ResponseWriter, err error) {
	if errors.Is(err, snapshot.ErrNotFound) {
		writeNotFound(w, "snapshot not found")
		return
	}
	s.logger.Error("snapshot store error", "error", err)
	writeInternalError(w, "snapshot store error")
}
