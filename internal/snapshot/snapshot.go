package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/fluxquery/internal/flux"
)

// Sentinel errors for snapshot operations.
var (
	// ErrNotFound indicates no snapshot has the requested ID.
	ErrNotFound = errors.New("snapshot: not found")

	// ErrEmptyQuery indicates a snapshot was saved without its Flux query.
	ErrEmptyQuery = errors.New("snapshot: query is required")
)

// Snapshot describes a stored query result.
type Snapshot struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Query       string    `json:"query"`
	Mode        string    `json:"mode"`
	TableCount  int       `json:"table_count"`
	RecordCount int       `json:"record_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Repository persists query results.
type Repository interface {
	// Save stores tables with their records and returns the new snapshot.
	Save(ctx context.Context, name, query string, mode flux.ResponseMode, tables []*flux.Table) (*Snapshot, error)

	// Get returns snapshot metadata.
	Get(ctx context.Context, id string) (*Snapshot, error)

	// Tables rebuilds the stored tables with their records.
	Tables(ctx context.Context, id string) ([]*flux.Table, error)

	// List returns snapshots newest first.
	List(ctx context.Context, limit int) ([]Snapshot, error)

	// Delete removes a snapshot and its rows.
	Delete(ctx context.Context, id string) error

	// Prune deletes snapshots older than olderThan and returns how many went.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
