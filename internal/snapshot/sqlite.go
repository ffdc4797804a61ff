package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/nerrad567/fluxquery/internal/flux"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	// timeLayout is fixed width so created_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// SQLiteRepository implements Repository on the schema in migrations/.
//
// Columns are stored as JSON. Record cells are stored as a JSON array of
// their CSV text (null for missing values) and decoded again with the
// column datatype on load, so every value comes back with its Go type.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a snapshot repository.
//
// Parameters:
//   - db: Open SQLite connection with the snapshot schema applied
//
// Returns:
//   - *SQLiteRepository: Repository instance ready for use
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Save stores tables in a single transaction.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - name: Optional label
//   - query: The Flux query that produced tables
//   - mode: Response mode the tables were parsed with
//   - tables: Collected tables with their records
//
// Returns:
//   - *Snapshot: The stored snapshot with its generated ID
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteRepository) Save(ctx context.Context, name, query string, mode flux.ResponseMode, tables []*flux.Table) (*Snapshot, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	snap := &Snapshot{
		ID:         uuid.NewString(),
		Name:       name,
		Query:      query,
		Mode:       mode.String(),
		TableCount: len(tables),
		CreatedAt:  r.now().UTC(),
	}
	for _, t := range tables {
		snap.RecordCount += len(t.Records)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, name, query, mode, table_count, record_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Name, snap.Query, snap.Mode, snap.TableCount, snap.RecordCount,
		snap.CreatedAt.Format(timeLayout),
	); err != nil {
		return nil, fmt.Errorf("inserting snapshot: %w", err)
	}

	tableStmt, err := tx.PrepareContext(ctx,
		"INSERT INTO snapshot_tables (snapshot_id, table_index, table_id, block, columns) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return nil, fmt.Errorf("preparing table insert: %w", err)
	}
	defer tableStmt.Close()

	recordStmt, err := tx.PrepareContext(ctx,
		"INSERT INTO snapshot_records (snapshot_id, table_index, seq, cells) VALUES (?, ?, ?, ?)")
	if err != nil {
		return nil, fmt.Errorf("preparing record insert: %w", err)
	}
	defer recordStmt.Close()

	for _, t := range tables {
		columnsJSON, err := json.Marshal(t.Columns)
		if err != nil {
			return nil, fmt.Errorf("marshalling columns: %w", err)
		}
		if _, err := tableStmt.ExecContext(ctx, snap.ID, t.Index, t.ID, t.Block, string(columnsJSON)); err != nil {
			return nil, fmt.Errorf("inserting table %d: %w", t.Index, err)
		}

		for seq, rec := range t.Records {
			cells, err := encodeCells(rec)
			if err != nil {
				return nil, err
			}
			if _, err := recordStmt.ExecContext(ctx, snap.ID, t.Index, seq, cells); err != nil {
				return nil, fmt.Errorf("inserting record %d of table %d: %w", seq, t.Index, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing snapshot: %w", err)
	}
	return snap, nil
}

// Get returns the metadata of one snapshot.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Snapshot, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, query, mode, table_count, record_count, created_at
		 FROM snapshots WHERE id = ?`, id)

	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Tables rebuilds the tables of a snapshot in emission order.
func (r *SQLiteRepository) Tables(ctx context.Context, id string) ([]*flux.Table, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}

	tables, err := r.loadTables(ctx, id)
	if err != nil {
		return nil, err
	}

	byIndex := make(map[int]*flux.Table, len(tables))
	for _, t := range tables {
		byIndex[t.Index] = t
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT table_index, cells FROM snapshot_records
		 WHERE snapshot_id = ? ORDER BY table_index, seq`, id)
	if err != nil {
		return nil, fmt.Errorf("querying snapshot records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var index int
		var cells string
		if err := rows.Scan(&index, &cells); err != nil {
			return nil, fmt.Errorf("scanning snapshot record: %w", err)
		}
		t, ok := byIndex[index]
		if !ok {
			return nil, fmt.Errorf("snapshot %s: record for unknown table %d", id, index)
		}
		rec, err := decodeCells(t, cells)
		if err != nil {
			return nil, err
		}
		t.Records = append(t.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshot records: %w", err)
	}
	return tables, nil
}

func (r *SQLiteRepository) loadTables(ctx context.Context, id string) ([]*flux.Table, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT table_index, table_id, block, columns FROM snapshot_tables
		 WHERE snapshot_id = ? ORDER BY table_index`, id)
	if err != nil {
		return nil, fmt.Errorf("querying snapshot tables: %w", err)
	}
	defer rows.Close()

	var tables []*flux.Table
	for rows.Next() {
		t := &flux.Table{}
		var columnsJSON string
		if err := rows.Scan(&t.Index, &t.ID, &t.Block, &columnsJSON); err != nil {
			return nil, fmt.Errorf("scanning snapshot table: %w", err)
		}
		if err := json.Unmarshal([]byte(columnsJSON), &t.Columns); err != nil {
			return nil, fmt.Errorf("unmarshalling columns: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshot tables: %w", err)
	}
	return tables, nil
}

// List returns snapshots ordered newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - limit: Maximum entries to return (default 50, max 200)
func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, query, mode, table_count, record_count, created_at
		 FROM snapshots ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]Snapshot, 0, limit)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}
	return out, nil
}

// Delete removes a snapshot. Tables and records go with it.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM snapshots WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Prune deletes snapshots created before now-olderThan.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := r.now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := r.db.ExecContext(ctx, "DELETE FROM snapshots WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning snapshots: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	var snap Snapshot
	var createdAt string
	err := row.Scan(&snap.ID, &snap.Name, &snap.Query, &snap.Mode,
		&snap.TableCount, &snap.RecordCount, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning snapshot: %w", err)
	}
	snap.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &snap, nil
}

func encodeCells(rec *flux.Record) (string, error) {
	cells := make([]*string, rec.Len())
	for i := range cells {
		if raw, ok := flux.EncodeValue(rec.ValueByIndex(i)); ok {
			cells[i] = &raw
		}
	}
	b, err := json.Marshal(cells)
	if err != nil {
		return "", fmt.Errorf("marshalling record: %w", err)
	}
	return string(b), nil
}

func decodeCells(t *flux.Table, data string) (*flux.Record, error) {
	var cells []*string
	if err := json.Unmarshal([]byte(data), &cells); err != nil {
		return nil, fmt.Errorf("unmarshalling record: %w", err)
	}
	if len(cells) != len(t.Columns) {
		return nil, fmt.Errorf("table %d: record has %d cells, schema has %d columns",
			t.Index, len(cells), len(t.Columns))
	}

	values := make([]any, len(cells))
	for i, cell := range cells {
		if cell == nil {
			continue
		}
		v, err := flux.DecodeValue(*cell, t.Columns[i].DataType)
		if err != nil {
			return nil, fmt.Errorf("table %d column %s: %w", t.Index, t.Columns[i].Name, err)
		}
		values[i] = v
	}
	return flux.NewRecord(t.Index, t.Columns, values), nil
}
