package snapshot

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/fluxquery/internal/flux"
	"github.com/nerrad567/fluxquery/internal/infrastructure/config"
	"github.com/nerrad567/fluxquery/internal/infrastructure/database"
	"github.com/nerrad567/fluxquery/migrations"
)

const sampleResponse = "#datatype,string,long,dateTime:RFC3339,double,boolean,duration,string\n" +
	"#group,false,false,false,false,false,false,true\n" +
	"#default,_result,,,,,,\n" +
	",result,table,_time,_value,ok,elapsed,host\n" +
	",,0,2024-05-01T00:10:00.5Z,+Inf,true,1500,a\n" +
	",,0,2024-05-01T00:20:00Z,,false,,a\n" +
	",,1,2024-05-01T00:10:00Z,-2.25,true,0,b\n" +
	"\n" +
	"#datatype,string,long,string\n" +
	"#group,false,false,false\n" +
	"#default,_result,,\n" +
	",result,table,note\n"

// newTestRepository opens a migrated database in a temp dir.
func newTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(context.Background(), config.DatabaseConfig{
		Enabled:     true,
		Path:        filepath.Join(t.TempDir(), "snapshots.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func sampleTables(t *testing.T) []*flux.Table {
	t.Helper()
	tables, err := flux.NewParser(flux.ModeFull).Tables(context.Background(), strings.NewReader(sampleResponse))
	if err != nil {
		t.Fatalf("Tables() error = %v", err)
	}
	return tables
}

func TestSaveAndLoad(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	tables := sampleTables(t)

	snap, err := repo.Save(ctx, "cpu", `from(bucket:"b")`, flux.ModeFull, tables)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if snap.ID == "" {
		t.Fatal("Save() returned empty ID")
	}
	if snap.TableCount != 3 || snap.RecordCount != 3 {
		t.Errorf("counts = %d tables, %d records; want 3, 3", snap.TableCount, snap.RecordCount)
	}

	got, err := repo.Get(ctx, snap.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "cpu" || got.Mode != "full" || !got.CreatedAt.Equal(snap.CreatedAt) {
		t.Errorf("Get() = %+v, want %+v", got, snap)
	}

	loaded, err := repo.Tables(ctx, snap.ID)
	if err != nil {
		t.Fatalf("Tables() error = %v", err)
	}
	if len(loaded) != len(tables) {
		t.Fatalf("len(loaded) = %d, want %d", len(loaded), len(tables))
	}
	for i := range tables {
		if loaded[i].Index != tables[i].Index || loaded[i].ID != tables[i].ID || loaded[i].Block != tables[i].Block {
			t.Errorf("table %d = index %d id %d block %d, want %d %d %d", i,
				loaded[i].Index, loaded[i].ID, loaded[i].Block,
				tables[i].Index, tables[i].ID, tables[i].Block)
		}
		if len(loaded[i].Records) != len(tables[i].Records) {
			t.Errorf("table %d has %d records, want %d", i, len(loaded[i].Records), len(tables[i].Records))
		}
	}

	first := loaded[0].Records[0]
	if v, ok := first.Value().(float64); !ok || !math.IsInf(v, 1) {
		t.Errorf("_value = %v, want +Inf", first.Value())
	}
	if first.ValueByKey("elapsed") != 1500*time.Nanosecond {
		t.Errorf("elapsed = %v, want 1.5µs", first.ValueByKey("elapsed"))
	}
	if want := time.Date(2024, 5, 1, 0, 10, 0, 5e8, time.UTC); !first.Time().Equal(want) {
		t.Errorf("_time = %v, want %v", first.Time(), want)
	}
	if first.ValueByKey("ok") != true {
		t.Errorf("ok = %v, want true", first.ValueByKey("ok"))
	}

	second := loaded[0].Records[1]
	if v, ok := second.Lookup("_value"); !ok || v != nil {
		t.Errorf("missing _value = %v (exists %v), want nil", v, ok)
	}

	if loaded[2].ID != -1 || len(loaded[2].Columns) != 3 {
		t.Errorf("empty table = %+v, want ID -1 with 3 columns", loaded[2])
	}
}

func TestSave_EmptyQuery(t *testing.T) {
	repo := newTestRepository(t)
	if _, err := repo.Save(context.Background(), "", " ", flux.ModeFull, nil); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("Save() error = %v, want ErrEmptyQuery", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if _, err := repo.Tables(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Tables() error = %v, want ErrNotFound", err)
	}
	if err := repo.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
}

func TestListDeletePrune(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := range 3 {
		repo.now = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		snap, err := repo.Save(ctx, "", "buckets()", flux.ModeOnlyNames, nil)
		if err != nil {
			t.Fatalf("Save() #%d error = %v", i, err)
		}
		ids = append(ids, snap.ID)
	}

	list, err := repo.List(ctx, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 3 || list[0].ID != ids[2] || list[2].ID != ids[0] {
		t.Fatalf("List() order = %v, want newest first", list)
	}
	if list[0].Mode != "only-names" {
		t.Errorf("Mode = %q, want only-names", list[0].Mode)
	}

	limited, err := repo.List(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("List(1) = %d entries, %v", len(limited), err)
	}

	if err := repo.Delete(ctx, ids[2]); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	// now is base+2h: only the snapshot saved at base is older than 90m.
	pruned, err := repo.Prune(ctx, 90*time.Minute)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if pruned != 1 {
		t.Errorf("Prune() = %d, want 1", pruned)
	}

	list, err = repo.List(ctx, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].ID != ids[1] {
		t.Errorf("remaining = %v, want only %s", list, ids[1])
	}

	if _, err := repo.Prune(ctx, 0); err == nil {
		t.Error("Prune(0) error = nil, want error")
	}
}

func TestDeleteCascades(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	snap, err := repo.Save(ctx, "", "buckets()", flux.ModeFull, sampleTables(t))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := repo.Delete(ctx, snap.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	var n int
	if err := repo.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM snapshot_records").Scan(&n); err != nil {
		t.Fatalf("count error = %v", err)
	}
	if n != 0 {
		t.Errorf("snapshot_records rows = %d after delete, want 0", n)
	}
}
