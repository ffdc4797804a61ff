package flux

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestEvents(t *testing.T) {
	parser := NewParser(ModeFull)

	var kinds []EventKind
	for ev, err := range parser.Events(context.Background(), strings.NewReader(multiTableBlock("t1", 0, 1))) {
		if err != nil {
			t.Fatalf("Events() error = %v", err)
		}
		if ev.Table == nil {
			t.Fatal("event without table")
		}
		if ev.Kind == EventRecord && ev.Record.Table != ev.Table.Index {
			t.Errorf("record table %d delivered with table %d", ev.Record.Table, ev.Table.Index)
		}
		kinds = append(kinds, ev.Kind)
	}

	if len(kinds) != 16 {
		t.Fatalf("len(events) = %d, want 16", len(kinds))
	}
	if kinds[0] != EventTable || kinds[8] != EventTable {
		t.Errorf("table events at 0 and 8 expected, got %v", kinds)
	}
}

func TestEvents_Break(t *testing.T) {
	parser := NewParser(ModeFull)

	var records int
	for ev, err := range parser.Events(context.Background(), strings.NewReader(multiTableBlock("t1", 0, 1))) {
		if err != nil {
			t.Fatalf("Events() error = %v", err)
		}
		if ev.Kind == EventRecord {
			records++
			break
		}
	}
	if records != 1 {
		t.Errorf("records = %d, want 1", records)
	}
}

func TestEvents_Error(t *testing.T) {
	parser := NewParser(ModeFull)
	data := ",result,table,_value\n,,0,1\n"

	var gotErr error
	for _, err := range parser.Events(context.Background(), strings.NewReader(data)) {
		if err != nil {
			gotErr = err
		}
	}
	if !errors.Is(gotErr, ErrTableDefinitionNotFound) {
		t.Errorf("error = %v, want ErrTableDefinitionNotFound", gotErr)
	}
}

func TestRecords(t *testing.T) {
	parser := NewParser(ModeFull)

	var n int
	for rec, err := range parser.Records(context.Background(), strings.NewReader(multipleValuesResponse)) {
		if err != nil {
			t.Fatalf("Records() error = %v", err)
		}
		if rec.ValueByKey("region") != "west" {
			t.Errorf("region = %v", rec.ValueByKey("region"))
		}
		n++
	}
	if n != 4 {
		t.Errorf("records = %d, want 4", n)
	}
}
