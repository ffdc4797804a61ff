package flux

import (
	"bytes"
	"fmt"
	"iter"
	"math"
	"time"

	"github.com/goccy/go-json"
)

// Well-known column names.
const (
	ColumnStart       = "_start"
	ColumnStop        = "_stop"
	ColumnTime        = "_time"
	ColumnValue       = "_value"
	ColumnField       = "_field"
	ColumnMeasurement = "_measurement"
	ColumnResult      = "result"
	ColumnTable       = "table"
)

// Record is one decoded data row. Values keep the column order of the block.
type Record struct {
	// Table is the Index of the table the record belongs to.
	Table int

	columns []Column
	values  []any
}

// NewRecord builds a record over a block schema. values must hold one entry
// per column.
func NewRecord(table int, columns []Column, values []any) *Record {
	return &Record{Table: table, columns: columns, values: values}
}

// Lookup returns the value of the named column and whether the column exists.
func (r *Record) Lookup(key string) (any, bool) {
	for i, col := range r.columns {
		if col.Name == key {
			return r.values[i], true
		}
	}
	return nil, false
}

// ValueByKey returns the value of the named column, or nil.
func (r *Record) ValueByKey(key string) any {
	v, _ := r.Lookup(key)
	return v
}

// ValueByIndex returns the value at the column index, or nil when out of range.
func (r *Record) ValueByIndex(i int) any {
	if i < 0 || i >= len(r.values) {
		return nil
	}
	return r.values[i]
}

// Len returns the number of values.
func (r *Record) Len() int {
	return len(r.values)
}

// Columns returns the schema the record was decoded with.
func (r *Record) Columns() []Column {
	return r.columns
}

// Keys returns the column names in order.
func (r *Record) Keys() []string {
	keys := make([]string, len(r.columns))
	for i, col := range r.columns {
		keys[i] = col.Name
	}
	return keys
}

// Values returns the values keyed by column name. Later duplicates win.
func (r *Record) Values() map[string]any {
	m := make(map[string]any, len(r.values))
	for i, col := range r.columns {
		m[col.Name] = r.values[i]
	}
	return m
}

// All iterates over column name and value pairs in column order.
func (r *Record) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for i, col := range r.columns {
			if !yield(col.Name, r.values[i]) {
				return
			}
		}
	}
}

// Start returns the _start column, or the zero time.
func (r *Record) Start() time.Time { return r.timeValue(ColumnStart) }

// Stop returns the _stop column, or the zero time.
func (r *Record) Stop() time.Time { return r.timeValue(ColumnStop) }

// Time returns the _time column, or the zero time.
func (r *Record) Time() time.Time { return r.timeValue(ColumnTime) }

// Value returns the _value column.
func (r *Record) Value() any { return r.ValueByKey(ColumnValue) }

// Field returns the _field column.
func (r *Record) Field() string { return r.stringValue(ColumnField) }

// Measurement returns the _measurement column.
func (r *Record) Measurement() string { return r.stringValue(ColumnMeasurement) }

func (r *Record) timeValue(key string) time.Time {
	t, _ := r.ValueByKey(key).(time.Time)
	return t
}

func (r *Record) stringValue(key string) string {
	s, _ := r.ValueByKey(key).(string)
	return s
}

func (r *Record) String() string {
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, col := range r.columns {
		if i > 0 {
			buf.WriteString(" ")
		}
		fmt.Fprintf(&buf, "%s=%v", col.Name, r.values[i])
	}
	buf.WriteString("}")
	return buf.String()
}

// MarshalJSON encodes the record as an object with keys in column order.
// Infinite and NaN doubles are written as the strings Flux uses for them.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		val, err := json.Marshal(jsonValue(r.values[i]))
		if err != nil {
			return nil, fmt.Errorf("flux: encoding column %q: %w", col.Name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func jsonValue(v any) any {
	f, ok := v.(float64)
	if !ok {
		return v
	}
	switch {
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	case math.IsNaN(f):
		return "NaN"
	}
	return f
}
