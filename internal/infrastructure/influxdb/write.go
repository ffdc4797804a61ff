package influxdb

import (
	"context"
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/fluxquery/internal/flux"
)

// Columns that describe a point rather than tag it.
var reservedColumns = map[string]bool{
	flux.ColumnResult:      true,
	flux.ColumnTable:       true,
	flux.ColumnStart:       true,
	flux.ColumnStop:        true,
	flux.ColumnTime:        true,
	flux.ColumnValue:       true,
	flux.ColumnField:       true,
	flux.ColumnMeasurement: true,
}

// WriteLines writes line protocol synchronously.
//
// Parameters:
//   - ctx: Context for cancellation
//   - lines: Line protocol records, one point per entry
//
// Returns:
//   - error: ErrNotConnected, or the server's rejection wrapped in ErrWriteFailed
func (c *Client) WriteLines(ctx context.Context, lines ...string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if len(lines) == 0 {
		return nil
	}
	if err := c.blocking.WriteRecord(ctx, lines...); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// WritePoint queues a point with full control over tags and fields.
//
// The write is non-blocking; failures are reported through SetOnError.
//
// Example:
//
//	client.WritePoint("cpu",
//	    map[string]string{"host": "core-01"},
//	    map[string]any{"usage_user": 45.2},
//	    time.Now())
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.batched.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}

// WriteTables queues one point per record of tables, then flushes.
//
// Returns:
//   - int: Number of points queued
//   - error: The first record that could not be turned into a point
func (c *Client) WriteTables(tables []*flux.Table) (int, error) {
	if !c.IsConnected() {
		return 0, ErrNotConnected
	}

	written := 0
	for _, table := range tables {
		for _, rec := range table.Records {
			point, err := PointFromRecord(rec)
			if err != nil {
				c.batched.Flush()
				return written, err
			}
			c.batched.WritePoint(point)
			written++
		}
	}
	c.batched.Flush()
	return written, nil
}

// PointFromRecord rebuilds the point a record was read from.
//
// The record must carry _measurement, _field and a non-nil _value. _time is
// used as the timestamp, falling back to _stop. Group key columns with string
// values become tags.
func PointFromRecord(rec *flux.Record) (*write.Point, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: nil record", ErrNotAPoint)
	}

	measurement := rec.Measurement()
	field := rec.Field()
	value := rec.Value()
	if measurement == "" || field == "" || value == nil {
		return nil, fmt.Errorf("%w: need %s, %s and %s", ErrNotAPoint,
			flux.ColumnMeasurement, flux.ColumnField, flux.ColumnValue)
	}

	ts := rec.Time()
	if ts.IsZero() {
		ts = rec.Stop()
	}

	tags := make(map[string]string)
	for i, col := range rec.Columns() {
		if !col.Group || reservedColumns[col.Name] {
			continue
		}
		if s, ok := rec.ValueByIndex(i).(string); ok && s != "" {
			tags[col.Name] = s
		}
	}

	if d, ok := value.(time.Duration); ok {
		value = int64(d)
	}

	return write.NewPoint(measurement, tags, map[string]any{field: value}, ts), nil
}
