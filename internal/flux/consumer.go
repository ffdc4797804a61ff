package flux

import (
	"fmt"
	"sync/atomic"
)

// Canceller is the cooperative cancellation handle passed to consumers.
// The parser checks it before every row.
type Canceller struct {
	cancelled atomic.Bool
}

// Cancel stops the parse before the next row. Safe to call more than once.
func (c *Canceller) Cancel() {
	c.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called.
func (c *Canceller) Cancelled() bool {
	return c.cancelled.Load()
}

// Consumer receives parse results in input order.
//
// OnTable is called exactly once per table, before any of its records.
// index is the table's emission index (Table.Index, Record.Table).
// Returning an error stops the parse and Parse returns that error.
type Consumer interface {
	OnTable(index int, c *Canceller, table *Table) error
	OnRecord(index int, c *Canceller, record *Record) error
}

// ConsumerFuncs adapts plain functions to Consumer. Nil functions are skipped.
type ConsumerFuncs struct {
	Table  func(index int, c *Canceller, table *Table) error
	Record func(index int, c *Canceller, record *Record) error
}

// OnTable implements Consumer.
func (f ConsumerFuncs) OnTable(index int, c *Canceller, table *Table) error {
	if f.Table == nil {
		return nil
	}
	return f.Table(index, c, table)
}

// OnRecord implements Consumer.
func (f ConsumerFuncs) OnRecord(index int, c *Canceller, record *Record) error {
	if f.Record == nil {
		return nil
	}
	return f.Record(index, c, record)
}

// TableCollector buffers the whole response in memory.
type TableCollector struct {
	Tables []*Table
}

// OnTable implements Consumer.
func (tc *TableCollector) OnTable(_ int, _ *Canceller, table *Table) error {
	tc.Tables = append(tc.Tables, table)
	return nil
}

// OnRecord implements Consumer.
func (tc *TableCollector) OnRecord(index int, _ *Canceller, record *Record) error {
	if index < 0 || index >= len(tc.Tables) {
		return fmt.Errorf("%w: %d", ErrUnknownTable, index)
	}
	t := tc.Tables[index]
	t.Records = append(t.Records, record)
	return nil
}
