package flux

import (
	"context"
	"io"
	"iter"
)

// EventKind tells table announcements from records.
type EventKind int

const (
	EventTable EventKind = iota + 1
	EventRecord
)

func (k EventKind) String() string {
	switch k {
	case EventTable:
		return "table"
	case EventRecord:
		return "record"
	default:
		return "unknown"
	}
}

// Event is one item of a parse sequence. Table is always set; Record is set
// for EventRecord.
type Event struct {
	Kind   EventKind
	Table  *Table
	Record *Record
}

// Events returns the parse as a sequence. A table event always precedes the
// records of that table. Stopping the range loop cancels the parse. A parse
// failure is yielded once as the final element with a zero Event.
func (p *Parser) Events(ctx context.Context, r io.Reader) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		var tables []*Table
		stopped := false

		consumer := ConsumerFuncs{
			Table: func(_ int, c *Canceller, t *Table) error {
				tables = append(tables, t)
				if !yield(Event{Kind: EventTable, Table: t}, nil) {
					stopped = true
					c.Cancel()
				}
				return nil
			},
			Record: func(index int, c *Canceller, rec *Record) error {
				if index < 0 || index >= len(tables) {
					return ErrUnknownTable
				}
				if !yield(Event{Kind: EventRecord, Table: tables[index], Record: rec}, nil) {
					stopped = true
					c.Cancel()
				}
				return nil
			},
		}

		if err := p.Parse(ctx, r, consumer); err != nil && !stopped {
			yield(Event{}, err)
		}
	}
}

// Records returns only the records of the response, each with its table.
func (p *Parser) Records(ctx context.Context, r io.Reader) iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		for ev, err := range p.Events(ctx, r) {
			if err != nil {
				yield(nil, err)
				return
			}
			if ev.Kind != EventRecord {
				continue
			}
			if !yield(ev.Record, nil) {
				return
			}
		}
	}
}
