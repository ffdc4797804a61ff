package flux

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ResponseMode selects how much metadata the response is expected to carry.
type ResponseMode int

const (
	// ModeFull expects #datatype, #group and #default annotations.
	ModeFull ResponseMode = iota

	// ModeOnlyNames expects a bare header row. Every column decodes as a
	// string and no column is part of the group key. Invokable scripts
	// answer in this form.
	ModeOnlyNames
)

func (m ResponseMode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModeOnlyNames:
		return "only-names"
	default:
		return "ResponseMode(" + strconv.Itoa(int(m)) + ")"
	}
}

// ParseMode converts a configuration value to a ResponseMode.
// An empty string selects ModeFull.
func ParseMode(s string) (ResponseMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "full":
		return ModeFull, nil
	case "only-names", "only_names", "onlynames":
		return ModeOnlyNames, nil
	default:
		return ModeFull, fmt.Errorf("flux: unknown response mode %q", s)
	}
}

const (
	annotationDatatype = "#datatype"
	annotationGroup    = "#group"
	annotationDefault  = "#default"
)

// Parser decodes annotated CSV responses.
type Parser struct {
	mode ResponseMode
}

// NewParser creates a parser for the given response mode.
func NewParser(mode ResponseMode) *Parser {
	return &Parser{mode: mode}
}

// Mode returns the response mode.
func (p *Parser) Mode() ResponseMode {
	return p.mode
}

// Parse reads the response and reports tables and records to consumer.
//
// Parsing stops when:
//   - the input ends (returns nil)
//   - the Canceller handed to the consumer is cancelled (returns nil)
//   - ctx is done (returns ctx.Err())
//   - the consumer returns an error (returns it unchanged)
//   - the input is malformed (*ParseError) or carries an error table (*QueryError)
func (p *Parser) Parse(ctx context.Context, r io.Reader, consumer Consumer) error {
	if r == nil {
		return ErrNilReader
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	s := &parseState{
		mode:      p.mode,
		consumer:  consumer,
		canceller: &Canceller{},
	}
	return s.run(ctx, cr)
}

// ParseString parses a complete response held in memory.
func (p *Parser) ParseString(ctx context.Context, response string, consumer Consumer) error {
	return p.Parse(ctx, strings.NewReader(response), consumer)
}

// Tables collects the whole response. On error the tables decoded so far are
// returned together with the error.
func (p *Parser) Tables(ctx context.Context, r io.Reader) ([]*Table, error) {
	collector := &TableCollector{}
	err := p.Parse(ctx, r, collector)
	return collector.Tables, err
}

// annotations holds the annotation rows seen for the block being declared.
type annotations struct {
	datatypes []string
	groups    []string
	defaults  []string
	seen      bool
}

// parseState is the per-call decoder state.
type parseState struct {
	mode      ResponseMode
	consumer  Consumer
	canceller *Canceller

	row     int
	line    int
	lastEnd int

	pending annotations

	// Active block. columns is nil until a header row completes a schema.
	block      int
	columns    []Column
	tableCell  int
	tables     map[int]*Table
	nextIndex  int
	inError    bool
	blockTable bool
}

func (s *parseState) run(ctx context.Context, cr *csv.Reader) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.canceller.Cancelled() {
			return nil
		}

		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return s.endBlock()
		}
		if err != nil {
			return s.csvError(err)
		}

		s.row++
		if err := s.trackLines(cr, rec); err != nil {
			return err
		}
		if isBlankRecord(rec) {
			if err := s.endBlock(); err != nil {
				return err
			}
			continue
		}

		if err := s.handleRow(rec); err != nil {
			return err
		}
	}
}

// trackLines ends the active block when blank lines were skipped between the
// previous record and this one. encoding/csv drops empty lines, so the gap is
// detected from line positions.
func (s *parseState) trackLines(cr *csv.Reader, rec []string) error {
	start, _ := cr.FieldPos(0)
	gap := s.row > 1 && start > s.lastEnd+1
	s.line = start

	last := len(rec) - 1
	lastLine, _ := cr.FieldPos(last)
	s.lastEnd = lastLine + strings.Count(rec[last], "\n")

	if gap {
		return s.endBlock()
	}
	return nil
}

func isBlankRecord(rec []string) bool {
	return len(rec) == 1 && strings.TrimSpace(rec[0]) == ""
}

func (s *parseState) handleRow(rec []string) error {
	if s.inError {
		return s.queryError(rec)
	}

	switch rec[0] {
	case annotationDatatype, annotationGroup, annotationDefault:
		return s.annotation(rec)
	}

	if s.columns != nil {
		return s.data(rec)
	}
	if isErrorHeader(rec) {
		s.inError = true
		s.pending = annotations{}
		return nil
	}
	return s.header(rec)
}

func (s *parseState) annotation(rec []string) error {
	if s.columns != nil {
		if err := s.endBlock(); err != nil {
			return err
		}
	}

	cells := append([]string(nil), rec[1:]...)
	switch rec[0] {
	case annotationDatatype:
		s.pending.datatypes = cells
	case annotationGroup:
		s.pending.groups = cells
	case annotationDefault:
		s.pending.defaults = cells
	}
	s.pending.seen = true
	return nil
}

func isErrorHeader(rec []string) bool {
	return len(rec) == 3 && rec[1] == "error" && rec[2] == "reference"
}

// header turns the pending annotations and a header row into the block schema.
func (s *parseState) header(rec []string) error {
	names := rec[1:]
	datatypes := s.pending.datatypes

	if datatypes == nil {
		if s.mode != ModeOnlyNames {
			return s.parseError(ErrTableDefinitionNotFound)
		}
		datatypes = make([]string, len(names))
		for i := range datatypes {
			datatypes[i] = TypeString
		}
	}

	if len(names) != len(datatypes) {
		return s.countError("", len(datatypes), len(names))
	}
	if g := s.pending.groups; g != nil && len(g) != len(datatypes) {
		return s.countError(annotationGroup, len(datatypes), len(g))
	}
	if d := s.pending.defaults; d != nil && len(d) != len(datatypes) {
		return s.countError(annotationDefault, len(datatypes), len(d))
	}

	columns := make([]Column, len(names))
	for i, name := range names {
		col := Column{
			Index:    i,
			Name:     name,
			DataType: datatypes[i],
		}
		if s.pending.groups != nil {
			col.Group = strings.EqualFold(s.pending.groups[i], "true")
		}
		if s.pending.defaults != nil {
			col.Default = s.pending.defaults[i]
		}
		columns[i] = col
	}

	s.startBlock(columns)
	return nil
}

func (s *parseState) startBlock(columns []Column) {
	s.columns = columns
	s.tables = make(map[int]*Table)
	s.blockTable = false
	s.pending = annotations{}

	s.tableCell = -1
	for i, col := range columns {
		if col.Name == ColumnTable {
			s.tableCell = i
			break
		}
	}
	if s.tableCell < 0 && len(columns) > 1 {
		s.tableCell = 1
	}
}

// endBlock closes the active block. A block that completed its header but
// produced no rows still yields one empty table.
func (s *parseState) endBlock() error {
	if s.columns == nil {
		return nil
	}
	defer func() {
		s.columns = nil
		s.tables = nil
		s.block++
	}()

	if s.blockTable || s.canceller.Cancelled() {
		return nil
	}
	t := s.newTable(-1)
	return s.consumer.OnTable(t.Index, s.canceller, t)
}

func (s *parseState) newTable(id int) *Table {
	t := &Table{
		Index:   s.nextIndex,
		ID:      id,
		Block:   s.block,
		Columns: s.columns,
	}
	s.nextIndex++
	s.blockTable = true
	return t
}

func (s *parseState) data(rec []string) error {
	if len(rec)-1 != len(s.columns) {
		return s.countError("", len(s.columns), len(rec)-1)
	}
	cells := rec[1:]

	id, err := s.tableID(cells)
	if err != nil {
		return err
	}

	t, ok := s.tables[id]
	if !ok {
		t = s.newTable(id)
		s.tables[id] = t
		if err := s.consumer.OnTable(t.Index, s.canceller, t); err != nil {
			return err
		}
		if s.canceller.Cancelled() {
			return nil
		}
	}

	values := make([]any, len(s.columns))
	for i, col := range s.columns {
		v, err := decodeCell(cells[i], col)
		if err != nil {
			pe := s.parseError(err)
			pe.Column = col.Name
			return pe
		}
		values[i] = v
	}

	return s.consumer.OnRecord(t.Index, s.canceller, NewRecord(t.Index, s.columns, values))
}

func (s *parseState) tableID(cells []string) (int, error) {
	if s.tableCell < 0 {
		return 0, nil
	}
	raw := cells[s.tableCell]
	if raw == "" {
		raw = s.columns[s.tableCell].Default
	}
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		pe := s.parseError(fmt.Errorf("%w: %q", ErrInvalidTableID, raw))
		pe.Column = ColumnTable
		return 0, pe
	}
	return id, nil
}

func (s *parseState) queryError(rec []string) error {
	qe := &QueryError{}
	if len(rec) > 1 {
		qe.Message = rec[1]
	}
	if len(rec) > 2 && rec[2] != "" {
		ref, err := strconv.Atoi(rec[2])
		if err != nil {
			pe := s.parseError(fmt.Errorf("%w: reference %q: %w", ErrInvalidValue, rec[2], err))
			pe.Column = "reference"
			return pe
		}
		qe.Reference = ref
	}
	return qe
}

func (s *parseState) parseError(err error) *ParseError {
	return &ParseError{Row: s.row, Line: s.line, Err: err}
}

func (s *parseState) countError(column string, expected, actual int) *ParseError {
	pe := s.parseError(ErrColumnCountMismatch)
	pe.Column = column
	pe.Expected = expected
	pe.Actual = actual
	return pe
}

func (s *parseState) csvError(err error) error {
	pe := &ParseError{Row: s.row + 1, Err: fmt.Errorf("%w: %w", ErrMalformedCSV, err)}
	var cerr *csv.ParseError
	if errors.As(err, &cerr) {
		pe.Line = cerr.StartLine
	}
	return pe
}
