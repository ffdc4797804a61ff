package flux

import (
	"errors"
	"fmt"
)

// Sentinel errors wrapped by ParseError.
//
//	if errors.Is(err, flux.ErrTableDefinitionNotFound) {
//	    // response was not annotated CSV
//	}
var (
	// ErrTableDefinitionNotFound indicates rows arrived before any #datatype annotation.
	ErrTableDefinitionNotFound = errors.New("flux: table definition was not found")

	// ErrColumnCountMismatch indicates a row whose cell count differs from the block schema.
	ErrColumnCountMismatch = errors.New("flux: column count mismatch")

	// ErrMalformedCSV indicates the input could not be split into CSV records.
	ErrMalformedCSV = errors.New("flux: malformed csv")

	// ErrInvalidValue indicates a cell could not be decoded as its declared datatype.
	ErrInvalidValue = errors.New("flux: invalid value")

	// ErrInvalidTableID indicates the table column of a data row is not an integer.
	ErrInvalidTableID = errors.New("flux: invalid table id")

	// ErrNilReader indicates Parse was called without an input stream.
	ErrNilReader = errors.New("flux: nil reader")

	// ErrUnknownTable indicates a record referenced a table that was never announced.
	ErrUnknownTable = errors.New("flux: record for unknown table")
)

// ParseError describes a structural problem in the response stream.
type ParseError struct {
	// Row is the 1-based CSV record number.
	Row int

	// Line is the 1-based input line where the record starts.
	Line int

	// Column names the offending column or annotation, if any.
	Column string

	// Expected and Actual hold cell counts for ErrColumnCountMismatch.
	Expected int
	Actual   int

	Err error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("unable to parse CSV response: row %d (line %d)", e.Row, e.Line)
	if e.Column != "" {
		msg += fmt.Sprintf(", column %q", e.Column)
	}
	if errors.Is(e.Err, ErrColumnCountMismatch) {
		msg += fmt.Sprintf(": expected %d columns, got %d", e.Expected, e.Actual)
	}
	return msg + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// QueryError is a query failure reported by the server inside a successful
// response, using the error,reference table.
type QueryError struct {
	Message string

	// Reference is the server error code, 0 when none was given.
	Reference int
}

func (e *QueryError) Error() string {
	if e.Reference != 0 {
		return fmt.Sprintf("flux query failed: %s (reference %d)", e.Message, e.Reference)
	}
	return "flux query failed: " + e.Message
}
