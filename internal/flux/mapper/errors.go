package mapper

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTarget indicates the destination is not a non-nil pointer to a struct.
	ErrInvalidTarget = errors.New("mapper: target must be a non-nil pointer to a struct")

	// ErrNilRecord indicates Map was called without a record.
	ErrNilRecord = errors.New("mapper: nil record")

	// ErrIncompatibleType indicates a value cannot be converted to the field type.
	ErrIncompatibleType = errors.New("mapper: incompatible type")

	// ErrOverflow indicates a numeric value does not fit the field type.
	ErrOverflow = errors.New("mapper: value overflows field")

	// ErrPrecisionLoss indicates a fractional value was bound to an integer field.
	ErrPrecisionLoss = errors.New("mapper: value would lose precision")
)

// MappingError reports the field and column of a failed conversion.
type MappingError struct {
	Type   string
	Field  string
	Column string
	Value  any
	Err    error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapper: %s.%s from column %q (%T %v): %v",
		e.Type, e.Field, e.Column, e.Value, e.Value, e.Err)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}
