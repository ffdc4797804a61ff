package flux

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"time"
)

// decodeCell converts a raw cell into the Go value for the column datatype.
// Empty cells take the column default; an empty default decodes to nil.
func decodeCell(raw string, col Column) (any, error) {
	if raw == "" {
		if col.Default == "" {
			return nil, nil
		}
		raw = col.Default
	}
	return DecodeValue(raw, col.DataType)
}

// DecodeValue converts a non-empty cell according to a datatype annotation.
//
// Mapping:
//   - boolean: true only for the exact string "true"
//   - long: int64
//   - unsignedLong: uint64
//   - double: float64, "+Inf" and "-Inf" included
//   - dateTime:RFC3339, dateTime:RFC3339Nano: time.Time in UTC
//   - duration: time.Duration from integer nanoseconds
//   - base64Binary: []byte
//   - string, unknown and unrecognized datatypes: the raw string
func DecodeValue(raw, dataType string) (any, error) {
	switch dataType {
	case TypeBoolean:
		return raw == "true", nil

	case TypeLong:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, invalidValue(raw, dataType, err)
		}
		return v, nil

	case TypeUnsignedLong:
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, invalidValue(raw, dataType, err)
		}
		return v, nil

	case TypeDouble:
		switch raw {
		case "+Inf":
			return math.Inf(1), nil
		case "-Inf":
			return math.Inf(-1), nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, invalidValue(raw, dataType, err)
		}
		return v, nil

	case TypeRFC3339, TypeRFC3339Nano:
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, invalidValue(raw, dataType, err)
		}
		return t.UTC(), nil

	case TypeDuration:
		if ns, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return time.Duration(ns), nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, invalidValue(raw, dataType, err)
		}
		return time.Duration(f), nil

	case TypeBase64Binary:
		b, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, invalidValue(raw, dataType, err)
		}
		return b, nil

	default:
		return raw, nil
	}
}

func invalidValue(raw, dataType string, err error) error {
	return fmt.Errorf("%w: %q as %s: %w", ErrInvalidValue, raw, dataType, err)
}

// EncodeValue formats a decoded value back into its annotated CSV cell form,
// so that DecodeValue(EncodeValue(v), dataType) yields v again.
// ok is false for nil, which has no cell form other than the column default.
func EncodeValue(v any) (raw string, ok bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case float64:
		switch {
		case math.IsInf(x, 1):
			return "+Inf", true
		case math.IsInf(x, -1):
			return "-Inf", true
		}
		return strconv.FormatFloat(x, 'g', -1, 64), true
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), true
	case time.Duration:
		return strconv.FormatInt(int64(x), 10), true
	case []byte:
		return base64.StdEncoding.EncodeToString(x), true
	default:
		return fmt.Sprint(x), true
	}
}
