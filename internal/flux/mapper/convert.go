package mapper

import (
	"encoding"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

var (
	timeType            = reflect.TypeFor[time.Time]()
	textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()
)

// assign stores v into dst. Matching types are set directly; other values
// go through the narrowest conversion that keeps them intact.
func assign(dst reflect.Value, v any) error {
	src := reflect.ValueOf(v)

	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}

	if dst.Kind() == reflect.Pointer {
		elem := reflect.New(dst.Type().Elem())
		if err := assign(elem.Elem(), v); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	if dst.Type() == timeType {
		t, err := toTime(src)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(t))
		return nil
	}

	if s, ok := v.(string); ok && dst.Addr().Type().Implements(textUnmarshalerType) {
		return dst.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s))
	}

	switch dst.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt64(src)
		if err != nil {
			return err
		}
		if dst.OverflowInt(n) {
			return fmt.Errorf("%w: %d into %s", ErrOverflow, n, dst.Type())
		}
		dst.SetInt(n)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, err := toUint64(src)
		if err != nil {
			return err
		}
		if dst.OverflowUint(n) {
			return fmt.Errorf("%w: %d into %s", ErrOverflow, n, dst.Type())
		}
		dst.SetUint(n)

	case reflect.Float32, reflect.Float64:
		f, err := toFloat64(src)
		if err != nil {
			return err
		}
		if dst.OverflowFloat(f) {
			return fmt.Errorf("%w: %g into %s", ErrOverflow, f, dst.Type())
		}
		dst.SetFloat(f)

	case reflect.Bool:
		b, err := toBool(src)
		if err != nil {
			return err
		}
		dst.SetBool(b)

	case reflect.String:
		dst.SetString(toString(v))

	case reflect.Slice:
		if dst.Type().Elem().Kind() != reflect.Uint8 || src.Kind() != reflect.String {
			return incompatible(src, dst)
		}
		dst.SetBytes([]byte(src.String()))

	default:
		return incompatible(src, dst)
	}
	return nil
}

func incompatible(src, dst reflect.Value) error {
	return fmt.Errorf("%w: %s into %s", ErrIncompatibleType, src.Type(), dst.Type())
}

func toInt64(src reflect.Value) (int64, error) {
	switch src.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return src.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := src.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d", ErrOverflow, u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		f := src.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return 0, fmt.Errorf("%w: %g", ErrPrecisionLoss, f)
		}
		if f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, fmt.Errorf("%w: %g", ErrOverflow, f)
		}
		return int64(f), nil
	case reflect.String:
		n, err := strconv.ParseInt(src.String(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrIncompatibleType, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: %s is not numeric", ErrIncompatibleType, src.Type())
}

func toUint64(src reflect.Value) (uint64, error) {
	switch src.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return src.Uint(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := src.Int()
		if n < 0 {
			return 0, fmt.Errorf("%w: %d is negative", ErrOverflow, n)
		}
		return uint64(n), nil
	case reflect.Float32, reflect.Float64:
		f := src.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return 0, fmt.Errorf("%w: %g", ErrPrecisionLoss, f)
		}
		if f < 0 || f >= math.MaxUint64 {
			return 0, fmt.Errorf("%w: %g", ErrOverflow, f)
		}
		return uint64(f), nil
	case reflect.String:
		n, err := strconv.ParseUint(src.String(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrIncompatibleType, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: %s is not numeric", ErrIncompatibleType, src.Type())
}

func toFloat64(src reflect.Value) (float64, error) {
	switch src.Kind() {
	case reflect.Float32, reflect.Float64:
		return src.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(src.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(src.Uint()), nil
	case reflect.String:
		f, err := strconv.ParseFloat(src.String(), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrIncompatibleType, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: %s is not numeric", ErrIncompatibleType, src.Type())
}

func toBool(src reflect.Value) (bool, error) {
	switch src.Kind() {
	case reflect.Bool:
		return src.Bool(), nil
	case reflect.String:
		b, err := strconv.ParseBool(src.String())
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrIncompatibleType, err)
		}
		return b, nil
	}
	return false, fmt.Errorf("%w: %s is not a boolean", ErrIncompatibleType, src.Type())
}

func toTime(src reflect.Value) (time.Time, error) {
	switch v := src.Interface().(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %w", ErrIncompatibleType, err)
		}
		return t.UTC(), nil
	case int64:
		return time.Unix(0, v).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %s is not a time", ErrIncompatibleType, src.Type())
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case time.Time:
		return s.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return s.String()
	}
	return fmt.Sprint(v)
}
