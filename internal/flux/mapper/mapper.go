package mapper

import (
	"reflect"
	"strings"
	"sync"

	"github.com/nerrad567/fluxquery/internal/flux"
)

const tagName = "flux"

// Binding ties one struct field to a record column.
type Binding struct {
	Field     string
	Type      reflect.Type
	Column    string
	Timestamp bool

	index []int
}

// Mapper converts records into structs. The zero value is ready to use.
type Mapper struct {
	plans sync.Map // reflect.Type -> []Binding
}

// New creates a Mapper with an empty plan cache.
func New() *Mapper {
	return &Mapper{}
}

var defaultMapper = New()

// Map fills dst from rec using the package-level mapper.
func Map(rec *flux.Record, dst any) error {
	return defaultMapper.Map(rec, dst)
}

// Bindings returns the field bindings for a struct type.
func (m *Mapper) Bindings(t reflect.Type) ([]Binding, error) {
	if t.Kind() != reflect.Struct {
		return nil, ErrInvalidTarget
	}
	if cached, ok := m.plans.Load(t); ok {
		return cached.([]Binding), nil
	}
	bindings := buildBindings(t)
	actual, _ := m.plans.LoadOrStore(t, bindings)
	return actual.([]Binding), nil
}

// Map fills the struct dst points to. Columns that are missing or null leave
// the field untouched. The first field that cannot be converted stops the
// mapping with a *MappingError.
func (m *Mapper) Map(rec *flux.Record, dst any) error {
	if rec == nil {
		return ErrNilRecord
	}
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return ErrInvalidTarget
	}
	target := rv.Elem()

	bindings, err := m.Bindings(target.Type())
	if err != nil {
		return err
	}

	values := foldValues(rec)
	for _, b := range bindings {
		column, value, ok := lookup(values, b)
		if !ok || value == nil {
			continue
		}
		if err := assign(target.FieldByIndex(b.index), value); err != nil {
			return &MappingError{
				Type:   target.Type().String(),
				Field:  b.Field,
				Column: column,
				Value:  value,
				Err:    err,
			}
		}
	}
	return nil
}

// To maps rec into a new T. T may be a struct or a pointer to a struct.
func To[T any](m *Mapper, rec *flux.Record) (T, error) {
	if m == nil {
		m = defaultMapper
	}

	var out T
	if t := reflect.TypeFor[T](); t.Kind() == reflect.Pointer {
		ptr := reflect.New(t.Elem())
		if err := m.Map(rec, ptr.Interface()); err != nil {
			return out, err
		}
		return ptr.Interface().(T), nil
	}

	err := m.Map(rec, &out)
	return out, err
}

// All maps every record of the tables, in table order.
func All[T any](m *Mapper, tables []*flux.Table) ([]T, error) {
	var out []T
	for _, table := range tables {
		for _, rec := range table.Records {
			v, err := To[T](m, rec)
			if err != nil {
				return out, err
			}
			out = append(out, v)
		}
	}
	return out, nil
}

type foldedValue struct {
	column string
	value  any
}

// foldValues indexes the record by lower-cased column name. The first
// column wins when names differ only by case.
func foldValues(rec *flux.Record) map[string]foldedValue {
	values := make(map[string]foldedValue, rec.Len())
	for name, v := range rec.All() {
		key := strings.ToLower(name)
		if _, dup := values[key]; !dup {
			values[key] = foldedValue{column: name, value: v}
		}
	}
	return values
}

func lookup(values map[string]foldedValue, b Binding) (string, any, bool) {
	if b.Timestamp {
		v, ok := values[flux.ColumnTime]
		return flux.ColumnTime, v.value, ok
	}

	key := strings.ToLower(b.Column)
	if v, ok := values[key]; ok {
		return v.column, v.value, true
	}
	if v, ok := values["_"+key]; ok {
		return v.column, v.value, true
	}
	return b.Column, nil, false
}

func buildBindings(t reflect.Type) []Binding {
	var bindings []Binding
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || !reachable(t, f.Index) {
			continue
		}

		tag, tagged := f.Tag.Lookup(tagName)
		if f.Anonymous && f.Type.Kind() == reflect.Struct && !tagged {
			continue
		}

		name, opts, _ := strings.Cut(tag, ",")
		if name == "-" && opts == "" {
			continue
		}
		if name == "" {
			name = f.Name
		}

		bindings = append(bindings, Binding{
			Field:     f.Name,
			Type:      f.Type,
			Column:    name,
			Timestamp: hasOption(opts, "timestamp"),
			index:     f.Index,
		})
	}
	return bindings
}

// reachable reports whether the field path only crosses embedded structs by
// value, so FieldByIndex cannot hit a nil pointer.
func reachable(t reflect.Type, index []int) bool {
	for _, i := range index[:len(index)-1] {
		t = t.Field(i).Type
		if t.Kind() != reflect.Struct {
			return false
		}
	}
	return true
}

func hasOption(opts, want string) bool {
	for opts != "" {
		var opt string
		opt, opts, _ = strings.Cut(opts, ",")
		if opt == want {
			return true
		}
	}
	return false
}
