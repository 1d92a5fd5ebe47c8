package ndarray

import (
	"fmt"
	"math"
	"strings"
)

// NewTable returns a zero-filled table with the given number of rows.
func NewTable(d Dtype, rows int) *Array {
	return New(d, rows)
}

// FieldNames lists the columns of a table.
func (a *Array) FieldNames() []string { return a.Dtype.FieldNames() }

func (a *Array) cell(row int, field string) (Field, []byte, error) {
	if !a.Dtype.IsStructured() {
		return Field{}, nil, fmt.Errorf("ndarray: %s is not a table", a.Dtype)
	}
	i := a.Dtype.FieldIndex(field)
	if i < 0 {
		return Field{}, nil, fmt.Errorf("ndarray: no column %q", field)
	}
	if row < 0 || row >= a.Len() {
		return Field{}, nil, fmt.Errorf("ndarray: row %d out of range", row)
	}
	f := a.Dtype.Fields[i]
	start := row*a.Dtype.ItemSize() + a.Dtype.Offset(i)
	return f, a.Data[start : start+f.Size()], nil
}

// Value returns one table cell. Integers come back as int64 (uint64 for
// uint64 columns), floats as float64, booleans as bool and strings with their
// NUL padding removed. Cells with a sub-array shape return []any.
func (a *Array) Value(row int, field string) (any, error) {
	f, b, err := a.cell(row, field)
	if err != nil {
		return nil, err
	}
	if len(f.Shape) == 0 {
		return scalarValue(f.Type, b), nil
	}
	size := f.Type.Size()
	out := make([]any, f.Count())
	for i := range out {
		out[i] = scalarValue(f.Type, b[i*size:(i+1)*size])
	}
	return out, nil
}

func scalarValue(s Scalar, b []byte) any {
	switch {
	case s.Kind.IsString():
		return decodeString(s, b)
	case s.Kind == Bool8:
		return b[0] != 0
	case s.Kind.IsFloat():
		return getFloat(s.Kind, b)
	case s.Kind == Uint64:
		return getUint(s.Kind, b)
	default:
		return getInt(s.Kind, b)
	}
}

// SetValue stores v into one table cell.
func (a *Array) SetValue(row int, field string, v any) error {
	f, b, err := a.cell(row, field)
	if err != nil {
		return err
	}
	if len(f.Shape) == 0 {
		return setScalar(f.Type, b, v)
	}
	list, ok := v.([]any)
	if !ok || len(list) != f.Count() {
		return fmt.Errorf("ndarray: column %q needs %d values", field, f.Count())
	}
	size := f.Type.Size()
	for i, item := range list {
		if err := setScalar(f.Type, b[i*size:(i+1)*size], item); err != nil {
			return fmt.Errorf("ndarray: column %q: %w", field, err)
		}
	}
	return nil
}

func setScalar(s Scalar, b []byte, v any) error {
	if s.Kind.IsString() {
		str, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		encodeString(s, b, str)
		return nil
	}
	switch x := v.(type) {
	case bool:
		if x {
			putInt(s.Kind, b, 1)
		} else {
			putInt(s.Kind, b, 0)
		}
	case int:
		putInt(s.Kind, b, int64(x))
	case int32:
		putInt(s.Kind, b, int64(x))
	case int64:
		putInt(s.Kind, b, x)
	case uint32:
		putUint(s.Kind, b, uint64(x))
	case uint64:
		putUint(s.Kind, b, x)
	case float32:
		putFloat(s.Kind, b, float64(x))
	case float64:
		if !s.Kind.IsFloat() && x != math.Trunc(x) {
			return fmt.Errorf("cannot store %v in %s", x, s.Kind)
		}
		putFloat(s.Kind, b, x)
	default:
		return fmt.Errorf("unsupported value %T", v)
	}
	return nil
}

// Column returns every value of one column.
func (a *Array) Column(name string) ([]any, error) {
	out := make([]any, a.Len())
	for row := range out {
		v, err := a.Value(row, name)
		if err != nil {
			return nil, err
		}
		out[row] = v
	}
	return out, nil
}

// Rows returns the table as a list of mappings from column name to value.
func (a *Array) Rows() ([]map[string]any, error) {
	names := a.FieldNames()
	out := make([]map[string]any, a.Len())
	for row := range out {
		m := make(map[string]any, len(names))
		for _, n := range names {
			v, err := a.Value(row, n)
			if err != nil {
				return nil, err
			}
			m[n] = v
		}
		out[row] = m
	}
	return out, nil
}

// fieldIndexFold finds a column by case-insensitive name.
func (d Dtype) fieldIndexFold(name string) int {
	for i, f := range d.Fields {
		if strings.EqualFold(f.Name, name) {
			return i
		}
	}
	return -1
}
