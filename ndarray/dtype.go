package ndarray

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the element kind of an array or table column.
type Kind string

const (
	Int8    Kind = "int8"
	Uint8   Kind = "uint8"
	Int16   Kind = "int16"
	Uint16  Kind = "uint16"
	Int32   Kind = "int32"
	Uint32  Kind = "uint32"
	Int64   Kind = "int64"
	Uint64  Kind = "uint64"
	Float32 Kind = "float32"
	Float64 Kind = "float64"
	Bool8   Kind = "bool8"
	ASCII   Kind = "ascii"
	UCS4    Kind = "ucs4"
)

var kindSizes = map[Kind]int{
	Int8: 1, Uint8: 1, Int16: 2, Uint16: 2, Int32: 4, Uint32: 4,
	Int64: 8, Uint64: 8, Float32: 4, Float64: 8, Bool8: 1,
	ASCII: 1, UCS4: 4,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kindSizes[k]
	return ok
}

// Size is the byte size of one element (one character for string kinds).
func (k Kind) Size() int { return kindSizes[k] }

func (k Kind) IsString() bool { return k == ASCII || k == UCS4 }

func (k Kind) IsFloat() bool { return k == Float32 || k == Float64 }

func (k Kind) IsUnsigned() bool {
	switch k {
	case Uint8, Uint16, Uint32, Uint64:
		return true
	}
	return false
}

func (k Kind) IsInteger() bool {
	switch k {
	case Int8, Int16, Int32, Int64:
		return true
	}
	return k.IsUnsigned()
}

// Scalar is a non-structured element type. Length is the character count of
// string kinds and zero otherwise.
type Scalar struct {
	Kind   Kind
	Length int
}

// Size is the byte size of one element.
func (s Scalar) Size() int {
	if s.Kind.IsString() {
		return s.Length * s.Kind.Size()
	}
	return s.Kind.Size()
}

func (s Scalar) String() string {
	if s.Kind.IsString() {
		return fmt.Sprintf("%s[%d]", s.Kind, s.Length)
	}
	return string(s.Kind)
}

// Field is one named column of a structured dtype. Shape is the per-row
// sub-array shape and is empty for scalar cells.
type Field struct {
	Name  string
	Type  Scalar
	Shape []int
}

// Count is the number of elements in one cell.
func (f Field) Count() int { return product(f.Shape) }

// Size is the byte size of one cell.
func (f Field) Size() int { return f.Count() * f.Type.Size() }

// Dtype is either a scalar element type or, when Fields is non-empty, a
// structured row type.
type Dtype struct {
	Scalar
	Fields []Field
}

// ScalarType returns a numeric or boolean dtype.
func ScalarType(k Kind) Dtype { return Dtype{Scalar: Scalar{Kind: k}} }

// StringType returns a fixed-width string dtype.
func StringType(k Kind, length int) Dtype { return Dtype{Scalar: Scalar{Kind: k, Length: length}} }

// Structured returns a row dtype made of fields.
func Structured(fields ...Field) Dtype { return Dtype{Fields: fields} }

func (d Dtype) IsStructured() bool { return len(d.Fields) > 0 }

// ItemSize is the byte size of one element or row.
func (d Dtype) ItemSize() int {
	if !d.IsStructured() {
		return d.Scalar.Size()
	}
	n := 0
	for _, f := range d.Fields {
		n += f.Size()
	}
	return n
}

// Offset returns the byte offset of field i within a row.
func (d Dtype) Offset(i int) int {
	off := 0
	for j := 0; j < i; j++ {
		off += d.Fields[j].Size()
	}
	return off
}

// FieldIndex returns the index of the field named name, or -1.
func (d Dtype) FieldIndex(name string) int {
	for i, f := range d.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// FieldNames lists the field names in row order.
func (d Dtype) FieldNames() []string {
	out := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		out[i] = f.Name
	}
	return out
}

func (d Dtype) String() string {
	if !d.IsStructured() {
		return d.Scalar.String()
	}
	parts := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		s := f.Name + ":" + f.Type.String()
		if len(f.Shape) > 0 {
			s += fmt.Sprint(f.Shape)
		}
		parts[i] = s
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Equivalent reports whether a and b describe the same layout: same field
// names, kinds and cell shapes. Storage is always big-endian so byte order
// never distinguishes two dtypes.
func Equivalent(a, b Dtype) bool {
	if a.IsStructured() != b.IsStructured() {
		return false
	}
	if !a.IsStructured() {
		return a.Scalar == b.Scalar
	}
	if len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		fa, fb := a.Fields[i], b.Fields[i]
		if fa.Name != fb.Name || fa.Type != fb.Type || !sameShape(fa.Shape, fb.Shape) {
			return false
		}
	}
	return true
}

// ParseDatatype reads the `datatype` forms used by schemas and ASDF trees:
//
//	float32
//	[ascii, 16]
//	[{name: VALUE, datatype: uint32}, {name: NAME, datatype: [ascii, 40]}]
func ParseDatatype(v any) (Dtype, error) {
	switch x := v.(type) {
	case string:
		s, err := parseScalar(x, nil)
		if err != nil {
			return Dtype{}, err
		}
		return Dtype{Scalar: s}, nil
	case []any:
		if len(x) == 0 {
			return Dtype{}, errors.New("datatype: empty list")
		}
		if name, ok := x[0].(string); ok {
			if len(x) != 2 {
				return Dtype{}, fmt.Errorf("datatype: string type must be [kind, length], got %v", x)
			}
			s, err := parseScalar(name, x[1])
			if err != nil {
				return Dtype{}, err
			}
			return Dtype{Scalar: s}, nil
		}
		fields := make([]Field, 0, len(x))
		for i, item := range x {
			m, ok := item.(map[string]any)
			if !ok {
				return Dtype{}, fmt.Errorf("datatype[%d]: field must be a mapping", i)
			}
			f, err := parseField(m)
			if err != nil {
				return Dtype{}, fmt.Errorf("datatype[%d]: %w", i, err)
			}
			fields = append(fields, f)
		}
		return Dtype{Fields: fields}, nil
	default:
		return Dtype{}, fmt.Errorf("datatype: unsupported form %T", v)
	}
}

func parseField(m map[string]any) (Field, error) {
	name, _ := m["name"].(string)
	if name == "" {
		return Field{}, errors.New("field name required")
	}
	dt, ok := m["datatype"]
	if !ok {
		return Field{}, fmt.Errorf("field %q: datatype required", name)
	}
	var s Scalar
	var err error
	switch x := dt.(type) {
	case string:
		s, err = parseScalar(x, nil)
	case []any:
		if len(x) != 2 {
			return Field{}, fmt.Errorf("field %q: string type must be [kind, length]", name)
		}
		k, _ := x[0].(string)
		s, err = parseScalar(k, x[1])
	default:
		err = fmt.Errorf("unsupported datatype %T", dt)
	}
	if err != nil {
		return Field{}, fmt.Errorf("field %q: %w", name, err)
	}
	f := Field{Name: name, Type: s}
	if raw, ok := m["shape"]; ok {
		list, ok := raw.([]any)
		if !ok {
			return Field{}, fmt.Errorf("field %q: shape must be a list", name)
		}
		for _, d := range list {
			n, ok := toInt(d)
			if !ok || n <= 0 {
				return Field{}, fmt.Errorf("field %q: invalid shape %v", name, list)
			}
			f.Shape = append(f.Shape, n)
		}
	}
	return f, nil
}

func parseScalar(name string, length any) (Scalar, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(name)))
	if !k.Valid() {
		return Scalar{}, fmt.Errorf("datatype: unknown kind %q", name)
	}
	if !k.IsString() {
		if length != nil {
			return Scalar{}, fmt.Errorf("datatype: %s takes no length", k)
		}
		return Scalar{Kind: k}, nil
	}
	n, ok := toInt(length)
	if !ok || n <= 0 {
		return Scalar{}, fmt.Errorf("datatype: %s requires a positive length", k)
	}
	return Scalar{Kind: k, Length: n}, nil
}

// Datatype converts d back to its schema/ASDF form.
func (d Dtype) Datatype() any {
	if !d.IsStructured() {
		return scalarDatatype(d.Scalar)
	}
	out := make([]any, len(d.Fields))
	for i, f := range d.Fields {
		m := map[string]any{"name": f.Name, "datatype": scalarDatatype(f.Type)}
		if len(f.Shape) > 0 {
			shape := make([]any, len(f.Shape))
			for j, n := range f.Shape {
				shape[j] = int64(n)
			}
			m["shape"] = shape
		}
		out[i] = m
	}
	return out
}

func scalarDatatype(s Scalar) any {
	if s.Kind.IsString() {
		return []any{string(s.Kind), int64(s.Length)}
	}
	return string(s.Kind)
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case int32:
		return int(x), true
	case uint64:
		return int(x), true
	case float64:
		if x != float64(int(x)) {
			return 0, false
		}
		return int(x), true
	default:
		return 0, false
	}
}

func product(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
