// Package ndarray holds the n-dimensional arrays and binary tables carried by
// data models. Element data is stored big-endian in C order, the layout used
// on disk by both FITS and this module's ASDF writer, so arrays move between
// the two encodings without byte swapping.
package ndarray

import (
	"bytes"
	"errors"
	"fmt"
)

// Array is an n-dimensional array or, with a structured Dtype, a table whose
// rows run along the first axis.
type Array struct {
	Dtype Dtype
	Shape []int
	Data  []byte

	// Source is set on arrays that reference data stored elsewhere, such as
	// "fits:SCI,1" in an ASDF tree embedded in a FITS file. Data is nil until
	// the link is resolved.
	Source string
}

// New returns a zero-filled array.
func New(d Dtype, shape ...int) *Array {
	s := append([]int(nil), shape...)
	return &Array{Dtype: d, Shape: s, Data: make([]byte, product(s)*d.ItemSize())}
}

// NewLink returns an unresolved array that refers to source.
func NewLink(source string, d Dtype, shape ...int) *Array {
	return &Array{Dtype: d, Shape: append([]int(nil), shape...), Source: source}
}

// FromSlice builds an array from a Go slice. A nil shape means one dimension
// of len(vals).
func FromSlice(shape []int, vals any) (*Array, error) {
	var k Kind
	var n int
	switch x := vals.(type) {
	case []int8:
		k, n = Int8, len(x)
	case []uint8:
		k, n = Uint8, len(x)
	case []int16:
		k, n = Int16, len(x)
	case []uint16:
		k, n = Uint16, len(x)
	case []int32:
		k, n = Int32, len(x)
	case []uint32:
		k, n = Uint32, len(x)
	case []int64:
		k, n = Int64, len(x)
	case []uint64:
		k, n = Uint64, len(x)
	case []float32:
		k, n = Float32, len(x)
	case []float64:
		k, n = Float64, len(x)
	case []bool:
		k, n = Bool8, len(x)
	default:
		return nil, fmt.Errorf("ndarray: unsupported slice type %T", vals)
	}
	if shape == nil {
		shape = []int{n}
	}
	if product(shape) != n {
		return nil, fmt.Errorf("ndarray: %d values do not fill shape %v", n, shape)
	}
	a := New(ScalarType(k), shape...)
	size := k.Size()
	for i := 0; i < n; i++ {
		b := a.Data[i*size : (i+1)*size]
		switch x := vals.(type) {
		case []int8:
			putInt(k, b, int64(x[i]))
		case []uint8:
			putInt(k, b, int64(x[i]))
		case []int16:
			putInt(k, b, int64(x[i]))
		case []uint16:
			putInt(k, b, int64(x[i]))
		case []int32:
			putInt(k, b, int64(x[i]))
		case []uint32:
			putInt(k, b, int64(x[i]))
		case []int64:
			putInt(k, b, x[i])
		case []uint64:
			putUint(k, b, x[i])
		case []float32:
			putFloat(k, b, float64(x[i]))
		case []float64:
			putFloat(k, b, x[i])
		case []bool:
			putBool(b, x[i])
		}
	}
	return a, nil
}

// Len is the number of elements (rows for tables).
func (a *Array) Len() int { return product(a.Shape) }

// Ndim is the number of dimensions.
func (a *Array) Ndim() int { return len(a.Shape) }

// Resolved reports whether the array's data is present.
func (a *Array) Resolved() bool { return a.Source == "" || a.Data != nil }

func (a *Array) elem(i int) []byte {
	size := a.Dtype.ItemSize()
	return a.Data[i*size : (i+1)*size]
}

// Float64At returns element i of a numeric array as float64.
func (a *Array) Float64At(i int) float64 { return getFloat(a.Dtype.Kind, a.elem(i)) }

// Int64At returns element i of a numeric array as int64.
func (a *Array) Int64At(i int) int64 { return getInt(a.Dtype.Kind, a.elem(i)) }

// Uint64At returns element i of a numeric array as uint64.
func (a *Array) Uint64At(i int) uint64 { return getUint(a.Dtype.Kind, a.elem(i)) }

func (a *Array) SetFloat64(i int, v float64) { putFloat(a.Dtype.Kind, a.elem(i), v) }

func (a *Array) SetInt64(i int, v int64) { putInt(a.Dtype.Kind, a.elem(i), v) }

func (a *Array) SetUint64(i int, v uint64) { putUint(a.Dtype.Kind, a.elem(i), v) }

// Fill sets every element of a numeric array to v.
func (a *Array) Fill(v float64) {
	for i := 0; i < a.Len(); i++ {
		a.SetFloat64(i, v)
	}
}

// Float64s returns the elements of a numeric array.
func (a *Array) Float64s() []float64 {
	out := make([]float64, a.Len())
	for i := range out {
		out[i] = a.Float64At(i)
	}
	return out
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	if a == nil {
		return nil
	}
	c := &Array{Dtype: a.Dtype, Shape: append([]int(nil), a.Shape...), Source: a.Source}
	c.Dtype.Fields = append([]Field(nil), a.Dtype.Fields...)
	if a.Data != nil {
		c.Data = append([]byte(nil), a.Data...)
	}
	return c
}

// Equal reports whether a and b have equivalent dtypes, equal shapes and
// identical bytes.
func (a *Array) Equal(b *Array) bool {
	if a == nil || b == nil {
		return a == b
	}
	return Equivalent(a.Dtype, b.Dtype) && sameShape(a.Shape, b.Shape) && bytes.Equal(a.Data, b.Data)
}

func (a *Array) String() string {
	if a.Source != "" && a.Data == nil {
		return fmt.Sprintf("<array %s %v -> %s>", a.Dtype, a.Shape, a.Source)
	}
	return fmt.Sprintf("<array %s %v>", a.Dtype, a.Shape)
}

// ErrShape is wrapped by CheckDims failures.
var ErrShape = errors.New("array shape")

// CheckDims enforces the schema `ndim` (exact) and `max_ndim` (upper bound)
// constraints. Zero disables a constraint.
func CheckDims(shape []int, ndim, maxNdim int) error {
	if ndim > 0 && len(shape) != ndim {
		return fmt.Errorf("%w: wrong number of dimensions: expected %d, got %d", ErrShape, ndim, len(shape))
	}
	if maxNdim > 0 && len(shape) > maxNdim {
		return fmt.Errorf("%w: wrong number of dimensions: expected at most %d, got %d", ErrShape, maxNdim, len(shape))
	}
	return nil
}

// CheckShape applies CheckDims to a's shape.
func CheckShape(a *Array, ndim, maxNdim int) error {
	if a == nil {
		return nil
	}
	return CheckDims(a.Shape, ndim, maxNdim)
}
