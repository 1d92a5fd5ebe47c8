package ndarray

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func dqDefDtype() Dtype {
	return Structured(
		Field{Name: "BIT", Type: Scalar{Kind: Int32}},
		Field{Name: "VALUE", Type: Scalar{Kind: Uint32}},
		Field{Name: "NAME", Type: Scalar{Kind: ASCII, Length: 40}},
		Field{Name: "DESCRIPTION", Type: Scalar{Kind: ASCII, Length: 80}},
	)
}

func TestParseDatatype_Forms(t *testing.T) {
	d, err := ParseDatatype("float32")
	if err != nil || d.IsStructured() || d.Kind != Float32 {
		t.Fatalf("scalar: got %v, %v", d, err)
	}

	d, err = ParseDatatype([]any{"ascii", 16})
	if err != nil || d.Kind != ASCII || d.Length != 16 {
		t.Fatalf("string: got %v, %v", d, err)
	}

	d, err = ParseDatatype([]any{
		map[string]any{"name": "BIT", "datatype": "int32"},
		map[string]any{"name": "VALUE", "datatype": "uint32"},
		map[string]any{"name": "NAME", "datatype": []any{"ascii", int64(40)}},
		map[string]any{"name": "DESCRIPTION", "datatype": []any{"ascii", 80}},
	})
	if err != nil {
		t.Fatalf("structured: %v", err)
	}
	if !Equivalent(d, dqDefDtype()) {
		t.Fatalf("structured: got %s", d)
	}
}

func TestParseDatatype_Errors(t *testing.T) {
	for _, in := range []any{
		"complex256",
		[]any{"ascii"},
		[]any{"ascii", 0},
		[]any{"float32", 4},
		[]any{map[string]any{"datatype": "int8"}},
		42,
	} {
		if _, err := ParseDatatype(in); err == nil {
			t.Fatalf("expected error for %#v", in)
		}
	}
}

func TestDatatype_RoundTrip(t *testing.T) {
	d := Structured(
		Field{Name: "wavelength", Type: Scalar{Kind: Float64}, Shape: []int{3}},
		Field{Name: "label", Type: Scalar{Kind: UCS4, Length: 8}},
	)
	back, err := ParseDatatype(d.Datatype())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !Equivalent(d, back) {
		t.Fatalf("round trip: got %s want %s", back, d)
	}
}

func TestFromSlice_AndAccessors(t *testing.T) {
	a, err := FromSlice([]int{2, 2}, []float32{1, 2.5, -3, 4})
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	if a.Ndim() != 2 || a.Len() != 4 {
		t.Fatalf("shape: %v", a.Shape)
	}
	if diff := cmp.Diff([]float64{1, 2.5, -3, 4}, a.Float64s()); diff != "" {
		t.Fatalf("values (-want +got):\n%s", diff)
	}
	if _, err := FromSlice([]int{3}, []int16{1, 2}); err == nil {
		t.Fatalf("expected shape mismatch error")
	}
}

func TestCast_ScalarWraps(t *testing.T) {
	a, _ := FromSlice(nil, []float64{1.9, -1, 70000})
	out, err := Cast(a, ScalarType(Uint16))
	if err != nil {
		t.Fatalf("cast: %v", err)
	}
	got := []uint64{out.Uint64At(0), out.Uint64At(1), out.Uint64At(2)}
	want := []uint64{1, 65535, 70000 % 65536}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("cast values (-want +got):\n%s", diff)
	}
}

func TestCast_TableCaseInsensitiveColumns(t *testing.T) {
	src := NewTable(Structured(
		Field{Name: "bit", Type: Scalar{Kind: Int16}},
		Field{Name: "value", Type: Scalar{Kind: Int64}},
		Field{Name: "name", Type: Scalar{Kind: ASCII, Length: 10}},
		Field{Name: "description", Type: Scalar{Kind: ASCII, Length: 20}},
	), 1)
	if err := src.SetValue(0, "value", int64(4)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := src.SetValue(0, "name", "JUMP_DET"); err != nil {
		t.Fatalf("set: %v", err)
	}

	out, err := Cast(src, dqDefDtype())
	if err != nil {
		t.Fatalf("cast: %v", err)
	}
	if diff := cmp.Diff([]string{"BIT", "VALUE", "NAME", "DESCRIPTION"}, out.FieldNames()); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}
	v, _ := out.Value(0, "VALUE")
	if v != int64(4) {
		t.Fatalf("VALUE = %#v", v)
	}
	n, _ := out.Value(0, "NAME")
	if n != "JUMP_DET" {
		t.Fatalf("NAME = %#v", n)
	}
}

func TestCast_TableColumnMismatch(t *testing.T) {
	src := NewTable(Structured(
		Field{Name: "BIT", Type: Scalar{Kind: Int32}},
		Field{Name: "OTHER", Type: Scalar{Kind: Uint32}},
		Field{Name: "NAME", Type: Scalar{Kind: ASCII, Length: 40}},
		Field{Name: "DESCRIPTION", Type: Scalar{Kind: ASCII, Length: 80}},
	), 2)
	_, err := Cast(src, dqDefDtype())
	if !errors.Is(err, ErrColumnMismatch) {
		t.Fatalf("expected ErrColumnMismatch, got %v", err)
	}

	short := NewTable(Structured(Field{Name: "BIT", Type: Scalar{Kind: Int32}}), 1)
	if _, err := Cast(short, dqDefDtype()); !errors.Is(err, ErrColumnMismatch) {
		t.Fatalf("expected ErrColumnMismatch for field count, got %v", err)
	}
}

func TestCast_ScalarToTableRejected(t *testing.T) {
	a := New(ScalarType(Float32), 2)
	if _, err := Cast(a, dqDefDtype()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestTable_SubarrayCells(t *testing.T) {
	tbl := NewTable(Structured(Field{Name: "coeffs", Type: Scalar{Kind: Float32}, Shape: []int{2}}), 2)
	if err := tbl.SetValue(1, "coeffs", []any{1.5, 2.0}); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := tbl.Value(1, "coeffs")
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if diff := cmp.Diff([]any{1.5, 2.0}, got); diff != "" {
		t.Fatalf("cell (-want +got):\n%s", diff)
	}
	if err := tbl.SetValue(0, "coeffs", []any{1.0}); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestCheckDims(t *testing.T) {
	if err := CheckDims([]int{2, 3}, 2, 0); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if err := CheckDims([]int{2, 3, 4}, 2, 0); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
	if err := CheckDims([]int{2, 3, 4}, 0, 2); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape for max_ndim, got %v", err)
	}
}

func TestEqualAndClone(t *testing.T) {
	a, _ := FromSlice(nil, []uint32{1, 2, 3})
	b := a.Clone()
	if !a.Equal(b) {
		t.Fatalf("clone differs")
	}
	b.SetUint64(0, 9)
	if a.Equal(b) || a.Uint64At(0) != 1 {
		t.Fatalf("clone shares data")
	}
}
