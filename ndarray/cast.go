package ndarray

import (
	"errors"
	"fmt"
)

// ErrColumnMismatch is returned when a table cannot be cast to a schema's
// column layout.
var ErrColumnMismatch = errors.New("Column names don't match schema")

// Cast converts a to target. Scalars are converted element by element.
// Tables are matched column by column using case-insensitive names; the
// result carries target's names. An array that already has an equivalent
// dtype is returned as is.
func Cast(a *Array, target Dtype) (*Array, error) {
	if a == nil {
		return nil, errors.New("ndarray: cast of nil array")
	}
	if Equivalent(a.Dtype, target) {
		return a, nil
	}
	if !a.Resolved() {
		return nil, fmt.Errorf("ndarray: cannot cast unresolved array %s", a.Source)
	}
	if a.Dtype.IsStructured() != target.IsStructured() {
		return nil, fmt.Errorf("ndarray: cannot cast %s to %s", a.Dtype, target)
	}
	if !target.IsStructured() {
		return castScalarArray(a, target)
	}
	return castTable(a, target)
}

func castScalarArray(a *Array, target Dtype) (*Array, error) {
	out := New(target, a.Shape...)
	src, dst := a.Dtype.Scalar, target.Scalar
	if src.Kind.IsString() != dst.Kind.IsString() {
		return nil, fmt.Errorf("ndarray: cannot cast %s to %s", src, dst)
	}
	ss, ds := src.Size(), dst.Size()
	for i := 0; i < a.Len(); i++ {
		sb := a.Data[i*ss : (i+1)*ss]
		db := out.Data[i*ds : (i+1)*ds]
		if src.Kind.IsString() {
			castString(src, sb, dst, db)
		} else {
			castElem(src.Kind, sb, dst.Kind, db)
		}
	}
	return out, nil
}

func castTable(a *Array, target Dtype) (*Array, error) {
	if len(a.Dtype.Fields) != len(target.Fields) {
		return nil, ErrColumnMismatch
	}
	mapping := make([]int, len(target.Fields))
	for i, f := range target.Fields {
		j := a.Dtype.fieldIndexFold(f.Name)
		if j < 0 {
			return nil, ErrColumnMismatch
		}
		sf := a.Dtype.Fields[j]
		if sf.Count() != f.Count() {
			return nil, fmt.Errorf("ndarray: column %q has %d elements per row, schema expects %d", f.Name, sf.Count(), f.Count())
		}
		if sf.Type.Kind.IsString() != f.Type.Kind.IsString() {
			return nil, fmt.Errorf("ndarray: cannot cast column %q from %s to %s", f.Name, sf.Type, f.Type)
		}
		mapping[i] = j
	}
	out := NewTable(target, a.Len())
	srow, drow := a.Dtype.ItemSize(), target.ItemSize()
	for row := 0; row < a.Len(); row++ {
		for i, f := range target.Fields {
			j := mapping[i]
			sf := a.Dtype.Fields[j]
			sOff := row*srow + a.Dtype.Offset(j)
			dOff := row*drow + target.Offset(i)
			ss, ds := sf.Type.Size(), f.Type.Size()
			for e := 0; e < f.Count(); e++ {
				sb := a.Data[sOff+e*ss : sOff+(e+1)*ss]
				db := out.Data[dOff+e*ds : dOff+(e+1)*ds]
				if f.Type.Kind.IsString() {
					castString(sf.Type, sb, f.Type, db)
				} else {
					castElem(sf.Type.Kind, sb, f.Type.Kind, db)
				}
			}
		}
	}
	return out, nil
}

// CanCast reports whether every value of from is representable in to,
// following numpy's "safe" casting rule. Tables need the same column names
// (case-insensitive) and shapes, with each column safely castable.
func CanCast(from, to Dtype) bool {
	if from.IsStructured() != to.IsStructured() {
		return false
	}
	if !to.IsStructured() {
		return canCastScalar(from.Scalar, to.Scalar)
	}
	if len(from.Fields) != len(to.Fields) {
		return false
	}
	for _, f := range to.Fields {
		j := from.fieldIndexFold(f.Name)
		if j < 0 {
			return false
		}
		sf := from.Fields[j]
		if !sameShape(sf.Shape, f.Shape) || !canCastScalar(sf.Type, f.Type) {
			return false
		}
	}
	return true
}

func canCastScalar(from, to Scalar) bool {
	if from == to {
		return true
	}
	if from.Kind.IsString() || to.Kind.IsString() {
		if !from.Kind.IsString() || !to.Kind.IsString() {
			return false
		}
		if from.Kind == UCS4 && to.Kind == ASCII {
			return false
		}
		return from.Length <= to.Length
	}
	switch {
	case from.Kind == Bool8:
		return true
	case to.Kind == Bool8:
		return false
	case from.Kind.IsFloat():
		return to.Kind == Float64
	case to.Kind.IsFloat():
		// float32 holds integers of up to 16 bits exactly.
		if to.Kind == Float32 {
			return from.Kind.Size() <= 2
		}
		return true
	case from.Kind.IsUnsigned() && to.Kind.IsUnsigned():
		return to.Kind.Size() >= from.Kind.Size()
	case from.Kind.IsUnsigned():
		return to.Kind.Size() > from.Kind.Size()
	case to.Kind.IsUnsigned():
		return false
	}
	return to.Kind.Size() >= from.Kind.Size()
}
