package ndarray

import (
	"encoding/binary"
	"math"
)

var be = binary.BigEndian

func getFloat(k Kind, b []byte) float64 {
	switch k {
	case Float32:
		return float64(math.Float32frombits(be.Uint32(b)))
	case Float64:
		return math.Float64frombits(be.Uint64(b))
	case Uint64:
		return float64(be.Uint64(b))
	default:
		return float64(getInt(k, b))
	}
}

func getInt(k Kind, b []byte) int64 {
	switch k {
	case Int8:
		return int64(int8(b[0]))
	case Uint8, Bool8:
		return int64(b[0])
	case Int16:
		return int64(int16(be.Uint16(b)))
	case Uint16:
		return int64(be.Uint16(b))
	case Int32:
		return int64(int32(be.Uint32(b)))
	case Uint32:
		return int64(be.Uint32(b))
	case Int64:
		return int64(be.Uint64(b))
	case Uint64:
		return int64(be.Uint64(b))
	case Float32, Float64:
		return int64(getFloat(k, b))
	}
	return 0
}

func getUint(k Kind, b []byte) uint64 {
	switch k {
	case Uint64:
		return be.Uint64(b)
	case Float32, Float64:
		return uint64(getFloat(k, b))
	default:
		return uint64(getInt(k, b))
	}
}

func putFloat(k Kind, b []byte, v float64) {
	switch k {
	case Float32:
		be.PutUint32(b, math.Float32bits(float32(v)))
	case Float64:
		be.PutUint64(b, math.Float64bits(v))
	case Bool8:
		putBool(b, v != 0)
	case Uint64:
		putUint(k, b, uint64(v))
	default:
		putInt(k, b, int64(v))
	}
}

func putInt(k Kind, b []byte, v int64) {
	switch k {
	case Int8, Uint8:
		b[0] = byte(v)
	case Bool8:
		putBool(b, v != 0)
	case Int16, Uint16:
		be.PutUint16(b, uint16(v))
	case Int32, Uint32:
		be.PutUint32(b, uint32(v))
	case Int64, Uint64:
		be.PutUint64(b, uint64(v))
	case Float32, Float64:
		putFloat(k, b, float64(v))
	}
}

func putUint(k Kind, b []byte, v uint64) {
	switch k {
	case Float32, Float64:
		putFloat(k, b, float64(v))
	default:
		putInt(k, b, int64(v))
	}
}

func putBool(b []byte, v bool) {
	if v {
		b[0] = 1
	} else {
		b[0] = 0
	}
}

// castElem converts one numeric element between kinds with the wrapping
// semantics of a C cast.
func castElem(src Kind, sb []byte, dst Kind, db []byte) {
	switch {
	case dst.IsFloat():
		putFloat(dst, db, getFloat(src, sb))
	case dst == Bool8:
		putBool(db, getFloat(src, sb) != 0)
	case src.IsFloat():
		f := getFloat(src, sb)
		if dst.IsUnsigned() && f >= 0 {
			putUint(dst, db, uint64(f))
		} else {
			putInt(dst, db, int64(f))
		}
	case src == Uint64:
		putUint(dst, db, getUint(src, sb))
	default:
		putInt(dst, db, getInt(src, sb))
	}
}

// castString copies a fixed-width string cell, converting between ascii and
// ucs4 and truncating or NUL-padding to the destination width.
func castString(src Scalar, sb []byte, dst Scalar, db []byte) {
	s := decodeString(src, sb)
	encodeString(dst, db, s)
}

func decodeString(s Scalar, b []byte) string {
	if s.Kind == ASCII {
		n := len(b)
		for n > 0 && b[n-1] == 0 {
			n--
		}
		return string(b[:n])
	}
	runes := make([]rune, 0, s.Length)
	for i := 0; i+4 <= len(b); i += 4 {
		r := rune(be.Uint32(b[i:]))
		if r == 0 {
			break
		}
		runes = append(runes, r)
	}
	return string(runes)
}

func encodeString(s Scalar, b []byte, v string) {
	for i := range b {
		b[i] = 0
	}
	if s.Kind == ASCII {
		copy(b, v)
		return
	}
	i := 0
	for _, r := range v {
		if i+4 > len(b) {
			return
		}
		be.PutUint32(b[i:], uint32(r))
		i += 4
	}
}
