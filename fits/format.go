package fits

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/spacetelescope/stdatamodels-go/ndarray"
)

// offsets of the pseudo-unsigned (and pseudo-signed byte) conventions,
// stored as BZERO for images and TZEROn for table columns.
var kindOffsets = map[ndarray.Kind]any{
	ndarray.Int8:   int64(-128),
	ndarray.Uint16: int64(32768),
	ndarray.Uint32: int64(2147483648),
	ndarray.Uint64: uint64(1 << 63),
}

var storageOf = map[ndarray.Kind]ndarray.Kind{
	ndarray.Int8:   ndarray.Uint8,
	ndarray.Uint16: ndarray.Int16,
	ndarray.Uint32: ndarray.Int32,
	ndarray.Uint64: ndarray.Int64,
}

func offsetValue(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// logicalKind maps a stored kind plus zero point back to the in-memory kind.
func logicalKind(stored ndarray.Kind, zero any) (ndarray.Kind, bool) {
	z, ok := offsetValue(zero)
	if !ok {
		return stored, false
	}
	for k, off := range kindOffsets {
		o, _ := offsetValue(off)
		if storageOf[k] == stored && o == z {
			return k, true
		}
	}
	return stored, false
}

// flipSign toggles the sign bit of each big-endian element of size bytes.
func flipSign(b []byte, size int) {
	for i := 0; i < len(b); i += size {
		b[i] ^= 0x80
	}
}

var bitpixOf = map[ndarray.Kind]int64{
	ndarray.Int8: 8, ndarray.Uint8: 8, ndarray.Bool8: 8,
	ndarray.Int16: 16, ndarray.Uint16: 16,
	ndarray.Int32: 32, ndarray.Uint32: 32,
	ndarray.Int64: 64, ndarray.Uint64: 64,
	ndarray.Float32: -32, ndarray.Float64: -64,
}

func kindOfBitpix(bitpix int64) (ndarray.Kind, error) {
	switch bitpix {
	case 8:
		return ndarray.Uint8, nil
	case 16:
		return ndarray.Int16, nil
	case 32:
		return ndarray.Int32, nil
	case 64:
		return ndarray.Int64, nil
	case -32:
		return ndarray.Float32, nil
	case -64:
		return ndarray.Float64, nil
	}
	return "", fmt.Errorf("invalid BITPIX %d", bitpix)
}

var tformCodes = map[ndarray.Kind]byte{
	ndarray.Bool8: 'L', ndarray.Uint8: 'B', ndarray.Int8: 'B',
	ndarray.Int16: 'I', ndarray.Uint16: 'I',
	ndarray.Int32: 'J', ndarray.Uint32: 'J',
	ndarray.Int64: 'K', ndarray.Uint64: 'K',
	ndarray.Float32: 'E', ndarray.Float64: 'D',
	ndarray.ASCII: 'A', ndarray.UCS4: 'A',
}

var codeKinds = map[byte]ndarray.Kind{
	'L': ndarray.Bool8, 'B': ndarray.Uint8, 'I': ndarray.Int16, 'J': ndarray.Int32,
	'K': ndarray.Int64, 'E': ndarray.Float32, 'D': ndarray.Float64, 'A': ndarray.ASCII,
}

// column describes how one structured field is laid out in a FITS row.
type column struct {
	field  ndarray.Field // in-memory field
	stored ndarray.Field // on-disk field
	tform  string
	tdim   string
	tzero  any
}

func columnFor(f ndarray.Field) (column, error) {
	code, ok := tformCodes[f.Type.Kind]
	if !ok {
		return column{}, fmt.Errorf("column %q: unsupported kind %s", f.Name, f.Type.Kind)
	}
	c := column{field: f, stored: f}
	if f.Type.Kind.IsString() {
		if len(f.Shape) > 0 {
			return column{}, fmt.Errorf("column %q: string sub-arrays are not supported", f.Name)
		}
		c.stored.Type = ndarray.Scalar{Kind: ndarray.ASCII, Length: f.Type.Length}
		c.tform = fmt.Sprintf("%d%c", f.Type.Length, code)
		return c, nil
	}
	if off, ok := kindOffsets[f.Type.Kind]; ok {
		c.tzero = off
		c.stored.Type = ndarray.Scalar{Kind: storageOf[f.Type.Kind]}
	}
	n := f.Count()
	if n == 1 && len(f.Shape) == 0 {
		c.tform = string(code)
	} else {
		c.tform = fmt.Sprintf("%d%c", n, code)
	}
	if len(f.Shape) > 1 {
		c.tdim = tdimString(f.Shape)
	}
	return c, nil
}

func tdimString(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[len(shape)-1-i] = strconv.Itoa(d)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

var tformRe = regexp.MustCompile(`^\s*(\d*)([A-Z])(.*)$`)

// parseColumn rebuilds a field from TTYPEn, TFORMn, TDIMn and TZEROn.
func parseColumn(name, tform, tdim string, tzero any) (column, error) {
	m := tformRe.FindStringSubmatch(strings.ToUpper(tform))
	if m == nil {
		return column{}, fmt.Errorf("column %q: invalid TFORM %q", name, tform)
	}
	repeat := 1
	if m[1] != "" {
		r, err := strconv.Atoi(m[1])
		if err != nil {
			return column{}, fmt.Errorf("column %q: invalid TFORM %q", name, tform)
		}
		repeat = r
	}
	code := m[2][0]
	if code == 'P' || code == 'Q' {
		return column{}, fmt.Errorf("column %q: variable-length arrays are not supported", name)
	}
	stored, ok := codeKinds[code]
	if !ok {
		return column{}, fmt.Errorf("column %q: unsupported TFORM code %q", name, string(code))
	}
	c := column{tform: tform, tdim: tdim, tzero: tzero}
	if stored == ndarray.ASCII {
		c.stored = ndarray.Field{Name: name, Type: ndarray.Scalar{Kind: ndarray.ASCII, Length: repeat}}
		c.field = c.stored
		return c, nil
	}
	var shape []int
	if tdim != "" {
		dims, err := parseTDIM(tdim)
		if err != nil {
			return column{}, fmt.Errorf("column %q: %w", name, err)
		}
		shape = dims
	} else if repeat > 1 {
		shape = []int{repeat}
	}
	c.stored = ndarray.Field{Name: name, Type: ndarray.Scalar{Kind: stored}, Shape: shape}
	c.field = c.stored
	if k, ok := logicalKind(stored, tzero); ok {
		c.field.Type = ndarray.Scalar{Kind: k}
	}
	return c, nil
}

func parseTDIM(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		return nil, fmt.Errorf("invalid TDIM %q", s)
	}
	parts := strings.Split(s[1:len(s)-1], ",")
	shape := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid TDIM %q", s)
		}
		shape[len(parts)-1-i] = n
	}
	return shape, nil
}

// encodeCell converts an in-memory cell to its on-disk bytes in place in dst.
func (c column) encodeCell(src, dst []byte) {
	switch {
	case c.field.Type.Kind == ndarray.Bool8:
		for i, b := range src {
			if b != 0 {
				dst[i] = 'T'
			} else {
				dst[i] = 'F'
			}
		}
	case c.field.Type.Kind == ndarray.UCS4:
		for i := range dst {
			dst[i] = 0
		}
		j := 0
		for i := 0; i+4 <= len(src) && j < len(dst); i += 4 {
			r := rune(uint32(src[i])<<24 | uint32(src[i+1])<<16 | uint32(src[i+2])<<8 | uint32(src[i+3]))
			if r == 0 {
				break
			}
			if r > 0x7f {
				r = '?'
			}
			dst[j] = byte(r)
			j++
		}
	default:
		copy(dst, src)
		if c.tzero != nil {
			flipSign(dst, c.stored.Type.Size())
		}
	}
}

// decodeCell is the inverse of encodeCell.
func (c column) decodeCell(src, dst []byte) {
	switch {
	case c.field.Type.Kind == ndarray.Bool8:
		for i, b := range src {
			if b == 'T' {
				dst[i] = 1
			} else {
				dst[i] = 0
			}
		}
	default:
		copy(dst, src)
		if c.field.Type.Kind != c.stored.Type.Kind {
			flipSign(dst, c.stored.Type.Size())
		}
	}
}

// structural reports whether key is generated by the writer and so never
// copied from a header into the output.
func structural(key string) bool {
	switch key {
	case "SIMPLE", "XTENSION", "BITPIX", "NAXIS", "EXTEND", "PCOUNT", "GCOUNT",
		"TFIELDS", "BZERO", "BSCALE", "END":
		return true
	}
	return structuralRe.MatchString(key)
}

var structuralRe = regexp.MustCompile(`^(NAXIS[0-9]{1,3}|TTYPE[0-9]{1,3}|TFORM[0-9]{1,3}|TDIM[0-9]{1,3}|TZERO[0-9]{1,3}|TSCAL[0-9]{1,3})$`)
