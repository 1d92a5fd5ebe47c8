package canonicaljson

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Canonical bytes are used wherever two metadata values must compare equal
// regardless of how they were decoded: enum membership, keyword dictionary
// sets, catalog value columns.
//
// References:
// - RFC 8785: JSON Canonicalization Scheme (JCS): https://www.rfc-editor.org/rfc/rfc8785

// Marshal returns a deterministic JSON encoding of the input according to RFC 8785 (JCS).
//
// Notes:
//   - Objects are sorted by member names using UTF-16 code unit lexicographic order.
//   - Arrays preserve order.
//   - Strings use JSON string syntax per RFC 8785 §3.2.2.2.
//   - Floating point numbers use ECMAScript-compatible serialization. Go integers
//     keep their exact decimal form, so 64-bit header values survive unchanged.
//   - Native trees (map[string]any, []any, scalars as produced by YAML or FITS
//     decoding) are written directly without a JSON round trip.
func Marshal(v any) ([]byte, error) {
	var b []byte

	switch x := v.(type) {
	case json.RawMessage:
		b = x
	case []byte:
		b = x
	default:
		if native(v) {
			var buf bytes.Buffer
			if err := writeJCS(&buf, v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		}
		var err error
		b, err = json.Marshal(v)
		if err != nil {
			return nil, err
		}
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var anyVal any
	if err := dec.Decode(&anyVal); err != nil {
		return nil, err
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		if err == nil {
			return nil, errors.New("invalid JSON: trailing data")
		}
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeJCS(&buf, anyVal); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// String is Marshal returning a string, convenient for map keys.
func String(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Equal reports whether a and b have the same canonical encoding.
// Values that cannot be encoded are never equal.
func Equal(a, b any) bool {
	ca, err := Marshal(a)
	if err != nil {
		return false
	}
	cb, err := Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

// native reports whether v is entirely made of values writeJCS understands.
func native(v any) bool {
	switch x := v.(type) {
	case nil, bool, string, json.Number, float32, float64,
		int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case []string:
		return true
	case []any:
		for _, it := range x {
			if !native(it) {
				return false
			}
		}
		return true
	case map[string]any:
		for _, it := range x {
			if !native(it) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func writeJCS(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if x {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		writeJCSString(buf, x)
		return nil
	case json.Number:
		s, err := formatJCSNumber(x.String())
		if err != nil {
			return err
		}
		buf.WriteString(s)
		return nil
	case float64:
		s, err := formatJCSFloat64(x)
		if err != nil {
			return err
		}
		buf.WriteString(s)
		return nil
	case float32:
		s, err := formatJCSFloat64(float64(x))
		if err != nil {
			return err
		}
		buf.WriteString(s)
		return nil
	case int:
		buf.WriteString(strconv.FormatInt(int64(x), 10))
		return nil
	case int8:
		buf.WriteString(strconv.FormatInt(int64(x), 10))
		return nil
	case int16:
		buf.WriteString(strconv.FormatInt(int64(x), 10))
		return nil
	case int32:
		buf.WriteString(strconv.FormatInt(int64(x), 10))
		return nil
	case int64:
		buf.WriteString(strconv.FormatInt(x, 10))
		return nil
	case uint:
		buf.WriteString(strconv.FormatUint(uint64(x), 10))
		return nil
	case uint8:
		buf.WriteString(strconv.FormatUint(uint64(x), 10))
		return nil
	case uint16:
		buf.WriteString(strconv.FormatUint(uint64(x), 10))
		return nil
	case uint32:
		buf.WriteString(strconv.FormatUint(uint64(x), 10))
		return nil
	case uint64:
		buf.WriteString(strconv.FormatUint(x, 10))
		return nil
	case []string:
		buf.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJCSString(buf, item)
		}
		buf.WriteByte(']')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJCS(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]any:
		type kv struct {
			k   string
			key []uint16
		}
		keys := make([]kv, 0, len(x))
		for k := range x {
			keys = append(keys, kv{k: k, key: utf16.Encode([]rune(k))})
		}
		sort.Slice(keys, func(i, j int) bool {
			return lessUTF16(keys[i].key, keys[j].key)
		})

		buf.WriteByte('{')
		for i, entry := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJCSString(buf, entry.k)
			buf.WriteByte(':')
			if err := writeJCS(buf, x[entry.k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		return errors.New("unsupported JSON value type")
	}
}

func lessUTF16(a, b []uint16) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] == b[i] {
			continue
		}
		return a[i] < b[i]
	}
	return len(a) < len(b)
}

func writeJCSString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '\\':
			buf.WriteString(`\\`)
		case r == '"':
			buf.WriteString(`\"`)
		// RFC 8785 §3.2.2.2: these five control characters MUST use shorthand escapes.
		case r == '\b':
			buf.WriteString(`\b`)
		case r == '\t':
			buf.WriteString(`\t`)
		case r == '\n':
			buf.WriteString(`\n`)
		case r == '\f':
			buf.WriteString(`\f`)
		case r == '\r':
			buf.WriteString(`\r`)
		case r <= 0x1F:
			// Remaining control characters use \u00XX with lowercase hex.
			var b [6]byte
			b[0] = '\\'
			b[1] = 'u'
			b[2] = '0'
			b[3] = '0'
			hex.Encode(b[4:], []byte{byte(r)})
			buf.Write(b[:])
		default:
			buf.WriteRune(r)
		}
	}
	buf.WriteByte('"')
}

func formatJCSNumber(s string) (string, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", err
	}
	return formatJCSFloat64(f)
}

func formatJCSFloat64(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", errors.New("invalid JSON number: NaN or Infinity")
	}
	// Normalize -0 to 0.
	if f == 0 {
		return "0", nil
	}

	abs := math.Abs(f)
	var s string
	if abs >= 1e21 || abs < 1e-6 {
		s = strconv.FormatFloat(f, 'e', -1, 64)
		s = normalizeExponent(s)
	} else {
		// Decimal form without exponent.
		s = strconv.FormatFloat(f, 'f', -1, 64)
	}
	// Go may emit "-0" in some cases; normalize again.
	if s == "-0" {
		return "0", nil
	}
	return s, nil
}

func normalizeExponent(s string) string {
	// Go's 'e' format uses a zero-padded exponent (e.g., 1e-06). JCS/ECMAScript uses no padding (1e-6).
	i := strings.IndexByte(s, 'e')
	if i < 0 {
		return s
	}
	if i+2 >= len(s) {
		return s
	}
	sign := s[i+1]
	exp := s[i+2:]
	// trim leading zeros, keep at least one digit
	j := 0
	for j < len(exp)-1 && exp[j] == '0' {
		j++
	}
	exp = exp[j:]
	return s[:i+1] + string(sign) + exp
}
