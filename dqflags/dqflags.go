// Package dqflags defines the data quality bit flags and converts between
// flag values, mnemonic expressions and dynamic DQ definitions.
package dqflags

import (
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spacetelescope/stdatamodels-go/ndarray"
)

// Pixel maps each pixel DQ mnemonic to its bit.
var Pixel = map[string]uint32{
	"GOOD":             0,
	"DO_NOT_USE":       1 << 0,
	"SATURATED":        1 << 1,
	"JUMP_DET":         1 << 2,
	"DROPOUT":          1 << 3,
	"OUTLIER":          1 << 4,
	"PERSISTENCE":      1 << 5,
	"AD_FLOOR":         1 << 6,
	"CHARGELOSS":       1 << 7,
	"UNRELIABLE_ERROR": 1 << 8,
	"NON_SCIENCE":      1 << 9,
	"DEAD":             1 << 10,
	"HOT":              1 << 11,
	"WARM":             1 << 12,
	"LOW_QE":           1 << 13,
	"RC":               1 << 14,
	"TELEGRAPH":        1 << 15,
	"NONLINEAR":        1 << 16,
	"BAD_REF_PIXEL":    1 << 17,
	"NO_FLAT_FIELD":    1 << 18,
	"NO_GAIN_VALUE":    1 << 19,
	"NO_LIN_CORR":      1 << 20,
	"NO_SAT_CHECK":     1 << 21,
	"UNRELIABLE_BIAS":  1 << 22,
	"UNRELIABLE_DARK":  1 << 23,
	"UNRELIABLE_SLOPE": 1 << 24,
	"UNRELIABLE_FLAT":  1 << 25,
	"OPEN":             1 << 26,
	"ADJ_OPEN":         1 << 27,
	"FLUX_ESTIMATED":   1 << 28,
	"MSA_FAILED_OPEN":  1 << 29,
	"OTHER_BAD_PIXEL":  1 << 30,
	"REFERENCE_PIXEL":  1 << 31,
}

// Group maps the group DQ mnemonics, a subset of Pixel.
var Group = map[string]uint32{
	"GOOD":       Pixel["GOOD"],
	"DO_NOT_USE": Pixel["DO_NOT_USE"],
	"SATURATED":  Pixel["SATURATED"],
	"JUMP_DET":   Pixel["JUMP_DET"],
	"DROPOUT":    Pixel["DROPOUT"],
	"AD_FLOOR":   Pixel["AD_FLOOR"],
	"CHARGELOSS": Pixel["CHARGELOSS"],
}

var mnemonicRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// InterpretBitFlags turns flags into a single mask.
//
// flags may be an integer, a list of integers or mnemonics, or a string
// such as "DO_NOT_USE+SATURATED", "(4,8)" or "~JUMP_DET". List elements
// must be powers of two. ok is false when flags is nil or an empty string.
// The mask is inverted when flipBits is true or the string starts with
// "~"; setting both is an error.
func InterpretBitFlags(flags any, flipBits *bool, mnemonics map[string]uint32) (mask uint32, ok bool, err error) {
	if mnemonics == nil {
		return 0, false, errors.New("dqflags: a mnemonic map is required")
	}
	flip := flipBits != nil && *flipBits

	var list []string
	switch x := flags.(type) {
	case nil:
		return 0, false, nil
	case int:
		return single(int64(x), flip)
	case int64:
		return single(x, flip)
	case uint32:
		return single(int64(x), flip)
	case []int:
		for _, v := range x {
			list = append(list, strconv.Itoa(v))
		}
	case []string:
		list = x
	case string:
		s := strings.TrimSpace(x)
		if s == "" || strings.EqualFold(s, "NONE") || strings.EqualFold(s, "INDEF") {
			return 0, false, nil
		}
		if strings.HasPrefix(s, "~") {
			if flipBits != nil {
				return 0, false, errors.New("dqflags: flipBits must be nil when the flag string starts with '~'")
			}
			flip = true
			s = strings.TrimSpace(s[1:])
		}
		if list, err = splitFlags(s); err != nil {
			return 0, false, err
		}
	default:
		return 0, false, fmt.Errorf("dqflags: unsupported bit flags %T", flags)
	}

	if len(list) == 0 {
		return 0, false, nil
	}
	for _, item := range list {
		v, err := flagValue(strings.TrimSpace(item), mnemonics)
		if err != nil {
			return 0, false, err
		}
		mask |= v
	}
	if flip {
		mask = ^mask
	}
	return mask, true, nil
}

func single(v int64, flip bool) (uint32, bool, error) {
	if v < 0 || v > 1<<32-1 {
		return 0, false, fmt.Errorf("dqflags: bit flags %d out of range", v)
	}
	m := uint32(v)
	if flip {
		m = ^m
	}
	return m, true, nil
}

func splitFlags(s string) ([]string, error) {
	if strings.HasPrefix(s, "(") {
		if !strings.HasSuffix(s, ")") {
			return nil, fmt.Errorf("dqflags: unbalanced parentheses in %q", s)
		}
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	var seps []string
	for _, sep := range []string{",", "+", "|"} {
		if strings.Contains(s, sep) {
			seps = append(seps, sep)
		}
	}
	switch len(seps) {
	case 0:
		if s == "" {
			return nil, errors.New("dqflags: empty bit flag list")
		}
		return []string{s}, nil
	case 1:
		return strings.Split(s, seps[0]), nil
	}
	return nil, fmt.Errorf("dqflags: %q mixes the separators %s", s, strings.Join(seps, " "))
}

func flagValue(item string, mnemonics map[string]uint32) (uint32, error) {
	if v, ok := mnemonics[item]; ok {
		return v, nil
	}
	n, err := strconv.ParseUint(item, 10, 32)
	if err != nil {
		if mnemonicRe.MatchString(item) {
			return 0, fmt.Errorf("dqflags: unknown mnemonic %q", item)
		}
		return 0, fmt.Errorf("dqflags: invalid bit flag %q", item)
	}
	if n != 0 && bits.OnesCount64(n) != 1 {
		return 0, fmt.Errorf("dqflags: bit flag %d is not a power of two", n)
	}
	return uint32(n), nil
}

// ToMnemonics returns the sorted mnemonics whose bits are set in v.
func ToMnemonics(v uint32, mnemonics map[string]uint32) []string {
	var out []string
	for name, bit := range mnemonics {
		if v&bit != 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// DynamicMask translates dq, whose planes are described by the dq_def
// table (VALUE and NAME columns), into standard flag values. Unknown names
// are logged and ignored. Without definitions dq is returned unchanged.
func DynamicMask(dq, dqDef *ndarray.Array, mnemonics map[string]uint32, logger *slog.Logger) (*ndarray.Array, error) {
	if dq == nil || dqDef == nil || dqDef.Len() == 0 || !dqDef.Dtype.IsStructured() {
		return dq, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if dq.Dtype.IsStructured() || dq.Dtype.Kind.IsFloat() || dq.Dtype.Kind.IsString() {
		return nil, fmt.Errorf("dqflags: dq array has non-integer type %s", dq.Dtype)
	}
	values, err := dqDef.Column("VALUE")
	if err != nil {
		return nil, err
	}
	names, err := dqDef.Column("NAME")
	if err != nil {
		return nil, err
	}

	out := ndarray.New(dq.Dtype, dq.Shape...)
	for row := range values {
		name := strings.TrimSpace(fmt.Sprint(names[row]))
		std, ok := mnemonics[name]
		if !ok {
			logger.Warn("DQ definition does not correspond to an existing mnemonic and will be ignored", "name", name)
			continue
		}
		plane, err := planeValue(values[row])
		if err != nil {
			return nil, fmt.Errorf("dqflags: dq_def row %d: %w", row, err)
		}
		for i := 0; i < dq.Len(); i++ {
			if dq.Uint64At(i)&plane != 0 {
				out.SetUint64(i, out.Uint64At(i)|uint64(std))
			}
		}
	}
	return out, nil
}

func planeValue(v any) (uint64, error) {
	switch x := v.(type) {
	case int64:
		return uint64(x), nil
	case uint64:
		return x, nil
	case float64:
		return uint64(x), nil
	}
	return 0, fmt.Errorf("VALUE %v is not an integer", v)
}
