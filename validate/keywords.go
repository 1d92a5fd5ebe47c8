package validate

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/spacetelescope/stdatamodels-go/canonicaljson"
	"github.com/spacetelescope/stdatamodels-go/ndarray"
	"github.com/spacetelescope/stdatamodels-go/tagtoken"
)

type validator struct {
	opts     options
	problems []string
}

func (v *validator) fail(path, format string, args ...any) {
	if path == "" {
		path = "<root>"
	}
	v.problems = append(v.problems, path+": "+fmt.Sprintf(format, args...))
}

// sub runs check on a scratch validator and reports whether it passed.
func (v *validator) sub(value any, s map[string]any, path string) bool {
	inner := &validator{opts: v.opts}
	inner.check(value, s, path)
	return len(inner.problems) == 0
}

func join(path, elem string) string {
	if path == "" {
		return elem
	}
	return path + "." + elem
}

func (v *validator) check(value any, s map[string]any, path string) {
	if arr, ok := value.(*ndarray.Array); ok {
		v.checkArray(arr, s, path)
		v.combiners(value, s, path)
		return
	}

	if t, ok := s["type"]; ok {
		types := typeList(t)
		matched := false
		for _, name := range types {
			if isType(value, name) {
				matched = true
				break
			}
		}
		if !matched {
			v.fail(path, "%s is not of type %s", repr(value), quoteList(types))
			return
		}
	}

	if e, ok := s["enum"].([]any); ok {
		found := false
		for _, item := range e {
			if canonicaljson.Equal(value, item) {
				found = true
				break
			}
		}
		if !found {
			v.fail(path, "%s is not one of %s", repr(value), reprList(e))
		}
	}
	if c, ok := s["const"]; ok && !canonicaljson.Equal(value, c) {
		v.fail(path, "%s was expected", repr(c))
	}

	switch x := value.(type) {
	case map[string]any:
		v.checkObject(x, s, path)
	case []any:
		v.checkList(x, s, path)
	case string:
		v.checkString(x, s, path)
	default:
		if f, ok := number(value); ok {
			v.checkNumber(f, s, path)
		}
	}

	v.combiners(value, s, path)
}

func (v *validator) combiners(value any, s map[string]any, path string) {
	if all, ok := s["allOf"].([]any); ok {
		for _, sub := range all {
			if m, ok := sub.(map[string]any); ok {
				v.check(value, m, path)
			}
		}
	}
	if anyOf, ok := s["anyOf"].([]any); ok {
		passed := false
		for _, sub := range anyOf {
			if m, ok := sub.(map[string]any); ok && v.sub(value, m, path) {
				passed = true
				break
			}
		}
		if !passed {
			v.fail(path, "%s is not valid under any of the given schemas", repr(value))
		}
	}
	if oneOf, ok := s["oneOf"].([]any); ok {
		n := 0
		for _, sub := range oneOf {
			if m, ok := sub.(map[string]any); ok && v.sub(value, m, path) {
				n++
			}
		}
		switch {
		case n == 0:
			v.fail(path, "%s is not valid under any of the given schemas", repr(value))
		case n > 1:
			v.fail(path, "%s is valid under each of %d of the given schemas", repr(value), n)
		}
	}
	if not, ok := s["not"].(map[string]any); ok && v.sub(value, not, path) {
		v.fail(path, "%s is not allowed for %s", repr(not), repr(value))
	}
}

func (v *validator) checkArray(a *ndarray.Array, s map[string]any, path string) {
	if tag, ok := s["tag"].(string); ok {
		if !tagtoken.Match(tag, tagtoken.NDArrayTag) {
			v.fail(path, "mismatched tags, wanted '%s', got '%s'", tag, tagtoken.NDArrayTag)
		}
	}
	if !v.opts.arrays {
		return
	}
	ndim := intKeyword(s, "ndim")
	maxNdim := intKeyword(s, "max_ndim")
	if err := ndarray.CheckShape(a, ndim, maxNdim); err != nil {
		v.fail(path, "%s", strings.TrimPrefix(err.Error(), ndarray.ErrShape.Error()+": "))
	}
	if raw, ok := s["datatype"]; ok {
		want, err := ndarray.ParseDatatype(raw)
		if err != nil {
			v.fail(path, "invalid datatype in schema: %v", err)
			return
		}
		if !ndarray.CanCast(a.Dtype, want) {
			v.fail(path, "Can not safely cast from '%s' to '%s'", a.Dtype, want)
		}
	}
}

func intKeyword(s map[string]any, key string) int {
	if f, ok := number(s[key]); ok {
		return int(f)
	}
	return 0
}

func (v *validator) checkObject(m map[string]any, s map[string]any, path string) {
	props, _ := s["properties"].(map[string]any)
	patProps, _ := s["patternProperties"].(map[string]any)

	if req, ok := s["required"].([]any); ok {
		for _, r := range req {
			name, _ := r.(string)
			if val, ok := m[name]; !ok || val == nil {
				v.fail(path, "'%s' is a required property", name)
			}
		}
	}
	if n, ok := number(s["minProperties"]); ok && float64(countPresent(m)) < n {
		v.fail(path, "%s does not have enough properties", repr(m))
	}
	if n, ok := number(s["maxProperties"]); ok && float64(countPresent(m)) > n {
		v.fail(path, "%s has too many properties", repr(m))
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var extra []string
	for _, k := range keys {
		val := m[k]
		if val == nil {
			continue
		}
		matched := false
		if ps, ok := props[k].(map[string]any); ok {
			matched = true
			v.check(val, ps, join(path, k))
		} else if _, ok := props[k]; ok {
			matched = true
		}
		for pat, ps := range patProps {
			re, err := compile(pat)
			if err != nil || !re.MatchString(k) {
				continue
			}
			matched = true
			if psm, ok := ps.(map[string]any); ok {
				v.check(val, psm, join(path, k))
			}
		}
		if matched {
			continue
		}
		switch ap := s["additionalProperties"].(type) {
		case bool:
			if !ap {
				extra = append(extra, k)
			}
		case map[string]any:
			v.check(val, ap, join(path, k))
		}
	}
	if len(extra) > 0 {
		v.fail(path, "Additional properties are not allowed (%s unexpected)", quoteList(extra))
	}
}

func countPresent(m map[string]any) int {
	n := 0
	for _, v := range m {
		if v != nil {
			n++
		}
	}
	return n
}

func (v *validator) checkList(list []any, s map[string]any, path string) {
	switch items := s["items"].(type) {
	case map[string]any:
		for i, it := range list {
			if it != nil {
				v.check(it, items, join(path, strconv.Itoa(i)))
			}
		}
	case []any:
		for i, it := range list {
			if i < len(items) {
				if m, ok := items[i].(map[string]any); ok && it != nil {
					v.check(it, m, join(path, strconv.Itoa(i)))
				}
				continue
			}
			switch ai := s["additionalItems"].(type) {
			case bool:
				if !ai {
					v.fail(path, "Additional items are not allowed")
					return
				}
			case map[string]any:
				v.check(it, ai, join(path, strconv.Itoa(i)))
			}
		}
	}
	if n, ok := number(s["minItems"]); ok && float64(len(list)) < n {
		v.fail(path, "%s is too short", repr(list))
	}
	if n, ok := number(s["maxItems"]); ok && float64(len(list)) > n {
		v.fail(path, "%s is too long", repr(list))
	}
	if u, _ := s["uniqueItems"].(bool); u {
		seen := map[string]bool{}
		for _, it := range list {
			key, err := canonicaljson.String(it)
			if err != nil {
				continue
			}
			if seen[key] {
				v.fail(path, "%s has non-unique elements", repr(list))
				break
			}
			seen[key] = true
		}
	}
}

func (v *validator) checkString(str string, s map[string]any, path string) {
	n := float64(utf8.RuneCountInString(str))
	if m, ok := number(s["minLength"]); ok && n < m {
		v.fail(path, "%q is too short", str)
	}
	if m, ok := number(s["maxLength"]); ok && n > m {
		v.fail(path, "%q is too long", str)
	}
	if pat, ok := s["pattern"].(string); ok {
		re, err := compile(pat)
		if err != nil {
			v.fail(path, "invalid pattern %q in schema: %v", pat, err)
		} else if !re.MatchString(str) {
			v.fail(path, "%q does not match %q", str, pat)
		}
	}
}

func (v *validator) checkNumber(f float64, s map[string]any, path string) {
	if lo, ok := number(s["minimum"]); ok {
		excl, _ := s["exclusiveMinimum"].(bool)
		if f < lo || (excl && f == lo) {
			v.fail(path, "%v is less than the minimum of %v", f, lo)
		}
	}
	if lo, ok := number(s["exclusiveMinimum"]); ok && f <= lo {
		v.fail(path, "%v is less than or equal to the minimum of %v", f, lo)
	}
	if hi, ok := number(s["maximum"]); ok {
		excl, _ := s["exclusiveMaximum"].(bool)
		if f > hi || (excl && f == hi) {
			v.fail(path, "%v is greater than the maximum of %v", f, hi)
		}
	}
	if hi, ok := number(s["exclusiveMaximum"]); ok && f >= hi {
		v.fail(path, "%v is greater than or equal to the maximum of %v", f, hi)
	}
	if m, ok := number(s["multipleOf"]); ok && m > 0 {
		q := f / m
		if math.IsInf(q, 0) || q != math.Trunc(q) {
			v.fail(path, "%v is not a multiple of %v", f, m)
		}
	}
}

var patterns sync.Map // string -> *regexp.Regexp

func compile(pat string) (*regexp.Regexp, error) {
	if re, ok := patterns.Load(pat); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pat)
	if err != nil {
		return nil, err
	}
	patterns.Store(pat, re)
	return re, nil
}

func typeList(t any) []string {
	switch x := t.(type) {
	case string:
		return []string{x}
	case []any:
		out := make([]string, 0, len(x))
		for _, it := range x {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return x
	}
	return nil
}

func isType(v any, name string) bool {
	switch name {
	case "null":
		return v == nil
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "string":
		_, ok := v.(string)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "number":
		_, ok := number(v)
		return ok
	case "integer":
		f, ok := number(v)
		return ok && f == math.Trunc(f) && !math.IsInf(f, 0)
	case "any":
		return true
	}
	return false
}

// number converts the numeric types a tree can hold. Booleans are not
// numbers.
func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint64:
		return float64(x), true
	case uint32:
		return float64(x), true
	case float32:
		return float64(x), true
	}
	return 0, false
}

func repr(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		return "'" + x + "'"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case *ndarray.Array:
		return x.String()
	}
	s, err := canonicaljson.String(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func reprList(list []any) string {
	parts := make([]string, len(list))
	for i, it := range list {
		parts[i] = repr(it)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func quoteList(names []string) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = "'" + n + "'"
	}
	return strings.Join(parts, ", ")
}
