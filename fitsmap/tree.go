package fitsmap

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spacetelescope/stdatamodels-go/ndarray"
)

// path addresses a tree node. Elements are property names (string) or
// list indices (int).
type path []any

func (p path) with(elem any) path {
	out := make(path, len(p), len(p)+1)
	copy(out, p)
	return append(out, elem)
}

func (p path) String() string {
	parts := make([]string, len(p))
	for i, e := range p {
		switch x := e.(type) {
		case int:
			parts[i] = strconv.Itoa(x)
		default:
			parts[i] = fmt.Sprint(x)
		}
	}
	return strings.Join(parts, ".")
}

// putValue stores v at p, creating maps for names and growing lists for
// indices on the way.
func putValue(tree map[string]any, p path, v any) {
	if len(p) == 0 {
		return
	}
	if _, ok := p[0].(string); !ok {
		return
	}
	var cur any = tree
	var set func(any)
	for i, elem := range p {
		last := i == len(p)-1
		switch key := elem.(type) {
		case string:
			m, ok := cur.(map[string]any)
			if !ok {
				m = map[string]any{}
				set(m)
			}
			if last {
				m[key] = v
				return
			}
			cur = m[key]
			set = func(x any) { m[key] = x }
		case int:
			l, _ := cur.([]any)
			if len(l) <= key {
				grown := make([]any, key+1)
				copy(grown, l)
				l = grown
				set(l)
			}
			if last {
				l[key] = v
				return
			}
			cur = l[key]
			set = func(x any) { l[key] = x }
		}
	}
}

// mapArrays returns a copy of v with every array replaced by fn's result.
// Maps and lists are copied; arrays are not.
func mapArrays(v any, fn func(*ndarray.Array) any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = mapArrays(val, fn)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = mapArrays(val, fn)
		}
		return out
	case *ndarray.Array:
		return fn(x)
	}
	return v
}
