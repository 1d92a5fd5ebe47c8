package stdatamodels

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spacetelescope/stdatamodels-go/ndarray"
)

func splitPath(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, ".")
}

// lookup follows parts through maps and, for numeric parts, lists.
func lookup(tree map[string]any, parts []string) (any, bool) {
	var cur any = tree
	for _, part := range parts {
		switch x := cur.(type) {
		case map[string]any:
			v, ok := x[part]
			if !ok || v == nil {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(x) || x[i] == nil {
				return nil, false
			}
			cur = x[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// put stores v at parts. Missing objects are created; list elements must
// already exist.
func put(tree map[string]any, parts []string, v any) error {
	if len(parts) == 0 {
		return fmt.Errorf("empty path")
	}
	var cur any = tree
	for i, part := range parts {
		last := i == len(parts)-1
		switch x := cur.(type) {
		case map[string]any:
			if last {
				x[part] = v
				return nil
			}
			next, ok := x[part]
			if !ok || next == nil {
				next = map[string]any{}
				x[part] = next
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(x) {
				return fmt.Errorf("%s: %w", strings.Join(parts[:i+1], "."), ErrNotFound)
			}
			if last {
				x[idx] = v
				return nil
			}
			if x[idx] == nil {
				x[idx] = map[string]any{}
			}
			cur = x[idx]
		default:
			return fmt.Errorf("%s is not an object", strings.Join(parts[:i], "."))
		}
	}
	return nil
}

func remove(tree map[string]any, parts []string) bool {
	if len(parts) == 0 {
		return false
	}
	parent, ok := any(tree), true
	if len(parts) > 1 {
		parent, ok = lookup(tree, parts[:len(parts)-1])
	}
	if !ok {
		return false
	}
	last := parts[len(parts)-1]
	switch x := parent.(type) {
	case map[string]any:
		if _, ok := x[last]; !ok {
			return false
		}
		delete(x, last)
		return true
	case []any:
		i, err := strconv.Atoi(last)
		if err != nil || i < 0 || i >= len(x) {
			return false
		}
		x[i] = nil
		return true
	}
	return false
}

// Item is one leaf of a model tree.
type Item struct {
	Key   string
	Value any
}

// flatten lists every non-nil leaf under dotted keys, sorted by key.
func flatten(tree map[string]any) []Item {
	var out []Item
	var walk func(v any, prefix string)
	walk = func(v any, prefix string) {
		switch x := v.(type) {
		case nil:
		case map[string]any:
			for k, val := range x {
				walk(val, join(prefix, k))
			}
		case []any:
			for i, val := range x {
				walk(val, join(prefix, strconv.Itoa(i)))
			}
		default:
			out = append(out, Item{Key: prefix, Value: v})
		}
	}
	walk(tree, "")
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// withoutNils copies v, dropping nil map values.
func withoutNils(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			if val != nil {
				out[k] = withoutNils(val)
			}
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = withoutNils(val)
		}
		return out
	}
	return v
}

func isArray(v any) bool {
	_, ok := v.(*ndarray.Array)
	return ok
}
