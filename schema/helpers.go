package schema

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PropertyOrderKey is the annotation the loader adds next to `properties`,
// listing the property names in document order.
const PropertyOrderKey = "x-property-order"

func pathOrRoot(path string) string {
	if path == "" {
		return "<root>"
	}
	return path
}

func ptrJoin(prefix, next string) string {
	if prefix == "" {
		return next
	}
	if next == "" {
		return prefix
	}
	if strings.HasPrefix(next, "[") || strings.HasPrefix(next, ".") {
		return prefix + next
	}
	return prefix + "." + next
}

func resolveJSONPointer(doc any, fragment string) (any, error) {
	// fragment is the part after '#'. JSON Pointer starts with '/'.
	if fragment == "" {
		return doc, nil
	}
	if !strings.HasPrefix(fragment, "/") {
		return nil, errors.New("unsupported fragment (must be JSON Pointer)")
	}
	toks := strings.Split(fragment, "/")[1:]
	cur := doc
	for _, tok := range toks {
		tok = strings.ReplaceAll(tok, "~1", "/")
		tok = strings.ReplaceAll(tok, "~0", "~")
		switch x := cur.(type) {
		case map[string]any:
			nxt, ok := x[tok]
			if !ok {
				return nil, fmt.Errorf("pointer not found: %q", tok)
			}
			cur = nxt
		case []any:
			idx, err := strconv.Atoi(tok)
			if err != nil || idx < 0 || idx >= len(x) {
				return nil, fmt.Errorf("array index out of range: %q", tok)
			}
			cur = x[idx]
		default:
			return nil, errors.New("pointer traversed non-container")
		}
	}
	return cur, nil
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

// DeepCopy copies maps and lists recursively. Other values are shared.
func DeepCopy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			out[k] = DeepCopy(v)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, v := range x {
			out[i] = DeepCopy(v)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	}
	return v
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return DeepCopy(m).(map[string]any)
}

// PropertyNames returns the keys of node's `properties` in document order.
// Names missing from the recorded order follow, sorted.
func PropertyNames(node map[string]any) []string {
	props, _ := asMap(node["properties"])
	if len(props) == 0 {
		return nil
	}
	out := make([]string, 0, len(props))
	seen := make(map[string]bool, len(props))
	for _, v := range stringList(node[PropertyOrderKey]) {
		if _, ok := props[v]; ok && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	var rest []string
	for k := range props {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func stringList(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, it := range x {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func unionStrings(a, b []string) []any {
	seen := map[string]bool{}
	out := make([]any, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// ShortDoc returns the first line of the node's title, or of its
// description when there is no title.
func ShortDoc(node map[string]any) string {
	text, _ := node["title"].(string)
	if strings.TrimSpace(text) == "" {
		text, _ = node["description"].(string)
	}
	text = strings.TrimSpace(text)
	line, _, _ := strings.Cut(text, "\n")
	return strings.TrimSpace(line)
}
