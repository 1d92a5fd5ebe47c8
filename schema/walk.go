package schema

import (
	"sort"
	"strconv"
	"strings"
)

// WalkFunc is called for every schema node. path holds the property names,
// "items" and tuple indices leading to the node; combiner is the innermost
// allOf, anyOf, oneOf or not the node sits under, or "". Returning true
// skips the node's children.
type WalkFunc func(node map[string]any, path []string, combiner string) (skip bool)

// Walk visits s depth-first. Properties are visited in document order.
func Walk(s map[string]any, fn WalkFunc) {
	WalkFrom(s, nil, "", fn)
}

// WalkFrom walks node as if it were found at path under combiner.
func WalkFrom(node map[string]any, path []string, combiner string, fn WalkFunc) {
	if node == nil || fn(node, path, combiner) {
		return
	}
	for _, c := range []string{"allOf", "anyOf", "oneOf"} {
		subs, _ := asSlice(node[c])
		for _, sub := range subs {
			if m, ok := asMap(sub); ok {
				WalkFrom(m, path, c, fn)
			}
		}
	}
	if m, ok := asMap(node["not"]); ok {
		WalkFrom(m, path, "not", fn)
	}
	if props, ok := asMap(node["properties"]); ok {
		for _, name := range PropertyNames(node) {
			if m, ok := asMap(props[name]); ok {
				WalkFrom(m, appendPath(path, name), combiner, fn)
			}
		}
	}
	switch items := node["items"].(type) {
	case map[string]any:
		WalkFrom(items, appendPath(path, "items"), combiner, fn)
	case []any:
		for i, it := range items {
			if m, ok := asMap(it); ok {
				WalkFrom(m, appendPath(path, strconv.Itoa(i)), combiner, fn)
			}
		}
	}
}

func appendPath(path []string, elem string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, elem)
}

// FindFitsKeyword returns the dotted paths of every node mapped to the FITS
// keyword.
func FindFitsKeyword(s map[string]any, keyword string) []string {
	var out []string
	Walk(s, func(node map[string]any, path []string, _ string) bool {
		if kw, _ := node["fits_keyword"].(string); kw == keyword {
			out = append(out, strings.Join(path, "."))
		}
		return false
	})
	return out
}

// SearchResult is one match of Search.
type SearchResult struct {
	Path        string
	Description string
}

// Search finds nodes whose path, title or description contains substring,
// ignoring case. Results are sorted by path.
func Search(s map[string]any, substring string) []SearchResult {
	substring = strings.ToLower(substring)
	var out []SearchResult
	seen := map[string]bool{}
	Walk(s, func(node map[string]any, path []string, _ string) bool {
		p := strings.Join(path, ".")
		title, _ := node["title"].(string)
		desc, _ := node["description"].(string)
		if !strings.Contains(strings.ToLower(p), substring) &&
			!strings.Contains(strings.ToLower(title), substring) &&
			!strings.Contains(strings.ToLower(desc), substring) {
			return false
		}
		text := strings.TrimSpace(strings.Join([]string{title, desc}, "\n\n"))
		if key := p + "\x00" + text; !seen[key] {
			seen[key] = true
			out = append(out, SearchResult{Path: p, Description: text})
		}
		return false
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Subschema returns the merged schema describing the tree path, or nil when
// the schema does not describe it. Integer path elements select array items.
func Subschema(s map[string]any, path []string) map[string]any {
	return Descend(MergePropertyTrees(s), path)
}

// Descend is Subschema for a schema already passed through
// MergePropertyTrees. The result shares structure with merged.
func Descend(merged map[string]any, path []string) map[string]any {
	node := merged
	for _, elem := range path {
		if node == nil {
			return nil
		}
		if props, ok := asMap(node["properties"]); ok {
			if m, ok := asMap(props[elem]); ok {
				node = m
				continue
			}
		}
		if _, err := strconv.Atoi(elem); err == nil || elem == "items" {
			switch items := node["items"].(type) {
			case map[string]any:
				node = items
				continue
			case []any:
				i, _ := strconv.Atoi(elem)
				if i >= 0 && i < len(items) {
					if m, ok := asMap(items[i]); ok {
						node = m
						continue
					}
				}
			}
		}
		return nil
	}
	return node
}
