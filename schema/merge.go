package schema

import (
	"fmt"
	"strings"
)

// MergePropertyTrees returns a copy of s in which every allOf has been
// folded into its parent. The fold is additive: property trees are unioned
// recursively, required lists are unioned, and for any other keyword the
// later fragment's value replaces the earlier one. Keywords written next to
// the allOf win over the fragments. anyOf and oneOf subtrees are copied
// untouched. s itself is never modified.
func MergePropertyTrees(s map[string]any) map[string]any {
	if s == nil {
		return nil
	}
	out, _ := mergeNode(copyMap(s)).(map[string]any)
	return out
}

func mergeNode(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			switch k {
			case "anyOf", "oneOf", "allOf":
				out[k] = val
			default:
				out[k] = mergeNode(val)
			}
		}
		all, ok := asSlice(out["allOf"])
		if !ok {
			return out
		}
		delete(out, "allOf")
		acc := map[string]any{}
		for _, frag := range all {
			if fm, ok := asMap(mergeNode(frag)); ok {
				mergeInto(acc, fm)
			}
		}
		mergeInto(acc, out)
		return acc
	case []any:
		out := make([]any, len(x))
		for i, it := range x {
			out[i] = mergeNode(it)
		}
		return out
	}
	return v
}

// mergeInto folds src into dst in place.
func mergeInto(dst, src map[string]any) {
	for k, sv := range src {
		switch k {
		case "properties":
			sp, ok := asMap(sv)
			if !ok {
				dst[k] = sv
				continue
			}
			dp, ok := asMap(dst[k])
			if !ok {
				dp = map[string]any{}
			}
			for name, child := range sp {
				dc, dok := asMap(dp[name])
				sc, sok := asMap(child)
				if dok && sok {
					mergeInto(dc, sc)
					continue
				}
				dp[name] = child
			}
			dst[k] = dp
		case PropertyOrderKey:
			dst[k] = unionStrings(stringList(dst[k]), stringList(sv))
		case "required":
			dst[k] = unionStrings(stringList(dst[k]), stringList(sv))
		default:
			dst[k] = sv
		}
	}
}

// Extend returns s combined with ext under allOf and merged.
func Extend(s, ext map[string]any) map[string]any {
	return MergePropertyTrees(map[string]any{"allOf": []any{s, ext}})
}

// AddEntry extends s with entry placed at the dotted position, e.g.
// "meta.foo.bar". Intermediate objects are created as needed. It fails when
// the position is already described with a different type.
func AddEntry(s map[string]any, position string, entry map[string]any) (map[string]any, error) {
	parts := strings.Split(position, ".")
	for _, p := range parts {
		if p == "" {
			return nil, &SchemaError{Path: position, Message: "empty path segment"}
		}
	}
	if existing := Subschema(s, parts); existing != nil {
		et, eok := existing["type"]
		nt, nok := entry["type"]
		if eok && nok && fmt.Sprint(et) != fmt.Sprint(nt) {
			return nil, &SchemaError{Path: position, Message: fmt.Sprintf("already defined with type %v, not %v", et, nt)}
		}
	}
	var node map[string]any = copyMap(entry)
	for i := len(parts) - 1; i >= 0; i-- {
		node = map[string]any{
			"type":           "object",
			"properties":     map[string]any{parts[i]: node},
			PropertyOrderKey: []any{parts[i]},
		}
	}
	return Extend(s, node), nil
}
