package schema

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net/url"
	"path"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Fetcher optionally provides bytes for schema ids no Mapping covers.
// The package ships no HTTP implementation; tools own IO.
type Fetcher interface {
	Fetch(u *url.URL) ([]byte, error)
}

// Mapping serves every id starting with Prefix from FS. The rest of the id,
// joined to Dir and followed by Suffix (".yaml" when empty), names the file.
type Mapping struct {
	Prefix string
	FS     fs.FS
	Dir    string
	Suffix string
}

func (m Mapping) file(id string) (string, bool) {
	if m.FS == nil || !strings.HasPrefix(id, m.Prefix) {
		return "", false
	}
	suffix := m.Suffix
	if suffix == "" {
		suffix = ".yaml"
	}
	return path.Join(m.Dir, strings.TrimPrefix(id, m.Prefix)+suffix), true
}

// Loader reads schema documents by id and caches them. It is safe for
// concurrent use.
type Loader struct {
	// Fetch is consulted for ids no mapping covers. If nil, such ids fail.
	Fetch Fetcher

	mappings []Mapping

	mu       sync.Mutex
	docs     map[string]map[string]any
	resolved map[string]map[string]any
}

// NewLoader returns a loader serving ids from mappings, first match wins.
func NewLoader(mappings ...Mapping) *Loader {
	return &Loader{
		mappings: mappings,
		docs:     map[string]map[string]any{},
		resolved: map[string]map[string]any{},
	}
}

// Load returns a copy of the raw document with the given id. A fragment in
// the id is ignored.
func (l *Loader) Load(id string) (map[string]any, error) {
	doc, err := l.load(id)
	if err != nil {
		return nil, err
	}
	return copyMap(doc), nil
}

func (l *Loader) load(id string) (map[string]any, error) {
	id, _, _ = strings.Cut(id, "#")
	l.mu.Lock()
	doc, ok := l.docs[id]
	l.mu.Unlock()
	if ok {
		return doc, nil
	}

	b, err := l.read(id)
	if err != nil {
		return nil, err
	}
	doc, err = Decode(b)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", id, err)
	}

	l.mu.Lock()
	l.docs[id] = doc
	l.mu.Unlock()
	return doc, nil
}

func (l *Loader) read(id string) ([]byte, error) {
	for _, m := range l.mappings {
		if name, ok := m.file(id); ok {
			b, err := fs.ReadFile(m.FS, name)
			if err != nil {
				return nil, fmt.Errorf("schema %s: %w", id, err)
			}
			return b, nil
		}
	}
	if l.Fetch == nil {
		return nil, fmt.Errorf("schema %s: no mapping and no fetcher", id)
	}
	u, err := url.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", id, err)
	}
	return l.Fetch.Fetch(u)
}

// LoadResolved returns the document with every $ref inlined. Relative
// references resolve against the id of the document that contains them.
func (l *Loader) LoadResolved(id string) (map[string]any, error) {
	id, _, _ = strings.Cut(id, "#")
	l.mu.Lock()
	cached, ok := l.resolved[id]
	l.mu.Unlock()
	if ok {
		return copyMap(cached), nil
	}

	doc, err := l.load(id)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(id)
	if err != nil {
		return nil, &RefError{Ref: id, Err: err}
	}
	r := &resolver{l: l, refStack: map[string]bool{id: true}}
	out, err := r.resolve(doc, base, "")
	if err != nil {
		return nil, err
	}
	m, ok := asMap(out)
	if !ok {
		return nil, &SchemaError{Message: id + " is not a mapping"}
	}

	l.mu.Lock()
	l.resolved[id] = m
	l.mu.Unlock()
	return copyMap(m), nil
}

type resolver struct {
	l *Loader
	// refStack tracks the documents and fragments being inlined, to detect
	// cycles.
	refStack map[string]bool
}

func (r *resolver) resolve(node any, base *url.URL, p string) (any, error) {
	switch x := node.(type) {
	case map[string]any:
		if ref, ok := x["$ref"].(string); ok && strings.TrimSpace(ref) != "" {
			return r.resolveRef(ref, base, p)
		}
		out := make(map[string]any, len(x))
		for k, v := range x {
			nv, err := r.resolve(v, base, ptrJoin(p, k))
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, v := range x {
			nv, err := r.resolve(v, base, fmt.Sprintf("%s[%d]", p, i))
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	}
	return node, nil
}

func (r *resolver) resolveRef(ref string, base *url.URL, p string) (any, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, &RefError{Path: pathOrRoot(p), Ref: ref, Err: err}
	}
	u = base.ResolveReference(u)
	key := u.String()
	if r.refStack[key] {
		return nil, &RefError{Path: pathOrRoot(p), Ref: ref, Err: errors.New("cycle detected")}
	}
	r.refStack[key] = true
	defer delete(r.refStack, key)

	docURL := *u
	docURL.Fragment = ""
	doc, err := r.l.load(docURL.String())
	if err != nil {
		return nil, &RefError{Path: pathOrRoot(p), Ref: ref, Err: err}
	}
	target, err := resolveJSONPointer(doc, u.Fragment)
	if err != nil {
		return nil, &RefError{Path: pathOrRoot(p), Ref: ref, Err: err}
	}
	return r.resolve(target, &docURL, p)
}

// Decode parses one YAML (or JSON) schema document. Mappings become
// map[string]any, integers int64, and every node that has `properties`
// gains an x-property-order list.
func Decode(b []byte) (map[string]any, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(b, &root); err != nil {
		return nil, err
	}
	if root.Kind == 0 {
		return nil, errors.New("empty document")
	}
	v, err := fromNode(&root)
	if err != nil {
		return nil, err
	}
	m, ok := asMap(v)
	if !ok {
		return nil, fmt.Errorf("document is a %T, not a mapping", v)
	}
	return m, nil
}

func fromNode(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return fromNode(n.Content[0])
	case yaml.AliasNode:
		return fromNode(n.Alias)
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := fromNode(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			val, err := fromNode(v)
			if err != nil {
				return nil, err
			}
			out[k.Value] = val
			if k.Value == "properties" && v.Kind == yaml.MappingNode {
				order := make([]any, 0, len(v.Content)/2)
				for j := 0; j < len(v.Content); j += 2 {
					order = append(order, v.Content[j].Value)
				}
				out[PropertyOrderKey] = order
			}
		}
		return out, nil
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return normalizeScalar(v), nil
	}
	return nil, fmt.Errorf("line %d: unsupported YAML node", n.Line)
}

func normalizeScalar(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x)
		}
		return float64(x)
	}
	return v
}
