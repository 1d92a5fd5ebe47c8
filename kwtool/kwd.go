// Package kwtool compares the JWST keyword dictionary with the keywords the
// datamodel schemas map to FITS headers.
package kwtool

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// Key identifies a keyword by the HDU it lives in and its name.
type Key struct {
	HDU     string
	Keyword string
}

func (k Key) String() string { return "HDU: " + k.HDU + " KEYWORD: " + k.Keyword }

// Entry is one place a keyword is defined.
type Entry struct {
	// Scope is the dictionary mode ("fgs.fg") or the model type name.
	Scope   string
	Path    []string
	Keyword Keyword
}

// PathString joins Path with dots.
func (e Entry) PathString() string { return strings.Join(e.Path, ".") }

// ErrNoTopSchemas is returned when a keyword dictionary has no top*.json
// files.
var ErrNoTopSchemas = errors.New("kwtool: no top schema files found")

// LoadKWD reads a keyword dictionary. Every top*.json file is a starting
// point; its mode comes from the second and third dot-separated parts of the
// file name. $ref nodes are followed relative to the root of fsys.
func LoadKWD(fsys fs.FS) (map[Key][]Entry, error) {
	tops, err := fs.Glob(fsys, "top*.json")
	if err != nil {
		return nil, err
	}
	if len(tops) == 0 {
		return nil, ErrNoTopSchemas
	}
	sort.Strings(tops)

	out := map[Key][]Entry{}
	for _, name := range tops {
		w := &kwdWalker{fsys: fsys, scope: kwdScope(name)}
		doc, err := w.load(name)
		if err != nil {
			return nil, err
		}
		if err := w.walk(doc, nil, []string{name}); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		for _, e := range w.entries {
			k := Key{HDU: e.Keyword.FitsHDU, Keyword: e.Keyword.FitsKeyword}
			out[k] = append(out[k], e)
		}
	}
	return out, nil
}

func kwdScope(name string) string {
	parts := strings.Split(path.Base(name), ".")
	if len(parts) < 2 {
		return ""
	}
	end := 3
	if end > len(parts) {
		end = len(parts)
	}
	return strings.Join(parts[1:end], ".")
}

type kwdWalker struct {
	fsys    fs.FS
	scope   string
	entries []Entry
}

func (w *kwdWalker) load(name string) (any, error) {
	b, err := fs.ReadFile(w.fsys, name)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return doc, nil
}

// walk collects keyword definitions below node. refs is the stack of files
// being expanded.
func (w *kwdWalker) walk(node any, p []string, refs []string) error {
	switch x := node.(type) {
	case []any:
		for _, it := range x {
			if err := w.walk(it, p, refs); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
	case string, float64, bool:
		return nil
	default:
		return fmt.Errorf("%s: unexpected %T in keyword dictionary", strings.Join(p, "."), node)
	}

	m := node.(map[string]any)
	if ref, ok := m["$ref"].(string); ok {
		if len(m) != 1 {
			return fmt.Errorf("%s: $ref must be the only key", strings.Join(p, "."))
		}
		for _, r := range refs {
			if r == ref {
				return fmt.Errorf("%s: cycle detected through %s", strings.Join(p, "."), ref)
			}
		}
		doc, err := w.load(ref)
		if err != nil {
			return err
		}
		return w.walk(doc, p, append(refs, ref))
	}
	if _, ok := m["fits_keyword"]; ok {
		if _, ok := m["fits_hdu"]; !ok {
			return fmt.Errorf("%s: fits_keyword without fits_hdu", strings.Join(p, "."))
		}
		k, err := keywordFromNode(m)
		if err != nil {
			return fmt.Errorf("%s: %w", strings.Join(p, "."), err)
		}
		w.entries = append(w.entries, Entry{Scope: w.scope, Path: sanitizePath(p), Keyword: k})
		return nil
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.walk(m[k], append(p[:len(p):len(p)], k), refs); err != nil {
			return err
		}
	}
	return nil
}

func sanitizePath(p []string) []string {
	out := make([]string, 0, len(p))
	for _, s := range p {
		if s != "allOf" && s != "properties" {
			out = append(out, s)
		}
	}
	return out
}
