package fitsmap

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/spacetelescope/stdatamodels-go/asdf"
	"github.com/spacetelescope/stdatamodels-go/fits"
	"github.com/spacetelescope/stdatamodels-go/internal/metrics"
	"github.com/spacetelescope/stdatamodels-go/ndarray"
	"github.com/spacetelescope/stdatamodels-go/schema"
)

// FromFITS rebuilds a tree from list. The embedded ASDF tree, when present,
// is the starting point and its fits: links resolve to HDU data. Unless the
// refresh is skipped, every annotated keyword and array is then read from
// the HDUs, and cards and data the schema does not describe are collected
// under extra_fits.
func FromFITS(list *fits.HDUList, s map[string]any, opts ...Option) (map[string]any, error) {
	o := buildOptions(opts)
	if list == nil || list.Len() == 0 {
		return nil, fmt.Errorf("fitsmap: empty HDU list")
	}
	tree, err := embeddedTree(list)
	if err != nil {
		return nil, fmt.Errorf("loading embedded ASDF: %w", err)
	}

	skip, err := o.shouldSkip(list, tree)
	if err != nil {
		return nil, err
	}
	delete(tree, HashKey)

	r := &reader{
		opts:   o,
		list:   list,
		tree:   tree,
		skip:   skip,
		known:  map[int]map[string]bool{},
		datas:  map[int]bool{},
		maxVer: maxExtver(list),
	}
	if !skip || r.hasTables() {
		if err := r.load(schema.MergePropertyTrees(s), nil, -1); err != nil {
			return nil, err
		}
	}
	if !skip {
		r.extraFits()
	}
	r.history()
	o.metrics.Keywords(metrics.DirectionRead, r.keywords)
	return tree, nil
}

func embeddedTree(list *fits.HDUList) (map[string]any, error) {
	i := list.Index(asdfName, 1)
	if i < 0 {
		return map[string]any{}, nil
	}
	data := list.HDUs[i].Data
	if data == nil || len(data.Dtype.Fields) != 1 || data.Dtype.Fields[0].Type.Kind != ndarray.Uint8 {
		return nil, fmt.Errorf("%s HDU does not hold a %s byte column", asdfName, asdfColumn)
	}
	tree, err := asdf.Unmarshal(data.Data)
	if err != nil {
		return nil, err
	}
	var linkErr error
	resolved := mapArrays(tree, func(a *ndarray.Array) any {
		if a.Resolved() || linkErr != nil {
			return a
		}
		out, err := resolveLink(list, a.Source)
		if err != nil {
			linkErr = err
			return a
		}
		return out
	})
	if linkErr != nil {
		return nil, linkErr
	}
	return resolved.(map[string]any), nil
}

var linkRe = regexp.MustCompile(`^(?:([ -~]+),)?([0-9]+)$`)

func resolveLink(list *fits.HDUList, source string) (*ndarray.Array, error) {
	if len(source) <= len(sourcePrefix) || source[:len(sourcePrefix)] != sourcePrefix {
		return nil, fmt.Errorf("unsupported array source %q", source)
	}
	m := linkRe.FindStringSubmatch(source[len(sourcePrefix):])
	if m == nil {
		return nil, fmt.Errorf("malformed array source %q", source)
	}
	n, _ := strconv.Atoi(m[2])
	var hdu *fits.HDU
	if m[1] == "" {
		if n < list.Len() {
			hdu = list.HDUs[n]
		}
	} else if h, ok := list.Get(m[1], n); ok {
		hdu = h
	}
	if hdu == nil || hdu.Data == nil {
		return nil, fmt.Errorf("array source %q: no such HDU data", source)
	}
	return hdu.Data, nil
}

// shouldSkip decides whether keywords may be taken from the embedded tree
// instead of the headers.
func (o options) shouldSkip(list *fits.HDUList, tree map[string]any) (bool, error) {
	if o.skip != nil && !*o.skip {
		return false, nil
	}
	if len(tree) == 0 {
		o.logger.Debug("no ASDF information found, cannot skip updating from FITS headers")
		return false, nil
	}
	if got := list.Primary().Header.StringValue("DATAMODL"); got != o.modelType {
		o.logger.Debug("model type does not match, cannot skip updating from FITS headers",
			"file_model_type", got, "model_type", o.modelType)
		return false, nil
	}
	if stored, ok := tree[HashKey].(string); ok {
		h, err := Hash(list)
		if err != nil {
			return false, err
		}
		if stored == h {
			o.logger.Debug("FITS hash matches, skipping FITS updating")
			return true, nil
		}
	}
	return o.skip != nil, nil
}

type reader struct {
	opts   options
	list   *fits.HDUList
	tree   map[string]any
	skip   bool
	known  map[int]map[string]bool
	datas  map[int]bool
	maxVer int

	keywords int
}

func (r *reader) hasTables() bool {
	for _, h := range r.list.HDUs {
		if h.Kind == fits.BinTable && h.Name() != asdfName {
			return true
		}
	}
	return false
}

// load walks s. idx is the sequence index (-1 outside sequences).
func (r *reader) load(s map[string]any, p path, idx int) error {
	if s == nil {
		return nil
	}
	if kw, ok := s["fits_keyword"].(string); ok {
		if !r.skip {
			r.assign(p, r.keyword(kw, s, idx), s)
		}
	} else if isArrayNode(s) {
		v, err := r.array(s, p, idx)
		if err != nil {
			return err
		}
		r.assign(p, v, s)
	}

	if t, _ := s["type"].(string); t == "array" && hasFitsHDU(s) {
		items, _ := s["items"].(map[string]any)
		for i := 0; i < r.maxVer; i++ {
			if err := r.load(items, p.with(i), i); err != nil {
				return err
			}
		}
		return nil
	}

	for _, c := range []string{"allOf", "anyOf", "oneOf"} {
		subs, _ := s[c].([]any)
		for _, sub := range subs {
			sm, _ := sub.(map[string]any)
			if err := r.load(sm, p, idx); err != nil {
				return err
			}
		}
	}
	if props, ok := s["properties"].(map[string]any); ok {
		for _, name := range schema.PropertyNames(s) {
			sub, _ := props[name].(map[string]any)
			if err := r.load(sub, p.with(name), idx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *reader) assign(p path, v any, s map[string]any) {
	if v == nil {
		if r.opts.assign != nil {
			r.opts.assign(p.String(), nil, s)
		}
		return
	}
	if r.opts.assign != nil && !r.opts.assign(p.String(), v, s) {
		return
	}
	putValue(r.tree, p, v)
}

func (r *reader) keyword(kw string, s map[string]any, idx int) any {
	i := findHDU(r.list, hduName(s), idx)
	if i < 0 {
		return nil
	}
	hdr := r.list.HDUs[i].Header
	var v any
	if fits.IsCommentary(kw) {
		texts := hdr.Commentary(kw)
		if len(texts) == 0 {
			return nil
		}
		l := make([]any, len(texts))
		for j, t := range texts {
			l[j] = t
		}
		v = l
	} else {
		c, ok := hdr.Get(kw)
		if !ok {
			return nil
		}
		v = c.Value
	}
	if r.known[i] == nil {
		r.known[i] = map[string]bool{}
	}
	r.known[i][kw] = true
	r.keywords++
	return v
}

func (r *reader) array(s map[string]any, p path, idx int) (any, error) {
	name := hduName(s)
	if name == primaryName {
		return nil, fmt.Errorf("%s: schema for data property does not specify a non-primary hdu name", p)
	}
	i := findHDU(r.list, name, idx)
	if i < 0 {
		return nil, nil
	}
	r.datas[i] = true
	data := r.list.HDUs[i].Data
	if data == nil {
		return nil, nil
	}
	if raw, ok := s["datatype"]; ok && r.opts.cast {
		dt, err := ndarray.ParseDatatype(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if data, err = ndarray.Cast(data, dt); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return data, nil
}

func hasFitsHDU(s map[string]any) bool {
	found := false
	schema.Walk(s, func(node map[string]any, _ []string, _ string) bool {
		if _, ok := node["fits_hdu"]; ok {
			found = true
		}
		return found
	})
	return found
}

// extraFits replaces extra_fits with every card and data array the schema
// did not claim.
func (r *reader) extraFits() {
	delete(r.tree, "extra_fits")
	for i, h := range r.list.HDUs {
		name := h.Name()
		if name == asdfName {
			continue
		}
		if name == "" {
			name = "HDU" + strconv.Itoa(i)
		}
		var cards []any
		for _, c := range h.Header.Cards() {
			if IsBuiltinKeyword(c.Key) || r.known[i][c.Key] {
				continue
			}
			cards = append(cards, []any{c.Key, c.Value, c.Comment})
		}
		if len(cards) > 0 {
			putValue(r.tree, path{"extra_fits", name, "header"}, cards)
		}
		if !r.datas[i] && h.Data != nil && len(h.Data.Shape) > 0 {
			putValue(r.tree, path{"extra_fits", name, "data"}, h.Data)
		}
	}
}

// history turns primary HISTORY cards into history entries. Entries from
// the embedded tree are kept when their descriptions still match the cards.
func (r *reader) history() {
	cards := r.list.Primary().Header.Commentary("HISTORY")
	if len(cards) == 0 {
		return
	}
	if h, ok := r.tree["history"].(map[string]any); ok {
		if entries, ok := h["entries"].([]any); ok && sameDescriptions(entries, cards) {
			return
		}
	}
	entries := make([]any, len(cards))
	for i, c := range cards {
		entries[i] = map[string]any{"description": c}
	}
	r.tree["history"] = map[string]any{"entries": entries}
}

func sameDescriptions(entries []any, cards []string) bool {
	if len(entries) != len(cards) {
		return false
	}
	for i, e := range entries {
		m, ok := e.(map[string]any)
		if !ok || fmt.Sprint(m["description"]) != cards[i] {
			return false
		}
	}
	return true
}
