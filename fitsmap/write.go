package fitsmap

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spacetelescope/stdatamodels-go/asdf"
	"github.com/spacetelescope/stdatamodels-go/fits"
	"github.com/spacetelescope/stdatamodels-go/internal/metrics"
	"github.com/spacetelescope/stdatamodels-go/ndarray"
	"github.com/spacetelescope/stdatamodels-go/schema"
	"github.com/spacetelescope/stdatamodels-go/validate"
)

// ToFITS builds the FITS representation of tree. s must be resolved; allOf
// fragments are merged here. tree is not modified: the hash and the array
// links only appear in the embedded copy.
func ToFITS(tree map[string]any, s map[string]any, opts ...Option) (*fits.HDUList, error) {
	o := buildOptions(opts)
	w := &writer{
		opts:  o,
		list:  fits.NewHDUList(),
		links: map[*ndarray.Array]*fits.HDU{},
		seq:   -1,
	}
	if err := w.node(tree, schema.MergePropertyTrees(s), nil); err != nil {
		return nil, err
	}
	if err := w.extraFits(tree); err != nil {
		return nil, err
	}
	w.history(tree)
	o.metrics.Keywords(metrics.DirectionWrite, w.keywords)

	hash, err := Hash(w.list)
	if err != nil {
		return nil, err
	}
	embedded := mapArrays(tree, w.link).(map[string]any)
	embedded[HashKey] = hash
	hdu, err := asdfHDU(embedded)
	if err != nil {
		return nil, err
	}
	w.list.Append(hdu)
	return w.list, nil
}

type writer struct {
	opts  options
	list  *fits.HDUList
	links map[*ndarray.Array]*fits.HDU
	seq   int

	// pending titles wait for the next keyword. gen changes on every flush
	// so a pop never removes titles pushed after the flush.
	pending []string
	gen     int

	keywords int
}

func (w *writer) node(value any, s map[string]any, p path) error {
	if value == nil || s == nil {
		return nil
	}
	if t, ok := s["type"]; ok && !skipsTypeCheck(value) {
		if _, isArr := value.(*ndarray.Array); !isArr {
			if err := validate.Validate(value, map[string]any{"type": t}, validate.WithPath(p.String())); err != nil {
				if w.opts.strict {
					return err
				}
				w.opts.logger.Warn(err.Error(), "path", p.String())
				return nil
			}
		}
	}

	if kw, ok := s["fits_keyword"].(string); ok {
		if err := w.keyword(kw, value, s, p); err != nil {
			return err
		}
	}
	if a, ok := value.(*ndarray.Array); ok && isArrayNode(s) {
		if err := w.array(a, s, p); err != nil {
			return err
		}
	}

	switch x := value.(type) {
	case map[string]any:
		props, _ := s["properties"].(map[string]any)
		if props == nil {
			return nil
		}
		title, hasTitle := s["title"].(string)
		var mark, gen int
		if hasTitle {
			mark, gen = len(w.pending), w.gen
			w.pending = append(w.pending, title)
		}
		for _, name := range schema.PropertyNames(s) {
			sub, _ := props[name].(map[string]any)
			if err := w.node(x[name], sub, p.with(name)); err != nil {
				return err
			}
		}
		if hasTitle && gen == w.gen {
			w.pending = w.pending[:mark]
		}
	case []any:
		switch items := s["items"].(type) {
		case map[string]any:
			saved := w.seq
			for i, it := range x {
				w.seq = i
				if err := w.node(it, items, p.with(i)); err != nil {
					w.seq = saved
					return err
				}
			}
			w.seq = saved
		case []any:
			for i, it := range x {
				if i >= len(items) {
					break
				}
				sub, _ := items[i].(map[string]any)
				if err := w.node(it, sub, p.with(i)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func skipsTypeCheck(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == "N/A" || x == "#TODO" || x == ""
	}
	return false
}

func (w *writer) keyword(kw string, value any, s map[string]any, p path) error {
	if t, _ := s["type"].(string); t == "array" {
		return fmt.Errorf("%s: fits_keyword is not valid with type of array", p)
	}
	hdu := w.hdu(hduName(s), w.seq, anyKind)

	for _, title := range w.pending {
		hdu.Header.Append(fits.Card{Key: "", Value: ""})
		hdu.Header.Append(fits.Card{Key: "", Value: title})
		hdu.Header.Append(fits.Card{Key: "", Value: ""})
	}
	w.pending = nil
	w.gen++

	if fits.IsCommentary(kw) {
		items, ok := value.([]any)
		if !ok {
			items = []any{value}
		}
		for _, it := range items {
			hdu.Header.Append(fits.Card{Key: kw, Value: fmt.Sprint(it)})
		}
		w.keywords++
		return nil
	}
	v, err := fits.NormalizeValue(value)
	if err != nil {
		err = fmt.Errorf("%s: %w", p, err)
		if w.opts.strict {
			return err
		}
		w.opts.logger.Warn(err.Error(), "path", p.String())
		return nil
	}
	hdu.Header.Set(kw, v, schema.ShortDoc(s))
	w.keywords++
	return nil
}

func (w *writer) array(a *ndarray.Array, s map[string]any, p path) error {
	if len(a.Shape) == 0 {
		return nil
	}
	if !a.Resolved() {
		return fmt.Errorf("%s: array data for %s was never loaded", p, a.Source)
	}
	if err := ndarray.CheckShape(a, intOf(s["ndim"]), intOf(s["max_ndim"])); err != nil {
		err = fmt.Errorf("%s: %w", p, err)
		if w.opts.strict {
			return err
		}
		w.opts.logger.Warn(err.Error(), "path", p.String())
		return nil
	}
	data := a
	if raw, ok := s["datatype"]; ok {
		dt, err := ndarray.ParseDatatype(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		if data, err = ndarray.Cast(a, dt); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}

	name := hduName(s)
	if name == primaryName {
		return fmt.Errorf("%s: schema for data property does not specify a non-primary hdu name", p)
	}
	idx := w.seq
	if idx < 0 {
		idx = 0
	}
	kind := fits.Image
	if data.Dtype.IsStructured() {
		kind = fits.BinTable
	}
	hdu := w.hdu(name, idx, kind)
	hdu.Data = data
	hdu.Header.Set("EXTVER", int64(idx+1), "extension value")
	w.links[a] = hdu
	return nil
}

// anyKind accepts whatever HDU exists and creates an image otherwise.
const anyKind fits.Kind = -1

// hdu returns the HDU for name at sequence index idx, creating it when
// missing. An existing HDU of the wrong kind is replaced in place, keeping
// its non-builtin cards.
func (w *writer) hdu(name string, idx int, kind fits.Kind) *fits.HDU {
	i := findHDU(w.list, name, idx)
	ver := 0
	if idx >= 0 {
		ver = idx + 1
	}
	if i < 0 {
		h := newHDU(name, ver, kind)
		w.list.Append(h)
		return h
	}
	h := w.list.HDUs[i]
	if i == 0 || kind == anyKind || h.Kind == kind {
		return h
	}
	nh := newHDU(name, ver, kind)
	for _, c := range h.Header.Cards() {
		if !IsBuiltinKeyword(c.Key) {
			nh.Header.Append(c)
		}
	}
	nh.Data = h.Data
	w.list.HDUs[i] = nh
	return nh
}

func newHDU(name string, ver int, kind fits.Kind) *fits.HDU {
	if kind == fits.BinTable {
		return fits.NewBinTable(name, ver, nil)
	}
	return fits.NewImage(name, ver, nil)
}

func (w *writer) extraFits(tree map[string]any) error {
	ef, _ := tree["extra_fits"].(map[string]any)
	names := make([]string, 0, len(ef))
	for name := range ef {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		parts, _ := ef[name].(map[string]any)
		if a, ok := parts["data"].(*ndarray.Array); ok && a != nil {
			if !a.Resolved() {
				return fmt.Errorf("extra_fits.%s.data: array data for %s was never loaded", name, a.Source)
			}
			kind := fits.Image
			if a.Dtype.IsStructured() {
				kind = fits.BinTable
			}
			if name == primaryName && kind == fits.BinTable {
				return fmt.Errorf("extra_fits.%s.data: a table cannot be the primary HDU", name)
			}
			h := w.hdu(name, -1, kind)
			h.Data = a
			w.links[a] = h
		}
		cards, _ := parts["header"].([]any)
		if len(cards) == 0 {
			continue
		}
		h := w.hdu(name, -1, anyKind)
		for i, raw := range cards {
			c, err := cardFromList(raw)
			if err != nil {
				return fmt.Errorf("extra_fits.%s.header.%d: %w", name, i, err)
			}
			if IsBuiltinKeyword(c.Key) {
				continue
			}
			h.Header.Append(c)
		}
	}
	return nil
}

func cardFromList(raw any) (fits.Card, error) {
	l, ok := raw.([]any)
	if !ok || len(l) != 3 {
		return fits.Card{}, errors.New("card must be [keyword, value, comment]")
	}
	key, ok := l[0].(string)
	if !ok {
		return fits.Card{}, fmt.Errorf("keyword %v is not a string", l[0])
	}
	v, err := fits.NormalizeValue(l[1])
	if err != nil {
		return fits.Card{}, err
	}
	comment, _ := l[2].(string)
	return fits.Card{Key: key, Value: v, Comment: comment}, nil
}

// history writes history entries as HISTORY cards in the primary header.
// Both the list form and {entries: [...]} are accepted.
func (w *writer) history(tree map[string]any) {
	var entries []any
	switch h := tree["history"].(type) {
	case []any:
		entries = h
	case map[string]any:
		entries, _ = h["entries"].([]any)
	}
	hdr := w.list.Primary().Header
	for _, e := range entries {
		desc := fmt.Sprint(e)
		if m, ok := e.(map[string]any); ok {
			desc = fmt.Sprint(m["description"])
		}
		hdr.Append(fits.Card{Key: "HISTORY", Value: desc})
	}
}

// link replaces arrays that were written to an HDU by a reference to it.
func (w *writer) link(a *ndarray.Array) any {
	h, ok := w.links[a]
	if !ok || h.Data == nil {
		return a
	}
	return ndarray.NewLink(fmt.Sprintf("%s%s,%d", sourcePrefix, h.Name(), h.Ver()), h.Data.Dtype, h.Data.Shape...)
}

func asdfHDU(tree map[string]any) (*fits.HDU, error) {
	b, err := asdf.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("embed tree: %w", err)
	}
	dt := ndarray.Structured(ndarray.Field{Name: asdfColumn, Type: ndarray.Scalar{Kind: ndarray.Uint8}, Shape: []int{len(b)}})
	table := ndarray.NewTable(dt, 1)
	copy(table.Data, b)
	return fits.NewBinTable(asdfName, 0, table), nil
}

func intOf(v any) int {
	switch x := v.(type) {
	case int64:
		return int(x)
	case int:
		return x
	case float64:
		return int(x)
	}
	return 0
}
