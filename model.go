package stdatamodels

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spacetelescope/stdatamodels-go/ndarray"
	"github.com/spacetelescope/stdatamodels-go/schema"
	"github.com/spacetelescope/stdatamodels-go/validate"
)

// ErrNotFound is returned when a path does not exist in the model tree.
var ErrNotFound = errors.New("stdatamodels: not found")

// ValidationError reports a value rejected by the schema.
type ValidationError struct {
	Path string
	Err  error
}

func (e *ValidationError) Error() string { return validate.Describe(e.Path, e.Err) }

func (e *ValidationError) Unwrap() error { return e.Err }

// DataModel is a tree of metadata and arrays described by a schema. A model
// is not safe for concurrent modification.
type DataModel struct {
	typ    ModelType
	schema map[string]any
	tree   map[string]any
	opts   options

	// merged caches MergePropertyTrees(schema); nil until first use.
	merged map[string]any
}

// New returns a model of the generic DataModel type described by s, which
// must be resolved.
func New(s map[string]any, opts ...Option) (*DataModel, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	typ := ModelType{Name: "DataModel"}
	if o.modelType != "" {
		if t, ok := Lookup(o.modelType); ok {
			typ = t
		}
	}
	return newModel(typ, s, o)
}

// NewFromURL loads and resolves the schema at url with loader.
func NewFromURL(loader *schema.Loader, url string, opts ...Option) (*DataModel, error) {
	s, err := loader.LoadResolved(url)
	if err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}
	m, err := New(s, opts...)
	if err != nil {
		return nil, err
	}
	m.typ.SchemaURL = url
	return m, nil
}

// NewModel creates an empty model of the registered type name.
func NewModel(name string, opts ...Option) (*DataModel, error) {
	typ, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("stdatamodels: unknown model type %q", name)
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	s, err := o.loader.LoadResolved(typ.SchemaURL)
	if err != nil {
		return nil, fmt.Errorf("loading schema for %s: %w", name, err)
	}
	return newModel(typ, s, o)
}

func newModel(typ ModelType, s map[string]any, o options) (*DataModel, error) {
	m := &DataModel{typ: typ, schema: s, tree: o.tree, opts: o}
	if m.tree == nil {
		m.tree = map[string]any{}
	}
	if typ.Name != "DataModel" {
		if _, ok := lookup(m.tree, []string{"meta", "model_type"}); !ok {
			_ = put(m.tree, []string{"meta", "model_type"}, typ.Name)
		}
	}
	if typ.Reference {
		_ = put(m.tree, []string{"meta", "telescope"}, "JWST")
	}
	if o.tree != nil {
		if err := m.Validate(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Type is the model's registered type.
func (m *DataModel) Type() ModelType { return m.typ }

// Schema returns the model's resolved schema.
func (m *DataModel) Schema() map[string]any { return m.schema }

// SchemaURL is the id the schema was loaded from, if any.
func (m *DataModel) SchemaURL() string { return m.typ.SchemaURL }

// Tree exposes the underlying tree.
func (m *DataModel) Tree() map[string]any { return m.tree }

// Get returns the value at the dotted path, e.g. "meta.instrument.name".
func (m *DataModel) Get(path string) (any, error) {
	v, ok := lookup(m.tree, splitPath(path))
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return v, nil
}

// GetString is Get for string values.
func (m *DataModel) GetString(path string) (string, error) {
	v, err := m.Get(path)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: %T is not a string", path, v)
	}
	return s, nil
}

// Set stores v at the dotted path after checking it against the schema.
// Setting nil deletes the value. When the check fails, strict models
// return a *ValidationError; lenient ones warn and keep the old value
// unless invalid values are passed through.
func (m *DataModel) Set(path string, v any) error {
	parts := splitPath(path)
	if v == nil {
		m.Delete(path)
		return nil
	}
	sub := m.subschema(parts)
	if a, ok := v.(*ndarray.Array); ok && sub != nil {
		cast, err := castArray(a, sub)
		if err != nil {
			return &ValidationError{Path: path, Err: err}
		}
		v = cast
	}
	ok, err := m.check(path, v, sub)
	if err != nil || !ok {
		return err
	}
	return put(m.tree, parts, v)
}

func (m *DataModel) subschema(parts []string) map[string]any {
	if m.merged == nil {
		m.merged = schema.MergePropertyTrees(m.schema)
	}
	return schema.Descend(m.merged, parts)
}

func castArray(a *ndarray.Array, s map[string]any) (*ndarray.Array, error) {
	raw, ok := s["datatype"]
	if !ok || !a.Resolved() {
		return a, nil
	}
	dt, err := ndarray.ParseDatatype(raw)
	if err != nil {
		return nil, err
	}
	return ndarray.Cast(a, dt)
}

// check runs the assignment check and reports whether v may be stored.
func (m *DataModel) check(path string, v any, s map[string]any) (bool, error) {
	if !m.opts.validateOnAssignment || s == nil {
		return true, nil
	}
	err := validate.Validate(v, s, validate.WithArrays(m.opts.validateArrays), validate.WithPath(path))
	m.opts.metrics.Validation(err == nil)
	if err == nil {
		return true, nil
	}
	verr := &ValidationError{Path: path, Err: err}
	if m.opts.strict {
		return false, verr
	}
	m.opts.logger.Warn(verr.Error(), "path", path)
	return m.opts.passInvalid, nil
}

// Delete removes the value at path. It reports whether anything was there.
func (m *DataModel) Delete(path string) bool {
	return remove(m.tree, splitPath(path))
}

// Items lists every non-nil leaf of the tree under its dotted path, sorted.
func (m *DataModel) Items() []Item { return flatten(m.tree) }

// Keys lists the dotted paths of Items.
func (m *DataModel) Keys() []string {
	items := m.Items()
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Key
	}
	return out
}

// Values lists the values of Items.
func (m *DataModel) Values() []any {
	items := m.Items()
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it.Value
	}
	return out
}

// ToFlatDict maps dotted paths to leaf values, optionally leaving out
// arrays.
func (m *DataModel) ToFlatDict(includeArrays bool) map[string]any {
	out := map[string]any{}
	for _, it := range m.Items() {
		if !includeArrays && isArray(it.Value) {
			continue
		}
		out[it.Key] = it.Value
	}
	return out
}

func (m *DataModel) primaryArrayName() string {
	if m.typ.PrimaryArray != "" {
		return m.typ.PrimaryArray
	}
	if m.subschema([]string{"data"}) != nil {
		return "data"
	}
	return ""
}

// Shape is the shape set with WithShape or, failing that, the shape of the
// primary array when it exists.
func (m *DataModel) Shape() []int {
	if m.opts.shape != nil {
		return m.opts.shape
	}
	if name := m.primaryArrayName(); name != "" {
		if a, ok := m.tree[name].(*ndarray.Array); ok {
			return a.Shape
		}
	}
	return nil
}

// Array returns the array stored under name. A missing array is created
// from its schema, filled with the schema default and sized after the
// primary array, then stored.
func (m *DataModel) Array(name string) (*ndarray.Array, error) {
	parts := splitPath(name)
	if v, ok := lookup(m.tree, parts); ok {
		a, ok := v.(*ndarray.Array)
		if !ok {
			return nil, fmt.Errorf("%s: %T is not an array", name, v)
		}
		return a, nil
	}
	s := m.subschema(parts)
	if s == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	raw, ok := s["datatype"]
	if !ok {
		return nil, fmt.Errorf("%s: schema has no datatype", name)
	}
	dt, err := ndarray.ParseDatatype(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	ndim := intValue(s["ndim"])
	if ndim == 0 {
		ndim = intValue(s["max_ndim"])
	}

	var shape []int
	def, hasDefault := s["default"]
	switch {
	case name == m.primaryArrayName():
		shape = m.opts.shape
		if shape == nil {
			shape = zeros(ndim)
		}
	case dt.IsStructured():
		shape = zeros(ndim)
		hasDefault = false
	default:
		if ps := m.primaryShape(); ps != nil {
			shape = ps
			if ndim > 0 && ndim < len(ps) {
				shape = ps[len(ps)-ndim:]
			}
		} else {
			shape = zeros(ndim)
		}
	}

	a := ndarray.New(dt, shape...)
	if hasDefault && !dt.IsStructured() && !dt.Kind.IsString() {
		a.Fill(floatValue(def))
	}
	if err := put(m.tree, parts, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (m *DataModel) primaryShape() []int {
	name := m.primaryArrayName()
	if name == "" {
		return nil
	}
	if _, ok := m.tree[name]; !ok && m.opts.shape == nil {
		return nil
	}
	a, err := m.Array(name)
	if err != nil {
		return nil
	}
	return a.Shape
}

// SetArray is Set for arrays.
func (m *DataModel) SetArray(name string, a *ndarray.Array) error {
	return m.Set(name, a)
}

func zeros(ndim int) []int {
	if ndim <= 0 {
		return []int{0}
	}
	return make([]int, ndim)
}

func intValue(v any) int {
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

func floatValue(v any) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case int:
		return float64(x)
	case float64:
		return x
	case bool:
		if x {
			return 1
		}
	}
	return 0
}

// ExtendSchema combines the model schema with ext and revalidates.
func (m *DataModel) ExtendSchema(ext map[string]any) error {
	m.schema = schema.Extend(m.schema, ext)
	m.merged = nil
	return m.Validate()
}

// AddSchemaEntry places entry at the dotted position and revalidates.
func (m *DataModel) AddSchemaEntry(position string, entry map[string]any) error {
	s, err := schema.AddEntry(m.schema, position, entry)
	if err != nil {
		return err
	}
	m.schema = s
	m.merged = nil
	return m.Validate()
}

// FindFitsKeyword returns the schema paths mapped to keyword.
func (m *DataModel) FindFitsKeyword(keyword string) []string {
	return schema.FindFitsKeyword(m.schema, strings.ToUpper(keyword))
}

// SearchSchema finds schema entries mentioning substring.
func (m *DataModel) SearchSchema(substring string) []schema.SearchResult {
	return schema.Search(m.schema, substring)
}

// Validate checks the whole tree. Strict models return the failure; lenient
// ones log it and return nil.
func (m *DataModel) Validate() error {
	if m.typ.Reference {
		if err := m.ValidateReference(); err != nil {
			return err
		}
	}
	err := validate.Validate(withoutNils(m.tree), m.schema, validate.WithArrays(m.opts.validateArrays))
	m.opts.metrics.Validation(err == nil)
	if err == nil {
		return nil
	}
	verr := &ValidationError{Path: m.typ.Name, Err: err}
	if m.opts.strict {
		return verr
	}
	m.opts.logger.Warn(verr.Error(), "model_type", m.typ.Name)
	return nil
}

// History returns the history entries.
func (m *DataModel) History() []map[string]any {
	v, ok := lookup(m.tree, []string{"history", "entries"})
	if !ok {
		return nil
	}
	list, _ := v.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, e := range list {
		if entry, ok := e.(map[string]any); ok {
			out = append(out, entry)
		}
	}
	return out
}

// AddHistory appends an entry stamped with the current UTC time. Each
// software map should carry name, author, homepage and version.
func (m *DataModel) AddHistory(description string, software ...map[string]any) {
	entry := map[string]any{
		"description": description,
		"time":        time.Now().UTC().Format(timeLayout),
	}
	switch len(software) {
	case 0:
	case 1:
		entry["software"] = software[0]
	default:
		list := make([]any, len(software))
		for i, s := range software {
			list[i] = s
		}
		entry["software"] = list
	}
	h, _ := m.tree["history"].(map[string]any)
	if h == nil {
		h = map[string]any{}
		m.tree["history"] = h
	}
	entries, _ := h["entries"].([]any)
	h["entries"] = append(entries, entry)
}

const timeLayout = "2006-01-02T15:04:05.000"
