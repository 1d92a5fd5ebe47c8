package stdatamodels

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spacetelescope/stdatamodels-go/schemas"
)

// ModelType describes a kind of data model.
type ModelType struct {
	Name      string
	SchemaURL string
	// Reference models must carry the reference file metadata and always
	// describe JWST data.
	Reference bool
	// PrimaryArray names the array whose shape sizes the others. Empty
	// means "data" when the schema has it.
	PrimaryArray string
	// DynamicDQ translates the dq array through dq_def when a file is read.
	DynamicDQ bool
}

var defaultLoader = schemas.NewLoader()

var registry = struct {
	mu    sync.RWMutex
	types map[string]ModelType
}{types: map[string]ModelType{}}

func init() {
	for _, t := range []ModelType{
		{Name: "DataModel", SchemaURL: schemas.URL("core")},
		{Name: "ImageModel", SchemaURL: schemas.URL("image")},
		{Name: "DarkModel", SchemaURL: schemas.URL("dark"), Reference: true, DynamicDQ: true},
		{Name: "MaskModel", SchemaURL: schemas.URL("mask"), Reference: true, PrimaryArray: "dq", DynamicDQ: true},
		{Name: "FlatModel", SchemaURL: schemas.URL("flat"), Reference: true},
		{Name: "ReferenceFileModel", SchemaURL: schemas.URL("referencefile"), Reference: true},
		{Name: "MultiExposureModel", SchemaURL: schemas.URL("multi")},
		{Name: "TableModel", SchemaURL: schemas.URL("table"), PrimaryArray: "table"},
	} {
		if err := Register(t); err != nil {
			panic(err)
		}
	}
}

// Register adds t to the registry, replacing any type of the same name.
func Register(t ModelType) error {
	if t.Name == "" || t.SchemaURL == "" {
		return fmt.Errorf("stdatamodels: model type needs a name and a schema URL")
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.types[t.Name] = t
	return nil
}

// Lookup returns the registered type called name.
func Lookup(name string) (ModelType, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	t, ok := registry.types[name]
	return t, ok
}

// ModelTypes lists the registered type names, sorted.
func ModelTypes() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	out := make([]string, 0, len(registry.types))
	for name := range registry.types {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
