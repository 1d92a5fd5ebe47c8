package kwtool

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

//go:embed okified.hcl
var okified []byte

// Set operations an adjustment may apply to a collection.
const (
	OpUnion      = "union"
	OpDifference = "difference"
	OpEquals     = "equals"
)

// Collections an adjustment may target.
const (
	CollectionKWD = "kwd"
	CollectionDMD = "dmd"
)

// Expected is the reviewed list of accepted differences.
type Expected struct {
	Entries []ExpectedEntry
	byKey   map[Key]int
}

// ExpectedEntry explains the differences of one keyword.
type ExpectedEntry struct {
	Key         Key
	Notes       string
	Adjustments []Adjustment
}

// Adjustment changes one collection of one kind of difference before the
// two collections are compared again. equals does not change anything: it
// requires the collection to hold exactly Values and pins it.
type Adjustment struct {
	Diff       string
	Collection string
	Operation  string
	Values     []string
}

type expectedFile struct {
	Entries []*expectedBlock `hcl:"expected,block"`
}

type expectedBlock struct {
	HDU     string       `hcl:"hdu,label"`
	Keyword string       `hcl:"keyword,label"`
	Notes   string       `hcl:"notes,optional"`
	Diffs   []*diffBlock `hcl:"diff,block"`
}

type diffBlock struct {
	Name       string   `hcl:"name,label"`
	Collection string   `hcl:"collection"`
	Operation  string   `hcl:"operation"`
	Values     []string `hcl:"values"`
}

// evalContext lets files write the collection names and the missing marker
// as bare variables.
func evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			CollectionDMD: cty.StringVal(CollectionDMD),
			CollectionKWD: cty.StringVal(CollectionKWD),
			"missing":     cty.StringVal(MissingValue),
		},
	}
}

// LoadExpected parses an expected-differences file:
//
//	expected "PRIMARY" "CATEGORY" {
//	  notes = "No fix needed."
//	  diff "enum" {
//	    collection = dmd
//	    operation  = "difference"
//	    values     = [missing]
//	  }
//	}
func LoadExpected(src []byte, filename string) (*Expected, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	var root expectedFile
	if diags := gohcl.DecodeBody(f.Body, evalContext(), &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	e := &Expected{byKey: map[Key]int{}}
	for _, b := range root.Entries {
		k := Key{HDU: b.HDU, Keyword: b.Keyword}
		if _, dup := e.byKey[k]; dup {
			return nil, fmt.Errorf("%s: %s listed twice", filename, k)
		}
		entry := ExpectedEntry{Key: k, Notes: strings.TrimSpace(b.Notes)}
		for _, d := range b.Diffs {
			adj := Adjustment{Diff: d.Name, Collection: d.Collection, Operation: d.Operation, Values: d.Values}
			if err := adj.check(); err != nil {
				return nil, fmt.Errorf("%s: %s: %w", filename, k, err)
			}
			entry.Adjustments = append(entry.Adjustments, adj)
		}
		e.byKey[k] = len(e.Entries)
		e.Entries = append(e.Entries, entry)
	}
	return e, nil
}

// LoadExpectedFile reads an expected-differences file from disk.
func LoadExpectedFile(path string) (*Expected, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadExpected(b, path)
}

// DefaultExpected returns the built-in reviewed differences.
func DefaultExpected() (*Expected, error) {
	return LoadExpected(okified, "okified.hcl")
}

func (a Adjustment) check() error {
	switch a.Diff {
	case DiffPath, DiffTitle, DiffType, DiffEnum:
	default:
		return fmt.Errorf("unknown difference %q", a.Diff)
	}
	switch a.Collection {
	case CollectionKWD, CollectionDMD:
	default:
		return fmt.Errorf("diff %q: unknown collection %q", a.Diff, a.Collection)
	}
	switch a.Operation {
	case OpUnion, OpDifference, OpEquals:
	default:
		return fmt.Errorf("diff %q: unknown operation %q", a.Diff, a.Operation)
	}
	return nil
}

func (e *Expected) lookup(k Key) *ExpectedEntry {
	i, ok := e.byKey[k]
	if !ok {
		return nil
	}
	return &e.Entries[i]
}

// accepts reports whether the adjustments for name explain d: after
// applying them the collections agree, or both were pinned by equals.
func (e *ExpectedEntry) accepts(name string, d Diff) bool {
	cols := map[string]set{
		CollectionKWD: setOf(d.KWD),
		CollectionDMD: setOf(d.DMD),
	}
	pinned := map[string]bool{}
	matched := false
	for _, a := range e.Adjustments {
		if a.Diff != name {
			continue
		}
		matched = true
		target := cols[a.Collection]
		switch a.Operation {
		case OpUnion:
			for _, v := range a.Values {
				target[v] = struct{}{}
			}
		case OpDifference:
			for _, v := range a.Values {
				delete(target, v)
			}
		case OpEquals:
			if !target.equal(setOf(a.Values)) {
				return false
			}
			pinned[a.Collection] = true
		}
	}
	if !matched {
		return false
	}
	return cols[CollectionKWD].equal(cols[CollectionDMD]) || (pinned[CollectionKWD] && pinned[CollectionDMD])
}

func setOf(values []string) set {
	s := make(set, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}
