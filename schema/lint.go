package schema

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/spacetelescope/stdatamodels-go/ndarray"
)

// MetaschemaURL is the id of the metaschema every document is checked
// against.
const MetaschemaURL = "http://stsci.edu/schemas/fits-schema/fits-schema"

//go:embed fits-schema.json
var metaschemaJSON []byte

var (
	metaOnce sync.Once
	meta     *jsonschema.Schema
	metaErr  error
)

func metaschema() (*jsonschema.Schema, error) {
	metaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft4
		if err := c.AddResource(MetaschemaURL, bytes.NewReader(metaschemaJSON)); err != nil {
			metaErr = err
			return
		}
		meta, metaErr = c.Compile(MetaschemaURL)
	})
	return meta, metaErr
}

// Lint checks a raw schema document: it must validate against the FITS
// metaschema, and every node must use the mapping annotations consistently.
// All problems are returned together in a *LintError.
func Lint(s map[string]any) error {
	var problems []string

	m, err := metaschema()
	if err != nil {
		return fmt.Errorf("compile metaschema: %w", err)
	}
	if err := m.Validate(s); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			for _, leaf := range leaves(ve) {
				loc := strings.TrimPrefix(leaf.InstanceLocation, "/")
				problems = append(problems, fmt.Sprintf("%s: %s", pathOrRoot(strings.ReplaceAll(loc, "/", ".")), leaf.Message))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	Walk(s, func(node map[string]any, path []string, _ string) bool {
		p := pathOrRoot(strings.Join(path, "."))
		if kw, ok := node["fits_keyword"]; ok {
			str, isStr := kw.(string)
			switch {
			case !isStr:
				problems = append(problems, fmt.Sprintf("%s: fits_keyword must be a string", p))
			case len(str) > 8:
				problems = append(problems, fmt.Sprintf("%s: fits_keyword %q is longer than 8 characters", p, str))
			}
			if node["type"] == "array" {
				problems = append(problems, fmt.Sprintf("%s: fits_keyword is not valid with type of array", p))
			}
		}
		if hdu, ok := node["fits_hdu"]; ok {
			if _, isStr := hdu.(string); !isStr {
				problems = append(problems, fmt.Sprintf("%s: fits_hdu must be a string", p))
			}
		}
		for _, k := range []string{"ndim", "max_ndim"} {
			if v, ok := node[k]; ok {
				if n, isInt := v.(int64); !isInt || n < 1 {
					problems = append(problems, fmt.Sprintf("%s: %s must be a positive integer", p, k))
				}
			}
		}
		if dt, ok := node["datatype"]; ok {
			if _, err := ndarray.ParseDatatype(dt); err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", p, err))
			}
		}
		return false
	})

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	problems = dedupe(problems)
	id, _ := s["id"].(string)
	return &LintError{ID: id, Problems: problems}
}

func leaves(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
