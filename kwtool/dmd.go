package kwtool

import (
	"fmt"
	"strings"

	"github.com/spacetelescope/stdatamodels-go/schema"
)

// ModelRef names a model type and the schema describing it.
type ModelRef struct {
	Name      string
	SchemaURL string
}

// LoadDMD collects the fits_keyword nodes of every model schema. Keys are
// upper-cased and a missing fits_hdu means PRIMARY.
func LoadDMD(loader *schema.Loader, models []ModelRef) (map[Key][]Entry, error) {
	out := map[Key][]Entry{}
	for _, ref := range models {
		if ref.SchemaURL == "" {
			continue
		}
		s, err := loader.LoadResolved(ref.SchemaURL)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ref.Name, err)
		}
		var walkErr error
		schema.Walk(s, func(node map[string]any, path []string, _ string) bool {
			kw, ok := node["fits_keyword"].(string)
			if !ok || walkErr != nil {
				return walkErr != nil
			}
			k, err := keywordFromNode(node)
			if err != nil {
				walkErr = fmt.Errorf("%s: %s: %w", ref.Name, strings.Join(path, "."), err)
				return true
			}
			hdu := "PRIMARY"
			if h, ok := node["fits_hdu"].(string); ok {
				hdu = h
			}
			key := Key{HDU: strings.ToUpper(hdu), Keyword: strings.ToUpper(kw)}
			out[key] = append(out[key], Entry{
				Scope:   ref.Name,
				Path:    append([]string(nil), path...),
				Keyword: k,
			})
			return false
		})
		if walkErr != nil {
			return nil, walkErr
		}
	}
	return out, nil
}
