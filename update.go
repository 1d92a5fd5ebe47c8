package stdatamodels

import (
	"strings"

	"github.com/spacetelescope/stdatamodels-go/schema"
)

// Update copies keyword values from other into m. Only keywords whose
// fits_hdu is listed in only are copied; an empty list means PRIMARY plus
// every HDU the schema of m names. meta.date and meta.model_type are never
// copied. With extraFits the extra_fits headers of those HDUs come along.
// The model is revalidated afterwards.
func (m *DataModel) Update(other *DataModel, only []string, extraFits bool) error {
	hdus := map[string]bool{}
	if len(only) > 0 {
		for _, name := range only {
			hdus[strings.ToUpper(name)] = true
		}
	} else {
		hdus["PRIMARY"] = true
		schema.Walk(m.schema, func(node map[string]any, _ []string, _ string) bool {
			if name, ok := node["fits_hdu"].(string); ok {
				hdus[strings.ToUpper(name)] = true
			}
			return false
		})
	}

	var paths [][]string
	schema.Walk(other.schema, func(node map[string]any, path []string, _ string) bool {
		if _, ok := node["fits_keyword"]; !ok {
			return false
		}
		hdu := "PRIMARY"
		if name, ok := node["fits_hdu"].(string); ok {
			hdu = strings.ToUpper(name)
		}
		if hdus[hdu] && !inSequence(path) && !protected(path) {
			paths = append(paths, append([]string(nil), path...))
		}
		return false
	})

	for _, p := range paths {
		v, ok := lookup(other.tree, p)
		if !ok {
			continue
		}
		if err := put(m.tree, p, schema.DeepCopy(v)); err != nil {
			return err
		}
	}
	if extraFits {
		for name := range hdus {
			p := []string{"extra_fits", name, "header"}
			if v, ok := lookup(other.tree, p); ok {
				if err := put(m.tree, p, schema.DeepCopy(v)); err != nil {
					return err
				}
			}
		}
	}
	return m.Validate()
}

func inSequence(path []string) bool {
	for _, p := range path {
		if p == "items" {
			return true
		}
	}
	return false
}

func protected(path []string) bool {
	return len(path) == 2 && path[0] == "meta" && (path[1] == "date" || path[1] == "model_type")
}
