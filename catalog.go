package stdatamodels

import (
	"strings"

	"github.com/spacetelescope/stdatamodels-go/catalog"
	"github.com/spacetelescope/stdatamodels-go/schema"
)

// CatalogProduct collects the FITS keyword values present in m for
// ingestion into a catalog. Keywords inside sequences are left out.
func CatalogProduct(m *DataModel) catalog.Product {
	p := catalog.Product{ModelType: m.typ.Name}
	p.Filename, _ = m.GetString("meta.filename")
	schema.Walk(m.schema, func(node map[string]any, path []string, _ string) bool {
		kw, ok := node["fits_keyword"].(string)
		if !ok || inSequence(path) {
			return false
		}
		v, ok := lookup(m.tree, path)
		if !ok || isArray(v) {
			return false
		}
		hdu := "PRIMARY"
		if name, ok := node["fits_hdu"].(string); ok {
			hdu = strings.ToUpper(name)
		}
		p.Keywords = append(p.Keywords, catalog.KeywordValue{
			HDU:     hdu,
			Keyword: kw,
			Path:    strings.Join(path, "."),
			Value:   v,
		})
		return false
	})
	return p
}
