// Package schemas embeds the data model schema corpus.
package schemas

import (
	"embed"

	"github.com/spacetelescope/stdatamodels-go/schema"
)

// URLPrefix is the id prefix shared by every schema in the corpus.
const URLPrefix = "http://stsci.edu/schemas/jwst_datamodel/"

//go:embed jwst_datamodel/*.yaml
var FS embed.FS

// Mapping maps URLPrefix onto FS.
func Mapping() schema.Mapping {
	return schema.Mapping{Prefix: URLPrefix, FS: FS, Dir: "jwst_datamodel", Suffix: ".yaml"}
}

// NewLoader returns a loader for the embedded corpus.
func NewLoader() *schema.Loader {
	return schema.NewLoader(Mapping())
}

// URL returns the id of the named schema, e.g. URL("image") for
// "http://stsci.edu/schemas/jwst_datamodel/image.schema".
func URL(name string) string {
	return URLPrefix + name + ".schema"
}
