// Package schema loads and manipulates data model schema documents.
//
// A schema is a YAML mapping decoded to map[string]any. Beyond JSON Schema
// draft 4 it understands the FITS mapping annotations:
//   - fits_keyword: the header keyword a scalar value is stored under
//   - fits_hdu: the HDU holding the keyword or array (PRIMARY by default)
//   - ndim, max_ndim, datatype: constraints that mark a node as an array
//
// Documents are decoded with their property order recorded under
// x-property-order, so walks and FITS output follow the order the schema
// author wrote.
//
// allOf handling is additive: MergePropertyTrees unions property trees and
// never intersects. anyOf and oneOf are left as written.
package schema
