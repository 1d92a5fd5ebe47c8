// Package stdatamodels provides schema-described data models for JWST
// science and reference products.
//
// A DataModel pairs a tree of metadata and n-dimensional arrays with the
// schema that describes it. The schema decides which values are valid, where
// each value lives in a FITS file (fits_keyword, fits_hdu) and what arrays
// default to when they are first used.
//
// # Quick Start
//
//	m, err := stdatamodels.Open("jw00001_cal.fits")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	name, _ := m.GetString("meta.instrument.name")
//	fmt.Println(m.Type().Name, name)
//
//	if err := m.Set("meta.exposure.nints", int64(3)); err != nil {
//	    log.Fatal(err)
//	}
//	if err := m.Save("out.asdf"); err != nil {
//	    log.Fatal(err)
//	}
//
// # Validation
//
// Every Set is checked against the schema of the path being assigned. In
// strict mode a failing value is an error. Otherwise a warning is logged and
// the value is dropped, or stored anyway when invalid values are passed
// through. Defaults come from the PASS_INVALID_VALUES, STRICT_VALIDATION,
// VALIDATE_ON_ASSIGNMENT and SKIP_FITS_UPDATE environment variables and can
// be overridden per model with options.
//
// # Files
//
// FITS files carry their full tree in an embedded ASDF extension. Header
// cards the schema does not describe are kept under extra_fits so they
// survive a round trip, and a header edited by another tool takes precedence
// over the embedded copy.
//
// # Concurrency
//
// A DataModel is not safe for concurrent modification. Schema loaders and the
// model type registry are safe for concurrent use.
//
// # Subpackages
//
//   - schema, schemas: schema loading, composition and the embedded corpus
//   - validate: schema validation of trees
//   - fits, asdf: file codecs
//   - fitsmap: schema-driven mapping between trees and FITS HDUs
//   - ndarray: typed arrays and structured tables
//   - dqflags: data quality bit flags
//   - kwtool: keyword dictionary comparison
//   - catalog: SQLite index of keyword values
package stdatamodels
