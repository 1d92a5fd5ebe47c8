// Package fitsmap converts between data model trees and FITS files using the
// fits_keyword and fits_hdu annotations of a schema.
//
// ToFITS writes every annotated value into its HDU, appends the cards and
// data preserved under extra_fits, writes history as HISTORY cards and
// embeds the full tree as ASDF in a final "ASDF" binary table. FromFITS
// reverses the process: it starts from the embedded tree, then refreshes it
// from the headers unless the file is known to be unchanged.
package fitsmap

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"regexp"
	"strings"

	"github.com/spacetelescope/stdatamodels-go/fits"
	"github.com/spacetelescope/stdatamodels-go/internal/metrics"
)

const (
	primaryName = "PRIMARY"
	asdfName    = "ASDF"
	asdfColumn  = "ASDF_METADATA"

	// HashKey is where ToFITS records the header hash in the embedded tree.
	HashKey = "_fits_hash"

	sourcePrefix = "fits:"
)

var builtinRe = regexp.MustCompile(`^(|NAXIS[0-9]{0,3}|BITPIX|XTENSION|PCOUNT|GCOUNT|EXTEND|BSCALE|BZERO|BLANK|DATAMAX|DATAMIN|EXTNAME|EXTVER|EXTLEVEL|GROUPS|PYTPE[0-9]|PSCAL[0-9]|PZERO[0-9]|SIMPLE|TFIELDS|TBCOL[0-9]{1,3}|TFORM[0-9]{1,3}|TTYPE[0-9]{1,3}|TUNIT[0-9]{1,3}|TSCAL[0-9]{1,3}|TZERO[0-9]{1,3}|TNULL[0-9]{1,3}|TDISP[0-9]{1,3}|TDIM[0-9]{1,3}|HISTORY)$`)

// IsBuiltinKeyword reports whether key is managed by the FITS layer itself
// and so never travels through extra_fits.
func IsBuiltinKeyword(key string) bool {
	return builtinRe.MatchString(strings.ToUpper(strings.TrimSpace(key)))
}

// AssignFunc decides whether a value read from FITS is stored in the tree.
// It is called with a nil value for annotated entries missing from the file;
// those are never stored.
type AssignFunc func(path string, value any, s map[string]any) bool

type options struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	strict    bool
	modelType string
	skip      *bool
	cast      bool
	assign    AssignFunc
}

// Option configures ToFITS and FromFITS.
type Option func(*options)

// WithLogger sets the logger for warnings and skip decisions.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics counts keywords moved in each direction.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithStrict makes ToFITS fail on values of the wrong type instead of
// logging and skipping them.
func WithStrict(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

// WithModelType names the model being read. It must match DATAMODL for the
// header refresh to be skipped.
func WithModelType(name string) Option {
	return func(o *options) { o.modelType = name }
}

// WithSkipFITSUpdate controls the header refresh in FromFITS. nil leaves it
// to the hash check, false always refreshes, true skips whenever an
// embedded tree of the same model type exists.
func WithSkipFITSUpdate(skip *bool) Option {
	return func(o *options) { o.skip = skip }
}

// WithCastArrays casts arrays read from HDUs to their schema datatype
// (default true).
func WithCastArrays(cast bool) Option {
	return func(o *options) { o.cast = cast }
}

// WithAssign installs the assignment check used by FromFITS.
func WithAssign(fn AssignFunc) Option {
	return func(o *options) { o.assign = fn }
}

func buildOptions(opts []Option) options {
	o := options{cast: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Hash returns the hex SHA-256 of every header except the embedded ASDF
// one, rendered the way they are written.
func Hash(list *fits.HDUList) (string, error) {
	h := sha256.New()
	for i, hdu := range list.HDUs {
		if hdu.Name() == asdfName {
			continue
		}
		b, err := list.HeaderBytes(i)
		if err != nil {
			return "", err
		}
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hduName(s map[string]any) string {
	name, _ := s["fits_hdu"].(string)
	if name == "" {
		return primaryName
	}
	return strings.ToUpper(name)
}

func isArrayNode(s map[string]any) bool {
	if _, ok := s["fits_hdu"]; !ok {
		return false
	}
	for _, k := range []string{"ndim", "max_ndim", "datatype"} {
		if _, ok := s[k]; ok {
			return true
		}
	}
	return false
}

// findHDU locates name at sequence index idx (EXTVER idx+1). A negative
// index matches the first HDU of that name.
func findHDU(list *fits.HDUList, name string, idx int) int {
	if name == primaryName {
		return 0
	}
	if idx < 0 {
		for i, h := range list.HDUs {
			if h.Name() == name {
				return i
			}
		}
		return -1
	}
	return list.Index(name, idx+1)
}

func maxExtver(list *fits.HDUList) int {
	n := 0
	for _, h := range list.HDUs {
		if v := h.Ver(); v > n {
			n = v
		}
	}
	return n
}
