package stdatamodels

import (
	"log/slog"

	"github.com/spacetelescope/stdatamodels-go/internal/config"
	"github.com/spacetelescope/stdatamodels-go/internal/metrics"
	"github.com/spacetelescope/stdatamodels-go/schema"
)

type options struct {
	strict               bool
	passInvalid          bool
	validateOnAssignment bool
	validateArrays       bool
	castFITSArrays       bool
	skipFITSUpdate       *bool

	logger    *slog.Logger
	metrics   *metrics.Metrics
	loader    *schema.Loader
	tree      map[string]any
	shape     []int
	modelType string
}

// Option configures a DataModel.
type Option func(*options)

// WithStrictValidation turns validation failures into errors instead of
// warnings.
func WithStrictValidation(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

// WithPassInvalidValues stores values that fail the assignment check after
// warning about them.
func WithPassInvalidValues(pass bool) Option {
	return func(o *options) { o.passInvalid = pass }
}

// WithValidateOnAssignment checks every Set against the schema (default
// true).
func WithValidateOnAssignment(validate bool) Option {
	return func(o *options) { o.validateOnAssignment = validate }
}

// WithValidateArrays includes ndim, max_ndim and datatype in validation
// (default true).
func WithValidateArrays(validate bool) Option {
	return func(o *options) { o.validateArrays = validate }
}

// WithCastFITSArrays casts arrays read from FITS to their schema datatype
// (default true).
func WithCastFITSArrays(cast bool) Option {
	return func(o *options) { o.castFITSArrays = cast }
}

// WithSkipFITSUpdate controls whether FITS headers are re-read when the
// file carries an up-to-date embedded tree. nil leaves the decision to the
// header hash.
func WithSkipFITSUpdate(skip *bool) Option {
	return func(o *options) { o.skipFITSUpdate = skip }
}

// WithLogger sets the logger used for validation warnings.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records validations, file reads and writes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLoader resolves schema URLs with l instead of the embedded corpus.
func WithLoader(l *schema.Loader) Option {
	return func(o *options) { o.loader = l }
}

// WithTree starts the model from tree. The tree is used as is, not copied.
func WithTree(tree map[string]any) Option {
	return func(o *options) { o.tree = tree }
}

// WithShape sets the shape of the primary array created on first access.
func WithShape(shape ...int) Option {
	return func(o *options) { o.shape = append([]int(nil), shape...) }
}

// WithModelType names the registered model type to use when a file does not
// record one.
func WithModelType(name string) Option {
	return func(o *options) { o.modelType = name }
}

// buildOptions starts from the environment and applies opts on top.
func buildOptions(opts []Option) (options, error) {
	cfg, err := config.Load()
	if err != nil {
		return options{}, err
	}
	o := options{
		strict:               cfg.StrictValidation,
		passInvalid:          cfg.PassInvalidValues,
		validateOnAssignment: cfg.ValidateOnAssignment,
		validateArrays:       true,
		castFITSArrays:       true,
		skipFITSUpdate:       cfg.SkipFITSUpdate,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.loader == nil {
		o.loader = defaultLoader
	}
	return o, nil
}
