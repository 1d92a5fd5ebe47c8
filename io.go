package stdatamodels

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spacetelescope/stdatamodels-go/asdf"
	"github.com/spacetelescope/stdatamodels-go/dqflags"
	"github.com/spacetelescope/stdatamodels-go/filetype"
	"github.com/spacetelescope/stdatamodels-go/fits"
	"github.com/spacetelescope/stdatamodels-go/fitsmap"
	"github.com/spacetelescope/stdatamodels-go/internal/metrics"
	"github.com/spacetelescope/stdatamodels-go/ndarray"
)

// Open reads a FITS or ASDF file. The model type recorded in the file
// selects the schema; WithModelType is the fallback, then DataModel.
func Open(path string, opts ...Option) (*DataModel, error) {
	ft, err := filetype.Check(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var m *DataModel
	switch ft {
	case filetype.FITS:
		m, err = ReadFITS(bufio.NewReader(f), opts...)
	case filetype.ASDF:
		m, err = ReadASDF(bufio.NewReader(f), opts...)
	default:
		return nil, fmt.Errorf("%s: %s files are associations, not data models", path, ft)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	_ = put(m.tree, []string{"meta", "filename"}, filepath.Base(path))
	return m, nil
}

// resolveType picks the registered type for a file claiming fileType.
func resolveType(fileType string, o options) ModelType {
	if t, ok := Lookup(fileType); ok {
		return t
	}
	if t, ok := Lookup(o.modelType); ok {
		return t
	}
	t, _ := Lookup("DataModel")
	return t
}

// ReadFITS decodes a FITS stream into a model.
func ReadFITS(r io.Reader, opts ...Option) (*DataModel, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	list, err := fits.Read(r)
	if err != nil {
		return nil, err
	}
	typ := resolveType(list.Primary().Header.StringValue("DATAMODL"), o)
	s, err := o.loader.LoadResolved(typ.SchemaURL)
	if err != nil {
		return nil, fmt.Errorf("loading schema for %s: %w", typ.Name, err)
	}
	m := &DataModel{typ: typ, schema: s, opts: o}

	var assignErr error
	tree, err := fitsmap.FromFITS(list, s,
		fitsmap.WithLogger(o.logger),
		fitsmap.WithMetrics(o.metrics),
		fitsmap.WithModelType(typ.Name),
		fitsmap.WithSkipFITSUpdate(o.skipFITSUpdate),
		fitsmap.WithCastArrays(o.castFITSArrays),
		fitsmap.WithAssign(func(path string, v any, node map[string]any) bool {
			if v == nil || assignErr != nil {
				return false
			}
			ok, err := m.check(path, v, node)
			if err != nil {
				assignErr = err
			}
			return ok
		}),
	)
	if err != nil {
		return nil, err
	}
	if assignErr != nil {
		return nil, assignErr
	}
	o.metrics.File(metrics.FormatFITS, metrics.DirectionRead)
	return m.loaded(tree)
}

// ReadASDF decodes an ASDF stream into a model.
func ReadASDF(r io.Reader, opts ...Option) (*DataModel, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	tree, err := asdf.Read(r)
	if err != nil {
		return nil, err
	}
	fileType, _ := lookup(tree, []string{"meta", "model_type"})
	name, _ := fileType.(string)
	typ := resolveType(name, o)
	s, err := o.loader.LoadResolved(typ.SchemaURL)
	if err != nil {
		return nil, fmt.Errorf("loading schema for %s: %w", typ.Name, err)
	}
	m := &DataModel{typ: typ, schema: s, opts: o}
	o.metrics.File(metrics.FormatASDF, metrics.DirectionRead)
	return m.loaded(tree)
}

// loaded installs a freshly read tree: the model type is recorded, dynamic
// DQ planes are translated and the result validated.
func (m *DataModel) loaded(tree map[string]any) (*DataModel, error) {
	m.tree = tree
	if m.typ.Name != "DataModel" && !m.has("meta.model_type") {
		_ = put(m.tree, []string{"meta", "model_type"}, m.typ.Name)
	}
	if m.typ.DynamicDQ {
		dq, _ := m.tree["dq"].(*ndarray.Array)
		def, _ := m.tree["dq_def"].(*ndarray.Array)
		mask, err := dqflags.DynamicMask(dq, def, dqflags.Pixel, m.opts.logger)
		if err != nil {
			return nil, err
		}
		if mask != nil {
			m.tree["dq"] = mask
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Save writes the model to path. The suffix picks the format.
func (m *DataModel) Save(path string) error {
	var write func(io.Writer) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fits":
		write = m.WriteFITS
	case ".asdf":
		write = m.WriteASDF
	default:
		return fmt.Errorf("stdatamodels: unknown file type %q", filepath.Ext(path))
	}
	_ = put(m.tree, []string{"meta", "filename"}, filepath.Base(path))

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	err = write(bw)
	if err == nil {
		err = bw.Flush()
	}
	return errors.Join(err, f.Close())
}

// prepare stamps the metadata written with every file and drops nil
// values.
func (m *DataModel) prepare() map[string]any {
	_ = put(m.tree, []string{"meta", "date"}, time.Now().UTC().Format(timeLayout))
	_ = put(m.tree, []string{"meta", "model_type"}, m.typ.Name)
	return withoutNils(m.tree).(map[string]any)
}

// WriteFITS writes the model as FITS with its tree embedded.
func (m *DataModel) WriteFITS(w io.Writer) error {
	list, err := fitsmap.ToFITS(m.prepare(), m.schema,
		fitsmap.WithLogger(m.opts.logger),
		fitsmap.WithMetrics(m.opts.metrics),
		fitsmap.WithStrict(m.opts.strict),
	)
	if err != nil {
		return err
	}
	if _, err := list.WriteTo(w); err != nil {
		return err
	}
	m.opts.metrics.File(metrics.FormatFITS, metrics.DirectionWrite)
	return nil
}

// WriteASDF writes the model as ASDF.
func (m *DataModel) WriteASDF(w io.Writer) error {
	if err := asdf.Write(w, m.prepare()); err != nil {
		return err
	}
	m.opts.metrics.File(metrics.FormatASDF, metrics.DirectionWrite)
	return nil
}
