package stdatamodels

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/spacetelescope/stdatamodels-go/dqflags"
	"github.com/spacetelescope/stdatamodels-go/internal/config"
	"github.com/spacetelescope/stdatamodels-go/internal/metrics"
	"github.com/spacetelescope/stdatamodels-go/ndarray"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{config.EnvPassInvalidValues, config.EnvStrictValidation, config.EnvValidateOnAssignment, config.EnvSkipFITSUpdate} {
		t.Setenv(k, "")
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustModel(t *testing.T, name string, opts ...Option) *DataModel {
	t.Helper()
	clearEnv(t)
	m, err := NewModel(name, append([]Option{WithLogger(quietLogger())}, opts...)...)
	if err != nil {
		t.Fatalf("NewModel(%s): %v", name, err)
	}
	return m
}

func mustSet(t *testing.T, m *DataModel, path string, v any) {
	t.Helper()
	if err := m.Set(path, v); err != nil {
		t.Fatalf("Set(%s): %v", path, err)
	}
}

func TestNewModel_RecordsType(t *testing.T) {
	m := mustModel(t, "ImageModel")
	if got, _ := m.GetString("meta.model_type"); got != "ImageModel" {
		t.Errorf("meta.model_type = %q", got)
	}
	if _, err := m.Get("meta.instrument.name"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) err = %v, want ErrNotFound", err)
	}
	if _, err := NewModel("NoSuchModel"); err == nil {
		t.Error("expected an error for an unknown model type")
	}

	ref := mustModel(t, "ReferenceFileModel")
	if got, _ := ref.GetString("meta.telescope"); got != "JWST" {
		t.Errorf("reference telescope = %q, want JWST", got)
	}
}

func TestSet_Strict(t *testing.T) {
	m := mustModel(t, "ImageModel", WithStrictValidation(true))
	err := m.Set("meta.telescope", "HST")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Set err = %v, want *ValidationError", err)
	}
	if verr.Path != "meta.telescope" || !strings.HasPrefix(err.Error(), "While validating meta.telescope the following error occurred:\n") {
		t.Errorf("unexpected error %q", err)
	}
	if _, err := m.Get("meta.telescope"); !errors.Is(err, ErrNotFound) {
		t.Error("rejected value was stored")
	}
	mustSet(t, m, "meta.telescope", "JWST")
}

func TestSet_LenientAndPassInvalid(t *testing.T) {
	var buf bytes.Buffer
	m := mustModel(t, "ImageModel", WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	if err := m.Set("meta.exposure.nints", "three"); err != nil {
		t.Fatalf("lenient Set: %v", err)
	}
	if _, err := m.Get("meta.exposure.nints"); err == nil {
		t.Error("invalid value stored without PASS_INVALID_VALUES")
	}
	if !strings.Contains(buf.String(), "meta.exposure.nints") {
		t.Errorf("no warning logged: %q", buf.String())
	}

	pass := mustModel(t, "ImageModel", WithPassInvalidValues(true))
	mustSet(t, pass, "meta.exposure.nints", "three")
	if v, _ := pass.Get("meta.exposure.nints"); v != "three" {
		t.Errorf("nints = %v, want the invalid value passed through", v)
	}

	off := mustModel(t, "ImageModel", WithStrictValidation(true), WithValidateOnAssignment(false))
	mustSet(t, off, "meta.telescope", "HST")
}

func TestSet_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv(config.EnvStrictValidation, "1")
	m, err := NewModel("ImageModel", WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Set("meta.telescope", "HST"); err == nil {
		t.Error("STRICT_VALIDATION=1 should make Set fail")
	}

	m, err = NewModel("ImageModel", WithLogger(quietLogger()), WithStrictValidation(false))
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Set("meta.telescope", "HST"); err != nil {
		t.Errorf("explicit option should override the environment: %v", err)
	}
}

func TestSetAndDelete(t *testing.T) {
	m := mustModel(t, "ImageModel")
	mustSet(t, m, "meta.instrument.name", "NIRCAM")
	mustSet(t, m, "meta.instrument.name", nil)
	if _, err := m.Get("meta.instrument.name"); !errors.Is(err, ErrNotFound) {
		t.Errorf("nil did not delete: %v", err)
	}
	if m.Delete("meta.instrument.name") {
		t.Error("Delete reported a missing value as removed")
	}
}

func TestArray_Defaults(t *testing.T) {
	m := mustModel(t, "ImageModel", WithShape(2, 3))
	dq, err := m.Array("dq")
	if err != nil {
		t.Fatalf("Array(dq): %v", err)
	}
	if diff := cmp.Diff([]int{2, 3}, dq.Shape); diff != "" {
		t.Errorf("dq shape (-want +got):\n%s", diff)
	}
	if dq.Dtype.Kind != ndarray.Uint32 {
		t.Errorf("dq kind = %v", dq.Dtype.Kind)
	}
	again, _ := m.Array("dq")
	if again != dq {
		t.Error("second Array call created a new array")
	}

	flat := mustModel(t, "FlatModel", WithShape(4, 4))
	data, err := flat.Array("data")
	if err != nil {
		t.Fatal(err)
	}
	if data.Len() != 16 || data.Float64At(5) != 1 {
		t.Errorf("flat data = %v, want 4x4 of ones", data)
	}

	mask := mustModel(t, "MaskModel")
	mdq, err := mask.Array("dq")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{0, 0}, mdq.Shape); diff != "" {
		t.Errorf("unsized primary dq shape (-want +got):\n%s", diff)
	}

	if _, err := m.Array("meta"); err == nil {
		t.Error("expected an error for a non-array path")
	}
}

func TestSet_CastsArrays(t *testing.T) {
	m := mustModel(t, "ImageModel", WithStrictValidation(true))
	a, err := ndarray.FromSlice([]int{2, 2}, []float64{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.SetArray("data", a); err != nil {
		t.Fatalf("SetArray: %v", err)
	}
	got, _ := m.Array("data")
	if got.Dtype.Kind != ndarray.Float32 || got.Float64At(3) != 4 {
		t.Errorf("data = %v, want float32", got)
	}

	cube := ndarray.New(ndarray.ScalarType(ndarray.Float32), 2, 2, 2)
	if err := m.SetArray("data", cube); err == nil {
		t.Error("expected ndim failure for a cube")
	}
}

func TestItemsAndFlatDict(t *testing.T) {
	m := mustModel(t, "ImageModel", WithShape(1, 1))
	mustSet(t, m, "meta.origin", "STSCI")
	mustSet(t, m, "meta.instrument.name", "MIRI")
	if _, err := m.Array("data"); err != nil {
		t.Fatal(err)
	}

	want := []string{"data", "meta.instrument.name", "meta.model_type", "meta.origin"}
	if diff := cmp.Diff(want, m.Keys()); diff != "" {
		t.Errorf("Keys (-want +got):\n%s", diff)
	}
	if len(m.Values()) != len(want) {
		t.Errorf("Values = %v", m.Values())
	}
	flat := m.ToFlatDict(false)
	if _, ok := flat["data"]; ok {
		t.Error("arrays included despite includeArrays=false")
	}
	if flat["meta.instrument.name"] != "MIRI" {
		t.Errorf("flat = %v", flat)
	}
}

func TestSchemaOperations(t *testing.T) {
	m := mustModel(t, "ImageModel", WithStrictValidation(true))
	// Populate the merged schema before the schema changes.
	mustSet(t, m, "meta.origin", "STSCI")
	if diff := cmp.Diff([]string{"meta.telescope"}, m.FindFitsKeyword("telescop")); diff != "" {
		t.Errorf("FindFitsKeyword (-want +got):\n%s", diff)
	}
	if res := m.SearchSchema("photometry"); len(res) == 0 {
		t.Error("SearchSchema found nothing")
	}

	err := m.AddSchemaEntry("meta.custom.answer", map[string]any{"type": "integer", "fits_keyword": "ANSWER"})
	if err != nil {
		t.Fatalf("AddSchemaEntry: %v", err)
	}
	if err := m.Set("meta.custom.answer", "forty-two"); err == nil {
		t.Error("new entry is not enforced")
	}
	mustSet(t, m, "meta.custom.answer", int64(42))
	if diff := cmp.Diff([]string{"meta.custom.answer"}, m.FindFitsKeyword("ANSWER")); diff != "" {
		t.Errorf("FindFitsKeyword after extension (-want +got):\n%s", diff)
	}

	if err := m.ExtendSchema(map[string]any{
		"properties": map[string]any{"meta": map[string]any{"properties": map[string]any{
			"origin": map[string]any{"type": "string", "maxLength": int64(4)},
		}}},
	}); err != nil {
		t.Fatalf("ExtendSchema: %v", err)
	}
	if err := m.Set("meta.origin", "TOO LONG"); err == nil {
		t.Error("extension is not enforced")
	}
}

func TestMergedSchemaIsCachedUntilSchemaChanges(t *testing.T) {
	m := mustModel(t, "ImageModel")
	mustSet(t, m, "meta.origin", "STSCI")
	first := m.merged
	if first == nil {
		t.Fatal("Set did not cache the merged schema")
	}
	mustSet(t, m, "meta.telescope", "JWST")
	if m.primaryArrayName() != "data" {
		t.Fatalf("primary array = %q", m.primaryArrayName())
	}
	if fmt.Sprintf("%p", m.merged) != fmt.Sprintf("%p", first) {
		t.Fatal("merged schema was rebuilt without a schema change")
	}

	if err := m.AddSchemaEntry("meta.custom.answer", map[string]any{"type": "integer"}); err != nil {
		t.Fatalf("AddSchemaEntry: %v", err)
	}
	if m.merged != nil {
		t.Fatal("AddSchemaEntry kept a stale merged schema")
	}
	mustSet(t, m, "meta.custom.answer", int64(42))
	if err := m.ExtendSchema(map[string]any{"properties": map[string]any{"extra": map[string]any{"type": "string"}}}); err != nil {
		t.Fatalf("ExtendSchema: %v", err)
	}
	if m.merged != nil {
		t.Fatal("ExtendSchema kept a stale merged schema")
	}
}

func TestUpdate(t *testing.T) {
	src := mustModel(t, "ImageModel")
	mustSet(t, src, "meta.origin", "STSCI")
	mustSet(t, src, "meta.date", "2020-01-01T00:00:00.000")
	mustSet(t, src, "meta.bunit_data", "DN/s")
	src.Tree()["extra_fits"] = map[string]any{
		"PRIMARY": map[string]any{"header": []any{[]any{"FOO", "bar", ""}}},
	}

	dst := mustModel(t, "ImageModel")
	if err := dst.Update(src, []string{"primary"}, true); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got, _ := dst.GetString("meta.origin"); got != "STSCI" {
		t.Errorf("origin = %q", got)
	}
	if _, err := dst.Get("meta.date"); err == nil {
		t.Error("meta.date is protected")
	}
	if _, err := dst.Get("meta.bunit_data"); err == nil {
		t.Error("SCI keyword copied although only PRIMARY was requested")
	}
	if _, err := dst.Get("extra_fits.PRIMARY.header"); err != nil {
		t.Errorf("extra_fits not copied: %v", err)
	}

	all := mustModel(t, "ImageModel")
	if err := all.Update(src, nil, false); err != nil {
		t.Fatal(err)
	}
	if got, _ := all.GetString("meta.bunit_data"); got != "DN/s" {
		t.Errorf("bunit_data = %q, want every schema HDU updated", got)
	}
}

func TestHistory(t *testing.T) {
	m := mustModel(t, "ImageModel")
	m.AddHistory("flat fielded")
	m.AddHistory("calibrated", map[string]any{"name": "stdatamodels-go", "version": "0.1.0"})

	h := m.History()
	if len(h) != 2 || h[0]["description"] != "flat fielded" {
		t.Fatalf("History = %v", h)
	}
	if _, ok := h[0]["time"].(string); !ok {
		t.Errorf("entry has no time: %v", h[0])
	}
	if sw, ok := h[1]["software"].(map[string]any); !ok || sw["name"] != "stdatamodels-go" {
		t.Errorf("software = %v", h[1]["software"])
	}
}

func TestValidateReference(t *testing.T) {
	strict := mustModel(t, "ReferenceFileModel", WithStrictValidation(true))
	err := strict.Validate()
	if err == nil || !strings.Contains(err.Error(), "description, reftype, author, pedigree, useafter, instrument.name") {
		t.Fatalf("Validate err = %v", err)
	}
	for _, kv := range [][2]string{
		{"meta.description", "test"}, {"meta.reftype", "MASK"}, {"meta.author", "me"},
		{"meta.pedigree", "GROUND"}, {"meta.useafter", "2020-01-01T00:00:00"}, {"meta.instrument.name", "MIRI"},
	} {
		mustSet(t, strict, kv[0], kv[1])
	}
	if err := strict.Validate(); err != nil {
		t.Errorf("complete reference metadata rejected: %v", err)
	}

	lenient := mustModel(t, "ReferenceFileModel")
	if err := lenient.Validate(); err != nil {
		t.Errorf("lenient Validate returned %v", err)
	}
}

func TestValidate_CountsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := metrics.New(reg)
	m := mustModel(t, "ImageModel", WithMetrics(met))
	mustSet(t, m, "meta.origin", "STSCI")
	_ = m.Set("meta.telescope", "HST")

	if got := testutil.ToFloat64(met.Validations.WithLabelValues(metrics.ResultPass)); got != 1 {
		t.Errorf("passed validations = %v", got)
	}
	if got := testutil.ToFloat64(met.Validations.WithLabelValues(metrics.ResultFail)); got != 1 {
		t.Errorf("failed validations = %v", got)
	}
}

func imageModel(t *testing.T) *DataModel {
	t.Helper()
	m := mustModel(t, "ImageModel", WithShape(2, 3))
	mustSet(t, m, "meta.origin", "STSCI")
	mustSet(t, m, "meta.instrument.name", "NIRCAM")
	mustSet(t, m, "meta.bunit_data", "MJy/sr")
	data, err := m.Array("data")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < data.Len(); i++ {
		data.SetFloat64(i, float64(i)/2)
	}
	return m
}

func TestSaveAndOpen(t *testing.T) {
	for _, ext := range []string{".fits", ".asdf"} {
		t.Run(ext, func(t *testing.T) {
			m := imageModel(t)
			path := filepath.Join(t.TempDir(), "out"+ext)
			if err := m.Save(path); err != nil {
				t.Fatalf("Save: %v", err)
			}

			got, err := Open(path, WithLogger(quietLogger()))
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if got.Type().Name != "ImageModel" {
				t.Errorf("type = %s", got.Type().Name)
			}
			if name, _ := got.GetString("meta.filename"); name != "out"+ext {
				t.Errorf("filename = %q", name)
			}
			if date, _ := got.GetString("meta.date"); date == "" {
				t.Error("meta.date not stamped on save")
			}
			if bunit, _ := got.GetString("meta.bunit_data"); bunit != "MJy/sr" {
				t.Errorf("bunit_data = %q", bunit)
			}
			want, _ := m.Array("data")
			data, err := got.Array("data")
			if err != nil || !data.Equal(want) {
				t.Errorf("data = %v, want %v", data, want)
			}
		})
	}
}

func TestSave_UnknownExtension(t *testing.T) {
	m := imageModel(t)
	if err := m.Save(filepath.Join(t.TempDir(), "out.txt")); err == nil {
		t.Error("expected an error for an unknown suffix")
	}
}

func TestOpen_MaskAppliesDynamicDQ(t *testing.T) {
	m := mustModel(t, "MaskModel")
	dq, err := ndarray.FromSlice([]int{1, 3}, []uint32{0, 1, 2})
	if err != nil {
		t.Fatal(err)
	}
	mustSet(t, m, "dq", dq)

	def := ndarray.NewTable(ndarray.Structured(
		ndarray.Field{Name: "BIT", Type: ndarray.Scalar{Kind: ndarray.Uint32}},
		ndarray.Field{Name: "VALUE", Type: ndarray.Scalar{Kind: ndarray.Uint32}},
		ndarray.Field{Name: "NAME", Type: ndarray.Scalar{Kind: ndarray.ASCII, Length: 40}},
		ndarray.Field{Name: "DESCRIPTION", Type: ndarray.Scalar{Kind: ndarray.ASCII, Length: 80}},
	), 2)
	for row, name := range []string{"DEAD", "HOT"} {
		if err := def.SetValue(row, "BIT", row); err != nil {
			t.Fatal(err)
		}
		if err := def.SetValue(row, "VALUE", 1<<row); err != nil {
			t.Fatal(err)
		}
		if err := def.SetValue(row, "NAME", name); err != nil {
			t.Fatal(err)
		}
	}
	mustSet(t, m, "dq_def", def)

	path := filepath.Join(t.TempDir(), "mask.fits")
	if err := m.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Open(path, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mask, err := got.Array("dq")
	if err != nil {
		t.Fatal(err)
	}
	want := []uint64{0, uint64(dqflags.Pixel["DEAD"]), uint64(dqflags.Pixel["HOT"])}
	for i, w := range want {
		if mask.Uint64At(i) != w {
			t.Errorf("dq[%d] = %d, want %d", i, mask.Uint64At(i), w)
		}
	}
}

func TestCatalogProduct(t *testing.T) {
	m := imageModel(t)
	mustSet(t, m, "meta.filename", "x.fits")
	p := CatalogProduct(m)
	if p.Filename != "x.fits" || p.ModelType != "ImageModel" {
		t.Errorf("product = %+v", p)
	}
	found := map[string]any{}
	for _, kw := range p.Keywords {
		found[kw.HDU+"/"+kw.Keyword+"/"+kw.Path] = kw.Value
	}
	if found["PRIMARY/INSTRUME/meta.instrument.name"] != "NIRCAM" {
		t.Errorf("INSTRUME missing: %v", found)
	}
	if found["SCI/BUNIT/meta.bunit_data"] != "MJy/sr" {
		t.Errorf("BUNIT missing: %v", found)
	}
}

func TestRegistry(t *testing.T) {
	types := ModelTypes()
	for _, name := range []string{"DataModel", "ImageModel", "MaskModel", "TableModel"} {
		if _, ok := Lookup(name); !ok {
			t.Errorf("%s not registered in %v", name, types)
		}
	}
	if err := Register(ModelType{Name: "Broken"}); err == nil {
		t.Error("expected an error for a type without a schema")
	}
}
