package kwtool

import (
	"bytes"
	"encoding/json"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacetelescope/stdatamodels-go/schemas"
)

func fakeKWD() fstest.MapFS {
	return fstest.MapFS{
		"top.fgs.fg.json": {Data: []byte(`{
			"type": "object",
			"title": "root",
			"properties": {
				"meta": {
					"title": "FGS Keywords Schema Metadata",
					"type": "object",
					"allOf": [
						{"$ref": "fgs_program.json"},
						{"$ref": "fgs_sci.json"}
					]
				}
			}
		}`)},
		"fgs_program.json": {Data: []byte(`{
			"type": "object",
			"properties": {
				"program": {
					"type": "object",
					"properties": {
						"title": {"fits_keyword": "TITLE", "fits_hdu": "PRIMARY", "title": "Proposal title", "type": "string", "units": "", "x-source": "apt"},
						"category": {"fits_keyword": "CATEGORY", "fits_hdu": "PRIMARY", "title": "Program category", "type": "string",
							"enum": ["AR", "CAL", "GO", "NOT_IN_DATAMODEL"]}
					}
				},
				"exposure": {
					"type": "object",
					"properties": {
						"start_time": {"fits_keyword": "EXPSTART", "fits_hdu": "PRIMARY", "title": "[d] exposure start time in MJD", "type": "float"},
						"band": {"fits_keyword": "P_BAND", "fits_hdu": "PRIMARY", "title": "pattern", "type": "string"}
					}
				}
			}
		}`)},
		"fgs_sci.json": {Data: []byte(`{
			"type": "object",
			"properties": {
				"obs_id": {"fits_keyword": "OBS_IDD", "fits_hdu": "SCI", "title": "Programmatic observation identifier", "type": "string"},
				"naxis": {"fits_keyword": "NAXIS", "fits_hdu": "PRIMARY", "type": "integer"}
			}
		}`)},
	}
}

func loadFake(t *testing.T) (kwd, dmd map[Key][]Entry) {
	t.Helper()
	kwd, err := LoadKWD(fakeKWD())
	require.NoError(t, err)
	dmd, err = LoadDMD(schemas.NewLoader(), []ModelRef{{Name: "ImageModel", SchemaURL: schemas.URL("image")}})
	require.NoError(t, err)
	return kwd, dmd
}

func TestLoadKWD(t *testing.T) {
	kwd, err := LoadKWD(fakeKWD())
	require.NoError(t, err)
	assert.Len(t, kwd, 6)

	entries := kwd[Key{HDU: "PRIMARY", Keyword: "TITLE"}]
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "fgs.fg", e.Scope)
	assert.Equal(t, []string{"meta", "program", "title"}, e.Path)
	assert.NotContains(t, e.Path, "allOf")
	assert.NotContains(t, e.Path, "properties")
	assert.Equal(t, "Proposal title", e.Keyword.Title)
	assert.Contains(t, e.Keyword.Unknown, "units")
	assert.Contains(t, e.Keyword.Extensions, "x-source")
}

func TestLoadKWD_Errors(t *testing.T) {
	_, err := LoadKWD(fstest.MapFS{"other.json": {Data: []byte(`{}`)}})
	assert.ErrorIs(t, err, ErrNoTopSchemas)

	_, err = LoadKWD(fstest.MapFS{"top.a.b.json": {Data: []byte(`{"x": {"fits_keyword": "FOO"}}`)}})
	assert.ErrorContains(t, err, "fits_keyword without fits_hdu")

	_, err = LoadKWD(fstest.MapFS{
		"top.a.b.json": {Data: []byte(`{"x": {"$ref": "loop.json"}}`)},
		"loop.json":    {Data: []byte(`{"y": {"$ref": "loop.json"}}`)},
	})
	assert.ErrorContains(t, err, "cycle detected")

	_, err = LoadKWD(fstest.MapFS{"top.a.b.json": {Data: []byte(`{"x": null}`)}})
	assert.Error(t, err)
}

func TestLoadDMD(t *testing.T) {
	_, dmd := loadFake(t)

	tel := dmd[Key{HDU: "PRIMARY", Keyword: "TELESCOP"}]
	require.Len(t, tel, 1)
	assert.Equal(t, "ImageModel", tel[0].Scope)
	assert.Equal(t, "meta.telescope", tel[0].PathString())
	assert.Equal(t, []any{"JWST"}, tel[0].Keyword.Enum)

	assert.Contains(t, dmd, Key{HDU: "SCI", Keyword: "BUNIT"})
}

func TestCompare(t *testing.T) {
	kwd, dmd := loadFake(t)
	r := Compare(kwd, dmd, nil)

	assert.Contains(t, r.InKWD, Key{HDU: "SCI", Keyword: "OBS_IDD"})
	assert.Contains(t, r.InDMD, Key{HDU: "PRIMARY", Keyword: "OBS_ID"})

	title := Key{HDU: "PRIMARY", Keyword: "TITLE"}
	assert.Contains(t, r.InBoth, title)
	assert.NotContains(t, r.DefDiff, title)
	assert.NotContains(t, r.DefDiff, Key{HDU: "PRIMARY", Keyword: "EXPSTART"}, "float and number are the same type")

	for _, k := range []Key{{HDU: "PRIMARY", Keyword: "NAXIS"}, {HDU: "PRIMARY", Keyword: "P_BAND"}} {
		assert.NotContains(t, r.InKWD, k)
		assert.NotContains(t, r.KWD, k)
	}

	category := Key{HDU: "PRIMARY", Keyword: "CATEGORY"}
	require.Contains(t, r.DefDiff, category)
	assert.Equal(t, map[string]Diff{DiffEnum: {
		KWD: []string{"AR", "CAL", "GO", "NOT_IN_DATAMODEL"},
		DMD: []string{"AR", "CAL", "COM", "DD", "ENG", "GO", "GTO", "NASA", "SURVEY"},
	}}, r.DefDiff[category])
}

func TestCompare_Expected(t *testing.T) {
	kwd, dmd := loadFake(t)
	exp, err := LoadExpected([]byte(`
expected "PRIMARY" "CATEGORY" {
  notes = "Archive only lists current categories."
  diff "enum" {
    collection = kwd
    operation  = "difference"
    values     = ["NOT_IN_DATAMODEL"]
  }
  diff "enum" {
    collection = kwd
    operation  = "union"
    values     = ["COM", "DD", "ENG", "GTO", "NASA", "SURVEY"]
  }
}

expected "PRIMARY" "GONE" {
  diff "title" {
    collection = dmd
    operation  = "equals"
    values     = [missing]
  }
}
`), "test.hcl")
	require.NoError(t, err)

	r := Compare(kwd, dmd, exp)
	category := Key{HDU: "PRIMARY", Keyword: "CATEGORY"}
	assert.NotContains(t, r.DefDiff, category)
	assert.Contains(t, r.Accepted[category], DiffEnum)
	assert.Equal(t, "Archive only lists current categories.", r.Notes[category])
	assert.Equal(t, []Key{{HDU: "PRIMARY", Keyword: "GONE"}}, r.Stale)
}

func entry(kw Keyword, path ...string) Entry {
	return Entry{Path: path, Keyword: kw}
}

func TestComparePath(t *testing.T) {
	k := []Entry{entry(Keyword{Title: "foo"}, "a", "b", "c")}
	d := []Entry{entry(Keyword{}, "d", "e", "f")}
	assert.Nil(t, comparePath(k, d), "no destination, no path comparison")

	k[0].Keyword.Destination = "somewhere"
	assert.Equal(t, &Diff{KWD: []string{"a.b.c"}, DMD: []string{"d.e.f"}}, comparePath(k, d))
}

func TestCompareSubitem(t *testing.T) {
	tests := []struct {
		kv, dv string
		want   *Diff
	}{
		{"a", "a", nil},
		{"a", "z", &Diff{KWD: []string{"a"}, DMD: []string{"z"}}},
		{"a", "", &Diff{KWD: []string{"a"}, DMD: []string{MissingValue}}},
		{"", "a", &Diff{KWD: []string{MissingValue}, DMD: []string{"a"}}},
		{"", "", nil},
	}
	for _, tt := range tests {
		k := []Entry{entry(Keyword{Title: tt.kv})}
		d := []Entry{entry(Keyword{Title: tt.dv})}
		assert.Equal(t, tt.want, compareSubitem(k, d, "title"), "kwd=%q dmd=%q", tt.kv, tt.dv)
	}
}

func TestCompareType(t *testing.T) {
	tests := []struct {
		kt, dt any
		want   *Diff
	}{
		{"string", "string", nil},
		{"integer", "string", &Diff{KWD: []string{"integer"}, DMD: []string{"string"}}},
		{"float", "number", nil},
		{"int", []any{"integer"}, nil},
	}
	for _, tt := range tests {
		k := []Entry{entry(Keyword{Type: tt.kt})}
		d := []Entry{entry(Keyword{Type: tt.dt})}
		assert.Equal(t, tt.want, compareType(k, d), "kwd=%v dmd=%v", tt.kt, tt.dt)
	}
}

func TestCompareEnum(t *testing.T) {
	e := func(vals ...any) []Entry { return []Entry{entry(Keyword{Enum: vals})} }

	assert.Nil(t, compareEnum(e("a", "z"), e("z", "a")))
	assert.Equal(t, &Diff{KWD: []string{"a", "z"}, DMD: []string{"a"}}, compareEnum(e("a", "z"), e("a")))
	assert.Nil(t, compareEnum(e(int64(2)), e(2.0)), "numbers compare by value")
	assert.Nil(t, compareEnum([]Entry{entry(Keyword{})}, []Entry{entry(Keyword{})}))
	assert.Equal(t, &Diff{KWD: []string{MissingValue}, DMD: []string{"a"}}, compareEnum([]Entry{entry(Keyword{})}, e("a")))
}

func TestLoadExpected_Errors(t *testing.T) {
	tests := map[string]string{
		"collection": `expected "PRIMARY" "A" {
  diff "enum" {
    collection = "both"
    operation  = "union"
    values     = []
  }
}`,
		"operation": `expected "PRIMARY" "A" {
  diff "enum" {
    collection = dmd
    operation  = "xor"
    values     = []
  }
}`,
		"difference": `expected "PRIMARY" "A" {
  diff "units" {
    collection = dmd
    operation  = "union"
    values     = []
  }
}`,
		"twice":    "expected \"PRIMARY\" \"A\" {}\nexpected \"PRIMARY\" \"A\" {}\n",
		"variable": `expected "PRIMARY" "A" {
  diff "enum" {
    collection = nope
    operation  = "union"
    values     = []
  }
}`,
		"syntax": `expected "PRIMARY" {`,
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadExpected([]byte(src), name+".hcl")
			assert.Error(t, err)
		})
	}
}

func TestDefaultExpected(t *testing.T) {
	exp, err := DefaultExpected()
	require.NoError(t, err)
	e := exp.lookup(Key{HDU: "PRIMARY", Keyword: "CATEGORY"})
	require.NotNil(t, e)
	require.Len(t, e.Adjustments, 2)
	assert.Equal(t, []string{MissingValue}, e.Adjustments[1].Values)
	assert.Equal(t, "No fix needed.", e.Notes)

	s := exp.lookup(Key{HDU: "EXTRACT1D", Keyword: "S_REGION"})
	require.NotNil(t, s)
	assert.True(t, s.accepts(DiffTitle, Diff{
		KWD: []string{"Spatial extent of grism observations' footprint"},
		DMD: []string{"Footprint of direct image(s) matched to grism observations"},
	}))
	assert.False(t, s.accepts(DiffTitle, Diff{KWD: []string{"a"}, DMD: []string{"b"}}))
}

func TestKeywordLossless(t *testing.T) {
	in := `{"fits_keyword":"FOO","fits_hdu":"SCI","title":"t","units":"deg","x-origin":"apt","enum":[1,"a"]}`
	var k Keyword
	require.NoError(t, json.Unmarshal([]byte(in), &k))
	assert.Equal(t, "FOO", k.FitsKeyword)
	assert.JSONEq(t, `"deg"`, string(k.Unknown["units"]))

	k.Title = "new"
	k.Unknown["title"] = json.RawMessage(`"stale"`)
	out, err := json.Marshal(k)
	require.NoError(t, err)
	assert.JSONEq(t, `{"fits_keyword":"FOO","fits_hdu":"SCI","title":"new","units":"deg","x-origin":"apt","enum":[1,"a"]}`, string(out))
}

func TestReport(t *testing.T) {
	kwd, dmd := loadFake(t)
	var buf bytes.Buffer
	require.NoError(t, Report(&buf, Compare(kwd, dmd, nil)))

	html := buf.String()
	assert.Contains(t, html, "<h1>Keywords in the keyword dictionary but NOT in the datamodel schemas</h1>")
	assert.Contains(t, html, "<summary>HDU: SCI KEYWORD: OBS_IDD</summary>")
	assert.Contains(t, html, "Missing")
	assert.Contains(t, html, "<dt>enum</dt>")
	assert.Contains(t, html, "NOT_IN_DATAMODEL")
	assert.NotContains(t, html, "Expected differences")
}
