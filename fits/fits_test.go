package fits

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/spacetelescope/stdatamodels-go/ndarray"
)

func roundTrip(t *testing.T, l *HDUList) *HDUList {
	t.Helper()
	b, err := l.Bytes()
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(b)%blockLen != 0 {
		t.Fatalf("output is %d bytes, not a whole number of blocks", len(b))
	}
	out, err := Read(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return out
}

func TestCardFormat_FixedColumns(t *testing.T) {
	lines, err := Card{Key: "ngroups", Value: int64(10), Comment: "number of groups"}.format()
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	want := "NGROUPS =                   10 / number of groups"
	if strings.TrimRight(lines[0], " ") != want {
		t.Fatalf("got  %q\nwant %q", lines[0], want)
	}
	if len(lines[0]) != cardLen {
		t.Fatalf("card is %d bytes", len(lines[0]))
	}

	lines, _ = Card{Key: "ORIGIN", Value: "STScI", Comment: "Organization responsible for creating file"}.format()
	if !strings.HasPrefix(lines[0], "ORIGIN  = 'STScI   '") {
		t.Fatalf("string card: %q", lines[0])
	}
}

func TestCardFormat_KeywordTooLong(t *testing.T) {
	_, err := Card{Key: "TOOLONGKEY", Value: int64(1)}.format()
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestParseCard_Values(t *testing.T) {
	cases := []struct {
		img     string
		value   any
		comment string
	}{
		{"SIMPLE  =                    T / conforms", true, "conforms"},
		{"EXPTIME =                1.5D2", 150.0, ""},
		{"BZERO   =  9223372036854775808", uint64(1 << 63), ""},
		{"TITLE   = 'It''s / here'       / quoted slash", "It's / here", "quoted slash"},
		{"UNDEF   =                      / nothing", nil, "nothing"},
	}
	for _, tc := range cases {
		c, err := parseCard(pad(tc.img))
		if err != nil {
			t.Fatalf("parse %q: %v", tc.img, err)
		}
		if c.Value != tc.value || c.Comment != tc.comment {
			t.Fatalf("parse %q: got (%#v, %q) want (%#v, %q)", tc.img, c.Value, c.Comment, tc.value, tc.comment)
		}
	}
}

func TestHeader_LongStringContinue(t *testing.T) {
	long := strings.Repeat("abcdefghij'", 12)
	h := NewHeader(Card{Key: "DESCRIP", Value: long, Comment: "long"})
	b, err := h.Bytes()
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	if !bytes.Contains(b, []byte("CONTINUE  '")) {
		t.Fatalf("expected CONTINUE cards")
	}
	var images []string
	for i := 0; i+cardLen <= len(b); i += cardLen {
		img := string(b[i : i+cardLen])
		if strings.HasPrefix(img, "END ") {
			break
		}
		images = append(images, img)
	}
	back, err := parseHeader(images)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c, ok := back.Get("DESCRIP")
	if !ok || c.Value != long || c.Comment != "long" {
		t.Fatalf("got %#v", c)
	}
	if back.Len() != 1 {
		t.Fatalf("expected CONTINUE cards merged, got %d cards", back.Len())
	}
}

func TestHeader_CommentaryKeepsDuplicates(t *testing.T) {
	h := NewHeader()
	h.Set("HISTORY", "first", "")
	h.Set("HISTORY", "second", "")
	h.Set("TELESCOP", "JWST", "")
	h.Set("telescop", "HST", "")
	if diff := cmp.Diff([]string{"first", "second"}, h.Commentary("history")); diff != "" {
		t.Fatalf("history (-want +got):\n%s", diff)
	}
	if h.StringValue("TELESCOP") != "HST" || h.Len() != 3 {
		t.Fatalf("Set should replace: %#v", h.Cards())
	}
	h.Delete("HISTORY")
	if h.Len() != 1 {
		t.Fatalf("Delete left %d cards", h.Len())
	}
}

func TestRoundTrip_PseudoUnsignedImage(t *testing.T) {
	sci, err := ndarray.FromSlice([]int{2, 3}, []uint16{0, 1, 32767, 32768, 65535, 7})
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	l := NewHDUList()
	l.Primary().Header.Set("TELESCOP", "JWST", "telescope used")
	l.Append(NewImage("SCI", 1, sci))

	out := roundTrip(t, l)
	h, ok := out.Get("sci", 1)
	if !ok {
		t.Fatalf("SCI not found")
	}
	if !h.Data.Equal(sci) {
		t.Fatalf("data differs: %v vs %v", h.Data, sci)
	}
	if got := h.Header.Int("BZERO", 0); got != 32768 {
		t.Fatalf("BZERO = %d", got)
	}
	if out.Primary().Header.StringValue("TELESCOP") != "JWST" {
		t.Fatalf("primary header lost")
	}
	if out.Primary().Name() != "PRIMARY" || h.Ver() != 1 {
		t.Fatalf("names: %q %d", out.Primary().Name(), h.Ver())
	}
}

func TestRoundTrip_AllImageKinds(t *testing.T) {
	inputs := []any{
		[]int8{-128, 0, 127},
		[]uint8{0, 200, 255},
		[]int16{-5, 0, 5},
		[]int32{-70000, 0, 70000},
		[]uint32{0, 1 << 31, 1<<32 - 1},
		[]int64{-1 << 40, 0, 1 << 40},
		[]uint64{0, 1 << 63, 1<<64 - 1},
		[]float32{-1.5, 0, 3.25},
		[]float64{-1e300, 0, 1e-300},
	}
	l := NewHDUList()
	var want []*ndarray.Array
	for i, in := range inputs {
		a, err := ndarray.FromSlice(nil, in)
		if err != nil {
			t.Fatalf("FromSlice: %v", err)
		}
		want = append(want, a)
		l.Append(NewImage("IMG", i+1, a))
	}
	out := roundTrip(t, l)
	for i, a := range want {
		h, ok := out.Get("IMG", i+1)
		if !ok {
			t.Fatalf("IMG,%d missing", i+1)
		}
		if !h.Data.Equal(a) {
			t.Fatalf("IMG,%d: got %v want %v", i+1, h.Data, a)
		}
	}
}

func TestRoundTrip_BinTable(t *testing.T) {
	dt := ndarray.Structured(
		ndarray.Field{Name: "BIT", Type: ndarray.Scalar{Kind: ndarray.Int32}},
		ndarray.Field{Name: "VALUE", Type: ndarray.Scalar{Kind: ndarray.Uint32}},
		ndarray.Field{Name: "NAME", Type: ndarray.Scalar{Kind: ndarray.ASCII, Length: 12}},
		ndarray.Field{Name: "GOOD", Type: ndarray.Scalar{Kind: ndarray.Bool8}},
		ndarray.Field{Name: "COEFFS", Type: ndarray.Scalar{Kind: ndarray.Float64}, Shape: []int{2, 2}},
	)
	tbl := ndarray.NewTable(dt, 2)
	mustSet := func(row int, field string, v any) {
		t.Helper()
		if err := tbl.SetValue(row, field, v); err != nil {
			t.Fatalf("set %s: %v", field, err)
		}
	}
	mustSet(0, "BIT", int64(0))
	mustSet(0, "VALUE", int64(1))
	mustSet(0, "NAME", "DO_NOT_USE")
	mustSet(0, "GOOD", true)
	mustSet(1, "BIT", int64(31))
	mustSet(1, "VALUE", uint64(1<<31))
	mustSet(1, "NAME", "REF_PIXEL")
	mustSet(1, "COEFFS", []any{1.0, 2.0, 3.0, 4.0})

	l := NewHDUList()
	hdu := NewBinTable("DQ_DEF", 1, tbl)
	hdu.Header.Set("TUNIT2", "bits", "")
	l.Append(hdu)

	out := roundTrip(t, l)
	h, ok := out.Get("DQ_DEF", 1)
	if !ok || h.Kind != BinTable {
		t.Fatalf("table missing")
	}
	if !h.Data.Equal(tbl) {
		t.Fatalf("table differs\n got %s\nwant %s", h.Data.Dtype, tbl.Dtype)
	}
	if h.Header.StringValue("TDIM5") != "(2,2)" {
		t.Fatalf("TDIM5 = %q", h.Header.StringValue("TDIM5"))
	}
	if h.Header.StringValue("TUNIT2") != "bits" {
		t.Fatalf("user column keyword lost")
	}
}

func TestRead_ScaledImageBecomesFloat(t *testing.T) {
	hdr := NewHeader(
		Card{Key: "SIMPLE", Value: true},
		Card{Key: "BITPIX", Value: int64(16)},
		Card{Key: "NAXIS", Value: int64(1)},
		Card{Key: "NAXIS1", Value: int64(2)},
		Card{Key: "BSCALE", Value: 2.0},
		Card{Key: "BZERO", Value: 10.0},
	)
	hb, err := hdr.Bytes()
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	data := make([]byte, blockLen)
	data[1] = 1    // 1
	data[2] = 0xff // -1
	data[3] = 0xff
	l, err := Read(bytes.NewReader(append(hb, data...)))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got := l.Primary().Data
	if got.Dtype.Kind != ndarray.Float64 {
		t.Fatalf("kind %s", got.Dtype.Kind)
	}
	if diff := cmp.Diff([]float64{12, 8}, got.Float64s()); diff != "" {
		t.Fatalf("values (-want +got):\n%s", diff)
	}
}

func TestRead_RejectsVariableLengthColumns(t *testing.T) {
	l := NewHDUList()
	hb, _ := l.Bytes()
	ext := NewHeader(
		Card{Key: "XTENSION", Value: "BINTABLE"},
		Card{Key: "BITPIX", Value: int64(8)},
		Card{Key: "NAXIS", Value: int64(2)},
		Card{Key: "NAXIS1", Value: int64(8)},
		Card{Key: "NAXIS2", Value: int64(0)},
		Card{Key: "PCOUNT", Value: int64(0)},
		Card{Key: "GCOUNT", Value: int64(1)},
		Card{Key: "TFIELDS", Value: int64(1)},
		Card{Key: "TTYPE1", Value: "VLA"},
		Card{Key: "TFORM1", Value: "1PE(5)"},
	)
	eb, _ := ext.Bytes()
	_, err := Read(bytes.NewReader(append(hb, eb...)))
	var fe *FormatError
	if !errors.As(err, &fe) || !strings.Contains(fe.Msg, "variable-length") {
		t.Fatalf("expected variable-length FormatError, got %v", err)
	}
}

func TestRead_RejectsOversizedData(t *testing.T) {
	primary := func(cards ...Card) []byte {
		t.Helper()
		hdr := NewHeader(append([]Card{{Key: "SIMPLE", Value: true}, {Key: "BITPIX", Value: int64(16)}}, cards...)...)
		b, err := hdr.Bytes()
		if err != nil {
			t.Fatalf("header: %v", err)
		}
		return append(b, make([]byte, blockLen)...)
	}
	l := NewHDUList()
	hb, _ := l.Bytes()
	table, err := NewHeader(
		Card{Key: "XTENSION", Value: "BINTABLE"},
		Card{Key: "BITPIX", Value: int64(8)},
		Card{Key: "NAXIS", Value: int64(2)},
		Card{Key: "NAXIS1", Value: int64(4)},
		Card{Key: "NAXIS2", Value: int64(1) << 62},
		Card{Key: "PCOUNT", Value: int64(0)},
		Card{Key: "GCOUNT", Value: int64(1)},
		Card{Key: "TFIELDS", Value: int64(1)},
		Card{Key: "TFORM1", Value: "1J"},
	).Bytes()
	if err != nil {
		t.Fatalf("header: %v", err)
	}

	tests := []struct {
		name string
		file []byte
	}{
		{"axis times item size overflows", primary(
			Card{Key: "NAXIS", Value: int64(1)},
			Card{Key: "NAXIS1", Value: int64(1) << 62},
		)},
		{"axis product wraps", primary(
			Card{Key: "NAXIS", Value: int64(2)},
			Card{Key: "NAXIS1", Value: int64(1) << 62},
			Card{Key: "NAXIS2", Value: int64(4)},
		)},
		{"claimed size beyond stream", primary(
			Card{Key: "NAXIS", Value: int64(2)},
			Card{Key: "NAXIS1", Value: int64(1) << 20},
			Card{Key: "NAXIS2", Value: int64(1) << 20},
		)},
		{"no groups", primary(
			Card{Key: "NAXIS", Value: int64(1)},
			Card{Key: "NAXIS1", Value: int64(4)},
			Card{Key: "GCOUNT", Value: int64(0)},
		)},
		{"negative pcount", primary(
			Card{Key: "NAXIS", Value: int64(1)},
			Card{Key: "NAXIS1", Value: int64(4)},
			Card{Key: "PCOUNT", Value: int64(-8)},
		)},
		{"table rows overflow", append(append([]byte(nil), hb...), table...)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l, err := Read(bytes.NewReader(tc.file))
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Fatalf("Read = %v, %v; want FormatError", l, err)
			}
		})
	}
}

func TestHDUList_IndexAndMaxVer(t *testing.T) {
	l := NewHDUList()
	l.Append(NewImage("SCI", 1, nil))
	l.Append(NewImage("SCI", 2, nil))
	l.Append(NewImage("DQ", 1, nil))
	if l.Index("PRIMARY", 1) != 0 || l.Index("sci", 2) != 2 || l.Index("ERR", 1) != -1 {
		t.Fatalf("unexpected indexes")
	}
	if l.MaxVer("SCI") != 2 || l.MaxVer("ERR") != 0 {
		t.Fatalf("MaxVer wrong")
	}
	l.Remove(1)
	if l.Index("SCI", 2) != 1 {
		t.Fatalf("Remove did not shift")
	}
}
