package asdf

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/spacetelescope/stdatamodels-go/ndarray"
)

func sampleTree(t *testing.T) map[string]any {
	t.Helper()
	data, err := ndarray.FromSlice([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	return map[string]any{
		"meta": map[string]any{
			"telescope": "JWST",
			"exposure":  map[string]any{"ngroups": int64(10), "start_time": 59000.0},
			"flags":     []any{true, false, nil},
			"note":      "123",
		},
		"data": data,
		"big":  uint64(1) << 63,
	}
}

func arrayComparer() cmp.Option {
	return cmp.Comparer(func(a, b *ndarray.Array) bool {
		if a == nil || b == nil {
			return a == b
		}
		return a.Source == b.Source && a.Equal(b)
	})
}

func TestRoundTrip(t *testing.T) {
	for _, compression := range []string{"", "zlib"} {
		t.Run("compression="+compression, func(t *testing.T) {
			tree := sampleTree(t)
			b, err := Marshal(tree, WithCompression(compression))
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if !bytes.HasPrefix(b, []byte("#ASDF 1.0.0\n#ASDF_STANDARD 1.5.0\n%YAML 1.1\n")) {
				t.Fatalf("unexpected header: %q", b[:40])
			}
			got, err := Unmarshal(b)
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if diff := cmp.Diff(tree, got, arrayComparer()); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWrite_IntegralFloatStaysFloat(t *testing.T) {
	b, err := Marshal(map[string]any{"x": 2.0, "y": int64(2)})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := got["x"].(float64); !ok {
		t.Fatalf("x decoded as %T", got["x"])
	}
	if _, ok := got["y"].(int64); !ok {
		t.Fatalf("y decoded as %T", got["y"])
	}
}

func TestWrite_LinkHasNoBlock(t *testing.T) {
	link := ndarray.NewLink("fits:SCI,1", ndarray.ScalarType(ndarray.Float32), 4, 5)
	b, err := Marshal(map[string]any{"data": link})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if bytes.Contains(b, blockMagic) {
		t.Fatalf("link must not produce a block")
	}
	if !strings.Contains(string(b), "fits:SCI,1") {
		t.Fatalf("source not written:\n%s", b)
	}
	got, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	a, ok := got["data"].(*ndarray.Array)
	if !ok {
		t.Fatalf("data decoded as %T", got["data"])
	}
	if a.Resolved() || a.Source != "fits:SCI,1" || len(a.Shape) != 2 || a.Shape[1] != 5 {
		t.Fatalf("unexpected link %s", a)
	}
}

func TestRead_LittleEndianBlock(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("#ASDF 1.0.0\n#ASDF_STANDARD 1.5.0\n%YAML 1.1\n%TAG ! tag:stsci.edu:asdf/\n--- !core/asdf-1.1.0\n")
	buf.WriteString("data: !core/ndarray-1.0.0 {source: 0, datatype: uint16, byteorder: little, shape: [2]}\n...\n")
	if err := writeBlock(&buf, []byte{0x01, 0x00, 0x00, 0x02}, ""); err != nil {
		t.Fatalf("writeBlock: %v", err)
	}
	got, err := Unmarshal(buf.Bytes())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	a := got["data"].(*ndarray.Array)
	if a.Uint64At(0) != 1 || a.Uint64At(1) != 512 {
		t.Fatalf("values = %d, %d", a.Uint64At(0), a.Uint64At(1))
	}
}

func TestRead_RejectsBadArrayGeometry(t *testing.T) {
	tests := []struct {
		name  string
		array string
	}{
		{"negative offset", "{source: 0, datatype: uint8, byteorder: big, shape: [4], offset: -4}"},
		{"offset past block", "{source: 0, datatype: uint8, byteorder: big, shape: [1], offset: 5}"},
		{"non-integer offset", "{source: 0, datatype: uint8, byteorder: big, shape: [1], offset: one}"},
		{"shape overflows", "{source: 0, datatype: uint8, byteorder: big, shape: [4611686018427387904, 4]}"},
		{"shape times item size overflows", "{source: 0, datatype: int16, byteorder: big, shape: [4611686018427387904]}"},
		{"shape larger than block", "{source: 0, datatype: float64, byteorder: big, shape: [2]}"},
		{"link shape overflows", "{source: 'fits:SCI,1', datatype: uint8, byteorder: big, shape: [4611686018427387904, 4]}"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			buf.WriteString("#ASDF 1.0.0\n#ASDF_STANDARD 1.5.0\n%YAML 1.1\n%TAG ! tag:stsci.edu:asdf/\n--- !core/asdf-1.1.0\n")
			buf.WriteString("data: !core/ndarray-1.0.0 " + tc.array + "\n...\n")
			if err := writeBlock(&buf, []byte{1, 2, 3, 4}, ""); err != nil {
				t.Fatalf("writeBlock: %v", err)
			}
			got, err := Unmarshal(buf.Bytes())
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Fatalf("Unmarshal = %v, %v; want FormatError", got, err)
			}
		})
	}
}

func TestRead_RejectsAliasExpansion(t *testing.T) {
	var doc strings.Builder
	doc.WriteString("#ASDF 1.0.0\n%YAML 1.1\n---\n")
	doc.WriteString("l0: &l0 [x, x, x, x, x, x, x, x, x, x]\n")
	for i := 1; i <= 7; i++ {
		ref := strings.Repeat(fmt.Sprintf("*l%d, ", i-1), 10)
		fmt.Fprintf(&doc, "l%d: &l%d [%s]\n", i, i, strings.TrimSuffix(ref, ", "))
	}
	doc.WriteString("...\n")
	_, err := Unmarshal([]byte(doc.String()))
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestRead_SmallAliasesExpand(t *testing.T) {
	doc := "#ASDF 1.0.0\n%YAML 1.1\n---\nbase: &b {a: 1}\ncopy: *b\n...\n"
	got, err := Unmarshal([]byte(doc))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(got["base"], got["copy"]); diff != "" {
		t.Fatalf("alias mismatch (-base +copy):\n%s", diff)
	}
}

func TestRead_ChecksumMismatch(t *testing.T) {
	b, err := Marshal(sampleTree(t))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	b[len(b)-1] ^= 0xff
	_, err = Unmarshal(b)
	var fe *FormatError
	if !errors.As(err, &fe) || !strings.Contains(fe.Msg, "checksum") {
		t.Fatalf("expected checksum FormatError, got %v", err)
	}
}

func TestRead_Versions(t *testing.T) {
	tests := []struct {
		name   string
		header string
		ok     bool
	}{
		{"current", "#ASDF 1.0.0\n#ASDF_STANDARD 1.5.0\n", true},
		{"no standard line", "#ASDF 1.0.0\n", true},
		{"future standard", "#ASDF 1.0.0\n#ASDF_STANDARD 2.0.0\n", false},
		{"future file format", "#ASDF 2.0.0\n", false},
		{"not asdf", "SIMPLE  =                    T\n", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tc.header + "%YAML 1.1\n---\na: 1\n...\n"))
			if (err == nil) != tc.ok {
				t.Fatalf("Unmarshal err = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestWrite_RejectsUnknownCompression(t *testing.T) {
	if _, err := Marshal(map[string]any{}, WithCompression("bzp2")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestIsSupportedStandard(t *testing.T) {
	min, max := SupportedRange()
	for _, v := range []string{min, max, "1.5.0"} {
		if ok, err := IsSupportedStandard(v); err != nil || !ok {
			t.Fatalf("IsSupportedStandard(%q) = %v, %v", v, ok, err)
		}
	}
	if ok, _ := IsSupportedStandard("0.9.0"); ok {
		t.Fatalf("0.9.0 should be unsupported")
	}
	if _, err := IsSupportedStandard("1.5"); err == nil {
		t.Fatalf("expected parse error")
	}
}
