package kwtoolapp

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spacetelescope/stdatamodels-go/internal/config"
)

func writeKWD(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"top.nircam.image.json": `{"properties": {"meta": {"$ref": "nircam_meta.json"}}}`,
		"nircam_meta.json": `{"properties": {
			"telescope": {"fits_keyword": "TELESCOP", "fits_hdu": "PRIMARY", "title": "Telescope used to acquire the data", "type": "string", "enum": ["JWST"]},
			"made_up": {"fits_keyword": "MADEUP", "fits_hdu": "PRIMARY", "title": "Not in any schema", "type": "string"}
		}}`,
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestRun_WritesReport(t *testing.T) {
	t.Setenv(config.EnvLogLevel, "error")
	report := filepath.Join(t.TempDir(), "out.html")
	var out, errOut bytes.Buffer
	if code := Run([]string{"-o", report, writeKWD(t)}, &out, &errOut); code != 0 {
		t.Fatalf("exit %d: %s", code, errOut.String())
	}
	if strings.TrimSpace(out.String()) != report {
		t.Errorf("stdout = %q", out.String())
	}
	b, err := os.ReadFile(report)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "HDU: PRIMARY KEYWORD: MADEUP") {
		t.Errorf("report does not list MADEUP:\n%s", b)
	}
}

func TestRun_Errors(t *testing.T) {
	t.Setenv(config.EnvLogLevel, "error")
	var out, errOut bytes.Buffer
	if code := Run(nil, &out, &errOut); code != 2 {
		t.Errorf("no arguments: exit %d", code)
	}
	if code := Run([]string{"-o", filepath.Join(t.TempDir(), "r.html"), t.TempDir()}, &out, &errOut); code != 1 {
		t.Errorf("directory without top files: exit %d", code)
	}

	bad := filepath.Join(t.TempDir(), "bad.hcl")
	if err := os.WriteFile(bad, []byte(`expected "PRIMARY" {`), 0o644); err != nil {
		t.Fatal(err)
	}
	if code := Run([]string{"-expected", bad, "-o", filepath.Join(t.TempDir(), "r.html"), writeKWD(t)}, &out, &errOut); code != 1 {
		t.Errorf("bad expected file: exit %d", code)
	}
}
