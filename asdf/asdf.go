// Package asdf reads and writes ASDF files: a YAML tree followed by binary
// blocks holding array data.
//
// Only the parts of the format data models use are implemented: the tree,
// core/ndarray with internal blocks or external sources, and zlib block
// compression. Arrays are always written big-endian.
package asdf

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Library identifies this module in the asdf_library entry of written files.
const (
	LibraryName     = "stdatamodels-go"
	LibraryVersion  = "0.1.0"
	LibraryHomepage = "https://github.com/spacetelescope/stdatamodels-go"
)

const (
	rootTag     = "!core/asdf-1.1.0"
	softwareTag = "!core/software-1.0.0"
	ndarrayTag  = "!core/ndarray-1.0.0"
)

// FormatError reports a malformed or unsupported ASDF file.
type FormatError struct {
	Msg string
}

func (e *FormatError) Error() string {
	if e == nil {
		return "asdf: format error"
	}
	return "asdf: " + e.Msg
}

type options struct {
	compression string
}

// Option configures Write.
type Option func(*options)

// WithCompression selects block compression: "zlib" or "" for none.
func WithCompression(name string) Option {
	return func(o *options) { o.compression = name }
}

// Write encodes tree as an ASDF file. Every *ndarray.Array without a Source
// is stored in its own block. Arrays with a Source are written as references
// and carry no block. tree is not modified.
func Write(w io.Writer, tree map[string]any, opts ...Option) error {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	switch o.compression {
	case compressionNone, compressionZlib:
	default:
		return fmt.Errorf("asdf: unsupported compression %q", o.compression)
	}

	e := &encoder{}
	root, err := e.mapping(withLibrary(tree))
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "#ASDF %s\n#ASDF_STANDARD %s\n%%YAML 1.1\n%%TAG ! tag:stsci.edu:asdf/\n--- %s\n", FileVersion, StandardVersion, rootTag)
	enc := yaml.NewEncoder(bw)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return fmt.Errorf("asdf: encode tree: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("asdf: encode tree: %w", err)
	}
	bw.WriteString("...\n")
	for _, b := range e.blocks {
		if err := writeBlock(bw, b, o.compression); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Marshal is Write into a byte slice.
func Marshal(tree map[string]any, opts ...Option) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, tree, opts...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func withLibrary(tree map[string]any) map[string]any {
	out := make(map[string]any, len(tree)+1)
	for k, v := range tree {
		out[k] = v
	}
	out["asdf_library"] = software{
		"author":   "Space Telescope Science Institute",
		"homepage": LibraryHomepage,
		"name":     LibraryName,
		"version":  LibraryVersion,
	}
	return out
}

// Read decodes an ASDF file. Block-backed arrays are loaded; arrays with an
// external source are returned unresolved (see ndarray.NewLink). The
// asdf_library entry is dropped.
func Read(r io.Reader) (map[string]any, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Unmarshal(b)
}

// Unmarshal is Read from a byte slice.
func Unmarshal(b []byte) (map[string]any, error) {
	if err := checkVersions(b); err != nil {
		return nil, err
	}

	doc, rest := splitDocument(b)
	var blocks [][]byte
	if i := bytes.Index(rest, blockMagic); i >= 0 {
		var err error
		if blocks, err = readBlocks(rest[i:]); err != nil {
			return nil, err
		}
	}

	tree := map[string]any{}
	if len(bytes.TrimSpace(doc)) > 0 {
		var n yaml.Node
		if err := yaml.Unmarshal(doc, &n); err != nil {
			return nil, &FormatError{Msg: fmt.Sprintf("tree: %v", err)}
		}
		d := &decoder{blocks: blocks}
		v, err := d.value(&n)
		if err != nil {
			return nil, err
		}
		if v != nil {
			m, ok := v.(map[string]any)
			if !ok {
				return nil, &FormatError{Msg: fmt.Sprintf("tree root is %T, not a mapping", v)}
			}
			tree = m
		}
	}
	delete(tree, "asdf_library")
	return tree, nil
}

func checkVersions(b []byte) error {
	line, rest, _ := bytes.Cut(b, []byte("\n"))
	ver, ok := strings.CutPrefix(strings.TrimSpace(string(line)), "#ASDF ")
	if !ok {
		return &FormatError{Msg: "missing #ASDF header"}
	}
	if ok, err := isSupportedFile(ver); err != nil || !ok {
		return &FormatError{Msg: fmt.Sprintf("unsupported file format version %q", ver)}
	}
	line, _, _ = bytes.Cut(rest, []byte("\n"))
	if std, ok := strings.CutPrefix(strings.TrimSpace(string(line)), "#ASDF_STANDARD "); ok {
		if ok, err := IsSupportedStandard(std); err != nil || !ok {
			min, max := SupportedRange()
			return &FormatError{Msg: fmt.Sprintf("standard version %q outside supported range %s-%s", std, min, max)}
		}
	}
	return nil
}

// splitDocument returns the YAML text up to the document end marker and
// whatever follows it.
func splitDocument(b []byte) (doc, rest []byte) {
	if i := bytes.Index(b, []byte("\n...\n")); i >= 0 {
		return b[:i+1], b[i+5:]
	}
	if bytes.HasSuffix(b, []byte("\n...")) {
		return b[:len(b)-3], nil
	}
	if i := bytes.Index(b, blockMagic); i >= 0 {
		return b[:i], b[i:]
	}
	return b, nil
}
