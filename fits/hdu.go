package fits

import (
	"fmt"
	"strings"

	"github.com/spacetelescope/stdatamodels-go/ndarray"
)

// Kind distinguishes the HDU layouts this package reads and writes.
type Kind int

const (
	Primary Kind = iota
	Image
	BinTable
)

func (k Kind) String() string {
	switch k {
	case Primary:
		return "PRIMARY"
	case Image:
		return "IMAGE"
	case BinTable:
		return "BINTABLE"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// FormatError reports malformed or unsupported FITS content.
type FormatError struct {
	HDU int
	Msg string
}

func (e *FormatError) Error() string {
	if e == nil {
		return "fits: format error"
	}
	if e.HDU > 0 {
		return fmt.Sprintf("fits: hdu %d: %s", e.HDU, e.Msg)
	}
	return "fits: " + e.Msg
}

// HDU is one header/data unit. Data is nil for header-only units, an image
// for Primary and Image kinds and a structured array for BinTable.
type HDU struct {
	Kind   Kind
	Header *Header
	Data   *ndarray.Array
}

// NewImage returns an image extension named name with version ver.
func NewImage(name string, ver int, data *ndarray.Array) *HDU {
	h := &HDU{Kind: Image, Header: NewHeader(), Data: data}
	h.setName(name, ver)
	return h
}

// NewBinTable returns a binary table extension named name with version ver.
func NewBinTable(name string, ver int, data *ndarray.Array) *HDU {
	h := &HDU{Kind: BinTable, Header: NewHeader(), Data: data}
	h.setName(name, ver)
	return h
}

func (h *HDU) setName(name string, ver int) {
	if name != "" {
		h.Header.Set("EXTNAME", strings.ToUpper(name), "extension name")
	}
	if ver > 0 {
		h.Header.Set("EXTVER", int64(ver), "extension value")
	}
}

// Name returns EXTNAME, or PRIMARY for a primary HDU without one.
func (h *HDU) Name() string {
	if n := strings.ToUpper(h.Header.StringValue("EXTNAME")); n != "" {
		return n
	}
	if h.Kind == Primary {
		return "PRIMARY"
	}
	return ""
}

// Ver returns EXTVER, defaulting to 1.
func (h *HDU) Ver() int {
	return int(h.Header.Int("EXTVER", 1))
}

// HDUList is the ordered content of a FITS file. The first HDU is always
// primary.
type HDUList struct {
	HDUs []*HDU
}

// NewHDUList returns a list holding an empty primary HDU.
func NewHDUList() *HDUList {
	return &HDUList{HDUs: []*HDU{{Kind: Primary, Header: NewHeader()}}}
}

// Len is the number of HDUs.
func (l *HDUList) Len() int { return len(l.HDUs) }

// Primary returns the primary HDU.
func (l *HDUList) Primary() *HDU { return l.HDUs[0] }

// Append adds h at the end.
func (l *HDUList) Append(h *HDU) { l.HDUs = append(l.HDUs, h) }

// Remove deletes the HDU at index i. The primary HDU cannot be removed.
func (l *HDUList) Remove(i int) {
	if i <= 0 || i >= len(l.HDUs) {
		return
	}
	l.HDUs = append(l.HDUs[:i], l.HDUs[i+1:]...)
}

// Index returns the position of the HDU with the given name and version,
// or -1. Names compare case-insensitively.
func (l *HDUList) Index(name string, ver int) int {
	name = strings.ToUpper(name)
	if ver <= 0 {
		ver = 1
	}
	for i, h := range l.HDUs {
		if h.Name() == name && h.Ver() == ver {
			return i
		}
	}
	return -1
}

// Get returns the HDU with the given name and version.
func (l *HDUList) Get(name string, ver int) (*HDU, bool) {
	i := l.Index(name, ver)
	if i < 0 {
		return nil, false
	}
	return l.HDUs[i], true
}

// MaxVer returns the highest EXTVER among HDUs named name, or 0.
func (l *HDUList) MaxVer(name string) int {
	name = strings.ToUpper(name)
	n := 0
	for _, h := range l.HDUs {
		if h.Name() == name && h.Ver() > n {
			n = h.Ver()
		}
	}
	return n
}
