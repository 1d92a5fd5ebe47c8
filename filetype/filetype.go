// Package filetype tells FITS, ASDF and association files apart.
package filetype

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Type is a file format.
type Type string

const (
	ASDF Type = "asdf"
	FITS Type = "fits"
	ASN  Type = "asn"
)

// ErrUnknown is returned when neither the name nor the content identify
// the file.
var ErrUnknown = errors.New("filetype: unrecognized file type")

// Check returns the type of the file at path. The last two suffixes are
// consulted first, so "x.fits.gz" is FITS; a file whose name says nothing
// is identified by its first bytes.
func Check(path string) (Type, error) {
	if t, ok := fromSuffixes(path); ok {
		return t, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	t, err := CheckReader(f)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func fromSuffixes(path string) (Type, bool) {
	base := filepath.Base(path)
	parts := strings.Split(base, ".")
	if len(parts) < 2 {
		return "", false
	}
	suffixes := parts[1:]
	if len(suffixes) > 2 {
		suffixes = suffixes[len(suffixes)-2:]
	}
	for i := len(suffixes) - 1; i >= 0; i-- {
		switch strings.ToLower(suffixes[i]) {
		case "asdf":
			return ASDF, true
		case "fits":
			return FITS, true
		case "json":
			return ASN, true
		}
	}
	return "", false
}

// CheckReader identifies a stream from its first five bytes. When r is an
// io.Seeker it is rewound afterwards.
func CheckReader(r io.Reader) (Type, error) {
	magic := make([]byte, 5)
	if _, err := io.ReadFull(r, magic); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return "", ErrUnknown
		}
		return "", err
	}
	if s, ok := r.(io.Seeker); ok {
		if _, err := s.Seek(0, io.SeekStart); err != nil {
			return "", err
		}
	}
	switch string(magic) {
	case "#ASDF":
		return ASDF, nil
	case "SIMPL":
		return FITS, nil
	}
	return ASN, nil
}
