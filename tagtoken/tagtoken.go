// Package tagtoken parses YAML tags of the form
// `tag:<authority>:<name>-<version>` used by ASDF trees and schemas.
package tagtoken

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// DefaultPrefix is what the `!` handle expands to in ASDF documents.
const DefaultPrefix = "tag:stsci.edu:asdf/"

// NDArray is the tag name (without version) of n-dimensional arrays.
const NDArray = "asdf/core/ndarray"

// NDArrayTag is the full ndarray tag written by this module.
const NDArrayTag = "tag:stsci.edu:asdf/core/ndarray-1.0.0"

// Tag is a parsed `tag:<authority>:<name>-<version>`.
type Tag struct {
	Authority string
	Name      string
	// Version may be empty for unversioned tags.
	Version string
}

func (t Tag) String() string {
	if t.Authority == "" || t.Name == "" {
		return ""
	}
	s := "tag:" + t.Authority + ":" + t.Name
	if t.Version != "" {
		s += "-" + t.Version
	}
	return s
}

// Local returns the `!`-prefixed short form when the tag lives under DefaultPrefix.
func (t Tag) Local() string {
	full := t.String()
	if strings.HasPrefix(full, DefaultPrefix) {
		return "!" + strings.TrimPrefix(full, DefaultPrefix)
	}
	return full
}

var versionRe = regexp.MustCompile(`^(.+)-([0-9]+(?:\.[0-9*]+){0,2}|\*)$`)

// Parse parses a full tag or a `!`-local tag resolved against DefaultPrefix.
func Parse(s string) (Tag, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Tag{}, errors.New("tag: empty")
	}
	if strings.HasPrefix(s, "!<") && strings.HasSuffix(s, ">") {
		s = s[2 : len(s)-1]
	}
	if strings.HasPrefix(s, "!") && !strings.HasPrefix(s, "!!") {
		s = DefaultPrefix + s[1:]
	}
	if !strings.HasPrefix(s, "tag:") {
		return Tag{}, fmt.Errorf("tag: invalid %q", s)
	}
	rest := s[len("tag:"):]
	colon := strings.IndexByte(rest, ':')
	if colon <= 0 || colon == len(rest)-1 {
		return Tag{}, fmt.Errorf("tag: invalid %q", s)
	}
	t := Tag{Authority: rest[:colon]}
	name := rest[colon+1:]
	if m := versionRe.FindStringSubmatch(name); m != nil {
		t.Name, t.Version = m[1], m[2]
	} else {
		t.Name = name
	}
	return t, nil
}

// Normalize returns the full form of s.
func Normalize(s string) (string, error) {
	t, err := Parse(s)
	if err != nil {
		return "", err
	}
	return t.String(), nil
}

// Match reports whether tag satisfies pattern. Patterns may use `*` wildcards
// and may omit the version, in which case any version matches.
func Match(pattern, tag string) bool {
	pt, err := Parse(pattern)
	if err != nil {
		return false
	}
	tt, err := Parse(tag)
	if err != nil {
		return false
	}
	if pt.Authority != tt.Authority {
		return false
	}
	if ok, _ := path.Match(pt.Name, tt.Name); !ok {
		return false
	}
	if pt.Version == "" {
		return true
	}
	ok, _ := path.Match(pt.Version, tt.Version)
	return ok
}

// IsNDArray reports whether s names any version of the ndarray tag.
func IsNDArray(s string) bool {
	t, err := Parse(s)
	if err != nil {
		return false
	}
	return t.Authority == "stsci.edu" && t.Name == NDArray
}
