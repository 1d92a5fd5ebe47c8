package asdf

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

// File format and standard versions written by this package, and the range
// accepted on read.
const (
	FileVersion     = "1.0.0"
	StandardVersion = "1.5.0"

	MinStandardVersion = "1.0.0"
	MaxStandardVersion = "1.6.0"
)

// SupportedRange returns the lowest and highest ASDF standard versions Read
// accepts.
func SupportedRange() (min, max string) {
	return MinStandardVersion, MaxStandardVersion
}

var (
	minStandard semver
	maxStandard semver
	fileSemver  semver
)

func init() {
	var err error
	if minStandard, err = parseSemverStrict(MinStandardVersion); err != nil {
		panic(fmt.Sprintf("asdf: invalid MinStandardVersion %q: %v", MinStandardVersion, err))
	}
	if maxStandard, err = parseSemverStrict(MaxStandardVersion); err != nil {
		panic(fmt.Sprintf("asdf: invalid MaxStandardVersion %q: %v", MaxStandardVersion, err))
	}
	if fileSemver, err = parseSemverStrict(FileVersion); err != nil {
		panic(fmt.Sprintf("asdf: invalid FileVersion %q: %v", FileVersion, err))
	}
}

// IsSupportedStandard reports whether v lies within SupportedRange.
func IsSupportedStandard(v string) (bool, error) {
	parsed, err := parseSemverStrict(v)
	if err != nil {
		return false, err
	}
	return compareSemver(parsed, minStandard) >= 0 && compareSemver(parsed, maxStandard) <= 0, nil
}

// isSupportedFile accepts any 1.x file format version.
func isSupportedFile(v string) (bool, error) {
	parsed, err := parseSemverStrict(v)
	if err != nil {
		return false, err
	}
	return parsed.major == fileSemver.major, nil
}

type semver struct {
	major int
	minor int
	patch int
}

func parseSemverStrict(v string) (semver, error) {
	parts := strings.Split(strings.TrimSpace(v), ".")
	if len(parts) != 3 {
		return semver{}, fmt.Errorf("invalid semver: %q", v)
	}
	var out [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return semver{}, fmt.Errorf("invalid semver: %q", v)
		}
		out[i] = n
	}
	return semver{major: out[0], minor: out[1], patch: out[2]}, nil
}

func compareSemver(a, b semver) int {
	if a.major != b.major {
		return cmp.Compare(a.major, b.major)
	}
	if a.minor != b.minor {
		return cmp.Compare(a.minor, b.minor)
	}
	return cmp.Compare(a.patch, b.patch)
}
