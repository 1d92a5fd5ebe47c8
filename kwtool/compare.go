package kwtool

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/spacetelescope/stdatamodels-go/canonicaljson"
)

// MissingValue stands in for a definition that lacks the compared item.
const MissingValue = "MISSING_VALUE"

// Kinds of definition difference.
const (
	DiffPath  = "path"
	DiffTitle = "title"
	DiffType  = "type"
	DiffEnum  = "enum"
)

var standardRe = regexp.MustCompile(`^(` + strings.Join([]string{
	"", "NAXIS[0-9]{0,3}", "BITPIX", "XTENSION", "PCOUNT", "GCOUNT",
	"EXTEND", "BSCALE", "BUNIT", "BZERO", "BLANK", "DATAMAX", "DATAMIN",
	"EXTNAME", "EXTVER", "EXTLEVEL", "GROUPS", "PTYPE[0-9]",
	"PSCAL[0-9]", "PZERO[0-9]", "SIMPLE", "TFIELDS",
	"TBCOL[0-9]{1,3}", "TFORM[0-9]{1,3}", "TTYPE[0-9]{1,3}",
	"TUNIT[0-9]{1,3}", "TSCAL[0-9]{1,3}", "TZERO[0-9]{1,3}",
	"TNULL[0-9]{1,3}", "TDISP[0-9]{1,3}", "HISTORY",
}, "|") + `)$`)

// IsStandard reports whether keyword is defined by the FITS standard.
func IsStandard(keyword string) bool { return standardRe.MatchString(keyword) }

// IsPattern reports whether keyword is a pattern keyword (P_*), which only
// the dictionary uses.
func IsPattern(keyword string) bool { return strings.HasPrefix(keyword, "P_") }

func filterKeys(m map[Key][]Entry) map[Key][]Entry {
	out := make(map[Key][]Entry, len(m))
	for k, v := range m {
		if IsStandard(k.Keyword) || IsPattern(k.Keyword) {
			continue
		}
		out[k] = v
	}
	return out
}

// Diff is one kind of difference: the values seen in the dictionary and in
// the datamodel schemas, sorted.
type Diff struct {
	KWD []string
	DMD []string
}

// Result is the outcome of Compare.
type Result struct {
	InKWD  []Key
	InDMD  []Key
	InBoth []Key
	// DefDiff holds unexplained definition differences of keywords in both.
	DefDiff map[Key]map[string]Diff
	// Accepted holds differences matched by an expected entry.
	Accepted map[Key]map[string]Diff
	Notes    map[Key]string
	// Stale lists expected entries that matched no difference.
	Stale []Key

	KWD map[Key][]Entry
	DMD map[Key][]Entry
}

// Compare matches dictionary keywords against datamodel keywords. Standard
// FITS and pattern keywords are ignored. Differences described by expected,
// which may be nil, are moved to Accepted.
func Compare(kwd, dmd map[Key][]Entry, expected *Expected) Result {
	kwd, dmd = filterKeys(kwd), filterKeys(dmd)
	r := Result{
		DefDiff:  map[Key]map[string]Diff{},
		Accepted: map[Key]map[string]Diff{},
		Notes:    map[Key]string{},
		KWD:      kwd,
		DMD:      dmd,
	}
	for k := range kwd {
		if _, ok := dmd[k]; ok {
			r.InBoth = append(r.InBoth, k)
		} else {
			r.InKWD = append(r.InKWD, k)
		}
	}
	for k := range dmd {
		if _, ok := kwd[k]; !ok {
			r.InDMD = append(r.InDMD, k)
		}
	}
	sortKeys(r.InKWD)
	sortKeys(r.InDMD)
	sortKeys(r.InBoth)

	used := map[Key]bool{}
	for _, k := range r.InBoth {
		diffs := compareDefinitions(kwd[k], dmd[k])
		if len(diffs) == 0 {
			continue
		}
		var exp *ExpectedEntry
		if expected != nil {
			exp = expected.lookup(k)
		}
		for name, d := range diffs {
			if exp != nil && exp.accepts(name, d) {
				used[k] = true
				if r.Accepted[k] == nil {
					r.Accepted[k] = map[string]Diff{}
				}
				r.Accepted[k][name] = d
				r.Notes[k] = exp.Notes
				continue
			}
			if r.DefDiff[k] == nil {
				r.DefDiff[k] = map[string]Diff{}
			}
			r.DefDiff[k][name] = d
		}
	}
	if expected != nil {
		for _, e := range expected.Entries {
			if !used[e.Key] {
				r.Stale = append(r.Stale, e.Key)
			}
		}
		sortKeys(r.Stale)
	}
	return r
}

func compareDefinitions(k, d []Entry) map[string]Diff {
	out := map[string]Diff{}
	for name, fn := range map[string]func(k, d []Entry) *Diff{
		DiffPath:  comparePath,
		DiffTitle: func(k, d []Entry) *Diff { return compareSubitem(k, d, "title") },
		DiffType:  compareType,
		DiffEnum:  compareEnum,
	} {
		if diff := fn(k, d); diff != nil {
			out[name] = *diff
		}
	}
	return out
}

// comparePath only compares paths when the dictionary says where the
// keyword is stored.
func comparePath(k, d []Entry) *Diff {
	hasDestination := false
	for _, e := range k {
		if e.Keyword.has("destination") {
			hasDestination = true
			break
		}
	}
	if !hasDestination {
		return nil
	}
	return diffSets(
		collect(k, func(e Entry) []string { return []string{e.PathString()} }),
		collect(d, func(e Entry) []string { return []string{e.PathString()} }),
	)
}

func compareSubitem(k, d []Entry, field string) *Diff {
	get := func(e Entry) []string {
		if !e.Keyword.has(field) {
			return []string{MissingValue}
		}
		switch field {
		case "title":
			return []string{e.Keyword.Title}
		case "description":
			return []string{e.Keyword.Description}
		}
		return []string{string(e.Keyword.Unknown[field])}
	}
	return diffSets(collect(k, get), collect(d, get))
}

// kwdTypes maps dictionary type names onto schema type names.
var kwdTypes = map[string]string{
	"float":   "number",
	"int":     "integer",
	"bool":    "boolean",
	"str":     "string",
	"char":    "string",
	"double":  "number",
	"logical": "boolean",
}

func compareType(k, d []Entry) *Diff {
	get := func(e Entry) []string {
		var names []string
		switch t := e.Keyword.Type.(type) {
		case nil:
			return []string{MissingValue}
		case string:
			names = []string{t}
		case []any:
			for _, it := range t {
				names = append(names, fmt.Sprint(it))
			}
		default:
			names = []string{fmt.Sprint(t)}
		}
		for i, n := range names {
			if mapped, ok := kwdTypes[n]; ok {
				names[i] = mapped
			}
		}
		return names
	}
	return diffSets(collect(k, get), collect(d, get))
}

func compareEnum(k, d []Entry) *Diff {
	found := false
	for _, e := range append(append([]Entry(nil), k...), d...) {
		if e.Keyword.has("enum") {
			found = true
			break
		}
	}
	if !found {
		return nil
	}
	get := func(e Entry) []string {
		if !e.Keyword.has("enum") {
			return []string{MissingValue}
		}
		out := make([]string, 0, len(e.Keyword.Enum))
		for _, v := range e.Keyword.Enum {
			out = append(out, enumKey(v))
		}
		return out
	}
	return diffSets(collect(k, get), collect(d, get))
}

// enumKey is the set member for an enum value: strings as they are and
// anything else in canonical JSON, so 2 and 2.0 are one value.
func enumKey(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	s, err := canonicaljson.String(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return s
}

type set map[string]struct{}

func collect(entries []Entry, fn func(Entry) []string) set {
	s := set{}
	for _, e := range entries {
		for _, v := range fn(e) {
			s[v] = struct{}{}
		}
	}
	return s
}

func (s set) equal(o set) bool {
	if len(s) != len(o) {
		return false
	}
	for v := range s {
		if _, ok := o[v]; !ok {
			return false
		}
	}
	return true
}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func diffSets(k, d set) *Diff {
	if k.equal(d) {
		return nil
	}
	return &Diff{KWD: k.sorted(), DMD: d.sorted()}
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].HDU != keys[j].HDU {
			return keys[i].HDU < keys[j].HDU
		}
		return keys[i].Keyword < keys[j].Keyword
	})
}
