package kwtool

import (
	"encoding/json"
	"html/template"
	"io"
	"sort"
)

var reportTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"entries": func(m map[Key][]Entry, k Key) []Entry { return m[k] },
	"pretty":  prettyKeyword,
	"diffs":   sortedDiffs,
}).Parse(`<html><body>
{{- define "details"}}
{{- range $h := .Sources}}<h3>{{$h.Title}}</h3>
{{- with entries $h.Entries $.Key}}<ul>
{{- range .}}<li><div><dl><dt>path</dt><dd>{{.PathString}}</dd><dt>scope</dt><dd>{{.Scope}}</dd><dt>keyword</dt><dd><pre><code>{{pretty .Keyword}}</code></pre></dd></dl></div></li>
{{- end}}</ul>
{{- else}}Missing{{end}}
{{- end}}
{{- end}}
<h1>Keywords in the keyword dictionary but NOT in the datamodel schemas</h1>
{{- range .InKWD}}
<details><summary>{{.}}</summary>{{template "details" ($.Details .)}}</details>
{{- end}}
<h1>Keywords in the datamodel schemas but NOT in the keyword dictionary</h1>
{{- range .InDMD}}
<details><summary>{{.}}</summary>{{template "details" ($.Details .)}}</details>
{{- end}}
<h1>Keywords in both with definition differences</h1>
{{- range $k := .DiffKeys}}
<details><summary>{{$k}}</summary><div>
{{- range diffs (index $.DefDiff $k)}}<dl><dt>{{.Name}}</dt><dd><pre><code>kwd: {{.KWD}}
dmd: {{.DMD}}</code></pre></dd></dl>{{end}}</div></details>
{{- end}}
{{- if .AcceptedKeys}}
<h1>Expected differences</h1>
{{- range $k := .AcceptedKeys}}
<details><summary>{{$k}}</summary><p>{{index $.Notes $k}}</p><div>
{{- range diffs (index $.Accepted $k)}}<dl><dt>{{.Name}}</dt><dd><pre><code>kwd: {{.KWD}}
dmd: {{.DMD}}</code></pre></dd></dl>{{end}}</div></details>
{{- end}}
{{- end}}
{{- if .Stale}}
<h1>Expected differences that no longer occur</h1>
<ul>{{range .Stale}}<li>{{.}}</li>{{end}}</ul>
{{- end}}
</body></html>
`))

type reportData struct {
	Result
	DiffKeys     []Key
	AcceptedKeys []Key
}

type keyDetails struct {
	Key     Key
	Sources []source
}

type source struct {
	Title   string
	Entries map[Key][]Entry
}

// Details lists both collections' definitions of k.
func (d reportData) Details(k Key) keyDetails {
	return keyDetails{Key: k, Sources: []source{
		{Title: "Keyword Dictionary", Entries: d.KWD},
		{Title: "Datamodel Schemas", Entries: d.DMD},
	}}
}

type namedDiff struct {
	Name string
	Diff
}

func sortedDiffs(m map[string]Diff) []namedDiff {
	out := make([]namedDiff, 0, len(m))
	for name, d := range m {
		out = append(out, namedDiff{Name: name, Diff: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func prettyKeyword(k Keyword) string {
	b, err := json.Marshal(k)
	if err != nil {
		return err.Error()
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err.Error()
	}
	b, err = json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err.Error()
	}
	return string(b)
}

func mapKeys(m map[Key]map[string]Diff) []Key {
	out := make([]Key, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sortKeys(out)
	return out
}

// Report writes r as an HTML page.
func Report(w io.Writer, r Result) error {
	return reportTmpl.Execute(w, reportData{
		Result:       r,
		DiffKeys:     mapKeys(r.DefDiff),
		AcceptedKeys: mapKeys(r.Accepted),
	})
}
