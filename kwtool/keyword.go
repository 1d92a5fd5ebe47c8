package kwtool

import (
	"encoding/json"
	"strings"
)

// Keyword is the typed view of one keyword definition. Fields the view does
// not model are kept: Extensions holds keys starting with "x-" and Unknown
// every other unrecognised key. When marshaling, typed fields win over
// colliding Unknown or Extensions entries.
type Keyword struct {
	FitsKeyword string `json:"fits_keyword"`
	FitsHDU     string `json:"fits_hdu,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	// Type is a type name or a list of them.
	Type any   `json:"type,omitempty"`
	Enum []any `json:"enum,omitempty"`
	// Destination names the archive tables a dictionary keyword is stored
	// in, as a string or a list of strings.
	Destination any `json:"destination,omitempty"`

	Extensions map[string]json.RawMessage `json:"-"`
	Unknown    map[string]json.RawMessage `json:"-"`
}

// keywordWire mirrors the typed fields of Keyword for encoding. Keep the two
// in sync.
type keywordWire struct {
	FitsKeyword string `json:"fits_keyword"`
	FitsHDU     string `json:"fits_hdu,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Type        any    `json:"type,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	Destination any    `json:"destination,omitempty"`
}

var knownKeywordSet = knownSet(
	"fits_keyword", "fits_hdu", "title", "description", "type", "enum", "destination",
)

// has reports whether the definition carries field, typed or not.
func (k Keyword) has(field string) bool {
	switch field {
	case "title":
		return k.Title != ""
	case "description":
		return k.Description != ""
	case "type":
		return k.Type != nil
	case "enum":
		return k.Enum != nil
	case "destination":
		return k.Destination != nil
	}
	_, ok := k.Unknown[field]
	return ok
}

func (k *Keyword) UnmarshalJSON(b []byte) error {
	var w keywordWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*k = Keyword{
		FitsKeyword: w.FitsKeyword,
		FitsHDU:     w.FitsHDU,
		Title:       w.Title,
		Description: w.Description,
		Type:        w.Type,
		Enum:        w.Enum,
		Destination: w.Destination,
	}
	k.Extensions, k.Unknown = splitLossless(raw, knownKeywordSet)
	return nil
}

func (k Keyword) MarshalJSON() ([]byte, error) {
	return marshalLossless(k.Unknown, k.Extensions, keywordWire{
		FitsKeyword: k.FitsKeyword,
		FitsHDU:     k.FitsHDU,
		Title:       k.Title,
		Description: k.Description,
		Type:        k.Type,
		Enum:        k.Enum,
		Destination: k.Destination,
	})
}

// keywordFromNode builds the typed view of a decoded schema node.
func keywordFromNode(node map[string]any) (Keyword, error) {
	b, err := json.Marshal(node)
	if err != nil {
		return Keyword{}, err
	}
	var k Keyword
	err = json.Unmarshal(b, &k)
	return k, err
}

// splitLossless separates unknown fields into extensions (keys starting
// with "x-") and everything else not in known.
func splitLossless(raw map[string]json.RawMessage, known map[string]struct{}) (extensions, unknown map[string]json.RawMessage) {
	for k, v := range raw {
		if _, ok := known[k]; ok {
			continue
		}
		if strings.HasPrefix(k, "x-") {
			if extensions == nil {
				extensions = map[string]json.RawMessage{}
			}
			extensions[k] = v
			continue
		}
		if unknown == nil {
			unknown = map[string]json.RawMessage{}
		}
		unknown[k] = v
	}
	return extensions, unknown
}

func knownSet(keys ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}

// marshalLossless merges unknown and extensions with the typed view so
// known fields win.
func marshalLossless(unknown, extensions map[string]json.RawMessage, typed any) ([]byte, error) {
	out := map[string]json.RawMessage{}
	for k, v := range unknown {
		out[k] = v
	}
	for k, v := range extensions {
		out[k] = v
	}

	knownBytes, err := json.Marshal(typed)
	if err != nil {
		return nil, err
	}
	var known map[string]json.RawMessage
	if err := json.Unmarshal(knownBytes, &known); err != nil {
		return nil, err
	}
	for k, v := range known {
		out[k] = v
	}
	return json.Marshal(out)
}
