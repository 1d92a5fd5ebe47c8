// Package validate checks tree values against data model schemas.
//
// It implements the JSON Schema draft 4 vocabulary the schemas use plus the
// array keywords (ndim, max_ndim, datatype) and tag. It is not a general
// purpose validator: $ref must already be resolved, see schema.Loader.
package validate

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

type options struct {
	arrays bool
	path   string
}

// Option configures Validate.
type Option func(*options)

// WithArrays enables (the default) or disables the ndim, max_ndim and
// datatype checks on arrays.
func WithArrays(enabled bool) Option {
	return func(o *options) { o.arrays = enabled }
}

// WithPath prefixes every reported problem path, for values validated on
// their own but living deeper in a tree.
func WithPath(prefix string) Option {
	return func(o *options) { o.path = prefix }
}

// ValidationError lists every problem found, sorted.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Problems) == 0 {
		return "validation failed"
	}
	if len(e.Problems) == 1 {
		return e.Problems[0]
	}
	return fmt.Sprintf("%d problems:\n  %s", len(e.Problems), strings.Join(e.Problems, "\n  "))
}

// Validate checks value against s. It returns a *ValidationError or nil.
// A nil value is treated as absent and always passes.
func Validate(value any, s map[string]any, opts ...Option) error {
	o := options{arrays: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if value == nil || s == nil {
		return nil
	}
	v := &validator{opts: o}
	v.check(value, s, o.path)
	if len(v.problems) == 0 {
		return nil
	}
	sort.Strings(v.problems)
	return &ValidationError{Problems: v.problems}
}

const maxMessage = 2000

// Describe renders err the way assignment failures are reported, truncated
// to a readable size.
func Describe(path string, err error) string {
	msg := fmt.Sprintf("While validating %s the following error occurred:\n%v", path, err)
	if len(msg) > maxMessage {
		cut := maxMessage
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	return msg
}
