package schema

import (
	"fmt"
	"strings"
)

// RefError indicates a $ref resolution problem.
type RefError struct {
	Path string
	Ref  string
	Err  error
}

func (e *RefError) Error() string {
	if e == nil {
		return "ref error"
	}
	if e.Path == "" {
		return fmt.Sprintf("$ref %q: %v", e.Ref, e.Err)
	}
	return fmt.Sprintf("%s.$ref %q: %v", e.Path, e.Ref, e.Err)
}

func (e *RefError) Unwrap() error { return e.Err }

// SchemaError indicates a schema that cannot be loaded or extended as asked.
type SchemaError struct {
	Path    string
	Message string
}

func (e *SchemaError) Error() string {
	if e == nil {
		return "schema error"
	}
	if e.Path == "" {
		return fmt.Sprintf("schema error: %s", e.Message)
	}
	return fmt.Sprintf("schema error at %s: %s", e.Path, e.Message)
}

// LintError collects every problem Lint found in one document.
type LintError struct {
	ID       string
	Problems []string
}

func (e *LintError) Error() string {
	if e == nil || len(e.Problems) == 0 {
		return "lint error"
	}
	head := "schema lint"
	if e.ID != "" {
		head += " " + e.ID
	}
	return head + ":\n  " + strings.Join(e.Problems, "\n  ")
}
