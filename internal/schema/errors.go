package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidSchemaType is returned when a schema cannot be used as an
	// extraction target: no fields, duplicate names, object fields without a
	// nested schema, bad patterns or recursive nesting.
	ErrInvalidSchemaType = errors.New("invalid schema type")

	// ErrSchemaValidation is wrapped by ValidationError.
	ErrSchemaValidation = errors.New("schema validation failed")
)

// Issue is one field that failed validation. Path is dotted, with list
// indexes for nested records (items.0.id).
type Issue struct {
	Path    string
	Message string
}

// ValidationError reports every field of an extracted record that does not
// match its declared type.
type ValidationError struct {
	Schema string
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = is.Path + ": " + is.Message
	}
	return fmt.Sprintf("%s: %s: %s", ErrSchemaValidation, e.Schema, strings.Join(parts, "; "))
}

// Unwrap makes errors.Is(err, ErrSchemaValidation) hold.
func (e *ValidationError) Unwrap() error {
	return ErrSchemaValidation
}

func (e *ValidationError) add(path, msg string) {
	e.Issues = append(e.Issues, Issue{Path: path, Message: msg})
}

// merge adds nested issues under prefix.
func (e *ValidationError) merge(prefix string, nested *ValidationError) {
	for _, is := range nested.Issues {
		e.add(prefix+"."+is.Path, is.Message)
	}
}
