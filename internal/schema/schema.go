package schema

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/nao1215/fastcrawl/internal/processor"
)

// Field is one named, typed value of a record. A field without a selector
// always takes its Default.
type Field struct {
	Name     string
	Type     Type
	Selector *Selector
	Default  any
	// Optional allows a nil value.
	Optional bool
}

// NewField returns a required field filled by sel.
func NewField(name string, t Type, sel *Selector) Field {
	return Field{Name: name, Type: t, Selector: sel}
}

// Constant returns a field that always holds v.
func Constant(name string, t Type, v any) Field {
	return Field{Name: name, Type: t, Default: v}
}

// Nullable returns a copy of f that accepts nil.
func (f Field) Nullable() Field {
	f.Optional = true
	return f
}

// Schema declares the record extracted from each page of a stage and how
// further addresses are discovered from it.
type Schema struct {
	Name   string
	Fields []Field
	// SameStageResolver yields addresses crawled by the same stage.
	SameStageResolver *Selector
	// NextStageResolver yields addresses handed to the following stage.
	NextStageResolver *Selector
	// Method and Body shape requests for this stage. Method defaults to GET.
	Method string
	Body   string
	// Processor is the default processor for selectors. Nil means HTML.
	Processor processor.Processor
}

// New returns a schema with the given fields.
func New(name string, fields ...Field) *Schema {
	return &Schema{Name: name, Fields: fields}
}

// processorFor returns the processor that evaluates sel.
func (s *Schema) processorFor(sel *Selector, fallback processor.Processor) processor.Processor {
	if sel.Processor != nil {
		return sel.Processor
	}
	if s.Processor != nil {
		return s.Processor
	}
	return fallback
}

// Validate checks that s can be used as an extraction target. Errors wrap
// ErrInvalidSchemaType.
func (s *Schema) Validate() error {
	return s.validate(map[*Schema]bool{})
}

func (s *Schema) validate(stack map[*Schema]bool) error {
	if s == nil {
		return fmt.Errorf("%w: nil schema", ErrInvalidSchemaType)
	}
	if stack[s] {
		return fmt.Errorf("%w: schema %q nests itself", ErrInvalidSchemaType, s.Name)
	}
	stack[s] = true
	defer delete(stack, s)

	if len(s.Fields) == 0 {
		return fmt.Errorf("%w: schema %q has no fields", ErrInvalidSchemaType, s.Name)
	}
	if s.Method != "" && !validMethod(s.Method) {
		return fmt.Errorf("%w: schema %q: unsupported method %q", ErrInvalidSchemaType, s.Name, s.Method)
	}

	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: schema %q has a field without a name", ErrInvalidSchemaType, s.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: schema %q: duplicate field %q", ErrInvalidSchemaType, s.Name, f.Name)
		}
		seen[f.Name] = true

		if f.Selector == nil {
			if f.Default == nil && !f.Optional {
				return fmt.Errorf("%w: schema %q: field %q has neither selector nor default", ErrInvalidSchemaType, s.Name, f.Name)
			}
			continue
		}
		if err := validateSelector(f.Selector, stack); err != nil {
			return fmt.Errorf("schema %q: field %q: %w", s.Name, f.Name, err)
		}
		if f.Type.Kind == KindObject && f.Selector.Nested == nil {
			return fmt.Errorf("%w: schema %q: object field %q needs a nested schema", ErrInvalidSchemaType, s.Name, f.Name)
		}
		if f.Selector.Nested != nil && f.Type.Kind != KindObject && f.Type.Kind != KindAny {
			return fmt.Errorf("%w: schema %q: field %q has a nested schema but type %s", ErrInvalidSchemaType, s.Name, f.Name, f.Type)
		}
		if f.Type.List && !f.Selector.Many && !f.Selector.HasDefault {
			return fmt.Errorf("%w: schema %q: list field %q needs a many selector", ErrInvalidSchemaType, s.Name, f.Name)
		}
	}

	for _, r := range []*Selector{s.SameStageResolver, s.NextStageResolver} {
		if r == nil {
			continue
		}
		if r.Nested != nil {
			return fmt.Errorf("%w: schema %q: resolvers cannot nest schemas", ErrInvalidSchemaType, s.Name)
		}
		if err := validateSelector(r, stack); err != nil {
			return fmt.Errorf("schema %q: resolver: %w", s.Name, err)
		}
	}
	return nil
}

func validateSelector(sel *Selector, stack map[*Schema]bool) error {
	if strings.TrimSpace(sel.Query) == "" {
		return fmt.Errorf("%w: empty %s query", ErrInvalidSchemaType, sel.Kind)
	}
	if sel.Kind == PatternQuery && sel.pattern == nil && sel.patternErr == nil {
		sel.pattern, sel.patternErr = regexp.Compile(sel.Query)
	}
	if sel.Kind == PatternQuery && sel.patternErr != nil {
		return fmt.Errorf("%w: bad pattern %q: %v", ErrInvalidSchemaType, sel.Query, sel.patternErr)
	}
	if sel.Nested != nil {
		return sel.Nested.validate(stack)
	}
	return nil
}

func validMethod(m string) bool {
	switch strings.ToUpper(m) {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
