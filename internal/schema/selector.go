package schema

import (
	"regexp"

	"github.com/nao1215/fastcrawl/internal/processor"
)

// QueryKind selects how a selector query is evaluated.
type QueryKind int

const (
	// PathQuery evaluates an XPath expression (or a JSON path) with the processor.
	PathQuery QueryKind = iota
	// StyleQuery evaluates a CSS selector (or a dotted JSON path) with the processor.
	StyleQuery
	// PatternQuery evaluates a regular expression over the raw document.
	PatternQuery
)

func (k QueryKind) String() string {
	switch k {
	case PathQuery:
		return "path"
	case StyleQuery:
		return "style"
	case PatternQuery:
		return "pattern"
	default:
		return "unknown"
	}
}

// Extract modes. Any other value names an attribute.
const (
	ExtractRaw  = ""
	ExtractText = "text"
)

// Selector locates values in a document.
type Selector struct {
	Kind  QueryKind
	Query string
	// Extract is ExtractRaw, ExtractText or an attribute name.
	Extract string
	// Many returns every match instead of the first one.
	Many bool
	// Nested extracts a record from each match with this schema.
	Nested *Schema
	// Default is used when nothing matches.
	Default    any
	HasDefault bool
	// Processor overrides the schema processor for this selector.
	Processor processor.Processor

	pattern    *regexp.Regexp
	patternErr error
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// Many makes the selector return every match.
func Many() SelectorOption {
	return func(s *Selector) { s.Many = true }
}

// Extract sets the extraction mode: ExtractText, ExtractRaw or an attribute name.
func Extract(mode string) SelectorOption {
	return func(s *Selector) { s.Extract = mode }
}

// Nested extracts a record per match using schema.
func Nested(schema *Schema) SelectorOption {
	return func(s *Selector) { s.Nested = schema }
}

// Default sets the value used when nothing matches.
func Default(v any) SelectorOption {
	return func(s *Selector) {
		s.Default = v
		s.HasDefault = true
	}
}

// Using overrides the processor for one selector.
func Using(p processor.Processor) SelectorOption {
	return func(s *Selector) { s.Processor = p }
}

// Path returns an XPath selector.
func Path(query string, opts ...SelectorOption) *Selector {
	return newSelector(PathQuery, query, opts)
}

// Style returns a CSS selector, or a dotted path for JSON documents.
func Style(query string, opts ...SelectorOption) *Selector {
	return newSelector(StyleQuery, query, opts)
}

// Pattern returns a regular expression selector. A single match yields the
// first capture group, or the whole match when the pattern has no group.
// Compile errors surface from Schema.Validate.
func Pattern(expr string, opts ...SelectorOption) *Selector {
	s := newSelector(PatternQuery, expr, opts)
	s.pattern, s.patternErr = regexp.Compile(expr)
	return s
}

func newSelector(kind QueryKind, query string, opts []SelectorOption) *Selector {
	s := &Selector{Kind: kind, Query: query}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// fallback is the value used when nothing matches.
func (s *Selector) fallback() any {
	if s.HasDefault {
		return s.Default
	}
	if s.Many {
		return []any{}
	}
	return nil
}

// matchPattern applies a pattern selector to raw.
func (s *Selector) matchPattern(raw string) []string {
	if s.pattern == nil {
		return nil
	}
	if !s.Many {
		m := s.pattern.FindStringSubmatch(raw)
		if m == nil {
			return nil
		}
		if len(m) > 1 {
			return []string{m[1]}
		}
		return []string{m[0]}
	}

	all := s.pattern.FindAllStringSubmatch(raw, -1)
	out := make([]string, 0, len(all))
	for _, m := range all {
		if len(m) > 1 {
			out = append(out, m[1])
			continue
		}
		out = append(out, m[0])
	}
	return out
}
