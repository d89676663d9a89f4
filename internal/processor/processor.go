package processor

import (
	"fmt"
	"sort"
	"strings"
)

// Node is a matched document node.
type Node interface {
	// Attr returns the value of the named attribute of an element node.
	Attr(name string) (string, bool)
	// Text returns the node's text content. Attribute and scalar results
	// return their value.
	Text() string
}

// Valuer is implemented by nodes that carry a typed value, such as JSON
// scalars. Raw extraction prefers the typed value over its text.
type Valuer interface {
	Value() any
}

// Processor is a document query backend. Swapping processors changes the
// query syntax only; the extraction semantics stay the same.
type Processor interface {
	// Name is the registry name of the processor.
	Name() string
	// Parse parses a document or a fragment produced by ToString.
	Parse(raw string) (Node, error)
	// QueryPath evaluates an XPath expression relative to doc.
	QueryPath(doc Node, query string) ([]Node, error)
	// QueryStyle evaluates a style query (CSS selector, dotted path) relative to doc.
	QueryStyle(doc Node, query string) ([]Node, error)
	// ToString serializes node so that Parse can read it back. Attribute,
	// text and scalar nodes serialize to their value.
	ToString(node Node) (string, error)
}

// Processor names.
const (
	NameHTML = "html"
	NameXML  = "xml"
	NameJSON = "json"
)

var registry = map[string]Processor{
	NameHTML: HTML{},
	NameXML:  XML{},
	NameJSON: JSON{},
}

// Lookup returns the processor registered under name. An empty name selects HTML.
func Lookup(name string) (Processor, error) {
	if name == "" {
		return HTML{}, nil
	}
	p, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnsupportedProcessor, name, strings.Join(Names(), ", "))
	}
	return p, nil
}

// Names returns the registered processor names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// valueNode is a scalar query result such as an attribute value or the
// result of an XPath function.
type valueNode struct {
	value string
}

func (v valueNode) Attr(string) (string, bool) { return "", false }
func (v valueNode) Text() string               { return v.value }

// wrongNode reports a node that belongs to another processor.
func wrongNode(p Processor, n Node) error {
	return fmt.Errorf("%w: %s processor cannot handle %T", ErrUnsupportedProcessor, p.Name(), n)
}
