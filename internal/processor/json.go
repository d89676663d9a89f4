package processor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/antchfx/jsonquery"
)

// JSON queries JSON documents. Path queries are XPath over the JSON tree
// (//results/*), style queries are dotted paths (pagination.next_page).
type JSON struct{}

var _ Processor = JSON{}

type jsonNode struct {
	n *jsonquery.Node
}

func (j jsonNode) Attr(name string) (string, bool) {
	child := j.n.SelectElement(name)
	if child == nil {
		return "", false
	}
	return child.InnerText(), true
}

func (j jsonNode) Text() string {
	return j.n.InnerText()
}

// Value returns the decoded JSON value of the node.
func (j jsonNode) Value() any {
	return j.n.Value()
}

// Name implements Processor.
func (JSON) Name() string { return NameJSON }

// Parse implements Processor.
func (JSON) Parse(raw string) (Node, error) {
	doc, err := jsonquery.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return jsonNode{n: doc}, nil
}

// QueryPath implements Processor.
func (p JSON) QueryPath(doc Node, query string) ([]Node, error) {
	root, ok := doc.(jsonNode)
	if !ok {
		if _, isValue := doc.(valueNode); isValue {
			return nil, nil
		}
		return nil, wrongNode(p, doc)
	}

	nodes, err := jsonquery.QueryAll(root.n, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidQuery, query, err)
	}
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, jsonNode{n: n})
	}
	return out, nil
}

// QueryStyle implements Processor with dotted paths. A path that ends on an
// array yields its elements.
func (p JSON) QueryStyle(doc Node, query string) ([]Node, error) {
	if _, ok := doc.(jsonNode); !ok {
		if _, isValue := doc.(valueNode); isValue {
			return nil, nil
		}
		return nil, wrongNode(p, doc)
	}

	parts := strings.Split(strings.Trim(query, "."), ".")
	for _, part := range parts {
		if part == "" || strings.ContainsAny(part, "/[]()@*") {
			return nil, fmt.Errorf("%w: %q is not a dotted path", ErrInvalidQuery, query)
		}
	}

	nodes, err := p.QueryPath(doc, "/"+strings.Join(parts, "/"))
	if err != nil {
		return nil, err
	}
	if len(nodes) == 1 {
		if arr, ok := nodes[0].(jsonNode).n.Value().([]any); ok {
			out := make([]Node, 0, len(arr))
			for c := nodes[0].(jsonNode).n.FirstChild; c != nil; c = c.NextSibling {
				out = append(out, jsonNode{n: c})
			}
			return out, nil
		}
	}
	return nodes, nil
}

// ToString implements Processor. Strings serialize unquoted, everything else as JSON.
func (p JSON) ToString(node Node) (string, error) {
	switch n := node.(type) {
	case valueNode:
		return n.value, nil
	case jsonNode:
		v := n.n.Value()
		if s, ok := v.(string); ok {
			return s, nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return "", wrongNode(p, node)
	}
}
