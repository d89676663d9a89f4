package processor

import (
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
)

// XML queries XML documents (feeds, sitemaps, SOAP responses) with XPath.
// It has no style query mapping.
type XML struct{}

var _ Processor = XML{}

type xmlNode struct {
	n *xmlquery.Node
}

func (x xmlNode) Attr(name string) (string, bool) {
	for _, a := range x.n.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func (x xmlNode) Text() string {
	return strings.TrimSpace(x.n.InnerText())
}

// Name implements Processor.
func (XML) Name() string { return NameXML }

// Parse implements Processor.
func (XML) Parse(raw string) (Node, error) {
	doc, err := xmlquery.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return xmlNode{n: doc}, nil
}

// QueryPath implements Processor.
func (p XML) QueryPath(doc Node, query string) ([]Node, error) {
	root, ok := doc.(xmlNode)
	if !ok {
		if _, isValue := doc.(valueNode); isValue {
			return nil, nil
		}
		return nil, wrongNode(p, doc)
	}

	nodes, err := xmlquery.QueryAll(root.n, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidQuery, query, err)
	}
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Type == xmlquery.AttributeNode {
			out = append(out, valueNode{value: n.InnerText()})
			continue
		}
		out = append(out, xmlNode{n: n})
	}
	return out, nil
}

// QueryStyle implements Processor. XML documents have no style query mapping.
func (p XML) QueryStyle(Node, string) ([]Node, error) {
	return nil, fmt.Errorf("%w: %s processor has no style queries, use a path query", ErrUnsupportedProcessor, p.Name())
}

// ToString implements Processor. Elements render as XML including themselves.
func (p XML) ToString(node Node) (string, error) {
	switch n := node.(type) {
	case valueNode:
		return n.value, nil
	case xmlNode:
		switch n.n.Type {
		case xmlquery.TextNode, xmlquery.CharDataNode, xmlquery.AttributeNode:
			return n.n.InnerText(), nil
		case xmlquery.DocumentNode:
			return n.n.OutputXML(false), nil
		default:
			return n.n.OutputXML(true), nil
		}
	default:
		return "", wrongNode(p, node)
	}
}
