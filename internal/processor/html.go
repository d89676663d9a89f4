package processor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTML queries HTML documents: XPath through htmlquery, CSS through goquery.
type HTML struct{}

var _ Processor = HTML{}

type htmlNode struct {
	n *html.Node
}

func (h htmlNode) Attr(name string) (string, bool) {
	for _, a := range h.n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func (h htmlNode) Text() string {
	if h.n.Type == html.TextNode {
		return h.n.Data
	}
	return strings.TrimSpace(htmlquery.InnerText(h.n))
}

// Name implements Processor.
func (HTML) Name() string { return NameHTML }

// Parse parses a full document or, when raw does not start with a document
// preamble, a fragment. Fragments are parsed in a <template> context so
// table rows and list items survive on their own.
func (HTML) Parse(raw string) (Node, error) {
	if !isHTMLDocument(raw) {
		context := &html.Node{Type: html.ElementNode, Data: "template", DataAtom: atom.Template}
		nodes, err := html.ParseFragment(strings.NewReader(raw), context)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		doc := &html.Node{Type: html.DocumentNode}
		for _, n := range nodes {
			doc.AppendChild(n)
		}
		return htmlNode{n: doc}, nil
	}

	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return htmlNode{n: doc}, nil
}

func isHTMLDocument(raw string) bool {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, prefix := range []string{"<!doctype", "<html", "<head", "<body", "<!--", "<?xml"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// QueryPath implements Processor. Attribute selections such as //a/@href and
// scalar expressions such as count(//li) yield value nodes.
func (p HTML) QueryPath(doc Node, query string) ([]Node, error) {
	root, ok := doc.(htmlNode)
	if !ok {
		if _, isValue := doc.(valueNode); isValue {
			return nil, nil
		}
		return nil, wrongNode(p, doc)
	}

	expr, err := xpath.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidQuery, query, err)
	}

	switch result := expr.Evaluate(htmlquery.CreateXPathNavigator(root.n)).(type) {
	case *xpath.NodeIterator:
		var out []Node
		for result.MoveNext() {
			nav, ok := result.Current().(*htmlquery.NodeNavigator)
			if !ok {
				continue
			}
			if nav.NodeType() == xpath.AttributeNode {
				out = append(out, valueNode{value: nav.Value()})
				continue
			}
			out = append(out, htmlNode{n: nav.Current()})
		}
		return out, nil
	case string:
		return []Node{valueNode{value: result}}, nil
	case float64:
		return []Node{valueNode{value: strconv.FormatFloat(result, 'f', -1, 64)}}, nil
	case bool:
		return []Node{valueNode{value: strconv.FormatBool(result)}}, nil
	default:
		return nil, nil
	}
}

// QueryStyle implements Processor with CSS selectors.
func (p HTML) QueryStyle(doc Node, query string) ([]Node, error) {
	root, ok := doc.(htmlNode)
	if !ok {
		if _, isValue := doc.(valueNode); isValue {
			return nil, nil
		}
		return nil, wrongNode(p, doc)
	}

	sel, err := cascadia.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidQuery, query, err)
	}

	matches := goquery.NewDocumentFromNode(root.n).FindMatcher(sel)
	out := make([]Node, 0, matches.Length())
	for _, n := range matches.Nodes {
		out = append(out, htmlNode{n: n})
	}
	return out, nil
}

// ToString implements Processor. Elements render as outer HTML.
func (p HTML) ToString(node Node) (string, error) {
	switch n := node.(type) {
	case valueNode:
		return n.value, nil
	case htmlNode:
		if n.n.Type == html.TextNode {
			return n.n.Data, nil
		}
		var b strings.Builder
		if n.n.Type == html.DocumentNode {
			for c := n.n.FirstChild; c != nil; c = c.NextSibling {
				if err := html.Render(&b, c); err != nil {
					return "", err
				}
			}
			return b.String(), nil
		}
		if err := html.Render(&b, n.n); err != nil {
			return "", err
		}
		return b.String(), nil
	default:
		return "", wrongNode(p, node)
	}
}
