// Package processor provides the document query backends used by selectors.
//
// A Processor parses a raw document, answers path and style queries, and
// serializes matched nodes back to strings so that nested schemas can be
// extracted from sub-documents. Three processors are registered:
//
//   - html: XPath via antchfx/htmlquery, CSS via goquery/cascadia
//   - xml:  XPath via antchfx/xmlquery (no style queries)
//   - json: XPath via antchfx/jsonquery, dotted paths as style queries
//
// A processor that lacks a mapping for a query kind, or that receives a node
// produced by another processor, returns ErrUnsupportedProcessor.
package processor
