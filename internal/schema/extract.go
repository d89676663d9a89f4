package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	whatwgUrl "github.com/nlnwa/whatwg-url/url"

	"github.com/nao1215/fastcrawl/internal/model"
	"github.com/nao1215/fastcrawl/internal/processor"
)

var urlParser = whatwgUrl.NewParser(whatwgUrl.WithPercentEncodeSinglePercentSign())

// Document is a fetched page.
type Document struct {
	// URL is the final address of the page; relative links resolve against it.
	URL  string
	Body string
}

// Result is the outcome of extracting one page.
type Result struct {
	Record    *model.Record
	SameStage []string
	NextStage []string
}

// Extractor applies schemas to documents.
type Extractor struct {
	processor processor.Processor
	logger    *slog.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithDefaultProcessor sets the processor used when neither the selector nor
// the schema names one.
func WithDefaultProcessor(p processor.Processor) ExtractorOption {
	return func(e *Extractor) { e.processor = p }
}

// WithLogger sets the logger for isolated field failures.
func WithLogger(l *slog.Logger) ExtractorOption {
	return func(e *Extractor) { e.logger = l }
}

// NewExtractor returns an extractor that uses HTML by default.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{processor: processor.HTML{}, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract builds a record from doc and resolves its same-stage and
// next-stage addresses. A field whose selector fails to evaluate falls back
// to its default; a record that does not match the declared types returns a
// *ValidationError.
func (e *Extractor) Extract(ctx context.Context, doc Document, s *Schema) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	docs := newDocCache(doc.Body)
	rec, err := e.extractRecord(ctx, docs, s, e.processor)
	if err != nil {
		return nil, err
	}
	rec.URL = doc.URL

	res := &Result{Record: rec}
	if s.SameStageResolver != nil {
		res.SameStage = e.resolveAddresses(ctx, docs, s, s.SameStageResolver, doc.URL)
	}
	if s.NextStageResolver != nil {
		res.NextStage = e.resolveAddresses(ctx, docs, s, s.NextStageResolver, doc.URL)
	}
	return res, nil
}

func (e *Extractor) extractRecord(ctx context.Context, docs *docCache, s *Schema, inherit processor.Processor) (*model.Record, error) {
	rec := model.NewRecord()
	verr := &ValidationError{Schema: s.Name}

	for _, f := range s.Fields {
		value := f.Default
		if f.Selector != nil {
			v, err := e.resolve(ctx, docs, s, f.Selector, inherit)
			var nested *ValidationError
			switch {
			case errors.As(err, &nested):
				verr.merge(f.Name, nested)
				continue
			case err != nil:
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				e.logger.Warn("field selector failed, using default",
					slog.String("schema", s.Name),
					slog.String("field", f.Name),
					slog.String("error", err.Error()))
				v = f.Selector.fallback()
			}
			value = v
		}

		if value == nil {
			if !f.Optional {
				verr.add(f.Name, "field required")
				continue
			}
			rec.Set(f.Name, nil)
			continue
		}
		cv, err := coerce(value, f.Type)
		if err != nil {
			verr.add(f.Name, err.Error())
			continue
		}
		rec.Set(f.Name, cv)
	}

	if len(verr.Issues) > 0 {
		return nil, verr
	}
	return rec, nil
}

// resolve evaluates sel against the document and applies nesting.
func (e *Extractor) resolve(ctx context.Context, docs *docCache, s *Schema, sel *Selector, inherit processor.Processor) (any, error) {
	if sel.Kind == PatternQuery {
		matches := sel.matchPattern(docs.raw)
		if len(matches) == 0 {
			return sel.fallback(), nil
		}
		p := s.processorFor(sel, inherit)
		if !sel.Many {
			if sel.Nested != nil {
				return e.nestedRecord(ctx, p, matches[0], sel.Nested)
			}
			return matches[0], nil
		}
		out := make([]any, 0, len(matches))
		for i, m := range matches {
			if sel.Nested == nil {
				out = append(out, m)
				continue
			}
			r, err := e.nestedRecord(ctx, p, m, sel.Nested)
			if err != nil {
				return nil, indexed(i, err)
			}
			out = append(out, r)
		}
		return out, nil
	}

	p := s.processorFor(sel, inherit)
	nodes, err := e.query(docs, p, sel)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return sel.fallback(), nil
	}

	if !sel.Many {
		return e.nodeValue(ctx, p, nodes[0], sel)
	}
	out := make([]any, 0, len(nodes))
	for i, n := range nodes {
		v, err := e.nodeValue(ctx, p, n, sel)
		if err != nil {
			return nil, indexed(i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (e *Extractor) query(docs *docCache, p processor.Processor, sel *Selector) ([]processor.Node, error) {
	root, err := docs.parsed(p)
	if err != nil {
		return nil, err
	}
	if sel.Kind == StyleQuery {
		return p.QueryStyle(root, sel.Query)
	}
	return p.QueryPath(root, sel.Query)
}

func (e *Extractor) nodeValue(ctx context.Context, p processor.Processor, n processor.Node, sel *Selector) (any, error) {
	if sel.Nested != nil {
		raw, err := p.ToString(n)
		if err != nil {
			return nil, err
		}
		return e.nestedRecord(ctx, p, raw, sel.Nested)
	}

	switch sel.Extract {
	case ExtractText:
		return n.Text(), nil
	case ExtractRaw:
		if v, ok := n.(processor.Valuer); ok {
			return v.Value(), nil
		}
		return p.ToString(n)
	default:
		attr, ok := n.Attr(sel.Extract)
		if !ok {
			return nil, nil
		}
		return attr, nil
	}
}

// nestedRecord extracts a record from a serialized match. The nested schema
// inherits the processor that produced the match.
func (e *Extractor) nestedRecord(ctx context.Context, p processor.Processor, raw string, nested *Schema) (*model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.extractRecord(ctx, newDocCache(raw), nested, p)
}

// resolveAddresses returns the absolute http(s) addresses matched by sel, in
// document order and without duplicates.
func (e *Extractor) resolveAddresses(ctx context.Context, docs *docCache, s *Schema, sel *Selector, base string) []string {
	many := *sel
	many.Many = true
	v, err := e.resolve(ctx, docs, s, &many, e.processor)
	if err != nil {
		e.logger.Warn("address resolver failed",
			slog.String("schema", s.Name),
			slog.String("query", sel.Query),
			slog.String("error", err.Error()))
		return nil
	}

	var values []any
	switch t := v.(type) {
	case []any:
		values = t
	case nil:
	default:
		values = []any{t}
	}

	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, raw := range values {
		ref, ok := raw.(string)
		if !ok || ref == "" {
			continue
		}
		abs, ok := absoluteURL(base, ref)
		if !ok {
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	return out
}

// absoluteURL resolves ref against base and keeps http(s) results only.
func absoluteURL(base, ref string) (string, bool) {
	var (
		u   *whatwgUrl.Url
		err error
	)
	if base != "" {
		u, err = urlParser.ParseRef(base, ref)
	} else {
		u, err = urlParser.Parse(ref)
	}
	if err != nil {
		return "", false
	}
	parsed, err := url.Parse(u.Href(true))
	if err != nil {
		return "", false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", false
	}
	return parsed.String(), true
}

func indexed(i int, err error) error {
	var nested *ValidationError
	if errors.As(err, &nested) {
		out := &ValidationError{Schema: nested.Schema}
		out.merge(strconv.Itoa(i), nested)
		return out
	}
	return fmt.Errorf("item %d: %w", i, err)
}

// docCache parses a raw document at most once per processor.
type docCache struct {
	raw   string
	trees map[string]processor.Node
	errs  map[string]error
}

func newDocCache(raw string) *docCache {
	return &docCache{raw: raw, trees: map[string]processor.Node{}, errs: map[string]error{}}
}

func (d *docCache) parsed(p processor.Processor) (processor.Node, error) {
	if n, ok := d.trees[p.Name()]; ok {
		return n, nil
	}
	if err, ok := d.errs[p.Name()]; ok {
		return nil, err
	}
	n, err := p.Parse(d.raw)
	if err != nil {
		d.errs[p.Name()] = err
		return nil, err
	}
	d.trees[p.Name()] = n
	return n, nil
}
