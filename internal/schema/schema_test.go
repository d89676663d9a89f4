package schema

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/nao1215/fastcrawl/internal/config"
	"github.com/nao1215/fastcrawl/internal/model"
	"github.com/nao1215/fastcrawl/internal/processor"
)

const listingHTML = `<html><body>
<table><tr><td>
	<ul>
		<li><a href="http://address.com/seller/ali" id="100">Link 1</a></li>
		<li><a href="http://address.com/seller/gholi" id="200">Link 2</a></li>
		<li><a href="http://address.com/seller/abbas" id="300">Link 3</a></li>
	</ul>
</td></tr></table>
<nav><ul class="pagination">
	<li><a href="http://address.com/item?page=1" class="active">1</a></li>
	<li><a href="http://address.com/item?page=2">2</a></li>
	<li><a href="http://address.com/item?page=3">3</a></li>
</ul></nav>
</body></html>`

var pages = []string{
	"http://address.com/item?page=1",
	"http://address.com/item?page=2",
	"http://address.com/item?page=3",
}

func listItemPath() *Schema {
	return New("list_item",
		NewField("id", Int, Path("//a/@id")).Nullable(),
		NewField("name", String, Path("//a", Extract(ExtractText))).Nullable(),
		Constant("source", String, "https://mywebsite.com"),
		NewField("source_as_default", String, Path("//a[@nothing]", Extract(ExtractText), Default("Nothing"))).Nullable(),
	)
}

func veryNestedPath() *Schema {
	list := New("list", NewField("items", ListOf(Object), Path("//ul/li", Many(), Nested(listItemPath()))))
	s := New("very_nested", NewField("items", ListOf(Object), Path("//table", Many(), Nested(list))))
	s.SameStageResolver = Path("//ul[@class='pagination']//a", Extract("href"))
	return s
}

func veryNestedStyle() *Schema {
	item := New("list_item_css",
		NewField("id", Int, Style("a", Extract("id"))).Nullable(),
		NewField("name", String, Style("a", Extract(ExtractText))).Nullable(),
		NewField("source_as_default", String, Style("nav", Extract(ExtractText), Default("Nothing"))).Nullable(),
	)
	list := New("list_css", NewField("items", ListOf(Object), Style("li", Many(), Nested(item))))
	s := New("very_nested_css", NewField("items", ListOf(Object), Style("table", Many(), Nested(list))))
	s.SameStageResolver = Style("ul.pagination > li > a", Many(), Extract("href"))
	return s
}

func mustExtract(t *testing.T, doc Document, s *Schema) *Result {
	t.Helper()
	if err := s.Validate(); err != nil {
		t.Fatalf("schema invalid: %v", err)
	}
	res, err := NewExtractor().Extract(context.Background(), doc, s)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	return res
}

func innerItems(t *testing.T, rec *model.Record) []any {
	t.Helper()
	outer, _ := rec.Get("items")
	tables, ok := outer.([]any)
	if !ok || len(tables) != 1 {
		t.Fatalf("expected one table record, got %#v", outer)
	}
	inner, _ := tables[0].(*model.Record).Get("items")
	items, ok := inner.([]any)
	if !ok {
		t.Fatalf("expected item list, got %#v", inner)
	}
	return items
}

// TestExtractNestedPath tests nested extraction with XPath selectors.
func TestExtractNestedPath(t *testing.T) {
	t.Parallel()

	res := mustExtract(t, Document{URL: "http://address.com/item?page=1", Body: listingHTML}, veryNestedPath())

	items := innerItems(t, res.Record)
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	first := items[0].(*model.Record)
	wantFirst := map[string]any{
		"id":                int64(100),
		"name":              "Link 1",
		"source":            "https://mywebsite.com",
		"source_as_default": "Nothing",
	}
	if got := first.Map(); !reflect.DeepEqual(got, wantFirst) {
		t.Errorf("unexpected first item:\n got %#v\nwant %#v", got, wantFirst)
	}
	if id, _ := items[2].(*model.Record).Get("id"); id != int64(300) {
		t.Errorf("expected id 300, got %#v", id)
	}
	if !reflect.DeepEqual(res.SameStage, pages) {
		t.Errorf("unexpected same stage addresses: %v", res.SameStage)
	}
	if len(res.NextStage) != 0 {
		t.Errorf("expected no next stage addresses, got %v", res.NextStage)
	}
	if res.Record.URL != "http://address.com/item?page=1" {
		t.Errorf("unexpected record url %q", res.Record.URL)
	}
}

// TestExtractNestedStyle tests nested extraction with CSS selectors.
func TestExtractNestedStyle(t *testing.T) {
	t.Parallel()

	res := mustExtract(t, Document{Body: listingHTML}, veryNestedStyle())

	items := innerItems(t, res.Record)
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	second := items[1].(*model.Record)
	if id, _ := second.Get("id"); id != int64(200) {
		t.Errorf("expected id 200, got %#v", id)
	}
	if name, _ := second.Get("name"); name != "Link 2" {
		t.Errorf("expected Link 2, got %#v", name)
	}
	if def, _ := second.Get("source_as_default"); def != "Nothing" {
		t.Errorf("expected default Nothing, got %#v", def)
	}
	if !reflect.DeepEqual(res.SameStage, pages) {
		t.Errorf("unexpected same stage addresses: %v", res.SameStage)
	}
}

// TestExtractValidationError tests that values not matching the declared type fail the record.
func TestExtractValidationError(t *testing.T) {
	t.Parallel()

	corrupted := strings.Replace(listingHTML, `id="100"`, `id="aa100"`, 1)
	_, err := NewExtractor().Extract(context.Background(), Document{Body: corrupted}, veryNestedPath())
	if !errors.Is(err, ErrSchemaValidation) {
		t.Fatalf("expected ErrSchemaValidation, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(verr.Issues) != 1 || verr.Issues[0].Path != "items.0.items.0.id" {
		t.Errorf("unexpected issues: %+v", verr.Issues)
	}

	required := New("required", NewField("title", String, Path("//h1", Extract(ExtractText))))
	if _, err := NewExtractor().Extract(context.Background(), Document{Body: "<p>no title</p>"}, required); !errors.Is(err, ErrSchemaValidation) {
		t.Errorf("expected missing required field to fail, got %v", err)
	}
}

// TestExtractJSON tests extraction from JSON documents with dotted paths.
func TestExtractJSON(t *testing.T) {
	t.Parallel()

	item := New("item",
		NewField("id", Int, Style("id")).Nullable(),
		NewField("name", String, Style("name")).Nullable(),
	)
	s := New("results", NewField("results", ListOf(Object), Style("results", Many(), Nested(item))))
	s.Processor = processor.JSON{}
	s.NextStageResolver = Style("pagination.next_page")

	body := `{"results":[{"id":1,"name":"first"},{"id":2,"name":null}],
		"pagination":{"next_page":"/items?page=2"}}`
	res := mustExtract(t, Document{URL: "https://api.example.com/items?page=1", Body: body}, s)

	results, _ := res.Record.Get("results")
	list, ok := results.([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("expected 2 results, got %#v", results)
	}
	want := map[string]any{"id": int64(1), "name": "first"}
	if got := list[0].(*model.Record).Map(); !reflect.DeepEqual(got, want) {
		t.Errorf("unexpected first result: %#v", got)
	}
	if name, _ := list[1].(*model.Record).Get("name"); name != nil {
		t.Errorf("expected nil name, got %#v", name)
	}
	if !reflect.DeepEqual(res.NextStage, []string{"https://api.example.com/items?page=2"}) {
		t.Errorf("unexpected next stage addresses: %v", res.NextStage)
	}
}

// TestExtractPattern tests regular expression selectors.
func TestExtractPattern(t *testing.T) {
	t.Parallel()

	const links = `<a href="/a">A</a> <a href='/b'>B</a> contact: admin@example.com`

	tests := []struct {
		name  string
		field Field
		want  any
	}{
		{
			name:  "many returns the first group of every match",
			field: NewField("link", ListOf(String), Pattern(`href=['"]([^'"]+)['"]`, Many())),
			want:  []any{"/a", "/b"},
		},
		{
			name:  "single returns the first match",
			field: NewField("link", String, Pattern(`href=['"]([^'"]+)['"]`)),
			want:  "/a",
		},
		{
			name:  "whole match without group",
			field: NewField("email", String, Pattern(`[\w.-]+@[\w.-]+\.\w+`)),
			want:  "admin@example.com",
		},
		{
			name:  "no match uses the default",
			field: NewField("phone", String, Pattern(`\d{3}-\d{4}`)).Nullable(),
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := mustExtract(t, Document{Body: links}, New("links", tt.field))
			got, _ := res.Record.Get(tt.field.Name)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %#v, got %#v", tt.want, got)
			}
		})
	}
}

// TestExtractUnsupportedProcessor tests that a failing selector only affects its own field.
func TestExtractUnsupportedProcessor(t *testing.T) {
	t.Parallel()

	s := New("isolated",
		NewField("id", String, Style("table li a", Using(processor.XML{}), Extract("href"), Default(nil))).Nullable(),
		NewField("name", String, Path("(//table//li//a)[1]", Extract(ExtractText))),
	)
	res := mustExtract(t, Document{Body: listingHTML}, s)

	if id, ok := res.Record.Get("id"); !ok || id != nil {
		t.Errorf("expected nil id, got %#v", id)
	}
	if name, _ := res.Record.Get("name"); name != "Link 1" {
		t.Errorf("expected Link 1, got %#v", name)
	}
}

// TestExtractResolvesRelativeAddresses tests address resolution against the
// document URL. Fragments are dropped, so links to parts of one page collapse
// into one address.
func TestExtractResolvesRelativeAddresses(t *testing.T) {
	t.Parallel()

	body := `<a href="page/2">2</a><a href="/abs">abs</a><a href="mailto:a@b.c">mail</a>
<a href="page/2">again</a><a href="https://other.org/x#top">other</a><a>none</a>
<a href="page/2#reviews">reviews</a><a href="https://other.org/x#bottom">bottom</a>`
	s := New("links", Constant("kind", String, "links"))
	s.NextStageResolver = Path("//a", Extract("href"))

	res := mustExtract(t, Document{URL: "http://example.com/list/", Body: body}, s)
	want := []string{"http://example.com/list/page/2", "http://example.com/abs", "https://other.org/x"}
	if !reflect.DeepEqual(res.NextStage, want) {
		t.Errorf("expected %v, got %v", want, res.NextStage)
	}
}

// TestExtractCanceled tests that a canceled context stops extraction.
func TestExtractCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewExtractor().Extract(ctx, Document{Body: listingHTML}, veryNestedPath()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// TestSchemaValidate tests schema definition checks.
func TestSchemaValidate(t *testing.T) {
	t.Parallel()

	self := New("self", NewField("x", Object, Path("//x")))
	self.Fields[0].Selector.Nested = self

	tests := []struct {
		name   string
		schema *Schema
	}{
		{name: "no fields", schema: New("empty")},
		{name: "duplicate field", schema: New("dup", Constant("a", String, "x"), Constant("a", String, "y"))},
		{name: "unnamed field", schema: New("unnamed", Constant("", String, "x"))},
		{name: "no selector and no default", schema: New("bare", Field{Name: "a", Type: String})},
		{name: "object without nested schema", schema: New("obj", NewField("o", Object, Path("//div")))},
		{name: "nested schema on scalar", schema: New("scalar", NewField("n", Int, Path("//div", Nested(listItemPath()))))},
		{name: "list without many", schema: New("list", NewField("l", ListOf(String), Path("//li")))},
		{name: "bad pattern", schema: New("pattern", NewField("p", String, Pattern("(")))},
		{name: "empty query", schema: New("query", NewField("q", String, Style(" ")))},
		{name: "self nesting", schema: self},
		{name: "bad method", schema: &Schema{Name: "method", Method: "FETCH", Fields: []Field{Constant("a", String, "x")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if err := tt.schema.Validate(); !errors.Is(err, ErrInvalidSchemaType) {
				t.Errorf("expected ErrInvalidSchemaType, got %v", err)
			}
		})
	}

	if err := veryNestedPath().Validate(); err != nil {
		t.Errorf("expected valid schema, got %v", err)
	}
}

// TestCoerce tests lax type conversion.
func TestCoerce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   any
		typ     Type
		want    any
		wantErr bool
	}{
		{name: "numeric string to int", value: "100", typ: Int, want: int64(100)},
		{name: "padded numeric string", value: " 42 ", typ: Int, want: int64(42)},
		{name: "whole float to int", value: float64(3), typ: Int, want: int64(3)},
		{name: "fraction to int", value: 3.5, typ: Int, wantErr: true},
		{name: "garbage to int", value: "aa100", typ: Int, wantErr: true},
		{name: "exponent string to int", value: "1e3", typ: Int, want: int64(1000)},
		{name: "overflowing string to int", value: "1e30", typ: Int, wantErr: true},
		{name: "overflowing negative string to int", value: "-1e30", typ: Int, wantErr: true},
		{name: "overflowing float to int", value: 1e19, typ: Int, wantErr: true},
		{name: "two to the 63 to int", value: 9223372036854775808.0, typ: Int, wantErr: true},
		{name: "min int64 float to int", value: -9223372036854775808.0, typ: Int, want: int64(math.MinInt64)},
		{name: "infinite float to int", value: math.Inf(1), typ: Int, wantErr: true},
		{name: "nan to int", value: math.NaN(), typ: Int, wantErr: true},
		{name: "string to float", value: "1.5", typ: Float, want: 1.5},
		{name: "yes to bool", value: "yes", typ: Bool, want: true},
		{name: "maybe to bool", value: "maybe", typ: Bool, wantErr: true},
		{name: "number to string", value: int64(7), typ: String, want: "7"},
		{name: "list of strings to ints", value: []any{"1", "2"}, typ: ListOf(Int), want: []any{int64(1), int64(2)}},
		{name: "scalar to list", value: "1", typ: ListOf(Int), wantErr: true},
		{name: "string to object", value: "x", typ: Object, wantErr: true},
		{name: "nil passes", value: nil, typ: Int, want: nil},
		{name: "any keeps maps", value: map[string]any{"a": 1.0}, typ: Any, want: map[string]any{"a": 1.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := coerce(tt.value, tt.typ)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %#v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %#v, got %#v", tt.want, got)
			}
		})
	}
}

// TestParseType tests type name parsing.
func TestParseType(t *testing.T) {
	t.Parallel()

	tests := map[string]Type{
		"":         Any,
		"int":      Int,
		"Integer":  Int,
		"[]object": ListOf(Object),
		"list":     ListOf(Any),
		"[]str":    ListOf(String),
	}
	for in, want := range tests {
		got, err := ParseType(in)
		if err != nil || got != want {
			t.Errorf("ParseType(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseType("decimal"); !errors.Is(err, ErrInvalidSchemaType) {
		t.Errorf("expected ErrInvalidSchemaType, got %v", err)
	}
}

// TestFromConfig tests building schemas from configuration.
func TestFromConfig(t *testing.T) {
	t.Parallel()

	def := &config.SchemaConfig{
		Name: "listing",
		Fields: []config.FieldConfig{
			{
				Name: "items",
				Type: "[]object",
				Selector: &config.SelectorConfig{
					Path: "//ul/li",
					Many: true,
				},
				Schema: &config.SchemaConfig{
					Fields: []config.FieldConfig{
						{Name: "id", Type: "int", Optional: true, Selector: &config.SelectorConfig{Path: "//a/@id"}},
						{Name: "seller", Type: "string", Selector: &config.SelectorConfig{Style: "a", Extract: "href"}},
					},
				},
			},
			{Name: "page_size", Type: "int", Default: 3},
		},
		SameStageResolver: &config.SelectorConfig{Path: "//ul[@class='pagination']//a", Extract: "href"},
		NextStageResolver: &config.SelectorConfig{Style: "table li a", Extract: "href"},
	}

	s, err := FromConfig(def)
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	if s.Fields[0].Selector.Nested.Name != "listing.items" {
		t.Errorf("unexpected nested schema name %q", s.Fields[0].Selector.Nested.Name)
	}
	if def.Fields[0].Schema.Name != "" {
		t.Error("expected configuration to stay untouched")
	}

	res := mustExtract(t, Document{URL: "http://address.com/item?page=1", Body: listingHTML}, s)
	if size, _ := res.Record.Get("page_size"); size != int64(3) {
		t.Errorf("expected page_size 3, got %#v", size)
	}
	items, _ := res.Record.Get("items")
	if list, ok := items.([]any); !ok || len(list) != 6 {
		t.Fatalf("expected 6 list items, got %#v", items)
	}
	if !reflect.DeepEqual(res.SameStage, pages) {
		t.Errorf("unexpected same stage addresses: %v", res.SameStage)
	}
	wantNext := []string{
		"http://address.com/seller/ali",
		"http://address.com/seller/gholi",
		"http://address.com/seller/abbas",
	}
	if !reflect.DeepEqual(res.NextStage, wantNext) {
		t.Errorf("unexpected next stage addresses: %v", res.NextStage)
	}

	errCases := []struct {
		name string
		def  *config.SchemaConfig
	}{
		{
			name: "two selector kinds",
			def: &config.SchemaConfig{Name: "x", Fields: []config.FieldConfig{
				{Name: "a", Selector: &config.SelectorConfig{Path: "//a", Style: "a"}},
			}},
		},
		{
			name: "unknown processor",
			def:  &config.SchemaConfig{Name: "x", Processor: "modest", Fields: []config.FieldConfig{{Name: "a", Default: "x"}}},
		},
		{
			name: "unknown type",
			def:  &config.SchemaConfig{Name: "x", Fields: []config.FieldConfig{{Name: "a", Type: "decimal", Default: "x"}}},
		},
		{
			name: "nested schema without selector",
			def: &config.SchemaConfig{Name: "x", Fields: []config.FieldConfig{
				{Name: "a", Type: "object", Schema: &config.SchemaConfig{Fields: []config.FieldConfig{{Name: "b", Default: "x"}}}},
			}},
		},
	}
	for _, tt := range errCases {
		if _, err := FromConfig(tt.def); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}
