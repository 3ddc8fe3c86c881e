package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brogergvhs/mangarule/internal/diag"
	"github.com/brogergvhs/mangarule/internal/rule"
	"github.com/brogergvhs/mangarule/internal/template"
)

const page = `<html><body>
<h1>  Solo Leveling  </h1>
<img class="cover" data-src="/c.jpg">
<ul id="list">
  <li><a class="ch" href="/c/1">Chapter 1</a><span class="new">new</span></li>
  <li><a class="ch" href="/c/2">Chapter 2</a></li>
  <li><a class="ch" href="/c/3">Chapter 3</a></li>
  <li><a class="ch" href="/c/4">Chapter 4</a><span class="new">new</span></li>
  <li><a class="ch" href="/c/5">Chapter 5</a></li>
</ul>
<script id="data" type="application/json">{"pages":[{"u":"a.png"},{"u":"b.png"}]}</script>
</body></html>`

func compile(t *testing.T, fields ...rule.FieldRule) *rule.Rule {
	t.Helper()
	r, err := rule.Compile(rule.Document{Site: "t", Domains: []string{"x.test"}, Extract: fields})
	require.NoError(t, err)
	return r
}

func htmlScope(t *testing.T, body string) HTML {
	t.Helper()
	h, err := ParseHTML([]byte(body))
	require.NoError(t, err)
	return h
}

func evalRoot(t *testing.T, r *rule.Rule, c *Context, scope Scope) any {
	t.Helper()
	return New(r.Tree, nil).Field(c, r.Tree.Roots[0], scope)
}

func TestTextIgnoresScope(t *testing.T) {
	r := compile(t, rule.FieldRule{Name: "group_name", Type: rule.TypeText, Text: "  fixed  "})
	jsonScope, err := ParseJSON([]byte(`{"a":1}`))
	require.NoError(t, err)

	for _, scope := range []Scope{htmlScope(t, page), jsonScope, HTML{}, nil} {
		c := NewContext(nil)
		assert.Equal(t, "  fixed  ", evalRoot(t, r, c, scope))
		assert.Equal(t, "  fixed  ", evalRoot(t, r, c, scope))
	}
}

func TestCSSMultipleKeepsDocumentOrder(t *testing.T) {
	r := compile(t, rule.FieldRule{Name: "chapters", Selector: "a.ch", Multiple: true, Children: []rule.FieldRule{
		{Name: "chapter_id", Attr: rule.StringList{"href"}},
		{Name: "chapter", Regex: `Chapter (\d+)`},
	}})
	c := NewContext(nil)

	got := evalRoot(t, r, c, htmlScope(t, page))
	items, ok := got.([]any)
	require.True(t, ok)
	require.Len(t, items, 5)
	for i, it := range items {
		rec := it.(Record)
		assert.Equal(t, "/c/"+string(rune('1'+i)), rec["chapter_id"])
		assert.Equal(t, string(rune('1'+i)), rec["chapter"])
	}
}

func TestCSSNoMatches(t *testing.T) {
	r := compile(t,
		rule.FieldRule{Name: "chapters", Selector: "a.missing", Multiple: true},
	)
	col := diag.NewCollector()
	c := NewContext(col)

	got := evalRoot(t, r, c, htmlScope(t, page))
	assert.Equal(t, []any{}, got)

	d, ok := diag.Find(col.List(), diag.ExtractionMiss)
	require.True(t, ok)
	assert.Equal(t, "chapters", d.Field)
}

func TestCSSScalar(t *testing.T) {
	tests := []struct {
		name  string
		field rule.FieldRule
		want  any
		miss  bool
	}{
		{"trimmed text", rule.FieldRule{Name: "title", Selector: "h1", Trim: true}, "Solo Leveling", false},
		{"untrimmed text", rule.FieldRule{Name: "title", Selector: "h1"}, "  Solo Leveling  ", false},
		{"first attr present", rule.FieldRule{Name: "cover", Selector: "img.cover", Attr: rule.StringList{"src", "data-src"}}, "/c.jpg", false},
		{"attr missing", rule.FieldRule{Name: "cover", Selector: "img.cover", Attr: rule.StringList{"src"}}, "", true},
		{"first of many", rule.FieldRule{Name: "first", Selector: "a.ch"}, "Chapter 1", false},
		{"regex group", rule.FieldRule{Name: "n", Selector: "a.ch", Regex: `(\d+)$`}, "1", false},
		{"regex without group", rule.FieldRule{Name: "n", Selector: "a.ch", Regex: `\d+`}, "1", false},
		{"regex no match", rule.FieldRule{Name: "n", Selector: "h1", Regex: `Vol\.(\d+)`}, "", true},
		{"no match", rule.FieldRule{Name: "n", Selector: "h2"}, "", true},
		{"children on no match", rule.FieldRule{Name: "n", Selector: "h2", Children: []rule.FieldRule{{Name: "x", Type: rule.TypeText, Text: "y"}}}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := compile(t, tt.field)
			col := diag.NewCollector()
			got := evalRoot(t, r, NewContext(col), htmlScope(t, page))
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.miss, diag.Has(col.List(), diag.ExtractionMiss))
		})
	}
}

func TestCSSFilter(t *testing.T) {
	has := compile(t, rule.FieldRule{Name: "fresh", Selector: "li", Multiple: true, Filter: "span.new",
		Children: []rule.FieldRule{{Name: "t", Selector: "a"}}})
	not := compile(t, rule.FieldRule{Name: "old", Selector: "li", Multiple: true, Filter: "span.new", FilterMode: "not",
		Children: []rule.FieldRule{{Name: "t", Selector: "a"}}})

	scope := htmlScope(t, page)

	fresh := evalRoot(t, has, NewContext(nil), scope).([]any)
	require.Len(t, fresh, 2)
	assert.Equal(t, "Chapter 1", fresh[0].(Record)["t"])
	assert.Equal(t, "Chapter 4", fresh[1].(Record)["t"])

	old := evalRoot(t, not, NewContext(nil), scope).([]any)
	assert.Len(t, old, 3)
}

func TestJSONInsideHTML(t *testing.T) {
	r := compile(t, rule.FieldRule{Name: "pages", Type: rule.TypeJSON, Selector: "script#data", Path: "pages.#.u", Multiple: true})
	got := evalRoot(t, r, NewContext(nil), htmlScope(t, page))
	assert.Equal(t, []any{"a.png", "b.png"}, got)
}

func TestJSONChildrenSeeEnclosingObjects(t *testing.T) {
	r := compile(t, rule.FieldRule{
		Name: "pages", Type: rule.TypeJSON, Path: "chapter.data", Multiple: true,
		Children: []rule.FieldRule{{Name: "url", Type: rule.TypeTemplate, Template: "{baseUrl}/data/{hash}/{_self}"}},
	})
	scope, err := ParseJSON([]byte(`{"baseUrl":"https://cdn","chapter":{"hash":"abc","data":["p1.png","p2.png"]}}`))
	require.NoError(t, err)

	col := diag.NewCollector()
	got := evalRoot(t, r, NewContext(col), scope).([]any)
	require.Len(t, got, 2)
	assert.Equal(t, Record{"url": "https://cdn/data/abc/p1.png"}, got[0])
	assert.Equal(t, Record{"url": "https://cdn/data/abc/p2.png"}, got[1])
	assert.Empty(t, col.List())
}

func TestJSONScalars(t *testing.T) {
	scope, err := ParseJSON([]byte(`{"id":7,"title":" T ","tags":["a"],"nil":null,"v":"vol-3"}`))
	require.NoError(t, err)

	tests := []struct {
		field rule.FieldRule
		want  any
	}{
		{rule.FieldRule{Name: "id", Type: rule.TypeJSON, Path: "id"}, "7"},
		{rule.FieldRule{Name: "title", Type: rule.TypeJSON, Path: "title", Trim: true}, "T"},
		{rule.FieldRule{Name: "tags", Type: rule.TypeJSON, Path: "tags"}, []any{"a"}},
		{rule.FieldRule{Name: "nil", Type: rule.TypeJSON, Path: "nil"}, ""},
		{rule.FieldRule{Name: "volume", Type: rule.TypeJSON, Path: "v", Regex: `vol-(\d+)`}, "3"},
		{rule.FieldRule{Name: "missing", Type: rule.TypeJSON, Path: "nope"}, ""},
		{rule.FieldRule{Name: "not array", Type: rule.TypeJSON, Path: "id", Multiple: true}, []any{}},
	}
	for _, tt := range tests {
		t.Run(tt.field.Name, func(t *testing.T) {
			r := compile(t, tt.field)
			assert.Equal(t, tt.want, evalRoot(t, r, NewContext(nil), scope))
		})
	}
}

func TestTemplateChildOrderDoesNotMatter(t *testing.T) {
	a := rule.FieldRule{Name: "a", Selector: "h1", Trim: true}
	b := rule.FieldRule{Name: "b", Type: rule.TypeText, Text: "fixed"}

	forward := compile(t, rule.FieldRule{Name: "t", Type: rule.TypeTemplate, Template: "{a}|{b}", Children: []rule.FieldRule{a, b}})
	reverse := compile(t, rule.FieldRule{Name: "t", Type: rule.TypeTemplate, Template: "{a}|{b}", Children: []rule.FieldRule{b, a}})

	scope := htmlScope(t, page)
	got1 := evalRoot(t, forward, NewContext(nil), scope)
	got2 := evalRoot(t, reverse, NewContext(nil), scope)
	assert.Equal(t, "Solo Leveling|fixed", got1)
	assert.Equal(t, got1, got2)
}

func TestTemplateZipsMultipleChildren(t *testing.T) {
	r := compile(t, rule.FieldRule{Name: "links", Type: rule.TypeTemplate, Template: "{base}{href}", Children: []rule.FieldRule{
		{Name: "base", Type: rule.TypeText, Text: "https://x.test"},
		{Name: "href", Selector: "a.ch", Attr: rule.StringList{"href"}, Multiple: true},
	}})

	got := evalRoot(t, r, NewContext(nil), htmlScope(t, page)).([]any)
	require.Len(t, got, 5)
	assert.Equal(t, "https://x.test/c/1", got[0])
	assert.Equal(t, "https://x.test/c/5", got[4])
}

func TestTemplatePassThroughChain(t *testing.T) {
	r := compile(t, rule.FieldRule{Name: "cover", Type: rule.TypeTemplate, Template: "https://x.test{path}", Children: []rule.FieldRule{
		{Name: "path", Type: rule.TypeTemplate, Template: "{_self}", Children: []rule.FieldRule{}},
	}})
	img := htmlScope(t, `<p>/img/1.jpg</p>`)

	got := evalRoot(t, r, NewContext(nil), img)
	assert.Equal(t, "https://x.test/img/1.jpg", got)
}

func TestTemplateUsesContextAndReportsUnbound(t *testing.T) {
	r := compile(t, rule.FieldRule{Name: "link", Type: rule.TypeTemplate, Template: "{url}?id={id}&p={nope}"})

	col := diag.NewCollector()
	c := NewContext(col)
	c.Vars["url"] = "https://x.test/m"
	c.Vars["id"] = "42"

	got := evalRoot(t, r, c, htmlScope(t, page))
	assert.Equal(t, "https://x.test/m?id=42&p=", got)

	d, ok := diag.Find(col.List(), diag.TemplateUnbound)
	require.True(t, ok)
	assert.Equal(t, "link", d.Field)
	assert.Equal(t, []string{"nope"}, d.Names)
}

func TestFromBindsStepScope(t *testing.T) {
	r, err := rule.Compile(rule.Document{
		Domains: []string{"x.test"},
		API:     &rule.APIWorkflow{Steps: []rule.APIStep{{ID: "info", Request: rule.APIRequest{URL: "https://x.test/api"}}}},
		Extract: []rule.FieldRule{
			{Name: "title", Type: rule.TypeJSON, From: "info", Path: "data.title"},
			{Name: "link", Type: rule.TypeTemplate, Template: "{info.data.slug}"},
		},
	})
	require.NoError(t, err)

	step, err := ParseJSON([]byte(`{"data":{"title":"From Step","slug":"from-step"}}`))
	require.NoError(t, err)
	c := NewContext(nil)
	c.Bind("info", step)

	rec := New(r.Tree, nil).Record(c, r.Tree.Roots, htmlScope(t, page))
	assert.Equal(t, Record{"title": "From Step", "link": "from-step"}, rec)
}

func TestFromUnboundStep(t *testing.T) {
	r, err := rule.Compile(rule.Document{
		Domains: []string{"x.test"},
		API:     &rule.APIWorkflow{Steps: []rule.APIStep{{ID: "info", Request: rule.APIRequest{URL: "u"}}}},
		Extract: []rule.FieldRule{{Name: "list", Type: rule.TypeJSON, From: "info", Path: "a", Multiple: true}},
	})
	require.NoError(t, err)

	col := diag.NewCollector()
	assert.Equal(t, []any{}, evalRoot(t, r, NewContext(col), nil))
	assert.True(t, diag.Has(col.List(), diag.ExtractionMiss))
}

func TestCSSOnJSONString(t *testing.T) {
	r := compile(t, rule.FieldRule{Name: "html", Type: rule.TypeJSON, Path: "body", Children: []rule.FieldRule{
		{Name: "title", Selector: "b"},
	}})
	scope, err := ParseJSON([]byte(`{"body":"<div><b>bold</b></div>"}`))
	require.NoError(t, err)

	got := evalRoot(t, r, NewContext(nil), scope)
	assert.Equal(t, Record{"title": "bold"}, got)
}

func TestContextPrefersLatestStepKeys(t *testing.T) {
	first, err := ParseJSON([]byte(`{"id":"old","name":"n1"}`))
	require.NoError(t, err)
	second, err := ParseJSON([]byte(`{"id":"new"}`))
	require.NoError(t, err)

	c := NewContext(nil)
	c.Bind("s1", first)
	c.Bind("s2", second)

	v, ok := c.Lookup("id")
	require.True(t, ok)
	assert.Equal(t, "new", template.Stringify(v))

	v, ok = c.Lookup("name")
	require.True(t, ok)
	assert.Equal(t, "n1", template.Stringify(v))

	c.Vars["id"] = "https://x.test/title/some-slug"
	c.Vars["lang"] = "en"
	v, _ = c.Lookup("id")
	assert.Equal(t, "new", template.Stringify(v))
	v, ok = c.Lookup("lang")
	require.True(t, ok)
	assert.Equal(t, "en", v)

	_, ok = c.Lookup("missing")
	assert.False(t, ok)
}
