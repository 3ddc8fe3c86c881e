// Package extract evaluates the field tree of a rule against HTML and JSON
// content. Evaluation never fails: selectors, paths and patterns that find
// nothing produce empty values and an extraction_miss diagnostic.
package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/brogergvhs/mangarule/internal/diag"
	"github.com/brogergvhs/mangarule/internal/rule"
	"github.com/brogergvhs/mangarule/internal/template"
)

// Record is the value of a field with children.
type Record map[string]any

type Extractor struct {
	tree *rule.Tree
	log  *zap.Logger
}

func New(tree *rule.Tree, log *zap.Logger) *Extractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{tree: tree, log: log}
}

// Field evaluates node i against scope. The result is a string, a Record,
// a []any of either, or a raw JSON value for json leaves that select an
// object or array.
func (x *Extractor) Field(c *Context, i int, scope Scope) any {
	n := x.tree.Node(i)

	if n.From != "" {
		s, ok := c.Steps[n.From]
		if !ok {
			x.miss(c, n, "step "+n.From+" has no result")
			return empty(n)
		}
		scope = s
	}

	switch loc := n.Locator.(type) {
	case rule.Text:
		return loc.Value
	case rule.CSS:
		return x.css(c, n, loc, scope)
	case rule.JSON:
		return x.json(c, n, loc, scope)
	case rule.Template:
		return x.template(c, n, loc, scope)
	}
	return empty(n)
}

// Record evaluates the given nodes against one scope, in order.
func (x *Extractor) Record(c *Context, nodes []int, scope Scope) Record {
	out := make(Record, len(nodes))
	for _, i := range nodes {
		out[x.tree.Node(i).Name] = x.Field(c, i, scope)
	}
	return out
}

func (x *Extractor) css(c *Context, n *rule.Node, loc rule.CSS, scope Scope) any {
	sel, ok := asSelection(scope)
	if !ok {
		x.miss(c, n, "css field needs html content")
		return empty(n)
	}

	matches := sel
	if loc.Matcher != nil {
		matches = sel.FindMatcher(loc.Matcher)
	}
	if n.Filter != nil {
		matches = matches.FilterFunction(func(_ int, s *goquery.Selection) bool {
			hit := s.IsMatcher(n.Filter) || s.FindMatcher(n.Filter).Length() > 0
			return hit != n.FilterNot
		})
	}

	if n.Multiple {
		items := make([]any, 0, matches.Length())
		matches.Each(func(_ int, s *goquery.Selection) {
			if len(n.Children) > 0 {
				items = append(items, x.Record(c, n.Children, HTML{Sel: s}))
				return
			}
			items = append(items, x.htmlValue(c, n, s))
		})
		if len(items) == 0 {
			x.miss(c, n, "selector matched nothing")
		}
		return items
	}

	if matches.Length() == 0 {
		x.miss(c, n, "selector matched nothing")
		return empty(n)
	}
	first := matches.First()
	if len(n.Children) > 0 {
		return x.Record(c, n.Children, HTML{Sel: first})
	}
	return x.htmlValue(c, n, first)
}

func (x *Extractor) htmlValue(c *Context, n *rule.Node, s *goquery.Selection) string {
	var raw string
	if len(n.Attr) > 0 {
		found := false
		for _, a := range n.Attr {
			if v, ok := s.Attr(a); ok {
				raw, found = v, true
				break
			}
		}
		if !found {
			x.miss(c, n, "attribute "+strings.Join(n.Attr, "|")+" not present")
			return ""
		}
	} else {
		raw = s.Text()
	}
	return x.post(c, n, raw)
}

func (x *Extractor) json(c *Context, n *rule.Node, loc rule.JSON, scope Scope) any {
	base, ok := x.asJSON(c, n, loc, scope)
	if !ok {
		return empty(n)
	}

	res, parents := descend(base, loc.Path)

	if n.Multiple {
		if !res.IsArray() {
			x.miss(c, n, "path "+loc.Path+" is not an array")
			return []any{}
		}
		items := make([]any, 0, len(res.Array()))
		res.ForEach(func(_, v gjson.Result) bool {
			item := JSON{Value: v, Parents: parents}
			if len(n.Children) > 0 {
				items = append(items, x.Record(c, n.Children, item))
			} else {
				items = append(items, x.jsonValue(c, n, v))
			}
			return true
		})
		if len(items) == 0 {
			x.miss(c, n, "path "+loc.Path+" is empty")
		}
		return items
	}

	if !res.Exists() {
		x.miss(c, n, "path "+loc.Path+" not found")
		return empty(n)
	}
	if len(n.Children) > 0 {
		return x.Record(c, n.Children, JSON{Value: res, Parents: parents})
	}
	return x.jsonValue(c, n, res)
}

func (x *Extractor) jsonValue(c *Context, n *rule.Node, v gjson.Result) any {
	if (v.IsObject() || v.IsArray()) && n.Regex == nil {
		return v.Value()
	}
	if v.Type == gjson.Null {
		return ""
	}
	return x.post(c, n, v.String())
}

// asJSON returns the JSON base for a json node. Under an HTML scope the text
// of the element matched by the node's selector is parsed as JSON.
func (x *Extractor) asJSON(c *Context, n *rule.Node, loc rule.JSON, scope Scope) (JSON, bool) {
	switch s := scope.(type) {
	case JSON:
		if s.Value.Type == gjson.String && gjson.Valid(s.Value.Str) {
			return JSON{Value: gjson.Parse(s.Value.Str), Parents: s.Parents}, true
		}
		return s, true
	case HTML:
		sel := s.Sel
		if sel == nil {
			break
		}
		if loc.Matcher != nil {
			sel = sel.FindMatcher(loc.Matcher).First()
		}
		text := strings.TrimSpace(sel.Text())
		if text == "" || !gjson.Valid(text) {
			x.miss(c, n, "element text is not json")
			return JSON{}, false
		}
		return JSON{Value: gjson.Parse(text)}, true
	}
	x.miss(c, n, "json field needs json content")
	return JSON{}, false
}

func (x *Extractor) template(c *Context, n *rule.Node, loc rule.Template, scope Scope) any {
	vals := make(map[string]any, len(n.Children)+1)
	var zipped []string
	size := 0

	for _, ci := range n.Children {
		child := x.tree.Node(ci)
		v := x.Field(c, ci, scope)
		vals[child.Name] = v
		if arr, ok := v.([]any); ok && child.Multiple {
			zipped = append(zipped, child.Name)
			if len(arr) > size {
				size = len(arr)
			}
		}
	}

	if len(zipped) == 0 {
		s := x.render(c, n, loc.Format, vals, scope)
		if n.Multiple {
			return []any{s}
		}
		return s
	}

	out := make([]any, 0, size)
	for i := 0; i < size; i++ {
		item := make(map[string]any, len(vals))
		for k, v := range vals {
			item[k] = v
		}
		for _, k := range zipped {
			arr := vals[k].([]any)
			if i < len(arr) {
				item[k] = arr[i]
			} else {
				item[k] = ""
			}
		}
		out = append(out, x.render(c, n, loc.Format, item, scope))
	}
	return out
}

func (x *Extractor) render(c *Context, n *rule.Node, format string, vals map[string]any, scope Scope) string {
	local := template.Map(vals)
	if _, ok := local["_self"]; !ok {
		local = make(template.Map, len(vals)+1)
		for k, v := range vals {
			local[k] = v
		}
		local["_self"] = Self(scope)
	}

	out, unbound := template.Resolve(format, template.Chain{local, env(scope), c})
	if len(unbound) > 0 {
		x.log.Debug("template placeholders unbound",
			zap.String("field", n.Path), zap.Strings("names", unbound))
		c.report(diag.Diagnostic{
			Code:    diag.TemplateUnbound,
			Field:   n.Path,
			Message: "unbound placeholders resolved to empty",
			Names:   unbound,
		})
	}
	return x.post(c, n, out)
}

// post applies trim and regex to an extracted string. A regex returns its
// first capture group, or the whole match when it has no groups.
func (x *Extractor) post(c *Context, n *rule.Node, s string) string {
	if n.Trim {
		s = strings.TrimSpace(s)
	}
	if n.Regex == nil {
		return s
	}
	m := n.Regex.FindStringSubmatch(s)
	if m == nil {
		x.miss(c, n, "regex did not match")
		return ""
	}
	if len(m) > 1 {
		return m[1]
	}
	return m[0]
}

func (x *Extractor) miss(c *Context, n *rule.Node, reason string) {
	x.log.Debug("extraction miss", zap.String("field", n.Path), zap.String("reason", reason))
	c.report(diag.Diagnostic{Code: diag.ExtractionMiss, Field: n.Path, Message: reason})
}

func asSelection(scope Scope) (*goquery.Selection, bool) {
	switch s := scope.(type) {
	case HTML:
		return s.Sel, s.Sel != nil
	case JSON:
		if s.Value.Type != gjson.String {
			return nil, false
		}
		h, err := ParseHTML([]byte(s.Value.Str))
		if err != nil {
			return nil, false
		}
		return h.Sel, true
	}
	return nil, false
}

func empty(n *rule.Node) any {
	if n.Multiple {
		return []any{}
	}
	if len(n.Children) > 0 {
		return nil
	}
	return ""
}
