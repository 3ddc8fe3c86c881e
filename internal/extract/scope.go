package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"

	"github.com/brogergvhs/mangarule/internal/diag"
	"github.com/brogergvhs/mangarule/internal/template"
)

// Scope is the content a field is evaluated against: either an HTML
// selection or a JSON value.
type Scope interface {
	scope()
}

type HTML struct {
	Sel *goquery.Selection
}

// JSON is a JSON value together with the objects that enclose it, innermost
// first. Template placeholders fall back to keys of those objects.
type JSON struct {
	Value   gjson.Result
	Parents []gjson.Result
}

func (HTML) scope() {}
func (JSON) scope() {}

func ParseHTML(body []byte) (HTML, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return HTML{}, fmt.Errorf("parse html: %w", err)
	}
	return HTML{Sel: doc.Selection}, nil
}

func ParseJSON(body []byte) (JSON, error) {
	if !gjson.ValidBytes(body) {
		return JSON{}, fmt.Errorf("invalid json")
	}
	return JSON{Value: gjson.ParseBytes(body)}, nil
}

// Self is the direct value of a scope, bound to _self in templates.
func Self(s Scope) any {
	switch v := s.(type) {
	case HTML:
		if v.Sel == nil {
			return ""
		}
		return strings.TrimSpace(v.Sel.Text())
	case JSON:
		return v.Value
	}
	return nil
}

// Context is the variable binding scope of one rule evaluation. It is
// created by the engine per run and is never shared between runs. Vars and
// Steps must not be modified once field evaluation starts.
type Context struct {
	Vars  template.Map
	Steps map[string]Scope
	Diag  diag.Reporter

	order []string
}

func NewContext(r diag.Reporter) *Context {
	if r == nil {
		r = diag.Discard
	}
	return &Context{
		Vars:  template.Map{},
		Steps: map[string]Scope{},
		Diag:  r,
	}
}

func (c *Context) Bind(stepID string, s Scope) {
	if _, ok := c.Steps[stepID]; !ok {
		c.order = append(c.order, stepID)
	}
	c.Steps[stepID] = s
}

func (c *Context) report(d diag.Diagnostic) {
	if c.Diag == nil {
		return
	}
	c.Diag.Report(d)
}

// Lookup resolves names with the most recent binding winning. A bare step
// id yields the step's own value and step.path walks into it. Any other
// name is looked up in the JSON step results, latest first, and only then
// in the run variables bound from the target.
func (c *Context) Lookup(name string) (any, bool) {
	head, rest, _ := strings.Cut(name, ".")
	if s, ok := c.Steps[head]; ok {
		if rest == "" {
			return Self(s), true
		}
		if j, ok := s.(JSON); ok {
			if r := j.Value.Get(rest); r.Exists() {
				return r, true
			}
		}
	}
	for i := len(c.order) - 1; i >= 0; i-- {
		j, ok := c.Steps[c.order[i]].(JSON)
		if !ok || !j.Value.IsObject() {
			continue
		}
		if r := j.Value.Get(name); r.Exists() {
			return r, true
		}
	}
	return c.Vars.Lookup(name)
}

func (c *Context) Values() map[string]any {
	out := c.Vars.Values()
	for id, s := range c.Steps {
		if j, ok := s.(JSON); ok {
			out[id] = j.Value.Value()
		}
	}
	return out
}

var simplePath = regexp.MustCompile(`^[A-Za-z0-9_\-]+(\.[A-Za-z0-9_\-]+)*$`)

// descend evaluates path against base and returns the result together with
// its enclosing values. Intermediate values are only known for plain dotted
// paths; for gjson queries the base value is the closest known parent.
func descend(base JSON, path string) (gjson.Result, []gjson.Result) {
	res := base.Value.Get(path)

	parents := make([]gjson.Result, 0, len(base.Parents)+4)
	if simplePath.MatchString(path) {
		segs := strings.Split(path, ".")
		cur := base.Value
		var chain []gjson.Result
		for _, seg := range segs[:len(segs)-1] {
			cur = cur.Get(seg)
			if !cur.Exists() {
				break
			}
			chain = append(chain, cur)
		}
		for i := len(chain) - 1; i >= 0; i-- {
			parents = append(parents, chain[i])
		}
	}
	parents = append(parents, base.Value)
	parents = append(parents, base.Parents...)
	return res, parents
}

// env returns the template environment of a scope: the keys of the scope
// value when it is an object, then those of each enclosing object.
func env(s Scope) template.Env {
	j, ok := s.(JSON)
	if !ok {
		return nil
	}
	chain := make(template.Chain, 0, len(j.Parents)+1)
	chain = append(chain, template.JSON{Value: j.Value})
	for _, p := range j.Parents {
		chain = append(chain, template.JSON{Value: p})
	}
	return chain
}
