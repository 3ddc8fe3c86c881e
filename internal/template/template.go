// Package template substitutes {name} placeholders in rule strings.
//
// Names may be dotted (step1.data.id); the first segment is looked up in the
// environment and the rest is walked into the bound value. Strings containing
// "{{" are rendered with text/template instead, with the environment values
// as data.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	gotemplate "text/template"

	"github.com/tidwall/gjson"
)

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_.\-]*)\}`)

type Env interface {
	Lookup(name string) (any, bool)
}

// Valuer is implemented by environments that can enumerate their bindings.
// Only those contribute data to text/template rendering.
type Valuer interface {
	Values() map[string]any
}

// Resolve substitutes every placeholder in tmpl. Placeholders that are not
// bound in env are replaced by an empty string and returned in unbound, in
// order of appearance.
func Resolve(tmpl string, env Env) (string, []string) {
	if env == nil {
		env = Map(nil)
	}
	if strings.Contains(tmpl, "{{") {
		return renderGo(tmpl, env)
	}

	var unbound []string
	out := placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := env.Lookup(name)
		if !ok {
			unbound = append(unbound, name)
			return ""
		}
		return Stringify(v)
	})
	return out, unbound
}

// Names lists the placeholder names used by tmpl.
func Names(tmpl string) []string {
	var out []string
	for _, m := range placeholder.FindAllStringSubmatch(tmpl, -1) {
		out = append(out, m[1])
	}
	return out
}

func renderGo(tmpl string, env Env) (string, []string) {
	data := map[string]any{}
	if v, ok := env.(Valuer); ok {
		data = v.Values()
	}

	t, err := gotemplate.New("field").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", []string{tmpl}
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", []string{tmpl}
	}
	return buf.String(), nil
}

// Stringify renders a bound value the way it should appear in a URL or text.
// Whole numbers print without a fraction or exponent.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case gjson.Result:
		if x.Type == gjson.Null {
			return ""
		}
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case []string:
		return strings.Join(x, ",")
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = Stringify(e)
		}
		return strings.Join(parts, ",")
	case map[string]any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// Map is an environment backed by a plain map.
type Map map[string]any

func (m Map) Lookup(name string) (any, bool) {
	if v, ok := m[name]; ok {
		return v, true
	}
	head, rest, ok := strings.Cut(name, ".")
	if !ok {
		return nil, false
	}
	v, ok := m[head]
	if !ok {
		return nil, false
	}
	return Descend(v, rest)
}

func (m Map) Values() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = plain(v)
	}
	return out
}

// Chain looks names up in each environment in turn; the first hit wins.
type Chain []Env

func (c Chain) Lookup(name string) (any, bool) {
	for _, e := range c {
		if e == nil {
			continue
		}
		if v, ok := e.Lookup(name); ok {
			return v, true
		}
	}
	return nil, false
}

func (c Chain) Values() map[string]any {
	out := map[string]any{}
	for i := len(c) - 1; i >= 0; i-- {
		v, ok := c[i].(Valuer)
		if !ok {
			continue
		}
		for k, val := range v.Values() {
			out[k] = val
		}
	}
	return out
}

// JSON exposes the keys of a JSON object.
type JSON struct {
	Value gjson.Result
}

func (j JSON) Lookup(name string) (any, bool) {
	if !j.Value.IsObject() {
		return nil, false
	}
	r := j.Value.Get(name)
	if !r.Exists() {
		return nil, false
	}
	return r, true
}

func (j JSON) Values() map[string]any {
	out := map[string]any{}
	if !j.Value.IsObject() {
		return out
	}
	j.Value.ForEach(func(k, v gjson.Result) bool {
		out[k.String()] = v.Value()
		return true
	})
	return out
}

// Func adapts a lookup function to Env.
type Func func(name string) (any, bool)

func (f Func) Lookup(name string) (any, bool) {
	return f(name)
}

// Descend walks a dotted path into v.
func Descend(v any, path string) (any, bool) {
	switch x := v.(type) {
	case gjson.Result:
		r := x.Get(path)
		return r, r.Exists()
	case Map:
		return x.Lookup(path)
	case map[string]any:
		return Map(x).Lookup(path)
	case map[string]string:
		s, ok := x[path]
		return s, ok
	case string:
		if !gjson.Valid(x) {
			return nil, false
		}
		r := gjson.Get(x, path)
		return r, r.Exists()
	}
	return nil, false
}

func plain(v any) any {
	if r, ok := v.(gjson.Result); ok {
		return r.Value()
	}
	return v
}
