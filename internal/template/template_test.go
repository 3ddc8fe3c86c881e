package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func TestResolve(t *testing.T) {
	step := gjson.Parse(`{"baseUrl":"https://cdn","chapter":{"hash":"abc","n":12,"pi":3.5,"big":1e21}}`)
	env := Chain{
		Map{"id": "42", "_self": "p1.png", "count": float64(100)},
		Map{"step1": step},
	}

	tests := []struct {
		name    string
		tmpl    string
		want    string
		unbound []string
	}{
		{"plain", "https://x.test/m/{id}", "https://x.test/m/42", nil},
		{"dotted step path", "{step1.baseUrl}/data/{step1.chapter.hash}/{_self}", "https://cdn/data/abc/p1.png", nil},
		{"whole float", "limit={count}", "limit=100", nil},
		{"json number", "{step1.chapter.n}/{step1.chapter.pi}", "12/3.5", nil},
		{"no exponent", "{step1.chapter.big}", "1000000000000000000000", nil},
		{"unbound", "{id}-{missing}-{also.missing}", "42--", []string{"missing", "also.missing"}},
		{"no placeholders", "static", "static", nil},
		{"not an identifier", "{ id } {1x}", "{ id } {1x}", nil},
		{"go template", `{{.id}}-{{index . "_self"}}`, "42-p1.png", nil},
		{"go template missing", `{{.nope}}`, "", []string{`{{.nope}}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, unbound := Resolve(tt.tmpl, env)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.unbound, unbound)
		})
	}
}

func TestResolveNilEnv(t *testing.T) {
	got, unbound := Resolve("a{b}c", nil)
	assert.Equal(t, "ac", got)
	assert.Equal(t, []string{"b"}, unbound)
}

func TestResolveIgnoresBindingOrder(t *testing.T) {
	a := Map{"x": "1"}
	b := Map{"y": "2"}
	tmpl := "{x}/{y}"

	first, _ := Resolve(tmpl, Chain{a, b})
	second, _ := Resolve(tmpl, Chain{b, a})
	assert.Equal(t, first, second)
	assert.Equal(t, "1/2", first)
}

func TestJSONEnv(t *testing.T) {
	env := JSON{Value: gjson.Parse(`{"hash":"abc","data":["a","b"],"nil":null}`)}

	v, ok := env.Lookup("hash")
	assert.True(t, ok)
	assert.Equal(t, "abc", Stringify(v))

	v, ok = env.Lookup("nil")
	assert.True(t, ok)
	assert.Equal(t, "", Stringify(v))

	_, ok = env.Lookup("nope")
	assert.False(t, ok)

	_, ok = JSON{Value: gjson.Parse(`["a"]`)}.Lookup("0")
	assert.False(t, ok)

	assert.Equal(t, "a,b", Stringify(env.Values()["data"]))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "7", Stringify(7))
	assert.Equal(t, "0.25", Stringify(0.25))
	assert.Equal(t, "a,b", Stringify([]string{"a", "b"}))
	assert.Equal(t, `{"k":"v"}`, Stringify(map[string]any{"k": "v"}))
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"baseUrl", "hash", "_self"}, Names("{baseUrl}/data/{hash}/{_self}"))
	assert.Nil(t, Names("none"))
}
