package rule

import (
	"regexp"

	"github.com/PuerkitoBio/goquery"
)

// Locator is the type-specific part of a field node. The set of
// implementations is closed: CSS, JSON, Template and Text.
type Locator interface {
	Type() FieldType
	locator()
}

// CSS selects elements in an HTML scope. Matcher is nil when the node has no
// selector and reads the scope element itself.
type CSS struct {
	Selector string
	Matcher  goquery.Matcher
}

// JSON evaluates a gjson path. When evaluated against an HTML scope the text
// of the element matched by Selector (or the scope itself) is parsed as JSON.
type JSON struct {
	Path     string
	Selector string
	Matcher  goquery.Matcher
}

type Template struct {
	Format string
}

type Text struct {
	Value string
}

func (CSS) Type() FieldType      { return TypeCSS }
func (JSON) Type() FieldType     { return TypeJSON }
func (Template) Type() FieldType { return TypeTemplate }
func (Text) Type() FieldType     { return TypeText }

func (CSS) locator()      {}
func (JSON) locator()     {}
func (Template) locator() {}
func (Text) locator()     {}

// Node is one field rule in the arena. Parent is -1 for top-level fields.
type Node struct {
	Index    int
	Name     string
	Path     string
	Parent   int
	Children []int

	Locator  Locator
	Attr     []string
	Regex    *regexp.Regexp
	Trim     bool
	Multiple bool
	From     string

	Filter    goquery.Matcher
	FilterNot bool
}

// Tree is the immutable extraction tree of a rule. Nodes are addressed by
// index; it is safe for concurrent readers.
type Tree struct {
	Nodes []Node
	Roots []int
}

func (t *Tree) Node(i int) *Node {
	return &t.Nodes[i]
}

// Root returns the index of the top-level field with the given name.
func (t *Tree) Root(name string) (int, bool) {
	for _, i := range t.Roots {
		if t.Nodes[i].Name == name {
			return i, true
		}
	}
	return -1, false
}

func (t *Tree) RootNames() []string {
	names := make([]string, 0, len(t.Roots))
	for _, i := range t.Roots {
		names = append(names, t.Nodes[i].Name)
	}
	return names
}

// Walk visits nodes depth first in declaration order until fn returns false.
func (t *Tree) Walk(fn func(n *Node) bool) {
	stack := make([]int, 0, len(t.Nodes))
	for i := len(t.Roots) - 1; i >= 0; i-- {
		stack = append(stack, t.Roots[i])
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &t.Nodes[i]
		if !fn(n) {
			return
		}
		for j := len(n.Children) - 1; j >= 0; j-- {
			stack = append(stack, n.Children[j])
		}
	}
}

// Depth is the number of ancestors of node i.
func (t *Tree) Depth(i int) int {
	d := 0
	for p := t.Nodes[i].Parent; p >= 0; p = t.Nodes[p].Parent {
		d++
	}
	return d
}
