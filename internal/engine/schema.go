package engine

import (
	"strings"

	"github.com/brogergvhs/mangarule/internal/extract"
	"github.com/brogergvhs/mangarule/internal/rule"
)

type Kind string

const (
	KindManga   Kind = "manga"
	KindChapter Kind = "chapter"
	KindUnknown Kind = "unknown"
)

// RecordSchema selects a record kind by the top-level field names of a
// rule and lists the fields that must not come back empty.
type RecordSchema struct {
	Kind     Kind
	Detect   []string
	Required []string
}

// DefaultSchemas are checked in order; pages wins over the manga fields.
var DefaultSchemas = []RecordSchema{
	{Kind: KindChapter, Detect: []string{"pages"}, Required: []string{"pages"}},
	{Kind: KindManga, Detect: []string{"title", "cover", "chapters"}, Required: []string{"title", "cover", "chapters"}},
}

func detect(schemas []RecordSchema, t *rule.Tree) RecordSchema {
	for _, s := range schemas {
		for _, name := range s.Detect {
			if _, ok := t.Root(name); ok {
				return s
			}
		}
	}
	return RecordSchema{Kind: KindUnknown}
}

// missing lists the required fields that are absent or empty.
func missing(s RecordSchema, fields extract.Record) []string {
	var out []string
	for _, name := range s.Required {
		if isEmpty(fields[name]) {
			out = append(out, name)
		}
	}
	return out
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case extract.Record:
		for _, cv := range x {
			if !isEmpty(cv) {
				return false
			}
		}
		return true
	case map[string]any:
		return len(x) == 0
	}
	return false
}
