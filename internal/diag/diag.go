// Package diag collects the non-fatal conditions reported while a rule is
// evaluated. Diagnostics travel with the result instead of aborting the run.
package diag

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type Code string

const (
	WaitTimeout       Code = "wait_timeout"
	ExtractionMiss    Code = "extraction_miss"
	TemplateUnbound   Code = "template_unbound"
	MissingRequired   Code = "missing_required"
	StrategyFallback  Code = "strategy_fallback"
	UnsupportedSource Code = "unsupported_source"
)

type Diagnostic struct {
	Code    Code     `json:"code"`
	Field   string   `json:"field,omitempty"`
	Message string   `json:"message"`
	Names   []string `json:"names,omitempty"`
}

func (d Diagnostic) String() string {
	if d.Field == "" {
		return fmt.Sprintf("%s: %s", d.Code, d.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", d.Code, d.Field, d.Message)
}

// Reporter receives diagnostics. Implementations must be safe for
// concurrent use since sibling fields are evaluated in parallel.
type Reporter interface {
	Report(d Diagnostic)
}

// Collector is a Reporter that keeps diagnostics in arrival order and
// drops exact duplicates, so a miss inside a repeated child is reported once.
type Collector struct {
	mu   sync.Mutex
	seen map[string]struct{}
	list []Diagnostic
}

func NewCollector() *Collector {
	return &Collector{seen: make(map[string]struct{})}
}

func (c *Collector) Report(d Diagnostic) {
	key := string(d.Code) + "\x00" + d.Field + "\x00" + d.Message + "\x00" + strings.Join(d.Names, ",")

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[key]; ok {
		return
	}
	c.seen[key] = struct{}{}
	c.list = append(c.list, d)
}

func (c *Collector) List() []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Diagnostic, len(c.list))
	copy(out, c.list)
	return out
}

// Has reports whether at least one diagnostic with the given code was seen.
func Has(list []Diagnostic, code Code) bool {
	for _, d := range list {
		if d.Code == code {
			return true
		}
	}
	return false
}

// Find returns the first diagnostic with the given code.
func Find(list []Diagnostic, code Code) (Diagnostic, bool) {
	for _, d := range list {
		if d.Code == code {
			return d, true
		}
	}
	return Diagnostic{}, false
}

// SortedNames returns a sorted copy, used for stable missing-field messages.
func SortedNames(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}

// Discard drops everything.
var Discard Reporter = discard{}

type discard struct{}

func (discard) Report(Diagnostic) {}
