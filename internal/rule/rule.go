package rule

import (
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

const (
	DefaultWaitTimeout  = 15 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

// Rule is a validated, immutable scraping rule.
type Rule struct {
	Site     string
	Domains  []string
	Strategy Strategy
	Entry    *Entry
	Steps    []Step
	Tree     *Tree

	wait *Wait
	doc  Document
}

type Entry struct {
	URL     string
	Method  string
	Headers map[string]string
	Regex   *regexp.Regexp
}

type Step struct {
	ID      string
	URL     string
	Method  string
	Headers map[string]string
	Body    string
	HTML    bool
}

type Wait struct {
	ContainerSelectors []string
	ContentSelectors   []string
	MinTextLength      int
	RequireImageLoaded bool
	Timeout            time.Duration
	Poll               time.Duration
	SkipNavigationWait bool
	SkipRenderStable   bool
}

// Wait returns the rule's wait settings with defaults applied. Rules
// without a wait_config get the default timeout and poll interval.
func (r *Rule) Wait() Wait {
	if r.wait == nil {
		return Wait{Timeout: DefaultWaitTimeout, Poll: DefaultPollInterval}
	}
	return *r.wait
}

func (r *Rule) HasWaitSelectors() bool {
	return r.wait != nil && (len(r.wait.ContainerSelectors) > 0 || len(r.wait.ContentSelectors) > 0)
}

func (r *Rule) Document() Document {
	return r.doc
}

func (r *Rule) Step(id string) (Step, bool) {
	for _, s := range r.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// Matches reports whether the host of rawURL belongs to one of the rule's
// domains. Subdomains match and a leading "www." is ignored.
func (r *Rule) Matches(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, d := range r.Domains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www.")
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Compile validates doc and builds the extraction arena.
func Compile(doc Document) (*Rule, error) {
	c := &compiler{site: doc.Site}

	if len(doc.Domains) == 0 {
		return nil, c.fail("domains", "at least one domain is required", nil)
	}
	if len(doc.Extract) == 0 {
		return nil, c.fail("extract", "at least one field rule is required", nil)
	}

	r := &Rule{
		Site:     doc.Site,
		Domains:  append([]string(nil), doc.Domains...),
		Strategy: doc.Strategy,
		doc:      doc,
	}

	switch doc.Strategy {
	case "":
		r.Strategy = StrategyStatic
	case StrategyStatic, StrategyAPI, StrategyBrowser, StrategyAuto:
	default:
		return nil, c.fail("strategy", "unknown strategy "+strconv.Quote(string(doc.Strategy)), nil)
	}

	if doc.Entry != nil {
		e, err := c.entry(doc.Entry)
		if err != nil {
			return nil, err
		}
		r.Entry = e
	}

	if doc.API != nil {
		steps, err := c.steps(doc.API.Steps)
		if err != nil {
			return nil, err
		}
		r.Steps = steps
	}
	if r.Strategy == StrategyAPI && len(r.Steps) == 0 {
		return nil, c.fail("api.steps", "api strategy requires at least one step", nil)
	}

	if doc.WaitConfig != nil {
		w, err := c.wait(doc.WaitConfig)
		if err != nil {
			return nil, err
		}
		r.wait = w
	}

	tree, err := c.tree(doc.Extract, r)
	if err != nil {
		return nil, err
	}
	r.Tree = tree

	return r, nil
}

type compiler struct {
	site string
}

func (c *compiler) fail(field, reason string, err error) *ConfigError {
	return &ConfigError{Site: c.site, Field: field, Reason: reason, Err: err}
}

func (c *compiler) entry(e *EntryRequest) (*Entry, error) {
	out := &Entry{
		URL:     strings.TrimSpace(e.URL),
		Method:  normalizeMethod(e.Method),
		Headers: copyHeaders(e.Headers),
	}
	if out.Method == "" {
		return nil, c.fail("entry.method", "unsupported method "+strconv.Quote(e.Method), nil)
	}
	if e.Regex != "" {
		re, err := regexp.Compile(e.Regex)
		if err != nil {
			return nil, c.fail("entry.regex", "invalid regex", err)
		}
		out.Regex = re
	}
	return out, nil
}

func (c *compiler) steps(in []APIStep) ([]Step, error) {
	seen := make(map[string]struct{}, len(in))
	out := make([]Step, 0, len(in))

	for i, s := range in {
		field := "api.steps[" + strconv.Itoa(i) + "]"
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return nil, c.fail(field+".id", "step id is required", nil)
		}
		if _, dup := seen[id]; dup {
			return nil, c.fail(field+".id", "duplicate step id "+strconv.Quote(id), nil)
		}
		seen[id] = struct{}{}

		if strings.TrimSpace(s.Request.URL) == "" {
			return nil, c.fail(field+".request.url", "step url is required", nil)
		}
		method := normalizeMethod(s.Request.Method)
		if method == "" {
			return nil, c.fail(field+".request.method", "unsupported method "+strconv.Quote(s.Request.Method), nil)
		}

		var isHTML bool
		switch strings.ToLower(s.Response) {
		case "", "json":
		case "html":
			isHTML = true
		default:
			return nil, c.fail(field+".response", "unknown response kind "+strconv.Quote(s.Response), nil)
		}

		out = append(out, Step{
			ID:      id,
			URL:     strings.TrimSpace(s.Request.URL),
			Method:  method,
			Headers: copyHeaders(s.Request.Headers),
			Body:    s.Request.Body,
			HTML:    isHTML,
		})
	}
	return out, nil
}

func (c *compiler) wait(w *WaitConfig) (*Wait, error) {
	if w.TimeoutMs < 0 {
		return nil, c.fail("wait_config.timeout_ms", "must be >= 0", nil)
	}
	if w.PollMs < 0 {
		return nil, c.fail("wait_config.poll_ms", "must be >= 0", nil)
	}
	if w.MinTextLength < 0 {
		return nil, c.fail("wait_config.min_text_length", "must be >= 0", nil)
	}
	for i, s := range w.ContainerSelectors {
		if _, err := cascadia.Compile(s); err != nil {
			return nil, c.fail("wait_config.container_selectors["+strconv.Itoa(i)+"]", "invalid selector", err)
		}
	}
	for i, s := range w.ContentSelectors {
		if _, err := cascadia.Compile(s); err != nil {
			return nil, c.fail("wait_config.content_selectors["+strconv.Itoa(i)+"]", "invalid selector", err)
		}
	}

	out := &Wait{
		ContainerSelectors: append([]string(nil), w.ContainerSelectors...),
		ContentSelectors:   append([]string(nil), w.ContentSelectors...),
		MinTextLength:      w.MinTextLength,
		RequireImageLoaded: w.RequireImageLoaded,
		Timeout:            time.Duration(w.TimeoutMs) * time.Millisecond,
		Poll:               time.Duration(w.PollMs) * time.Millisecond,
		SkipNavigationWait: w.SkipNavigationWait,
		SkipRenderStable:   w.SkipRenderStable,
	}
	if out.Timeout == 0 {
		out.Timeout = DefaultWaitTimeout
	}
	if out.Poll == 0 {
		out.Poll = DefaultPollInterval
	}
	return out, nil
}

func (c *compiler) tree(fields []FieldRule, r *Rule) (*Tree, error) {
	t := &Tree{}
	seen := make(map[string]struct{}, len(fields))
	for i := range fields {
		name := strings.TrimSpace(fields[i].Name)
		if _, dup := seen[name]; dup && name != "" {
			return nil, c.fail("extract["+strconv.Itoa(i)+"].name", "duplicate field "+strconv.Quote(name), nil)
		}
		seen[name] = struct{}{}

		idx, err := c.node(t, &fields[i], -1, "extract["+strconv.Itoa(i)+"]", "", r)
		if err != nil {
			return nil, err
		}
		t.Roots = append(t.Roots, idx)
	}
	return t, nil
}

func (c *compiler) node(t *Tree, f *FieldRule, parent int, field, prefix string, r *Rule) (int, error) {
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return -1, c.fail(field+".name", "field name is required", nil)
	}

	n := Node{
		Index:    len(t.Nodes),
		Name:     name,
		Path:     joinPath(prefix, name),
		Parent:   parent,
		Attr:     append([]string(nil), f.Attr...),
		Trim:     f.Trim,
		Multiple: f.Multiple,
		From:     strings.TrimSpace(f.From),
	}

	if n.From != "" {
		if _, ok := r.Step(n.From); !ok {
			return -1, c.fail(field+".from", "unknown step "+strconv.Quote(n.From), nil)
		}
	}

	if f.Regex != "" {
		re, err := regexp.Compile(f.Regex)
		if err != nil {
			return -1, c.fail(field+".regex", "invalid regex", err)
		}
		n.Regex = re
	}

	typ := f.Type
	if typ == "" {
		typ = TypeCSS
	}

	switch typ {
	case TypeCSS:
		loc := CSS{Selector: strings.TrimSpace(f.Selector)}
		if loc.Selector == "" && parent < 0 && n.From == "" {
			return -1, c.fail(field+".selector", "css field requires a selector", nil)
		}
		if loc.Selector != "" {
			m, err := compileSelector(loc.Selector)
			if err != nil {
				return -1, c.fail(field+".selector", "invalid selector", err)
			}
			loc.Matcher = m
		}
		n.Locator = loc
	case TypeJSON:
		if strings.TrimSpace(f.Path) == "" {
			return -1, c.fail(field+".path", "json field requires a path", nil)
		}
		loc := JSON{
			Path:     strings.ReplaceAll(strings.TrimSpace(f.Path), "'", "\""),
			Selector: strings.TrimSpace(f.Selector),
		}
		if loc.Selector != "" {
			m, err := compileSelector(loc.Selector)
			if err != nil {
				return -1, c.fail(field+".selector", "invalid selector", err)
			}
			loc.Matcher = m
		}
		n.Locator = loc
	case TypeTemplate:
		if f.Template == "" {
			return -1, c.fail(field+".template", "template field requires a template", nil)
		}
		n.Locator = Template{Format: f.Template}
	case TypeText:
		if f.Text == "" {
			return -1, c.fail(field+".text", "text field requires a text value", nil)
		}
		if len(f.Children) > 0 {
			return -1, c.fail(field+".children", "text field cannot have children", nil)
		}
		n.Locator = Text{Value: f.Text}
	default:
		return -1, c.fail(field+".type", "unknown field type "+strconv.Quote(string(f.Type)), nil)
	}

	if f.Filter != "" {
		m, err := compileSelector(f.Filter)
		if err != nil {
			return -1, c.fail(field+".filter", "invalid selector", err)
		}
		n.Filter = m
		switch strings.ToLower(f.FilterMode) {
		case "", "has":
		case "not":
			n.FilterNot = true
		default:
			return -1, c.fail(field+".filter_mode", "unknown filter mode "+strconv.Quote(f.FilterMode), nil)
		}
	}

	idx := n.Index
	t.Nodes = append(t.Nodes, n)

	seen := make(map[string]struct{}, len(f.Children))
	for i := range f.Children {
		childField := field + ".children[" + strconv.Itoa(i) + "]"
		childName := strings.TrimSpace(f.Children[i].Name)
		if _, dup := seen[childName]; dup && childName != "" {
			return -1, c.fail(childField+".name", "duplicate field "+strconv.Quote(childName), nil)
		}
		seen[childName] = struct{}{}

		ci, err := c.node(t, &f.Children[i], idx, childField, t.Nodes[idx].Path, r)
		if err != nil {
			return -1, err
		}
		t.Nodes[idx].Children = append(t.Nodes[idx].Children, ci)
	}

	return idx, nil
}

func compileSelector(sel string) (goquery.Matcher, error) {
	m, err := cascadia.Compile(sel)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func normalizeMethod(m string) string {
	switch strings.ToUpper(strings.TrimSpace(m)) {
	case "", http.MethodGet:
		return http.MethodGet
	case http.MethodPost:
		return http.MethodPost
	default:
		return ""
	}
}

func copyHeaders(h map[string]string) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
