// Package engine evaluates a scraping rule end to end: it picks the
// acquisition strategy, fetches the entry and API steps, runs the field tree
// and assembles the resulting record.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brogergvhs/mangarule/internal/browser"
	"github.com/brogergvhs/mangarule/internal/diag"
	"github.com/brogergvhs/mangarule/internal/extract"
	"github.com/brogergvhs/mangarule/internal/fetch"
	"github.com/brogergvhs/mangarule/internal/manga"
	"github.com/brogergvhs/mangarule/internal/rule"
	"github.com/brogergvhs/mangarule/internal/template"
)

// Renderer acquires content through a browser session.
type Renderer interface {
	Render(ctx context.Context, req fetch.Request, w rule.Wait) (*fetch.Content, error)
}

type Result struct {
	RunID       string              `json:"run_id"`
	Site        string              `json:"site"`
	Kind        Kind                `json:"kind"`
	URL         string              `json:"url,omitempty"`
	Strategy    rule.Strategy       `json:"strategy"`
	Manga       *manga.MangaData    `json:"manga,omitempty"`
	Pages       *manga.ChapterPages `json:"pages,omitempty"`
	Fields      extract.Record      `json:"fields"`
	Diagnostics []diag.Diagnostic   `json:"diagnostics,omitempty"`
}

type Engine struct {
	options
}

func New(opts ...Option) *Engine {
	o := DefaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Fetcher == nil {
		o.Fetcher = fetch.NewHTTP(fetch.WithLogger(o.Logger))
	}
	if len(o.Schemas) == 0 {
		o.Schemas = DefaultSchemas
	}
	return &Engine{options: o}
}

// Run evaluates r for one target. Configuration and fetch failures abort
// the run and are returned as errors; everything else is reported as a
// diagnostic on the still returned, possibly partial, result.
func (e *Engine) Run(ctx context.Context, r *rule.Rule, target string) (*Result, error) {
	res := &Result{
		RunID:    uuid.NewString(),
		Site:     r.Site,
		Strategy: r.Strategy,
	}
	log := e.Logger.With(zap.String("run", res.RunID), zap.String("site", r.Site))

	col := diag.NewCollector()
	c := extract.NewContext(col)

	entryURL, unbound := bindTarget(r, target, c.Vars)
	if len(unbound) > 0 {
		col.Report(diag.Diagnostic{
			Code:    diag.TemplateUnbound,
			Field:   "entry.url",
			Message: "unbound placeholders resolved to empty",
			Names:   unbound,
		})
	}
	res.URL = entryURL

	var scope extract.Scope
	if r.Strategy == rule.StrategyAPI {
		if _, ok := c.Vars["offset"]; !ok {
			c.Vars["offset"] = "0"
		}
		if _, ok := c.Vars["limit"]; !ok {
			c.Vars["limit"] = "100"
		}
	} else {
		if entryURL == "" {
			return nil, &rule.ConfigError{Site: r.Site, Field: "entry.url", Reason: "no target url and no entry url"}
		}
		s, used, err := e.entry(ctx, r, entryURL, col, log)
		if err != nil {
			return nil, err
		}
		scope = s
		res.Strategy = used
	}

	if err := e.steps(ctx, r, c, log); err != nil {
		return nil, err
	}
	if scope == nil {
		s, err := contextScope(c)
		if err != nil {
			return nil, err
		}
		scope = s
	}

	fields, err := e.extract(ctx, r, c, scope, log)
	if err != nil {
		return nil, err
	}
	res.Fields = fields

	schema := detect(e.Schemas, r.Tree)
	res.Kind = schema.Kind
	switch schema.Kind {
	case KindManga:
		res.Manga = manga.MangaFrom(fields)
	case KindChapter:
		res.Pages = manga.PagesFrom(fields)
	}
	if names := missing(schema, fields); len(names) > 0 {
		col.Report(diag.Diagnostic{
			Code:    diag.MissingRequired,
			Message: "required fields missing or empty: " + strings.Join(names, ", "),
			Names:   names,
		})
	}

	res.Diagnostics = col.List()
	log.Debug("run finished",
		zap.String("kind", string(res.Kind)),
		zap.String("strategy", string(res.Strategy)),
		zap.Int("diagnostics", len(res.Diagnostics)))
	return res, nil
}

// entry fetches the entry document with the rule's strategy and returns the
// strategy actually used.
func (e *Engine) entry(ctx context.Context, r *rule.Rule, u string, col *diag.Collector, log *zap.Logger) (extract.Scope, rule.Strategy, error) {
	req := fetch.Request{URL: u}
	if r.Entry != nil {
		req.Method = r.Entry.Method
		req.Headers = r.Entry.Headers
	}

	switch r.Strategy {
	case rule.StrategyBrowser:
		if e.Browser == nil {
			col.Report(diag.Diagnostic{
				Code:    diag.UnsupportedSource,
				Message: "browser strategy requested but no browser is configured, fetching statically",
			})
			s, err := e.static(ctx, req)
			return s, rule.StrategyStatic, err
		}
		s, err := e.render(ctx, r, req, col)
		return s, rule.StrategyBrowser, err

	case rule.StrategyAuto:
		s, err := e.static(ctx, req)
		if err != nil {
			return nil, "", err
		}
		if structured(r, s) {
			return s, rule.StrategyStatic, nil
		}
		if e.Browser == nil {
			col.Report(diag.Diagnostic{
				Code:    diag.StrategyFallback,
				Message: "static content failed the structural probe and no browser is configured",
			})
			return s, rule.StrategyStatic, nil
		}
		log.Info("static content incomplete, rendering", zap.String("url", u))
		col.Report(diag.Diagnostic{
			Code:    diag.StrategyFallback,
			Message: "static content failed the structural probe, rendered with browser",
		})
		s, err = e.render(ctx, r, req, col)
		return s, rule.StrategyBrowser, err
	}

	s, err := e.static(ctx, req)
	return s, rule.StrategyStatic, err
}

func (e *Engine) static(ctx context.Context, req fetch.Request) (extract.HTML, error) {
	content, err := e.Fetcher.Fetch(ctx, req, fetch.KindHTML)
	if err != nil {
		return extract.HTML{}, err
	}
	s, err := extract.ParseHTML(content.Body)
	if err != nil {
		return extract.HTML{}, &fetch.FetchError{URL: req.URL, StatusCode: content.StatusCode, Err: err}
	}
	return s, nil
}

func (e *Engine) render(ctx context.Context, r *rule.Rule, req fetch.Request, col *diag.Collector) (extract.HTML, error) {
	content, err := e.Browser.Render(ctx, req, r.Wait())
	if err != nil {
		return extract.HTML{}, err
	}
	for _, d := range content.Diagnostics {
		col.Report(d)
	}
	s, err := extract.ParseHTML(content.Body)
	if err != nil {
		return extract.HTML{}, &fetch.FetchError{URL: req.URL, Err: err}
	}
	return s, nil
}

// structured reports whether a static document already carries the
// content the rule reads: the wait selectors when the rule has them,
// otherwise any top-level CSS selector.
func structured(r *rule.Rule, s extract.HTML) bool {
	cond := browser.ConditionsFor(r.Wait())
	if cond.Empty() {
		for _, i := range r.Tree.Roots {
			n := r.Tree.Node(i)
			if css, ok := n.Locator.(rule.CSS); ok && css.Selector != "" && n.From == "" {
				cond.ContainerSelectors = append(cond.ContainerSelectors, css.Selector)
			}
		}
	}
	if cond.Empty() {
		return true
	}
	return browser.Evaluate(s.Sel, cond)
}

// steps runs the API steps in order. Each step sees the variables and the
// results of every step before it.
func (e *Engine) steps(ctx context.Context, r *rule.Rule, c *extract.Context, log *zap.Logger) error {
	for _, s := range r.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		req := fetch.Request{Method: s.Method, Step: s.ID}
		req.URL = strings.TrimSpace(e.resolve(c, s.URL, s.ID+".url"))
		req.Body = e.resolve(c, s.Body, s.ID+".body")
		if len(s.Headers) > 0 {
			req.Headers = make(map[string]string, len(s.Headers))
			for k, v := range s.Headers {
				req.Headers[k] = e.resolve(c, v, s.ID+".headers."+k)
			}
		}

		kind := fetch.KindJSON
		if s.HTML {
			kind = fetch.KindHTML
		}
		log.Debug("api step", zap.String("step", s.ID), zap.String("url", req.URL))

		content, err := e.Fetcher.Fetch(ctx, req, kind)
		if err != nil {
			return err
		}

		var scope extract.Scope
		if s.HTML {
			scope, err = extract.ParseHTML(content.Body)
		} else {
			scope, err = extract.ParseJSON(content.Body)
			if err != nil {
				err = fetch.ErrInvalidJSON
			}
		}
		if err != nil {
			return &fetch.FetchError{URL: req.URL, Step: s.ID, StatusCode: content.StatusCode, Err: err}
		}
		c.Bind(s.ID, scope)
	}
	return nil
}

func (e *Engine) resolve(c *extract.Context, tmpl, field string) string {
	if tmpl == "" {
		return ""
	}
	out, unbound := template.Resolve(tmpl, c)
	if len(unbound) > 0 {
		c.Diag.Report(diag.Diagnostic{
			Code:    diag.TemplateUnbound,
			Field:   field,
			Message: "unbound placeholders resolved to empty",
			Names:   unbound,
		})
	}
	return out
}

// contextScope exposes the run variables and step results as one JSON
// object. It is the default scope of rules without an entry document.
func contextScope(c *extract.Context) (extract.Scope, error) {
	b, err := json.Marshal(c.Values())
	if err != nil {
		return nil, err
	}
	return extract.ParseJSON(b)
}

// extract evaluates the top-level fields concurrently. The tree and the
// context are only read, and the collector is safe for concurrent use.
func (e *Engine) extract(ctx context.Context, r *rule.Rule, c *extract.Context, scope extract.Scope, log *zap.Logger) (extract.Record, error) {
	x := extract.New(r.Tree, log)
	fields := make(extract.Record, len(r.Tree.Roots))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, i := range r.Tree.Roots {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v := x.Field(c, i, scope)
			mu.Lock()
			fields[r.Tree.Node(i).Name] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fields, nil
}

// RunAll evaluates r for every target with at most limit runs in flight.
// Results keep the order of targets; a failed run leaves a nil result and
// its error in errs at the same index.
func (e *Engine) RunAll(ctx context.Context, r *rule.Rule, targets []string, limit int) ([]*Result, []error) {
	if limit < 1 {
		limit = 1
	}
	results := make([]*Result, len(targets))
	errs := make([]error, len(targets))

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i, t := range targets {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			errs[i] = ctx.Err()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[i], errs[i] = e.Run(ctx, r, t)
		}()
	}
	wg.Wait()
	return results, errs
}

// IsFatal reports whether err aborted a run, as opposed to cancellation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
