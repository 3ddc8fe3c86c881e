// Package providers turns stored scraping rules into manga and page lists
// for the download command.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/brogergvhs/mangarule/internal/engine"
	"github.com/brogergvhs/mangarule/internal/manga"
	"github.com/brogergvhs/mangarule/internal/rule"
	"github.com/brogergvhs/mangarule/internal/store"
)

type Scraper interface {
	GetManga(ctx context.Context, mangaURL string) (*manga.MangaData, error)
	GetPages(ctx context.Context, mangaURL, chapterRef string) ([]string, error)
}

// RuleSource finds the enabled rule whose domains match a URL.
type RuleSource interface {
	FindRule(ctx context.Context, rawURL string, kind store.RuleKind) (*rule.Rule, error)
}

type Runner interface {
	Run(ctx context.Context, r *rule.Rule, target string) (*engine.Result, error)
}

var ErrNoPages = errors.New("no usable pages found")

type Option func(o *options)

type options struct {
	Logger   *zap.Logger
	AllowExt []string
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithAllowedExt drops page URLs whose path carries any other extension.
// URLs without an extension are kept.
func WithAllowedExt(exts []string) Option {
	return func(o *options) {
		o.AllowExt = exts
	}
}

type RuleScraper struct {
	rules   RuleSource
	runner  Runner
	log     *zap.Logger
	allowed map[string]bool
}

func NewRuleScraper(rules RuleSource, runner Runner, opts ...Option) *RuleScraper {
	o := options{Logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}

	s := &RuleScraper{rules: rules, runner: runner, log: o.Logger}
	for _, ext := range normalizeExtList(o.AllowExt) {
		if s.allowed == nil {
			s.allowed = map[string]bool{}
		}
		s.allowed[ext] = true
	}
	return s
}

func (s *RuleScraper) run(ctx context.Context, lookupURL, target string, kind store.RuleKind) (*engine.Result, error) {
	r, err := s.rules.FindRule(ctx, lookupURL, kind)
	if err != nil {
		return nil, err
	}

	res, err := s.runner.Run(ctx, r, target)
	if err != nil {
		return nil, fmt.Errorf("%s rule %s: %w", kind, r.Site, err)
	}
	for _, d := range res.Diagnostics {
		s.log.Warn("rule diagnostic",
			zap.String("site", res.Site),
			zap.String("run_id", res.RunID),
			zap.String("code", string(d.Code)),
			zap.String("field", d.Field),
			zap.String("message", d.Message))
	}
	return res, nil
}

// GetManga runs the manga rule for mangaURL. Relative chapter ids and the
// cover are resolved against the page URL.
func (s *RuleScraper) GetManga(ctx context.Context, mangaURL string) (*manga.MangaData, error) {
	res, err := s.run(ctx, mangaURL, mangaURL, store.RuleManga)
	if err != nil {
		return nil, err
	}
	if res.Manga == nil {
		return nil, fmt.Errorf("rule %s returned %s data for a manga page", res.Site, res.Kind)
	}

	base := res.URL
	if base == "" {
		base = mangaURL
	}
	m := *res.Manga
	m.Cover = resolve(base, m.Cover)
	m.Chapters = make([]manga.ChapterData, len(res.Manga.Chapters))
	for i, c := range res.Manga.Chapters {
		if looksLikePath(c.ChapterID) {
			c.ChapterID = resolve(base, c.ChapterID)
		}
		m.Chapters[i] = c
	}
	return &m, nil
}

// GetPages runs the chapter rule. chapterRef is either a chapter URL or
// a bare id that the rule's entry template turns into one; in the latter
// case the rule is looked up by mangaURL.
func (s *RuleScraper) GetPages(ctx context.Context, mangaURL, chapterRef string) ([]string, error) {
	lookup := mangaURL
	if isAbs(chapterRef) {
		lookup = chapterRef
	}

	res, err := s.run(ctx, lookup, chapterRef, store.RuleChapter)
	if errors.Is(err, store.ErrNotFound) && lookup != mangaURL {
		res, err = s.run(ctx, mangaURL, chapterRef, store.RuleChapter)
	}
	if err != nil {
		return nil, err
	}
	if res.Pages == nil {
		return nil, fmt.Errorf("rule %s returned %s data for a chapter page", res.Site, res.Kind)
	}

	base := res.URL
	if base == "" {
		base = chapterRef
	}
	seen := map[string]bool{}
	var out []string
	for _, p := range res.Pages.Pages {
		u := resolve(base, strings.TrimSpace(p))
		if u == "" || seen[u] || strings.HasPrefix(u, "data:") || !s.allowedExt(u) {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", chapterRef, ErrNoPages)
	}
	return out, nil
}

func (s *RuleScraper) allowedExt(raw string) bool {
	if s.allowed == nil {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
	return ext == "" || s.allowed[ext]
}

func normalizeExtList(list []string) []string {
	var out []string
	for _, ext := range list {
		ext = strings.ToLower(strings.TrimSpace(ext))
		ext = strings.TrimPrefix(ext, ".")
		if ext != "" {
			out = append(out, ext)
		}
	}
	return out
}

func isAbs(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.IsAbs() && u.Host != ""
}

func looksLikePath(s string) bool {
	return strings.HasPrefix(s, "/") || strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") || strings.HasPrefix(s, "?")
}

func resolve(base, raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.IsAbs() {
		return u.String()
	}

	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return raw
	}
	return b.ResolveReference(u).String()
}
