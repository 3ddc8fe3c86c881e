package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/brogergvhs/mangarule/internal/browser"
	"github.com/brogergvhs/mangarule/internal/config"
	"github.com/brogergvhs/mangarule/internal/engine"
	"github.com/brogergvhs/mangarule/internal/fetch"
	"github.com/brogergvhs/mangarule/internal/store"
	"github.com/brogergvhs/mangarule/internal/ui"
	"github.com/brogergvhs/mangarule/internal/util"
)

// app holds what the scrape and download commands share: the merged
// config, the logger, the rule store and an engine wired to both fetchers.
type app struct {
	cfg    *config.Config
	source string
	log    *ui.Logger
	store  *store.Store
	client *http.Client
	engine *engine.Engine
	pool   *browser.Pool
}

// newApp builds the shared services. logOpts are applied after the
// configured log file, so callers can redirect the console log.
func newApp(opts config.Options, logOpts ...ui.LoggerOption) (*app, error) {
	cfg, source, err := config.LoadMerged(opts)
	if err != nil {
		return nil, err
	}

	if cfg.LogFile != "" {
		logOpts = append([]ui.LoggerOption{ui.WithLogFile(cfg.LogFile)}, logOpts...)
	}
	logSvc := ui.NewLogger(cfg.Debug, logOpts...)
	logSvc.Debugf("config: %s", source)
	zl := logSvc.Zap()

	st, err := store.Open(cfg.StorePath, zl)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	client := util.NewHTTPClient(util.HTTPClientOptions{
		Timeout:          cfg.HTTP.Timeout(),
		UserAgent:        util.PickUserAgent(cfg.HTTP.UserAgent),
		Cookie:           cfg.HTTP.Cookie,
		CookieFile:       cfg.HTTP.CookieFile,
		CloudflareBypass: cfg.HTTP.CloudflareBypass,
		Logger:           zl,
	})

	fetcher := fetch.NewHTTP(
		fetch.WithClient(client),
		fetch.WithUserAgent(cfg.HTTP.UserAgent),
		fetch.WithTimeout(cfg.HTTP.Timeout()),
		fetch.WithRetries(cfg.HTTP.Retries, 500*time.Millisecond),
		fetch.WithRateLimit(cfg.HTTP.RatePerSec, cfg.HTTP.Burst),
		fetch.WithLogger(zl),
	)

	rt := &app{cfg: cfg, source: source, log: logSvc, store: st, client: client}

	engOpts := []engine.Option{engine.WithLogger(zl), engine.WithFetcher(fetcher)}
	if cfg.Browser.Enabled {
		rt.pool = browser.NewPool(browser.PoolOptions{
			Size:      cfg.Browser.Sessions,
			Bin:       cfg.Browser.Bin,
			Headless:  !cfg.Browser.Headful,
			StableFor: time.Duration(cfg.Browser.StableMS) * time.Millisecond,
			Logger:    zl,
		})
		engOpts = append(engOpts, engine.WithBrowser(browser.NewFetcher(rt.pool, zl)))
	}
	rt.engine = engine.New(engOpts...)

	return rt, nil
}

func (rt *app) Close() {
	if rt.pool != nil {
		if err := rt.pool.Close(); err != nil {
			rt.log.Warnf("closing browser: %v", err)
		}
	}
	if err := rt.store.Close(); err != nil {
		rt.log.Warnf("closing store: %v", err)
	}
	_ = rt.log.Close()
}

// openStore is for commands that only touch the repository.
func openStore() (*store.Store, *ui.Logger, error) {
	cfg, _, err := config.LoadMerged(baseOptions())
	if err != nil {
		return nil, nil, err
	}
	logSvc := ui.NewLogger(cfg.Debug)
	st, err := store.Open(cfg.StorePath, logSvc.Zap())
	if err != nil {
		_ = logSvc.Close()
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return st, logSvc, nil
}
