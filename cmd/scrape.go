package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/brogergvhs/mangarule/internal/engine"
	"github.com/brogergvhs/mangarule/internal/rule"
	"github.com/brogergvhs/mangarule/internal/store"
	"github.com/brogergvhs/mangarule/internal/ui"
	"github.com/brogergvhs/mangarule/internal/util"
)

var (
	flagRuleFile   string
	flagKind       string
	flagBrowser    bool
	flagBrowserBin string
	flagWorkers    int
)

func init() {
	scrapeCmd := &cobra.Command{
		Use:   "scrape <url|id>...",
		Short: "Run a scraping rule against one or more targets and print the results as JSON",
		Long: "Runs the rule given with --rule, or the stored rule whose domains match each target URL.\n" +
			"Bare ids are only accepted together with --rule.",
		Args: cobra.MinimumNArgs(1),
		RunE: runScrape,
	}

	scrapeCmd.Flags().StringVar(&flagRuleFile, "rule", "", "rule document (.json, .yaml) instead of the stored rules")
	scrapeCmd.Flags().StringVar(&flagKind, "kind", "", "stored rule to use: manga or chapter (default: try manga, then chapter)")
	scrapeCmd.Flags().BoolVar(&flagBrowser, "browser", false, "enable the headless browser for browser and auto rules")
	scrapeCmd.Flags().StringVar(&flagBrowserBin, "browser-bin", "", "browser executable")
	scrapeCmd.Flags().IntVar(&flagWorkers, "workers", 0, "targets scraped in parallel")

	rootCmd.AddCommand(scrapeCmd)
}

func runScrape(cmd *cobra.Command, args []string) error {
	opts := baseOptions()
	opts.Browser = flagBrowser
	opts.BrowserBin = flagBrowserBin
	opts.Workers = flagWorkers

	// stdout carries only the JSON results.
	rt, err := newApp(opts, ui.WithOutput(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := util.InterruptContext(cmd.Context())
	defer stop()

	var (
		results []*engine.Result
		errs    []error
	)
	if flagRuleFile != "" {
		r, err := rule.LoadFile(flagRuleFile)
		if err != nil {
			return err
		}
		results, errs = rt.engine.RunAll(ctx, r, args, rt.cfg.Workers)
	} else {
		results, errs = rt.runStored(ctx, args, store.RuleKind(flagKind))
	}

	var failed []error
	out := make([]*engine.Result, 0, len(results))
	for i, res := range results {
		if errs[i] != nil {
			rt.log.Errorf("%s: %v", args[i], errs[i])
			failed = append(failed, fmt.Errorf("%s: %w", args[i], errs[i]))
			continue
		}
		for _, d := range res.Diagnostics {
			rt.log.Debugf("%s: %s", args[i], d)
		}
		out = append(out, res)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if len(args) == 1 && len(out) == 1 {
		err = enc.Encode(out[0])
	} else if len(out) > 0 {
		err = enc.Encode(out)
	}
	if err != nil {
		return err
	}

	return errors.Join(failed...)
}

// runStored looks up a rule per target, so targets from different sites
// can be scraped in one call.
func (rt *app) runStored(ctx context.Context, targets []string, kind store.RuleKind) ([]*engine.Result, []error) {
	results := make([]*engine.Result, len(targets))
	errs := make([]error, len(targets))

	kinds := []store.RuleKind{store.RuleManga, store.RuleChapter}
	if kind != "" {
		kinds = []store.RuleKind{kind}
	}

	var g errgroup.Group
	g.SetLimit(rt.cfg.Workers)
	for i, t := range targets {
		g.Go(func() error {
			r, err := rt.findRule(ctx, t, kinds)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i], errs[i] = rt.engine.Run(ctx, r, t)
			return nil
		})
	}
	_ = g.Wait()
	return results, errs
}

func (rt *app) findRule(ctx context.Context, target string, kinds []store.RuleKind) (*rule.Rule, error) {
	var err error
	for _, k := range kinds {
		var r *rule.Rule
		r, err = rt.store.FindRule(ctx, target, k)
		if err == nil {
			rt.log.Debugf("using %s rule %s for %s", k, r.Site, target)
			return r, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return nil, err
}
