package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/brogergvhs/mangarule/internal/rule"
	"github.com/brogergvhs/mangarule/internal/store"
)

var (
	flagRuleName    string
	flagMangaRule   string
	flagChapterRule string
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage the stored scraping rules",
}

var rulesAddCmd = &cobra.Command{
	Use:   "add <site-key>",
	Short: "Add or replace the rules of a site",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagMangaRule == "" && flagChapterRule == "" {
			return errors.New("need --manga and/or --chapter")
		}
		mangaDoc, err := readRuleDoc(flagMangaRule)
		if err != nil {
			return err
		}
		chapterDoc, err := readRuleDoc(flagChapterRule)
		if err != nil {
			return err
		}

		name := flagRuleName
		if name == "" {
			name = args[0]
		}
		sr, err := store.NewScrapingRule(args[0], name, mangaDoc, chapterDoc)
		if err != nil {
			return err
		}

		st, logSvc, err := openStore()
		if err != nil {
			return err
		}
		defer logSvc.Close()
		defer st.Close()

		if err := st.UpsertRule(cmd.Context(), sr); err != nil {
			return err
		}
		fmt.Printf("Saved rules for %s (%s)\n", sr.SiteKey, strings.Join(sr.Domains(), ", "))
		return nil
	},
}

// readRuleDoc decodes and compiles a rule file so broken rules never
// reach the store. An empty path yields nil.
func readRuleDoc(path string) (*rule.Document, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule %s: %w", path, err)
	}
	doc, err := rule.Decode(b, rule.FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if _, err := rule.Compile(doc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &doc, nil
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the stored rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, logSvc, err := openStore()
		if err != nil {
			return err
		}
		defer logSvc.Close()
		defer st.Close()

		list, err := st.ListRules(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
		_, _ = fmt.Fprintln(w, "KEY\tNAME\tDOMAINS\tMANGA\tCHAPTER\tENABLED")
		for _, r := range list {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
				r.SiteKey, r.Name, strings.Join(r.Domains(), ","),
				yesNo(r.MangaRuleJSON != ""), yesNo(r.ChapterRuleJSON != ""), r.Enabled)
		}
		return w.Flush()
	},
}

var rulesShowCmd = &cobra.Command{
	Use:   "show <site-key> <manga|chapter>",
	Short: "Print a stored rule document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, logSvc, err := openStore()
		if err != nil {
			return err
		}
		defer logSvc.Close()
		defer st.Close()

		sr, err := st.GetRule(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		switch store.RuleKind(args[1]) {
		case store.RuleManga:
			fmt.Println(sr.MangaRuleJSON)
		case store.RuleChapter:
			fmt.Println(sr.ChapterRuleJSON)
		default:
			return fmt.Errorf("unknown rule kind %q", args[1])
		}
		return nil
	},
}

var rulesRemoveCmd = &cobra.Command{
	Use:   "remove <site-key>",
	Short: "Delete the rules of a site",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, logSvc, err := openStore()
		if err != nil {
			return err
		}
		defer logSvc.Close()
		defer st.Close()

		if err := st.DeleteRule(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed rules for %s\n", args[0])
		return nil
	},
}

func toggleCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <site-key>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " the rules of a site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, logSvc, err := openStore()
			if err != nil {
				return err
			}
			defer logSvc.Close()
			defer st.Close()

			return st.SetRuleEnabled(cmd.Context(), args[0], enabled)
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}

func init() {
	rulesAddCmd.Flags().StringVar(&flagRuleName, "name", "", "display name of the site")
	rulesAddCmd.Flags().StringVar(&flagMangaRule, "manga", "", "rule document for manga pages")
	rulesAddCmd.Flags().StringVar(&flagChapterRule, "chapter", "", "rule document for chapter pages")

	rulesCmd.AddCommand(rulesAddCmd, rulesListCmd, rulesShowCmd, rulesRemoveCmd,
		toggleCmd("enable", true), toggleCmd("disable", false))
	rootCmd.AddCommand(rulesCmd)
}
