package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/brogergvhs/mangarule/internal/store"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show the host settings kept in the store",
	Long:  "Host settings live in the rule store. " + store.KeyMangaDirectory + " is the base folder used by download.",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, logSvc, err := openStore()
		if err != nil {
			return err
		}
		defer logSvc.Close()
		defer st.Close()

		list, err := st.Settings(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
		_, _ = fmt.Fprintln(w, "KEY\tVALUE\tUPDATED")
		for _, s := range list {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", s.Key, s.Value, s.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a stored setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, logSvc, err := openStore()
		if err != nil {
			return err
		}
		defer logSvc.Close()
		defer st.Close()

		v, ok, err := st.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("setting %s: %w", args[0], store.ErrNotFound)
		}
		fmt.Println(v)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a setting, e.g. manga_directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, logSvc, err := openStore()
		if err != nil {
			return err
		}
		defer logSvc.Close()
		defer st.Close()

		return st.Set(cmd.Context(), args[0], args[1])
	},
}

func init() {
	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}
