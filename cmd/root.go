package cmd

import (
	"fmt"
	"os"

	"github.com/brogergvhs/mangarule/internal/config"

	"github.com/spf13/cobra"
)

var (
	flagIgnoreConfig bool
	flagDebug        bool
	flagLogFile      string
	flagStorePath    string
)

var rootCmd = &cobra.Command{
	Use:           "mangarule",
	Short:         "Rule-driven manga scraper with CBZ output",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagIgnoreConfig, "ignore-config", false, "ignore config and use only CLI flags")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "also write JSON logs to this file")
	rootCmd.PersistentFlags().StringVar(&flagStorePath, "store", "", "path of the sqlite rule store")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func baseOptions() config.Options {
	return config.Options{
		IgnoreConfig: flagIgnoreConfig,
		Debug:        flagDebug,
		LogFile:      flagLogFile,
		StorePath:    flagStorePath,
	}
}
