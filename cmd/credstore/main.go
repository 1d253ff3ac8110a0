package main

import (
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/systmms/credstore/cmd/credstore/commands"
	"github.com/systmms/credstore/internal/config"
	dserrors "github.com/systmms/credstore/internal/errors"
	"github.com/systmms/credstore/internal/logging"
	"github.com/systmms/credstore/internal/metrics"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	memguard.CatchInterrupt()
	defer memguard.Purge()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", dserrors.SimplifyError(err))
		memguard.Purge()
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	cfg := &config.Config{}
	registry := prometheus.NewRegistry()
	app := &commands.App{
		Config:  cfg,
		Metrics: metrics.NewRecorder(registry),
	}

	rootCmd := &cobra.Command{
		Use:   "credstore",
		Short: "Store credential records in Postgres or SQLite",
		Long: `credstore appends credential records to a relational backing store,
optionally sealing the value with AES-128-GCM first.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)
			// The default file is optional; an explicit --config must exist.
			cfg.AllowMissing = !cmd.Flags().Changed("config")
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			commands.LogMetrics(cfg.Logger, registry)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "credstore.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewURICommand(app),
		commands.NewStoreCommand(app),
		commands.NewLoadCommand(app),
		commands.NewEncryptCommand(app),
		commands.NewDecryptCommand(app),
		commands.NewValidateCommand(app),
	)

	return rootCmd.Execute()
}
