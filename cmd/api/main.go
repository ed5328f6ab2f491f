package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/personas-nlq/backend/internal/metrics"
	"github.com/personas-nlq/backend/pkg/config"
	appLogger "github.com/personas-nlq/backend/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfg       *config.Config
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "personas-nlq",
	Short: "Natural-language queries over the personas dataset",
	Long: `personas-nlq answers Spanish questions about registered people
("¿Cuántas mujeres mayores de 30 años hay?") from a MongoDB, Firestore or
SQLite store, using precomputed answers, an LLM and local rules.

Without a subcommand the HTTP server is started.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if logLevel != "" {
			loaded.Logging.Level = logLevel
		}
		if logFormat != "" {
			loaded.Logging.Format = logFormat
		}
		if err := appLogger.Init(loaded.Logging.Level, loaded.Logging.Format, loaded.Logging.OutputPath); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		metrics.Init()
		cfg = loaded
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		appLogger.Sync()
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Override logging.format (json, console)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
