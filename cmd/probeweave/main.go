package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/probeweave/probeweave/internal/config"
)

var (
	cfgPath string
	verbose bool

	// cfg is the effective configuration, resolved once before any
	// subcommand runs.
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "probeweave",
	Short: "Self-healing generator for source instrumentation scripts",
	Long: `Probeweave turns construct descriptors into verified transformation
scripts. Each descriptor is rendered from a deterministic template, executed
against its source in an isolated sandbox, and validated by a generated test
battery. Candidates that fail validation go through a bounded AI repair loop.
Verified artifacts are cached by content fingerprint so identical constructs
are never built twice.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}

		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "",
		"path to a YAML config file (PW_* environment variables override it)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
