package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/untoldecay/fieldmerge/internal/config"
	"github.com/untoldecay/fieldmerge/internal/debug"
	"github.com/untoldecay/fieldmerge/internal/rpc"
	"github.com/untoldecay/fieldmerge/internal/ui"
)

var (
	jsonOutput  bool
	verbose     bool
	dataDirFlag string
	dbFlag      string
	noDaemon    bool

	logger = slog.New(slog.DiscardHandler)
)

var rootCmd = &cobra.Command{
	Use:   "fieldmerge",
	Short: "Consolidate two Jira custom fields",
	Long: `fieldmerge copies screen placements and issue values from a source Jira
custom field to a target field and records every run.

Commands talk to a running 'fieldmerge serve' daemon when one is listening in
the data directory, otherwise they run the engine in this process.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		if err := config.Initialize(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		applyFlagOverrides(cmd)

		debug.SetEnabled(debug.Enabled() || verbose)
		ui.Setup()

		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		rpc.ClientVersion = Version
	},
}

// applyFlagOverrides gives explicitly set flags precedence over config and env.
func applyFlagOverrides(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("json") {
		config.Set("json", jsonOutput)
	}
	jsonOutput = config.GetBool("json")
	if flags.Changed("data-dir") {
		config.Set("data-dir", dataDirFlag)
	}
	if flags.Changed("db") {
		config.Set("db", dbFlag)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Data directory (default: .fieldmerge)")
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "State database path, or :memory:")
	rootCmd.PersistentFlags().BoolVar(&noDaemon, "no-daemon", false, "Never use a running daemon")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
