package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/untoldecay/fieldmerge/internal/config"
	"github.com/untoldecay/fieldmerge/internal/types"
	"github.com/untoldecay/fieldmerge/internal/ui"
)

var (
	statusWatch    bool
	statusInterval time.Duration
	statusLogs     bool
)

var statusCmd = &cobra.Command{
	Use:   "status <migrationId>",
	Short: "Show the progress of a migration",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		b := openBackend(ctx, false)
		defer func() { _ = b.Close() }()

		if statusWatch {
			rec, err := followMigration(ctx, b, args[0], statusInterval, dbChanges(ctx, config.DBPath()), progressPrinter())
			if err != nil {
				if rec == nil {
					fatalServiceError(err)
				}
				// Interrupted: show what we have
				fmt.Fprintln(os.Stderr)
			}
			if rec != nil && (jsonOutput || rec.Status.IsTerminal()) {
				reportFinal(rec)
			}
			return
		}

		rec, err := b.GetMigrationStatus(ctx, args[0])
		if err != nil {
			fatalServiceError(err)
		}
		if jsonOutput {
			outputJSON(rec)
			return
		}
		printRecord(rec, statusLogs)
	},
}

func printRecord(rec *types.MigrationRecord, logs bool) {
	fmt.Printf("Migration:  %s\n", ui.RenderAccent(rec.MigrationID))
	fmt.Printf("Fields:     %s → %s\n", rec.SourceFieldID, rec.TargetFieldID)
	fmt.Printf("Status:     %s\n", ui.RenderStatus(string(rec.Status)))
	fmt.Printf("Started:    %s\n", rec.MigrationDate.Local().Format(time.DateTime))
	if rec.CompletedAt != nil {
		fmt.Printf("Finished:   %s (%s)\n", rec.CompletedAt.Local().Format(time.DateTime), rec.CompletedAt.Sub(rec.MigrationDate).Round(time.Second))
	}
	fmt.Printf("Issues:     %s %d/%d", ui.RenderProgressBar(rec.IssueMigrationProgress, rec.TotalIssues, 24), rec.IssueMigrationProgress, rec.TotalIssues)
	if rec.IssuesSkipped > 0 || rec.IssuesFailed > 0 {
		fmt.Printf(" (%d skipped, %d failed)", rec.IssuesSkipped, rec.IssuesFailed)
	}
	fmt.Println()
	fmt.Printf("Screens:    %d total, %d processed, %d succeeded, %d failed\n",
		rec.Screens.Total, rec.Screens.Processed, rec.Screens.Succeeded, rec.Screens.Failed)
	if rec.Error != "" {
		fmt.Printf("Error:      %s\n", ui.RenderFail(rec.Error))
	}
	if logs && len(rec.Screens.Logs) > 0 {
		fmt.Println()
		for _, line := range rec.Screens.Logs {
			fmt.Println("  " + ui.RenderMuted(line))
		}
	}
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Follow progress until the migration finishes")
	statusCmd.Flags().DurationVar(&statusInterval, "interval", 2*time.Second, "Polling interval for --watch")
	statusCmd.Flags().BoolVar(&statusLogs, "logs", false, "Print the screen placement log")
	rootCmd.AddCommand(statusCmd)
}
