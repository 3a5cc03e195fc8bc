package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/untoldecay/fieldmerge/internal/config"
	"github.com/untoldecay/fieldmerge/internal/types"
	"github.com/untoldecay/fieldmerge/internal/ui"
)

var (
	migrateInteractive bool
	migrateDetach      bool
	migrateInterval    time.Duration
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [source] [target]",
	Short: "Consolidate a source field into a target field",
	Long: `Copies every screen placement of the source field to the target field and
then writes source values into the target on every issue that has one.

With a running daemon the migration runs there and this command follows its
progress (--detach returns immediately). Without one it runs in this process.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if migrateInteractive {
			return cobra.MaximumNArgs(2)(cmd, args)
		}
		return cobra.ExactArgs(2)(cmd, args)
	},
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		b := openBackend(ctx, true)
		defer func() { _ = b.Close() }()

		sourceID, targetID := "", ""
		if len(args) > 0 {
			sourceID = args[0]
		}
		if len(args) > 1 {
			targetID = args[1]
		}
		if migrateInteractive {
			var err error
			sourceID, targetID, err = pickFields(ctx, b, sourceID, targetID)
			if err != nil {
				FatalError("%v", err)
			}
		}

		id, err := b.StartMigration(ctx, sourceID, targetID)
		if err != nil {
			fatalServiceError(err)
		}

		if migrateDetach {
			if !b.Remote() {
				fmt.Fprintln(os.Stderr, "Warning: no daemon running, --detach ignored")
			} else {
				if jsonOutput {
					outputJSON(map[string]string{"migrationId": id})
				} else {
					fmt.Printf("Started migration %s\n", id)
					fmt.Printf("Follow it with: fieldmerge status %s --watch\n", id)
				}
				return
			}
		}

		if !jsonOutput {
			fmt.Printf("Migration %s: %s → %s\n", ui.RenderAccent(id), sourceID, targetID)
		}
		rec, err := followMigration(ctx, b, id, migrateInterval, dbChanges(ctx, config.DBPath()), progressPrinter())
		if err != nil && ctx.Err() != nil {
			rec, err = afterInterrupt(b, id)
		}
		if err != nil {
			FatalError("following migration %s: %v", id, err)
		}
		reportFinal(rec)
		if rec.Status == types.StatusError {
			_ = b.Close()
			os.Exit(1)
		}
	},
}

// afterInterrupt handles Ctrl-C while following. A daemon run keeps going.
// A local run is waited for so its record ends terminal before exit.
func afterInterrupt(b backend, id string) (*types.MigrationRecord, error) {
	fmt.Println()
	local, ok := b.(*localBackend)
	if !ok {
		fmt.Fprintf(os.Stderr, "Stopped following; migration %s continues on the daemon\n", id)
		fmt.Fprintf(os.Stderr, "Follow it with: fieldmerge status %s --watch\n", id)
		_ = b.Close()
		os.Exit(0)
	}
	fmt.Fprintf(os.Stderr, "Interrupted; waiting for migration %s to finish\n", id)
	local.Wait()
	return b.GetMigrationStatus(context.Background(), id)
}

// pickFields asks for the pair with a huh form and confirms it.
func pickFields(ctx context.Context, b backend, sourceID, targetID string) (string, string, error) {
	if !ui.IsTerminal() {
		return "", "", errors.New("--interactive requires a terminal")
	}
	fields, err := b.ListCustomFields(ctx)
	if err != nil {
		return "", "", err
	}
	if len(fields) < 2 {
		return "", "", errors.New("at least two custom fields are needed")
	}

	options := make([]huh.Option[string], 0, len(fields))
	for _, f := range fields {
		options = append(options, huh.NewOption(fmt.Sprintf("%s (%s, %s)", f.Name, f.ID, f.Type), f.ID))
	}

	confirmed := false
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Source field").
				Description("Values and placements are copied from this field").
				Options(options...).
				Filtering(true).
				Value(&sourceID),

			huh.NewSelect[string]().
				Title("Target field").
				Description("This field receives the values").
				Options(options...).
				Filtering(true).
				Value(&targetID).
				Validate(func(id string) error {
					if id == sourceID {
						return errors.New("target must differ from the source")
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewConfirm().
				TitleFunc(func() string {
					return fmt.Sprintf("Migrate %s into %s?", sourceID, targetID)
				}, []*string{&sourceID, &targetID}).
				Description("Target values on issues with a source value are overwritten").
				Affirmative("Migrate").
				Negative("Cancel").
				Value(&confirmed),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		return "", "", fmt.Errorf("form error: %w", err)
	}
	if !confirmed {
		return "", "", errors.New("cancelled")
	}
	return sourceID, targetID, nil
}

// progressPrinter redraws one status line on a terminal and prints a line
// per change otherwise. JSON mode prints nothing until the end.
func progressPrinter() func(*types.MigrationRecord) {
	tty := ui.IsTerminal()
	return func(rec *types.MigrationRecord) {
		if jsonOutput {
			return
		}
		line := fmt.Sprintf("screens %d/%d  issues %s %d/%d  %s",
			rec.Screens.Processed, rec.Screens.Total,
			ui.RenderProgressBar(rec.IssueMigrationProgress, rec.TotalIssues, 24),
			rec.IssueMigrationProgress, rec.TotalIssues,
			ui.RenderStatus(string(rec.Status)))
		if tty {
			fmt.Printf("\r\033[K%s", line)
			if rec.Status.IsTerminal() {
				fmt.Println()
			}
			return
		}
		fmt.Println(line)
	}
}

func reportFinal(rec *types.MigrationRecord) {
	if jsonOutput {
		outputJSON(rec)
		return
	}
	switch rec.Status {
	case types.StatusCompleted:
		fmt.Printf("%s Migrated %d issue(s), %d screen(s) updated", ui.RenderPass("✓"), rec.IssueMigrationProgress, rec.Screens.Succeeded)
		if rec.IssuesSkipped > 0 || rec.IssuesFailed > 0 {
			fmt.Printf(" (%d skipped, %d failed)", rec.IssuesSkipped, rec.IssuesFailed)
		}
		fmt.Println()
	case types.StatusError:
		fmt.Printf("%s Migration failed: %s\n", ui.RenderFail("✗"), rec.Error)
	}
	if rec.Screens.Failed > 0 {
		fmt.Println(ui.RenderWarn(fmt.Sprintf("%d screen(s) failed; see 'fieldmerge status %s'", rec.Screens.Failed, rec.MigrationID)))
	}
}

func init() {
	migrateCmd.Flags().BoolVarP(&migrateInteractive, "interactive", "i", false, "Pick the fields interactively")
	migrateCmd.Flags().BoolVar(&migrateDetach, "detach", false, "Return once the daemon has started the migration")
	migrateCmd.Flags().BoolVar(&noDaemon, "force-local", false, "Run in this process even when a daemon is running")
	migrateCmd.Flags().DurationVar(&migrateInterval, "interval", 2*time.Second, "Progress polling interval")
	rootCmd.AddCommand(migrateCmd)
}
