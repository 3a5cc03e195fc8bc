package main

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"github.com/untoldecay/fieldmerge/internal/types"
	"github.com/untoldecay/fieldmerge/internal/ui"
	"gopkg.in/yaml.v3"
)

var (
	historySince  string
	historyStatus string
	historyFormat string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past and running migrations, newest first",
	Example: `  fieldmerge history
  fieldmerge history --since "last monday" --status COMPLETED
  fieldmerge history --since 72h --format yaml`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		var since time.Time
		if historySince != "" {
			var err error
			if since, err = parseSince(historySince, time.Now()); err != nil {
				FatalError("%v", err)
			}
		}
		status := types.Status(strings.ToUpper(historyStatus))
		if status != "" && !status.IsValid() {
			FatalError("unknown status %q (want IN_PROGRESS, COMPLETED or ERROR)", historyStatus)
		}

		ctx := cmd.Context()
		b := openBackend(ctx, false)
		defer func() { _ = b.Close() }()

		recs, err := b.ListMigrationHistory(ctx)
		if err != nil {
			fatalServiceError(err)
		}
		recs = filterHistory(recs, since, status)
		if historyLimit > 0 && len(recs) > historyLimit {
			recs = recs[:historyLimit]
		}

		format := historyFormat
		if jsonOutput {
			format = "json"
		}
		switch format {
		case "json":
			outputJSON(recs)
		case "yaml":
			encoder := yaml.NewEncoder(os.Stdout)
			encoder.SetIndent(2)
			if err := encoder.Encode(historyYAML(recs)); err != nil {
				FatalError("encoding YAML: %v", err)
			}
			_ = encoder.Close()
		case "table":
			if len(recs) == 0 {
				fmt.Println("No migrations found")
				return
			}
			fmt.Println(ui.RenderHistoryTable(recs, 0))
		default:
			FatalError("unknown format %q (want table, json or yaml)", historyFormat)
		}
	},
}

// parseSince accepts RFC 3339 timestamps, dates, Go durations ("48h") and
// natural language ("last week", "2 days ago").
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, time.DateTime, time.DateOnly} {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t, nil
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing --since %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand --since %q", s)
	}
	return r.Time, nil
}

// filterHistory keeps records started at or after since with the given
// status, newest first.
func filterHistory(recs []*types.MigrationRecord, since time.Time, status types.Status) []*types.MigrationRecord {
	out := make([]*types.MigrationRecord, 0, len(recs))
	for _, r := range recs {
		if !since.IsZero() && r.MigrationDate.Before(since) {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, r)
	}
	slices.SortStableFunc(out, func(a, b *types.MigrationRecord) int {
		return b.MigrationDate.Compare(a.MigrationDate)
	})
	return out
}

type historyEntry struct {
	ID       string    `yaml:"id"`
	Source   string    `yaml:"source"`
	Target   string    `yaml:"target"`
	Status   string    `yaml:"status"`
	Started  time.Time `yaml:"started"`
	Issues   string    `yaml:"issues"`
	Screens  string    `yaml:"screens"`
	Error    string    `yaml:"error,omitempty"`
	Finished string    `yaml:"finished,omitempty"`
}

func historyYAML(recs []*types.MigrationRecord) []historyEntry {
	out := make([]historyEntry, 0, len(recs))
	for _, r := range recs {
		e := historyEntry{
			ID:      r.MigrationID,
			Source:  r.SourceFieldID,
			Target:  r.TargetFieldID,
			Status:  string(r.Status),
			Started: r.MigrationDate,
			Issues:  fmt.Sprintf("%d/%d", r.IssueMigrationProgress, r.TotalIssues),
			Screens: fmt.Sprintf("%d/%d", r.Screens.Succeeded, r.Screens.Total),
			Error:   r.Error,
		}
		if r.CompletedAt != nil {
			e.Finished = r.CompletedAt.Format(time.RFC3339)
		}
		out = append(out, e)
	}
	return out
}

func init() {
	historyCmd.Flags().StringVar(&historySince, "since", "", `Only migrations started after this time ("yesterday", "48h", 2026-01-31)`)
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "Only migrations with this status")
	historyCmd.Flags().StringVar(&historyFormat, "format", "table", "Output format: table, json or yaml")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Show at most n migrations")
	rootCmd.AddCommand(historyCmd)
}
