package ui

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/untoldecay/fieldmerge/internal/types"
)

// Table Styles
var (
	TableHeaderStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorAccent).
		Padding(0, 1)

	TableCellStyle = lipgloss.NewStyle().
		Padding(0, 1)

	TableBorderStyle = lipgloss.NewStyle().
		Foreground(ColorMuted)
)

// NewTable creates a table with the house styling.
func NewTable(width int, headers ...string) *table.Table {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			return TableCellStyle
		})
	if width > 0 {
		t = t.Width(width)
	}
	return t
}

// RenderFieldsTable lists custom fields.
func RenderFieldsTable(fields []types.Field, width int) string {
	t := NewTable(width, "ID", "Name", "Type", "Custom type")
	for _, f := range fields {
		t.Row(f.ID, f.Name, f.Type, f.CustomType)
	}
	return t.String()
}

// RenderUsageTable lists the screens and contexts of a field.
func RenderUsageTable(usage types.FieldUsage, width int) string {
	t := NewTable(width, "Kind", "ID", "Name")
	for _, s := range usage.Screens {
		t.Row("screen", s.ID.String(), s.Name)
	}
	for _, c := range usage.Contexts {
		t.Row("context", c.ID.String(), c.Name)
	}
	return t.String()
}

// RenderRulesTable lists the rule results of a compatibility check.
func RenderRulesTable(result types.Compatibility, width int) string {
	t := NewTable(width, "Rule", "Result", "Message")
	for _, r := range result.Rules {
		verdict := RenderPass("ok")
		switch {
		case !r.Valid && r.Critical:
			verdict = RenderFail("blocked")
		case !r.Valid:
			verdict = RenderMuted("n/a")
		}
		t.Row(r.Rule, verdict, r.Message)
	}
	return t.String()
}

// RenderHistoryTable lists migration records.
func RenderHistoryTable(recs []*types.MigrationRecord, width int) string {
	t := NewTable(width, "Migration", "Source", "Target", "Status", "Issues", "Screens", "Started")
	for _, r := range recs {
		t.Row(
			r.MigrationID,
			r.SourceFieldID,
			r.TargetFieldID,
			RenderStatus(string(r.Status)),
			fmt.Sprintf("%d/%d", r.IssueMigrationProgress, r.TotalIssues),
			fmt.Sprintf("%d/%d", r.Screens.Succeeded, r.Screens.Total),
			r.MigrationDate.Local().Format(time.DateTime),
		)
	}
	return t.String()
}

// RenderProgressBar draws done/total as a fixed-width bar.
func RenderProgressBar(done, total, width int) string {
	if width <= 0 {
		width = 30
	}
	filled := 0
	if total > 0 {
		filled = min(width, done*width/total)
	}
	bar := RenderPass(repeat('█', filled)) + RenderMuted(repeat('░', width-filled))
	pct := 100
	if total > 0 {
		pct = done * 100 / total
	}
	return bar + " " + strconv.Itoa(pct) + "%"
}

func repeat(r rune, n int) string {
	if n <= 0 {
		return ""
	}
	out := make([]rune, n)
	for i := range out {
		out[i] = r
	}
	return string(out)
}
