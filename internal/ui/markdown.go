package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/untoldecay/fieldmerge/internal/types"
)

// RenderMarkdown renders markdown for the terminal. Without color the
// source is returned unchanged.
func RenderMarkdown(md string, width int) string {
	if !ShouldUseColor() {
		return md
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

// AnalysisMarkdown formats an analysis report.
func AnalysisMarkdown(report *types.AnalysisReport) string {
	var b strings.Builder
	b.WriteString("# Field analysis\n\n")

	verdict := "compatible"
	if !report.Validation.Valid {
		verdict = "**incompatible**"
	}
	fmt.Fprintf(&b, "%s → %s is %s.\n\n", report.SourceField.Name, report.TargetField.Name, verdict)

	writeFieldSection(&b, "Source", report.SourceField)
	writeFieldSection(&b, "Target", report.TargetField)

	b.WriteString("## Conversion rules\n\n")
	b.WriteString("| Rule | Valid | Critical | Message |\n|---|---|---|---|\n")
	for _, r := range report.Validation.Rules {
		fmt.Fprintf(&b, "| %s | %t | %t | %s |\n", r.Rule, r.Valid, r.Critical, escapeCell(r.Message))
	}
	return b.String()
}

func writeFieldSection(b *strings.Builder, title string, f types.FieldAnalysis) {
	fmt.Fprintf(b, "## %s: %s (`%s`)\n\n", title, f.Name, f.ID)
	fmt.Fprintf(b, "- Type: `%s` / `%s`\n", f.Type, f.CustomType)
	fmt.Fprintf(b, "- Issues with a value: %d\n", f.ValueCount)
	fmt.Fprintf(b, "- Screens: %d\n", f.ScreenCount)
	fmt.Fprintf(b, "- Contexts: %d\n\n", f.ContextCount)

	if len(f.Projects) == 0 {
		return
	}
	b.WriteString("| Project | Key | Issues |\n|---|---|---|\n")
	for _, p := range f.Projects {
		fmt.Fprintf(b, "| %s | %s | %d |\n", escapeCell(p.Name), p.Key, p.Count)
	}
	if f.HasMoreProjects {
		b.WriteString("\n_Project breakdown is based on a sample of the first issues._\n")
	}
	b.WriteString("\n")
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
