package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/untoldecay/fieldmerge/internal/ui"
)

var checkCmd = &cobra.Command{
	Use:   "check <source> <target>",
	Short: "Evaluate the conversion rules for a field pair",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		b := openBackend(ctx, true)
		defer func() { _ = b.Close() }()

		result, err := b.CheckCompatibility(ctx, args[0], args[1])
		if err != nil {
			fatalServiceError(err)
		}
		if jsonOutput {
			outputJSON(result)
		} else {
			if result.Valid {
				fmt.Printf("%s %s → %s can be migrated\n", ui.RenderPass("✓"), args[0], args[1])
			} else {
				fmt.Printf("%s %s → %s cannot be migrated\n", ui.RenderFail("✗"), args[0], args[1])
			}
			fmt.Println(ui.RenderRulesTable(result, 0))
		}
		if !result.Valid {
			_ = b.Close()
			os.Exit(2)
		}
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <source> <target>",
	Short: "Compare two fields before migrating",
	Long: `Reports value counts, screens, contexts and a per-project breakdown for
both fields, together with the conversion rule results.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		b := openBackend(ctx, true)
		defer func() { _ = b.Close() }()

		report, err := b.Analyze(ctx, args[0], args[1])
		if err != nil {
			fatalServiceError(err)
		}
		if jsonOutput {
			outputJSON(report)
			return
		}
		fmt.Print(ui.RenderMarkdown(ui.AnalysisMarkdown(report), ui.GetWidth()))
	},
}

func init() {
	rootCmd.AddCommand(checkCmd, analyzeCmd)
}
