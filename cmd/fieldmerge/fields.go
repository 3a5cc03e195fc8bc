package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/untoldecay/fieldmerge/internal/types"
	"github.com/untoldecay/fieldmerge/internal/ui"
	"github.com/untoldecay/fieldmerge/internal/utils"
)

var fieldsMatch string

var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "Inspect custom fields",
}

var fieldsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List custom fields sorted by name",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		b := openBackend(ctx, true)
		defer func() { _ = b.Close() }()

		fields, err := b.ListCustomFields(ctx)
		if err != nil {
			fatalServiceError(err)
		}
		fields = matchFields(fields, fieldsMatch)
		if jsonOutput {
			outputJSON(fields)
			return
		}
		if len(fields) == 0 {
			fmt.Println("No custom fields found")
			return
		}
		fmt.Println(ui.RenderFieldsTable(fields, 0))
	},
}

var fieldsUsageCmd = &cobra.Command{
	Use:   "usage <fieldId>",
	Short: "Show the screens and contexts of a field",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		b := openBackend(ctx, true)
		defer func() { _ = b.Close() }()

		if err := showUsage(ctx, b, args[0]); err != nil {
			fatalServiceError(err)
		}
	},
}

// matchFields keeps fields whose name or id fuzzily contains query.
func matchFields(fields []types.Field, query string) []types.Field {
	if query == "" {
		return fields
	}
	out := make([]types.Field, 0, len(fields))
	for _, f := range fields {
		if utils.FuzzyMatch(query, f.Name) || utils.FuzzyMatch(query, f.ID) {
			out = append(out, f)
		}
	}
	return out
}

func showUsage(ctx context.Context, b backend, fieldID string) error {
	usage, err := b.GetFieldUsage(ctx, fieldID)
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(usage)
		return nil
	}
	fmt.Printf("%s is on %d screen(s) with %d context(s)\n", ui.RenderAccent(fieldID), len(usage.Screens), len(usage.Contexts))
	if len(usage.Screens)+len(usage.Contexts) > 0 {
		fmt.Println(ui.RenderUsageTable(usage, 0))
	}
	return nil
}

func init() {
	fieldsListCmd.Flags().StringVarP(&fieldsMatch, "match", "m", "", "Only fields whose name or id fuzzily matches")
	fieldsCmd.AddCommand(fieldsListCmd, fieldsUsageCmd)
	rootCmd.AddCommand(fieldsCmd)
}
