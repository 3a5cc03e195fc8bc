package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/untoldecay/fieldmerge/internal/config"
	"github.com/untoldecay/fieldmerge/internal/types"
)

var planDryRun bool

// Plan is a TOML file listing field pairs to consolidate in order:
//
//	[[pair]]
//	name   = "priority cleanup"
//	source = "customfield_10010"
//	target = "customfield_10020"
type Plan struct {
	Pairs []PlanPair `toml:"pair"`
}

// PlanPair is one entry of a plan.
type PlanPair struct {
	Name   string `toml:"name"`
	Source string `toml:"source"`
	Target string `toml:"target"`
}

func (p PlanPair) label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Source + " → " + p.Target
}

// Plan outcomes
const (
	planCompleted    = "completed"
	planFailed       = "failed"
	planIncompatible = "incompatible"
	planCompatible   = "compatible"
	planError        = "error"
)

// PlanResult is reported per pair.
type PlanResult struct {
	Pair        PlanPair `json:"pair"`
	Outcome     string   `json:"outcome"`
	MigrationID string   `json:"migrationId,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// loadPlan decodes and validates a plan file.
func loadPlan(path string) (*Plan, error) {
	var plan Plan
	meta, err := toml.DecodeFile(path, &plan)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("plan %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if len(plan.Pairs) == 0 {
		return nil, fmt.Errorf("plan %s lists no [[pair]] entries", path)
	}
	for i, p := range plan.Pairs {
		if p.Source == "" || p.Target == "" {
			return nil, fmt.Errorf("plan %s: pair %d needs source and target", path, i+1)
		}
	}
	return &plan, nil
}

// runPlan migrates each pair in order. Incompatible pairs are skipped and a
// failed pair does not stop the plan.
func runPlan(ctx context.Context, b backend, plan *Plan, dryRun bool, interval time.Duration, changes <-chan struct{}, out io.Writer) []PlanResult {
	results := make([]PlanResult, 0, len(plan.Pairs))
	for i, pair := range plan.Pairs {
		if ctx.Err() != nil {
			break
		}
		fmt.Fprintf(out, "[%d/%d] %s\n", i+1, len(plan.Pairs), pair.label())
		res := PlanResult{Pair: pair}

		compat, err := b.CheckCompatibility(ctx, pair.Source, pair.Target)
		switch {
		case err != nil:
			res.Outcome, res.Error = planError, err.Error()
		case !compat.Valid:
			res.Outcome = planIncompatible
			var reasons []string
			for _, r := range compat.FailedCritical() {
				reasons = append(reasons, r.Message)
			}
			res.Error = strings.Join(reasons, "; ")
		case dryRun:
			res.Outcome = planCompatible
		default:
			res = migratePlanPair(ctx, b, pair, interval, changes)
		}

		fmt.Fprintf(out, "      %s", res.Outcome)
		if res.Error != "" {
			fmt.Fprintf(out, ": %s", res.Error)
		}
		fmt.Fprintln(out)
		results = append(results, res)
	}
	return results
}

func migratePlanPair(ctx context.Context, b backend, pair PlanPair, interval time.Duration, changes <-chan struct{}) PlanResult {
	res := PlanResult{Pair: pair}
	id, err := b.StartMigration(ctx, pair.Source, pair.Target)
	if err != nil {
		res.Outcome, res.Error = planError, err.Error()
		return res
	}
	res.MigrationID = id

	rec, err := followMigration(ctx, b, id, interval, changes, func(*types.MigrationRecord) {})
	if err != nil {
		res.Outcome, res.Error = planError, err.Error()
		return res
	}
	if rec.Status == types.StatusCompleted {
		res.Outcome = planCompleted
		return res
	}
	res.Outcome, res.Error = planFailed, rec.Error
	return res
}

var planCmd = &cobra.Command{
	Use:   "plan <plan.toml>",
	Short: "Run several migrations from a TOML plan",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		plan, err := loadPlan(args[0])
		if err != nil {
			FatalError("%v", err)
		}

		ctx := cmd.Context()
		b := openBackend(ctx, true)
		defer func() { _ = b.Close() }()

		var out io.Writer = os.Stdout
		if jsonOutput {
			out = io.Discard
		}
		results := runPlan(ctx, b, plan, planDryRun, time.Second, dbChanges(ctx, config.DBPath()), out)
		if jsonOutput {
			outputJSON(results)
		}

		failed := 0
		for _, r := range results {
			if r.Outcome == planFailed || r.Outcome == planError {
				failed++
			}
		}
		if failed > 0 || errors.Is(ctx.Err(), context.Canceled) {
			_ = b.Close()
			os.Exit(1)
		}
	},
}

func init() {
	planCmd.Flags().BoolVar(&planDryRun, "dry-run", false, "Only check compatibility of each pair")
	rootCmd.AddCommand(planCmd)
}
