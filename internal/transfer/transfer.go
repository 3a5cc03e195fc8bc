// Package transfer copies field values from source to target across every
// issue where the source is populated.
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/untoldecay/fieldmerge/internal/conversion"
	"github.com/untoldecay/fieldmerge/internal/jira"
)

const (
	// DefaultBatchSize is the search page size.
	DefaultBatchSize = 50
	// DefaultPersistEvery is how many writes pass between progress snapshots.
	DefaultPersistEvery = 10
)

// IssueAPI searches and updates issues.
type IssueAPI interface {
	Search(ctx context.Context, req jira.SearchRequest) (*jira.SearchResult, error)
	UpdateIssueFields(ctx context.Context, issueID string, fields map[string]any) error
}

// Progress is the running count of a transfer.
type Progress struct {
	Total   int
	Written int
	Skipped int
	Failed  int
}

// ProgressFunc persists a snapshot. An error aborts the transfer.
type ProgressFunc func(Progress) error

// Result classifies one issue.
type Result int

const (
	Written Result = iota
	Skipped
	Failed
)

// Options tune batching.
type Options struct {
	BatchSize    int
	PersistEvery int
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.PersistEvery <= 0 {
		o.PersistEvery = DefaultPersistEvery
	}
	return o
}

// Engine runs value transfers.
type Engine struct {
	api    IssueAPI
	opts   Options
	logger *slog.Logger
}

// New creates an engine.
func New(api IssueAPI, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{api: api, opts: opts.withDefaults(), logger: logger}
}

// Count returns how many issues have sourceID populated.
func (e *Engine) Count(ctx context.Context, sourceID string) (int, error) {
	res, err := e.api.Search(ctx, jira.SearchRequest{
		JQL:        jira.PopulatedJQL(sourceID),
		MaxResults: 0,
		Fields:     []string{"id"},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count issues: %w", err)
	}
	return res.Total, nil
}

// Transfer converts and writes every populated source value to targetID.
// Per-issue failures are counted; search and progress errors are returned
// with the progress reached so far.
func (e *Engine) Transfer(ctx context.Context, pair conversion.Pair, sourceID, targetID string, progress ProgressFunc) (Progress, error) {
	var p Progress
	dirty := false
	persist := func() error {
		dirty = false
		if progress == nil {
			return nil
		}
		return progress(p)
	}

	total, err := e.Count(ctx, sourceID)
	if err != nil {
		return p, err
	}
	p.Total = total
	if err := persist(); err != nil {
		return p, err
	}

	jql := jira.PopulatedJQL(sourceID)
	for startAt := 0; startAt < total; startAt += e.opts.BatchSize {
		page, err := e.api.Search(ctx, jira.SearchRequest{
			JQL:        jql,
			StartAt:    startAt,
			MaxResults: min(e.opts.BatchSize, total-startAt),
			Fields:     []string{sourceID},
		})
		if err != nil {
			return p, fmt.Errorf("failed to fetch issues at offset %d: %w", startAt, err)
		}

		for _, issue := range page.Issues {
			if p.Written+p.Skipped+p.Failed >= total {
				break
			}
			dirty = true
			switch e.transferIssue(ctx, issue, pair, sourceID, targetID) {
			case Written:
				p.Written++
				if p.Written%e.opts.PersistEvery == 0 || p.Written == total {
					if err := persist(); err != nil {
						return p, err
					}
				}
			case Skipped:
				p.Skipped++
			case Failed:
				p.Failed++
			}
		}
		e.logger.Debug("batch transferred", "startAt", startAt, "issues", len(page.Issues), "written", p.Written)
	}

	if dirty {
		if err := persist(); err != nil {
			return p, err
		}
	}
	e.logger.Info("value transfer finished",
		"source", sourceID, "target", targetID,
		"total", p.Total, "written", p.Written, "skipped", p.Skipped, "failed", p.Failed)
	return p, nil
}

func (e *Engine) transferIssue(ctx context.Context, issue jira.Issue, pair conversion.Pair, sourceID, targetID string) Result {
	value, err := decodeValue(issue.Fields[sourceID])
	if err != nil {
		e.logger.Warn("failed to decode field value", "issue", issue.Key, "error", err)
		return Failed
	}
	converted := conversion.Convert(value, pair)
	if converted == nil {
		return Skipped
	}
	if err := e.api.UpdateIssueFields(ctx, issue.ID, map[string]any{targetID: converted}); err != nil {
		e.logger.Warn("failed to write target field", "issue", issue.Key, "error", err)
		return Failed
	}
	return Written
}

func decodeValue(raw json.RawMessage) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
