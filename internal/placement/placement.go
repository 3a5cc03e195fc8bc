// Package placement copies a source field's screen tab placements to a
// target field.
package placement

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/untoldecay/fieldmerge/internal/types"
)

// Metadata lists screens, tabs and tab placements.
type Metadata interface {
	Screens(ctx context.Context, fieldID string) []types.Screen
	Tabs(ctx context.Context, screenID string) ([]types.Tab, error)
	TabFields(ctx context.Context, screenID, tabID string) ([]types.TabField, error)
}

// ScreenAPI mutates tab placements.
type ScreenAPI interface {
	AddTabField(ctx context.Context, screenID, tabID, fieldID string) error
	MoveTabField(ctx context.Context, screenID, tabID, fieldID, afterFieldID string) error
}

// Kind classifies the outcome of one tab or screen.
type Kind int

const (
	// Added means the target was placed on the tab.
	Added Kind = iota
	// AddFailed means the add call failed.
	AddFailed
	// AlreadyPresent means the tab already had the target.
	AlreadyPresent
	// FetchFailed means the tab's placements could not be read.
	FetchFailed
	// ScreenFailed means the screen could not be processed at all.
	ScreenFailed
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case AddFailed:
		return "add-failed"
	case AlreadyPresent:
		return "already-present"
	case FetchFailed:
		return "fetch-failed"
	case ScreenFailed:
		return "screen-failed"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Outcome is the result of processing one tab (or a whole screen for
// ScreenFailed).
type Outcome struct {
	Kind     Kind
	ScreenID string
	TabID    string
	Log      string
	// Warning is set when a successful add could not be repositioned.
	Warning string
}

// Tally folds outcomes into screen progress.
func Tally(total int, outcomes []Outcome) types.ScreenProgress {
	p := types.ScreenProgress{Total: total, Logs: []string{}}
	for _, o := range outcomes {
		switch o.Kind {
		case Added:
			p.Processed++
			p.Succeeded++
		case AddFailed, ScreenFailed:
			p.Processed++
			p.Failed++
		}
		p.Logs = append(p.Logs, o.Log)
		if o.Warning != "" {
			p.Logs = append(p.Logs, o.Warning)
		}
	}
	return p
}

// ProgressFunc receives the running tally after every screen. An error stops
// the migration.
type ProgressFunc func(types.ScreenProgress) error

// Migrator places a target field wherever a source field appears.
type Migrator struct {
	meta   Metadata
	api    ScreenAPI
	logger *slog.Logger
}

// New creates a migrator.
func New(meta Metadata, api ScreenAPI, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Migrator{meta: meta, api: api, logger: logger}
}

// Migrate walks every screen referencing sourceID, in resolution order, and
// adds targetID to each tab that lacks it. Per-tab and per-screen failures
// are recorded in the returned progress; only a progress callback error is
// returned.
func (m *Migrator) Migrate(ctx context.Context, sourceID, targetID string, progress ProgressFunc) (types.ScreenProgress, error) {
	screens := m.meta.Screens(ctx, sourceID)
	var outcomes []Outcome

	tally := Tally(len(screens), nil)
	if progress != nil {
		if err := progress(tally); err != nil {
			return tally, err
		}
	}

	for _, screen := range screens {
		outcomes = append(outcomes, m.migrateScreen(ctx, screen, sourceID, targetID)...)
		tally = Tally(len(screens), outcomes)
		if progress != nil {
			if err := progress(tally); err != nil {
				return tally, err
			}
		}
	}

	m.logger.Info("screen placement finished",
		"source", sourceID, "target", targetID,
		"total", tally.Total, "succeeded", tally.Succeeded, "failed", tally.Failed)
	return tally, nil
}

func (m *Migrator) migrateScreen(ctx context.Context, screen types.Screen, sourceID, targetID string) (outcomes []Outcome) {
	screenID := screen.ID.String()
	label := screenLabel(screen)

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic while processing screen", "screen", screenID, "panic", r)
			outcomes = append(outcomes, Outcome{
				Kind:     ScreenFailed,
				ScreenID: screenID,
				Log:      fmt.Sprintf("Failed to process screen %s: %v", label, r),
			})
		}
	}()

	tabs, err := m.meta.Tabs(ctx, screenID)
	if err != nil {
		m.logger.Warn("failed to list screen tabs", "screen", screenID, "error", err)
		return []Outcome{{
			Kind:     ScreenFailed,
			ScreenID: screenID,
			Log:      fmt.Sprintf("Failed to process screen %s: %v", label, err),
		}}
	}

	for _, tab := range tabs {
		outcomes = append(outcomes, m.migrateTab(ctx, screenID, label, tab, sourceID, targetID))
	}
	return outcomes
}

func (m *Migrator) migrateTab(ctx context.Context, screenID, label string, tab types.Tab, sourceID, targetID string) Outcome {
	tabID := tab.ID.String()
	where := fmt.Sprintf("screen %s, tab %s", label, tabLabel(tab))
	out := Outcome{ScreenID: screenID, TabID: tabID}

	placed, err := m.meta.TabFields(ctx, screenID, tabID)
	if err != nil {
		m.logger.Warn("failed to fetch tab fields", "screen", screenID, "tab", tabID, "error", err)
		out.Kind = FetchFailed
		out.Log = fmt.Sprintf("Failed to read fields on %s: %v", where, err)
		return out
	}

	hasField := func(id string) bool {
		return slices.ContainsFunc(placed, func(f types.TabField) bool { return f.ID == id })
	}

	if hasField(targetID) {
		out.Kind = AlreadyPresent
		out.Log = fmt.Sprintf("Skipped %s: target field already present", where)
		return out
	}

	if err := m.api.AddTabField(ctx, screenID, tabID, targetID); err != nil {
		m.logger.Warn("failed to add target field", "screen", screenID, "tab", tabID, "error", err)
		out.Kind = AddFailed
		out.Log = fmt.Sprintf("Failed to add target field to %s: %v", where, err)
		return out
	}
	out.Kind = Added
	out.Log = fmt.Sprintf("Added target field to %s", where)

	if hasField(sourceID) {
		if err := m.api.MoveTabField(ctx, screenID, tabID, targetID, sourceID); err != nil {
			m.logger.Debug("failed to reposition target field", "screen", screenID, "tab", tabID, "error", err)
			out.Warning = fmt.Sprintf("Warning: could not position target field after source on %s: %v", where, err)
		}
	}
	return out
}

func screenLabel(s types.Screen) string {
	if s.Name == "" {
		return s.ID.String()
	}
	return fmt.Sprintf("%q (%s)", s.Name, s.ID)
}

func tabLabel(t types.Tab) string {
	if t.Name == "" {
		return t.ID.String()
	}
	return fmt.Sprintf("%q (%s)", t.Name, t.ID)
}
