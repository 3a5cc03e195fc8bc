// Package resolver fetches field metadata and normalizes the tracker's list
// envelopes into flat item slices.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/untoldecay/fieldmerge/internal/types"
	"github.com/untoldecay/fieldmerge/internal/utils"
)

// ErrFieldNotFound is returned when a field id is not in the directory.
var ErrFieldNotFound = errors.New("field not found")

// MetadataAPI is the subset of the tracker client the resolver needs.
type MetadataAPI interface {
	Fields(ctx context.Context) ([]types.Field, error)
	FieldScreens(ctx context.Context, fieldID string) (json.RawMessage, error)
	FieldContexts(ctx context.Context, fieldID string) (json.RawMessage, error)
	ScreenTabs(ctx context.Context, screenID string) (json.RawMessage, error)
	TabFields(ctx context.Context, screenID, tabID string) (json.RawMessage, error)
}

// Resolver reads field, screen and context metadata. Nothing is cached.
type Resolver struct {
	api    MetadataAPI
	logger *slog.Logger
}

// New creates a resolver. A nil logger discards output.
func New(api MetadataAPI, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{api: api, logger: logger}
}

// CustomFields returns the custom fields sorted by case-insensitive name.
func (r *Resolver) CustomFields(ctx context.Context) ([]types.Field, error) {
	all, err := r.api.Fields(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.Field, 0, len(all))
	for _, f := range all {
		if f.Custom {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Field looks up a single field by id.
func (r *Resolver) Field(ctx context.Context, fieldID string) (types.Field, error) {
	all, err := r.api.Fields(ctx)
	if err != nil {
		return types.Field{}, err
	}
	for _, f := range all {
		if f.ID == fieldID {
			return f, nil
		}
	}
	return types.Field{}, notFound(all, fieldID)
}

// FieldPair looks up source and target with a single directory fetch.
func (r *Resolver) FieldPair(ctx context.Context, sourceID, targetID string) (source, target types.Field, err error) {
	all, err := r.api.Fields(ctx)
	if err != nil {
		return source, target, err
	}
	index := make(map[string]types.Field, len(all))
	for _, f := range all {
		index[f.ID] = f
	}
	source, ok := index[sourceID]
	if !ok {
		return source, target, notFound(all, sourceID)
	}
	target, ok = index[targetID]
	if !ok {
		return source, target, notFound(all, targetID)
	}
	return source, target, nil
}

// notFound names the closest known id when the miss looks like a typo.
func notFound(all []types.Field, fieldID string) error {
	ids := make([]string, len(all))
	for i, f := range all {
		ids[i] = f.ID
	}
	if best, ok := utils.Closest(fieldID, ids, 2); ok {
		return fmt.Errorf("%w: %s (did you mean %s?)", ErrFieldNotFound, fieldID, best)
	}
	return fmt.Errorf("%w: %s", ErrFieldNotFound, fieldID)
}

// Screens returns the screens referencing a field. Fetch and parse failures
// are logged and yield an empty slice.
func (r *Resolver) Screens(ctx context.Context, fieldID string) []types.Screen {
	raw, err := r.api.FieldScreens(ctx, fieldID)
	if err != nil {
		r.logger.Warn("failed to fetch field screens", "field", fieldID, "error", err)
		return []types.Screen{}
	}
	return decodeItems[types.Screen](r.logger, "screens", raw)
}

// Contexts returns the contexts of a field, degrading to empty like Screens.
func (r *Resolver) Contexts(ctx context.Context, fieldID string) []types.FieldContext {
	raw, err := r.api.FieldContexts(ctx, fieldID)
	if err != nil {
		r.logger.Warn("failed to fetch field contexts", "field", fieldID, "error", err)
		return []types.FieldContext{}
	}
	return decodeItems[types.FieldContext](r.logger, "contexts", raw)
}

// Tabs returns the tabs of a screen. Unlike Screens, transport errors are
// returned so the caller can count the screen as failed.
func (r *Resolver) Tabs(ctx context.Context, screenID string) ([]types.Tab, error) {
	raw, err := r.api.ScreenTabs(ctx, screenID)
	if err != nil {
		return nil, err
	}
	return decodeItems[types.Tab](r.logger, "tabs", raw), nil
}

// TabFields returns the field placements on a tab.
func (r *Resolver) TabFields(ctx context.Context, screenID, tabID string) ([]types.TabField, error) {
	raw, err := r.api.TabFields(ctx, screenID, tabID)
	if err != nil {
		return nil, err
	}
	return decodeItems[types.TabField](r.logger, "tab fields", raw), nil
}

// Usage reports the screens and contexts a field is configured on.
func (r *Resolver) Usage(ctx context.Context, fieldID string) types.FieldUsage {
	return types.FieldUsage{
		Screens:  r.Screens(ctx, fieldID),
		Contexts: r.Contexts(ctx, fieldID),
	}
}

func decodeItems[T any](logger *slog.Logger, what string, raw json.RawMessage) []T {
	items, err := extractArray(raw)
	if err != nil {
		logger.Debug("unexpected response envelope", "kind", what, "error", err)
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			logger.Debug("skipping malformed item", "kind", what, "error", err)
			continue
		}
		out = append(out, v)
	}
	return out
}
