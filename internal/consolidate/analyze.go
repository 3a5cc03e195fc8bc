package consolidate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/untoldecay/fieldmerge/internal/conversion"
	"github.com/untoldecay/fieldmerge/internal/jira"
	"github.com/untoldecay/fieldmerge/internal/types"
)

// ProjectSampleSize is how many issues are sampled for the project breakdown.
const ProjectSampleSize = 100

// Analyze reports usage, value counts and project spread for both fields.
// It never touches migration state.
func (s *Service) Analyze(ctx context.Context, sourceID, targetID string) (*types.AnalysisReport, error) {
	source, target, err := s.resolver.FieldPair(ctx, sourceID, targetID)
	if err != nil {
		return nil, err
	}
	sa, err := s.analyzeField(ctx, source)
	if err != nil {
		return nil, err
	}
	ta, err := s.analyzeField(ctx, target)
	if err != nil {
		return nil, err
	}
	return &types.AnalysisReport{
		SourceField: sa,
		TargetField: ta,
		Validation:  conversion.Evaluate(conversion.PairOf(source, target)),
	}, nil
}

func (s *Service) analyzeField(ctx context.Context, f types.Field) (types.FieldAnalysis, error) {
	usage := s.resolver.Usage(ctx, f.ID)
	out := types.FieldAnalysis{
		ID:           f.ID,
		Name:         f.Name,
		Type:         f.Type,
		CustomType:   f.CustomType,
		Screens:      usage.Screens,
		ScreenCount:  len(usage.Screens),
		Contexts:     usage.Contexts,
		ContextCount: len(usage.Contexts),
		Projects:     []types.ProjectCount{},
	}

	jql := jira.PopulatedJQL(f.ID)
	count, err := s.api.Search(ctx, jira.SearchRequest{JQL: jql, MaxResults: 0, Fields: []string{"project"}})
	if err != nil {
		return out, fmt.Errorf("failed to count values of %s: %w", f.ID, err)
	}
	out.ValueCount = count.Total
	out.HasMoreProjects = count.Total > ProjectSampleSize
	if count.Total == 0 {
		return out, nil
	}

	sample, err := s.api.Search(ctx, jira.SearchRequest{JQL: jql, MaxResults: ProjectSampleSize, Fields: []string{"project"}})
	if err != nil {
		return out, fmt.Errorf("failed to sample issues of %s: %w", f.ID, err)
	}
	out.Projects = projectBreakdown(sample.Issues)
	out.ProjectCount = len(out.Projects)
	return out, nil
}

// projectBreakdown counts issues per project, largest first.
func projectBreakdown(issues []jira.Issue) []types.ProjectCount {
	byID := map[types.ID]*types.ProjectCount{}
	var order []types.ID
	for _, is := range issues {
		var p struct {
			ID   types.ID `json:"id"`
			Key  string   `json:"key"`
			Name string   `json:"name"`
		}
		if err := json.Unmarshal(is.Fields["project"], &p); err != nil || p.ID == "" {
			continue
		}
		pc, ok := byID[p.ID]
		if !ok {
			pc = &types.ProjectCount{ID: p.ID, Key: p.Key, Name: p.Name}
			byID[p.ID] = pc
			order = append(order, p.ID)
		}
		pc.Count++
	}
	out := make([]types.ProjectCount, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}
