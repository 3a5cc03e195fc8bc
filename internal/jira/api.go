package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/untoldecay/fieldmerge/internal/types"
)

type fieldSchema struct {
	Type   string `json:"type"`
	Custom string `json:"custom"`
}

type rawField struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Custom bool         `json:"custom"`
	Schema *fieldSchema `json:"schema"`
}

func (f rawField) toField() types.Field {
	out := types.Field{
		ID:         f.ID,
		Name:       f.Name,
		Custom:     f.Custom,
		Type:       types.UnknownType,
		CustomType: types.UnknownType,
	}
	if f.Schema != nil {
		if f.Schema.Type != "" {
			out.Type = f.Schema.Type
		}
		if f.Schema.Custom != "" {
			out.CustomType = f.Schema.Custom
		}
	}
	return out
}

// Fields returns every field on the site, system and custom.
func (c *Client) Fields(ctx context.Context) ([]types.Field, error) {
	raw, err := c.getJSON(ctx, "/rest/api/3/field")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch fields: %w", err)
	}
	var fields []rawField
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to parse fields response: %w", err)
	}
	out := make([]types.Field, len(fields))
	for i, f := range fields {
		out[i] = f.toField()
	}
	return out, nil
}

// FieldScreens returns the raw screens envelope for a field.
func (c *Client) FieldScreens(ctx context.Context, fieldID string) (json.RawMessage, error) {
	return c.getJSON(ctx, "/rest/api/3/field/"+url.PathEscape(fieldID)+"/screens")
}

// FieldContexts returns the raw contexts envelope for a field.
func (c *Client) FieldContexts(ctx context.Context, fieldID string) (json.RawMessage, error) {
	return c.getJSON(ctx, "/rest/api/3/field/"+url.PathEscape(fieldID)+"/contexts")
}

// ScreenTabs returns the raw tab list of a screen.
func (c *Client) ScreenTabs(ctx context.Context, screenID string) (json.RawMessage, error) {
	return c.getJSON(ctx, "/rest/api/3/screens/"+url.PathEscape(screenID)+"/tabs")
}

func tabFieldsPath(screenID, tabID string) string {
	return "/rest/api/3/screens/" + url.PathEscape(screenID) + "/tabs/" + url.PathEscape(tabID) + "/fields"
}

// TabFields returns the raw field placements of a tab.
func (c *Client) TabFields(ctx context.Context, screenID, tabID string) (json.RawMessage, error) {
	return c.getJSON(ctx, tabFieldsPath(screenID, tabID))
}

// AddTabField places a field on a tab.
func (c *Client) AddTabField(ctx context.Context, screenID, tabID, fieldID string) error {
	_, err := c.Do(ctx, http.MethodPost, tabFieldsPath(screenID, tabID), map[string]string{"fieldId": fieldID})
	return err
}

// MoveTabField moves a field on a tab to directly after another field.
// Jira answers 204; any other status is an error.
func (c *Client) MoveTabField(ctx context.Context, screenID, tabID, fieldID, afterFieldID string) error {
	path := tabFieldsPath(screenID, tabID) + "/" + url.PathEscape(fieldID) + "/move"
	resp, err := c.Do(ctx, http.MethodPost, path, map[string]string{"after": afterFieldID})
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent {
		return &APIError{Method: http.MethodPost, Path: path, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	return nil
}

// SearchRequest is a JQL search.
type SearchRequest struct {
	JQL        string   `json:"jql"`
	StartAt    int      `json:"startAt"`
	MaxResults int      `json:"maxResults"`
	Fields     []string `json:"fields"`
}

// Issue is a search hit with the requested field projection.
type Issue struct {
	ID     string                     `json:"id"`
	Key    string                     `json:"key"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// SearchResult is one page of search hits.
type SearchResult struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

// Search runs a JQL search.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if req.Fields == nil {
		req.Fields = []string{"id"}
	}
	resp, err := c.Do(ctx, http.MethodPost, "/rest/api/3/search", req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	var result SearchResult
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	return &result, nil
}

// UpdateIssueFields writes a partial field map to an issue.
func (c *Client) UpdateIssueFields(ctx context.Context, issueID string, fields map[string]any) error {
	_, err := c.Do(ctx, http.MethodPut, "/rest/api/3/issue/"+url.PathEscape(issueID),
		map[string]any{"fields": fields})
	return err
}
