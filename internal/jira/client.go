// Package jira is a minimal REST client for the Jira Cloud endpoints used by
// field consolidation.
package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a single HTTP exchange.
	DefaultTimeout = 30 * time.Second
	// MaxRetries is the number of retries after a 429 response.
	MaxRetries = 3
	// RetryDelay is the base delay for exponential backoff.
	RetryDelay = time.Second
)

// APIError is returned for any non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("jira %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, body)
}

// StatusCode extracts the HTTP status from an *APIError, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Response is a raw API response.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client talks to a Jira site. Credentials are either username + API token
// (basic auth) or a bearer token when Username is empty.
type Client struct {
	BaseURL    string
	Username   string
	APIToken   string
	HTTPClient *http.Client
	retryDelay time.Duration
}

// NewClient creates a client for the site at baseURL.
func NewClient(baseURL, username, apiToken string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Username: username,
		APIToken: apiToken,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		retryDelay: RetryDelay,
	}
}

// WithHTTPClient returns a copy of the client using httpClient.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	cp := *c
	cp.HTTPClient = httpClient
	return &cp
}

// WithRetryDelay returns a copy of the client with a different backoff base.
// Tests use it to avoid sleeping.
func (c *Client) WithRetryDelay(d time.Duration) *Client {
	cp := *c
	cp.retryDelay = d
	return &cp
}

func (c *Client) authHeader() string {
	if c.Username == "" {
		return "Bearer " + c.APIToken
	}
	creds := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.APIToken))
	return "Basic " + creds
}

// Do sends a request and returns the response. Non-2xx statuses are returned
// as *APIError; 429 responses are retried with exponential backoff.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Accept", "application/json")
		if payload != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		if c.APIToken != "" {
			httpReq.Header.Set("Authorization", c.authHeader())
		}

		resp, err := c.HTTPClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("request failed (attempt %d/%d): %w", attempt+1, MaxRetries+1, err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response (attempt %d/%d): %w", attempt+1, MaxRetries+1, err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			delay := c.retryDelay * time.Duration(1<<attempt)
			lastErr = &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(respBody)}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
				continue
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &Response{StatusCode: resp.StatusCode, Body: respBody},
				&APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(respBody)}
		}

		return &Response{StatusCode: resp.StatusCode, Body: respBody}, nil
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", MaxRetries+1, lastErr)
}

// getJSON issues a GET and returns the raw body.
func (c *Client) getJSON(ctx context.Context, path string) (json.RawMessage, error) {
	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(resp.Body), nil
}
