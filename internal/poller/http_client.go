package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ai-diet-planner/internal/planner"
)

// HTTPClient talks to the plan endpoints of the HTTP API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client. token may be empty when the server runs
// without auth.
func NewHTTPClient(baseURL, token string, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

func (c *HTTPClient) userURL(userID, suffix string) string {
	return c.baseURL + "/api/users/" + url.PathEscape(userID) + suffix
}

// CheckPrerequisites calls GET /plan/prerequisites.
func (c *HTTPClient) CheckPrerequisites(ctx context.Context, userID string) (planner.Prerequisites, error) {
	var out planner.Prerequisites
	_, err := c.do(ctx, http.MethodGet, c.userURL(userID, "/plan/prerequisites"), nil, &out, http.StatusOK)
	return out, err
}

// Start calls POST /plan/generate. A 422 answer is reported as an
// unsuccessful result, not an error.
func (c *HTTPClient) Start(ctx context.Context, req planner.Request) (planner.StartResult, error) {
	var out planner.StartResult
	_, err := c.do(ctx, http.MethodPost, c.userURL(req.UserID, "/plan/generate"), req, &out,
		http.StatusOK, http.StatusAccepted, http.StatusUnprocessableEntity)
	return out, err
}

// Status calls GET /plan/status. A 404 means no run was ever started.
func (c *HTTPClient) Status(ctx context.Context, userID string) (planner.StatusResult, error) {
	var out planner.StatusResult
	_, err := c.do(ctx, http.MethodGet, c.userURL(userID, "/plan/status"), nil, &out,
		http.StatusOK, http.StatusNotFound)
	return out, err
}

// Plan calls GET /plan.
func (c *HTTPClient) Plan(ctx context.Context, userID string) (planner.Plan, error) {
	var out planner.Plan
	_, err := c.do(ctx, http.MethodGet, c.userURL(userID, "/plan"), nil, &out, http.StatusOK)
	return out, err
}

func (c *HTTPClient) do(ctx context.Context, method, target string, body, out any, accept ...int) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request %s %s failed: %w", method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	accepted := false
	for _, code := range accept {
		if resp.StatusCode == code {
			accepted = true
			break
		}
	}
	if !accepted {
		return resp.StatusCode, fmt.Errorf("unexpected status %d from %s: %s", resp.StatusCode, target, strings.TrimSpace(string(data)))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}
