package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	types "github.com/sebas/callrouter/api/types/v1"
)

// Client is an HTTP client for the call router API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new call router API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// BaseURL returns the router base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health fetches health status from the call router
func (c *Client) Health(ctx context.Context) (*types.HealthResponse, error) {
	var health types.HealthResponse
	if err := c.getJSON(ctx, "/api/v1/health", &health); err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	return &health, nil
}

// Stats fetches session counters from the call router
func (c *Client) Stats(ctx context.Context) (*types.StatsResponse, error) {
	var stats types.StatsResponse
	if err := c.getJSON(ctx, "/api/v1/stats", &stats); err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &stats, nil
}

// Sessions fetches live and recently ended sessions
func (c *Client) Sessions(ctx context.Context) (*types.SessionsResponse, error) {
	var sessions types.SessionsResponse
	if err := c.getJSON(ctx, "/api/v1/sessions", &sessions); err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}
	return &sessions, nil
}

// Queue fetches the hold queue
func (c *Client) Queue(ctx context.Context) (*types.QueueResponse, error) {
	var queue types.QueueResponse
	if err := c.getJSON(ctx, "/api/v1/queue", &queue); err != nil {
		return nil, fmt.Errorf("queue: %w", err)
	}
	return &queue, nil
}

// getJSON performs an HTTP GET request and decodes the JSON response
func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
