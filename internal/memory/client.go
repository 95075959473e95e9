// Package memory queries an eqhomemory server for past session notes that
// relate to a story.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultLimit is the number of hits requested when none is given.
const DefaultLimit = 5

// Result is one search hit.
type Result struct {
	SessionID string  `json:"session_id"`
	Content   string  `json:"content"`
	Date      string  `json:"date"`
	Score     float64 `json:"score"`
}

// Client talks to the eqhomemory HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a client for serverURL.
func NewClient(serverURL string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("eqhomemory: server_url is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// Search returns up to limit hits for query.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	u := c.baseURL + "/search?q=" + url.QueryEscape(query) + "&limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("eqhomemory search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("eqhomemory search: status %d", resp.StatusCode)
	}

	var out struct {
		Results []Result `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("eqhomemory search: decode: %w", err)
	}
	c.logger.Debug("memory search", zap.String("query", query), zap.Int("hits", len(out.Results)))
	return out.Results, nil
}

// Healthy reports whether the server answers its health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
