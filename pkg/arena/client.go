// Package arena is a Go client for the agent-arena REST API.
package arena

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/Masterora/agent-arena/internal/arena"
	"github.com/Masterora/agent-arena/internal/domain"
	"github.com/Masterora/agent-arena/internal/httpapi"
)

// Wire types shared with the server.
type (
	Strategy       = domain.StrategySpec
	StrategyParams = domain.StrategyParams
	StrategyInput  = arena.StrategyInput
	TypeInfo       = arena.TypeInfo
	RunRequest     = arena.RunRequest
	Match          = domain.Match
	MatchResult    = domain.MatchResult
	Health         = httpapi.HealthResponse
)

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("arena api: %d %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client provides a Go SDK for interacting with the arena-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new arena API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e httpapi.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// Health returns the server status.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// StrategyTypes lists the registered strategy types with their defaults.
func (c *Client) StrategyTypes(ctx context.Context) ([]TypeInfo, error) {
	var out []TypeInfo
	err := c.do(ctx, http.MethodGet, "/api/strategies/types", nil, &out)
	return out, err
}

// ListStrategies returns every stored strategy.
func (c *Client) ListStrategies(ctx context.Context) ([]Strategy, error) {
	var out []Strategy
	err := c.do(ctx, http.MethodGet, "/api/strategies", nil, &out)
	return out, err
}

// GetStrategy returns one strategy.
func (c *Client) GetStrategy(ctx context.Context, id string) (*Strategy, error) {
	var out Strategy
	if err := c.do(ctx, http.MethodGet, "/api/strategies/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateStrategy registers a new strategy.
func (c *Client) CreateStrategy(ctx context.Context, in StrategyInput) (*Strategy, error) {
	var out Strategy
	if err := c.do(ctx, http.MethodPost, "/api/strategies", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteStrategy removes a strategy.
func (c *Client) DeleteStrategy(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/strategies/"+url.PathEscape(id), nil, nil)
}

// RunMatch schedules a match and returns it in the pending state.
func (c *Client) RunMatch(ctx context.Context, req RunRequest) (*Match, error) {
	var out Match
	if err := c.do(ctx, http.MethodPost, "/api/matches/run", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMatch returns a match; includeLogs adds the per-step log.
func (c *Client) GetMatch(ctx context.Context, id string, includeLogs bool) (*Match, error) {
	path := "/api/matches/" + url.PathEscape(id)
	if includeLogs {
		path += "?include_logs=true"
	}
	var out Match
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMatches returns up to limit recent matches; 0 uses the server
// default.
func (c *Client) ListMatches(ctx context.Context, limit int) ([]Match, error) {
	path := "/api/matches"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []Match
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// WaitMatch polls a match every interval until it completes or fails.
func (c *Client) WaitMatch(ctx context.Context, id string, interval time.Duration) (*Match, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		m, err := c.GetMatch(ctx, id, false)
		if err != nil {
			return nil, err
		}
		if m.Status.Terminal() {
			return m, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
