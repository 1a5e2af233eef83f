// Package composio is a minimal client for a Composio-style tool platform:
// tool discovery per toolkit, OAuth-style connected-account handshakes, and
// remote tool execution.
package composio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	BaseURL      string        `envconfig:"BASE_URL" split_words:"true" default:"https://backend.composio.dev"`
	APIKey       string        `envconfig:"API_KEY" split_words:"true"`
	Timeout      time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" split_words:"true" default:"3s"`
}

const maxResponseSizeBytes = 4 << 20

// Tool is one remotely callable tool description.
type Tool struct {
	Slug            string         `json:"slug"`
	Description     string         `json:"description"`
	Toolkit         string         `json:"toolkit"`
	NoAuth          bool           `json:"no_auth"`
	InputParameters map[string]any `json:"input_parameters"`
}

// Connection is one connected-account handshake.
type Connection struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RedirectURL string `json:"redirect_url"`
}

const (
	ConnectionStatusActive = "ACTIVE"
	ConnectionStatusFailed = "FAILED"
)

type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("composio base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid composio base url: %w", err)
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("composio api key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}

	return &Client{
		baseURL:      baseURL,
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: timeout},
		pollInterval: pollInterval,
	}, nil
}

// ListTools returns the tools of one toolkit.
func (c *Client) ListTools(ctx context.Context, toolkit string) ([]Tool, error) {
	toolkit = strings.TrimSpace(toolkit)
	if toolkit == "" {
		return nil, errors.New("toolkit name is required")
	}

	var out struct {
		Items []Tool `json:"items"`
	}
	path := "/api/v3/tools?toolkit_slug=" + url.QueryEscape(toolkit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list tools for toolkit %s: %w", toolkit, err)
	}
	return out.Items, nil
}

// InitiateConnection starts (or resumes) the auth handshake binding a user
// to a toolkit.
func (c *Client) InitiateConnection(ctx context.Context, toolkit, userID string) (Connection, error) {
	body := map[string]string{
		"toolkit": strings.TrimSpace(toolkit),
		"user_id": strings.TrimSpace(userID),
	}

	var conn Connection
	if err := c.do(ctx, http.MethodPost, "/api/v3/connected_accounts", body, &conn); err != nil {
		return Connection{}, fmt.Errorf("initiate connection for toolkit %s: %w", toolkit, err)
	}
	return conn, nil
}

// GetConnection fetches the current handshake state.
func (c *Client) GetConnection(ctx context.Context, id string) (Connection, error) {
	var conn Connection
	if err := c.do(ctx, http.MethodGet, "/api/v3/connected_accounts/"+url.PathEscape(id), nil, &conn); err != nil {
		return Connection{}, fmt.Errorf("get connection %s: %w", id, err)
	}
	return conn, nil
}

// WaitForConnection polls until the handshake is active, fails, or ctx is
// done.
func (c *Client) WaitForConnection(ctx context.Context, id string) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		conn, err := c.GetConnection(ctx, id)
		if err != nil {
			return err
		}
		switch conn.Status {
		case ConnectionStatusActive:
			return nil
		case ConnectionStatusFailed:
			return fmt.Errorf("connection %s failed", id)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ExecuteTool runs one tool call for a user and returns the raw result
// payload.
func (c *Client) ExecuteTool(ctx context.Context, slug, userID string, arguments map[string]any) (json.RawMessage, error) {
	body := map[string]any{
		"user_id":   strings.TrimSpace(userID),
		"arguments": arguments,
	}

	var out struct {
		Successful bool            `json:"successful"`
		Error      string          `json:"error"`
		Data       json.RawMessage `json:"data"`
	}
	path := "/api/v3/tools/execute/" + url.PathEscape(slug)
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, fmt.Errorf("execute tool %s: %w", slug, err)
	}
	if !out.Successful {
		if out.Error == "" {
			out.Error = "tool execution unsuccessful"
		}
		return nil, errors.New(out.Error)
	}
	return out.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("http status=%d body=%s", resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
