package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to the control API of a running remoto start.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:7070",
		Timeout: 10 * time.Second,
	}
}

// New creates a new control API client. A base URL without a scheme is
// treated as http.
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if !strings.Contains(config.BaseURL, "://") {
		config.BaseURL = "http://" + config.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable reports whether the control API answers its health check.
func (c *Client) IsReachable(ctx context.Context) bool {
	var ok OKResponse
	if err := c.get(ctx, "/healthz", &ok); err != nil {
		c.logger.Debug("control API unreachable", "url", c.baseURL, "error", err)
		return false
	}
	return ok.OK
}

// Status returns the session status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.get(ctx, "/status", &st)
	return st, err
}

// ServiceStatus returns one service's status.
func (c *Client) ServiceStatus(ctx context.Context, name string) (ServiceStatus, error) {
	var st ServiceStatus
	err := c.get(ctx, "/status?name="+url.QueryEscape(name), &st)
	return st, err
}

// URLs returns the running tunnels' URLs keyed by service name.
func (c *Client) URLs(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	err := c.get(ctx, "/urls", &out)
	return out, err
}

// History returns up to limit recent events, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]Event, error) {
	path := "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var events []Event
	err := c.get(ctx, path, &events)
	return events, err
}

// Stop asks the controller to stop every service.
func (c *Client) Stop(ctx context.Context) error {
	c.logger.Debug("requesting stop", "url", c.baseURL)
	return c.do(ctx, http.MethodPost, "/stop", nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, out)
}

// do performs a request and decodes a 200 response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// handleErrorResponse turns a non-200 response into an error.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return fmt.Errorf("API error (HTTP %d): %s", resp.StatusCode, errorResp.Error)
}
