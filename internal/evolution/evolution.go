// Package evolution sends WhatsApp text messages through an Evolution API instance.
package evolution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTimeout is the HTTP client timeout.
	DefaultTimeout = 30 * time.Second
	// DefaultDelay is the typing delay, in milliseconds, the gateway applies before sending.
	DefaultDelay = 1000
	// maxErrorBody caps how much of a failed response body ends up in errors.
	maxErrorBody = 512
)

// ErrNotConfigured is returned when the base URL or instance name is missing.
var ErrNotConfigured = errors.New("evolution API URL and instance must be provided")

// StatusError is returned when the gateway answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("evolution API returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Opts holds configuration for the Evolution API client.
type Opts struct {
	BaseURL    string
	APIKey     string
	Instance   string
	Delay      int
	HTTPClient *http.Client
}

// Option defines a configuration option for the Evolution API client.
type Option func(*Opts)

// WithBaseURL sets the Evolution API base URL, e.g. http://localhost:8080.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithAPIKey sets the value sent in the apikey header.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithInstance sets the Evolution instance name.
func WithInstance(name string) Option {
	return func(o *Opts) { o.Instance = name }
}

// WithDelay sets the per-message delay in milliseconds.
func WithDelay(ms int) Option {
	return func(o *Opts) { o.Delay = ms }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client posts text messages to /message/sendText/{instance}.
type Client struct {
	endpoint string
	apiKey   string
	delay    int
	client   *http.Client
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
	Delay  int    `json:"delay"`
}

// NewClient creates an Evolution API client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Delay: DefaultDelay}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Evolution client config loaded",
		"BaseURL_set", cfg.BaseURL != "",
		"APIKey_set", cfg.APIKey != "",
		"Instance", cfg.Instance)

	if cfg.BaseURL == "" || cfg.Instance == "" {
		return nil, ErrNotConfigured
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid evolution API URL %q", cfg.BaseURL)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}

	return &Client{
		endpoint: base.String() + "/message/sendText/" + url.PathEscape(cfg.Instance),
		apiKey:   cfg.APIKey,
		delay:    cfg.Delay,
		client:   cfg.HTTPClient,
	}, nil
}

// SendMessage posts one text message. Any transport error or non-2xx status is a failure.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	payload, err := json.Marshal(sendTextRequest{Number: to, Text: body, Delay: c.delay})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	startTime := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		slog.Warn("Evolution API request failed", "to", to, "duration_ms", duration.Milliseconds(), "error", err)
		return fmt.Errorf("evolution request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	slog.Debug("Evolution API request completed",
		"to", to,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
