// Package provider talks to the configured model endpoint. One call sends one
// prompt and returns the generated text; retries are left to the caller.
package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultEndpoint = "https://openrouter.ai/api/v1/chat/completions"
	DefaultModel    = "deepseek/deepseek-chat-v3.1:free"

	// AuthBearer sends the key in the Authorization header.
	AuthBearer = "bearer"
	// AuthQuery sends the key as a URL query parameter.
	AuthQuery = "query"

	defaultTimeout      = 120 * time.Second
	maxResponseBodySize = 8 << 20
)

// Config describes one outbound endpoint.
type Config struct {
	// Endpoint is the full request URL. A "{model}" placeholder is replaced
	// with the model id.
	Endpoint string
	APIKey   string
	Auth     string
	KeyParam string
	Referer  string
	Title    string
	Envelope Envelope
	Options  Options
	// Timeout caps one request. Zero means defaultTimeout.
	Timeout time.Duration

	HTTPClient *http.Client
}

// Client sends prompts to a model endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a client; zero fields fall back to defaults.
func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Auth == "" {
		cfg.Auth = AuthBearer
	}
	if cfg.KeyParam == "" {
		cfg.KeyParam = "key"
	}
	if cfg.Envelope == nil {
		cfg.Envelope = ChatEnvelope{}
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{cfg: cfg, httpClient: hc}
}

// HasCredential reports whether an API key is configured.
func (c *Client) HasCredential() bool {
	return strings.TrimSpace(c.cfg.APIKey) != ""
}

// Envelope returns the envelope in use.
func (c *Client) Envelope() Envelope { return c.cfg.Envelope }

// Generate sends prompt for model and returns the generated text.
//
// Errors: ErrNoCredential before any network call; *StatusError for
// non-success answers; ErrMalformedEnvelope or ErrEmptyContent (wrapped) for
// unusable bodies; transport errors wrapped, including the context error
// when ctx ends.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	if !c.HasCredential() {
		return "", ErrNoCredential
	}

	body, err := c.cfg.Envelope.EncodeRequest(model, prompt, c.cfg.Options)
	if err != nil {
		return "", err
	}

	endpoint, err := c.endpoint(model)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se, _ := parseError(resp.StatusCode, respBody)
		return "", se
	}

	// Some gateways answer 200 with an error object instead of a completion.
	if se, ok := parseError(resp.StatusCode, respBody); ok {
		if se.Status < 400 {
			se.Status = http.StatusBadGateway
		}
		return "", se
	}

	return c.cfg.Envelope.DecodeResponse(respBody)
}

func (c *Client) endpoint(model string) (string, error) {
	raw := strings.ReplaceAll(c.cfg.Endpoint, "{model}", url.PathEscape(model))
	if c.cfg.Auth != AuthQuery {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint: %w", err)
	}
	q := u.Query()
	q.Set(c.cfg.KeyParam, c.cfg.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Auth != AuthQuery {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}
}
