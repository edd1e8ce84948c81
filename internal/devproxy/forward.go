package devproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	forwardTimeout     = 120 * time.Second
	maxForwardBodySize = 8 << 20
)

// ForwardRequest is the body accepted by the proxy generate endpoint.
type ForwardRequest struct {
	Model string          `json:"model" validate:"required"`
	Input json.RawMessage `json:"input" validate:"required"`
}

// Response is an upstream answer relayed verbatim.
type Response struct {
	ProviderID string
	Status     int
	Body       json.RawMessage
}

// ForwardError reports a failure talking to the selected provider.
type ForwardError struct {
	ProviderID string
	Err        error
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.ProviderID, e.Err)
}

func (e *ForwardError) Unwrap() error { return e.Err }

// Forwarder relays generation requests to the provider selected for a model.
type Forwarder struct {
	registry   *Registry
	httpClient *http.Client
}

// NewForwarder creates a Forwarder over registry.
func NewForwarder(registry *Registry) *Forwarder {
	return &Forwarder{
		registry:   registry,
		httpClient: &http.Client{Timeout: forwardTimeout},
	}
}

// Forward POSTs {model, input} to the selected provider's base URL with its
// key as a bearer token. ErrNoProvider is returned when the registry is
// empty; transport failures and non-JSON answers return a *ForwardError.
func (f *Forwarder) Forward(ctx context.Context, req ForwardRequest) (*Response, error) {
	prov, err := f.registry.Select(req.Model)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling forward request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, prov.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if prov.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+prov.apiKey)
	}

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ForwardError{ProviderID: prov.ID, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxForwardBodySize))
	if err != nil {
		return nil, &ForwardError{ProviderID: prov.ID, Err: fmt.Errorf("reading response: %w", err)}
	}
	if !json.Valid(data) {
		return nil, &ForwardError{ProviderID: prov.ID, Err: fmt.Errorf("non-JSON body (HTTP %d)", resp.StatusCode)}
	}

	f.registry.logger.Debug("request forwarded", "provider", prov.ID, "model", req.Model, "status", resp.StatusCode)
	return &Response{ProviderID: prov.ID, Status: resp.StatusCode, Body: data}, nil
}
