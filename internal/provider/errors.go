package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrMalformedEnvelope means the response body did not have the
	// configured envelope's shape.
	ErrMalformedEnvelope = errors.New("malformed response envelope")

	// ErrEmptyContent means the envelope was valid but carried no text.
	ErrEmptyContent = errors.New("response contained no text")

	// ErrNoCredential is returned before any network call when no API key is
	// configured.
	ErrNoCredential = errors.New("no API key configured")
)

// StatusError is a non-success answer from the provider.
type StatusError struct {
	Status  int
	Type    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.Status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Message)
}

func (e *StatusError) mentions(words ...string) bool {
	text := strings.ToLower(e.Type + " " + e.Message)
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// RateLimited reports an HTTP 429 or an error body that talks about rate limits.
func (e *StatusError) RateLimited() bool {
	return e.Status == http.StatusTooManyRequests || e.mentions("rate limit", "rate_limit", "ratelimit", "quota")
}

// Credential reports a rejected or missing API key.
func (e *StatusError) Credential() bool {
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return true
	}
	return e.mentions("invalid api key", "api key not valid", "invalid_api_key", "api_key_invalid", "no auth credentials")
}

// Temporary reports whether repeating the same request may succeed.
func (e *StatusError) Temporary() bool {
	if e.Credential() {
		return false
	}
	return e.RateLimited() || e.Status == http.StatusRequestTimeout || e.Status >= 500
}

type errorBody struct {
	Error *struct {
		Message string          `json:"message"`
		Type    string          `json:"type"`
		Status  string          `json:"status"`
		Code    json.RawMessage `json:"code"`
	} `json:"error"`
}

// parseError builds a StatusError from a provider error body. Both supported
// providers wrap errors in an "error" object; other bodies are kept verbatim.
// The boolean reports whether body held an error object.
func parseError(status int, body []byte) (*StatusError, bool) {
	se := &StatusError{Status: status}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || eb.Error == nil {
		se.Message = strings.TrimSpace(truncate(string(body), 300))
		return se, false
	}

	se.Message = eb.Error.Message
	se.Type = eb.Error.Type
	if se.Type == "" {
		se.Type = eb.Error.Status
	}
	var code int
	if json.Unmarshal(eb.Error.Code, &code) == nil && code >= 400 && status < 400 {
		se.Status = code
	}
	return se, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
