package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chatOK = `{"id":"gen-1","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Abstract\nHello."}}]}`

func newTestClient(t *testing.T, h http.HandlerFunc, mutate func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := Config{
		Endpoint: srv.URL + "/chat/completions",
		APIKey:   "test-key",
		Referer:  "http://localhost:5173",
		Title:    "citeai",
		Options:  Options{Temperature: 0.7, MaxTokens: 4096, TopP: 0.95},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewClient(cfg)
}

func TestGenerate_Chat(t *testing.T) {
	var gotBody map[string]any
	var gotMethod, gotAuth, gotReferer, gotTitle string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		gotReferer = r.Header.Get("HTTP-Referer")
		gotTitle = r.Header.Get("X-Title")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatOK)
	}, nil)

	text, err := c.Generate(context.Background(), "deepseek/deepseek-chat-v3.1:free", "write")
	require.NoError(t, err)
	assert.Equal(t, "Abstract\nHello.", text)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "http://localhost:5173", gotReferer)
	assert.Equal(t, "citeai", gotTitle)

	assert.Equal(t, "deepseek/deepseek-chat-v3.1:free", gotBody["model"])
	assert.Equal(t, 0.7, gotBody["temperature"])
	assert.Equal(t, float64(4096), gotBody["max_tokens"])
	msgs, _ := gotBody["messages"].([]any)
	require.Len(t, msgs, 1)
	msg, _ := msgs[0].(map[string]any)
	assert.Equal(t, "user", msg["role"])
	assert.Equal(t, "write", msg["content"])
}

func TestGenerate_QueryAuthCandidates(t *testing.T) {
	var gotPath, gotKey, gotAuth string
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Abstract\n"},{"text":"Body."}]}}]}`)
	}, func(cfg *Config) {
		cfg.Endpoint = strings.TrimSuffix(cfg.Endpoint, "/chat/completions") + "/v1beta/models/{model}:generateContent"
		cfg.Auth = AuthQuery
		cfg.Envelope = CandidatesEnvelope{}
	})

	text, err := c.Generate(context.Background(), "gemini-2.0-flash", "write")
	require.NoError(t, err)
	assert.Equal(t, "Abstract\nBody.", text)
	assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", gotPath)
	assert.Equal(t, "test-key", gotKey)
	assert.Empty(t, gotAuth, "query mode sends no Authorization header")

	gc, _ := gotBody["generationConfig"].(map[string]any)
	assert.Equal(t, float64(4096), gc["maxOutputTokens"])
}

func TestGenerate_NoCredential(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	}, func(cfg *Config) { cfg.APIKey = "  " })

	_, err := c.Generate(context.Background(), "m", "p")
	require.ErrorIs(t, err, ErrNoCredential)
	assert.False(t, called, "no request should be sent without a key")
}

func TestGenerate_StatusErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		rateLimited bool
		credential  bool
		temporary   bool
		message     string
	}{
		{"unauthorized", 401, `{"error":{"message":"No auth credentials found","code":401}}`, false, true, false, "No auth credentials found"},
		{"rate limited", 429, `{"error":{"message":"slow down","type":"rate_limit_exceeded"}}`, true, false, true, "slow down"},
		{"server error", 503, `upstream overloaded`, false, false, true, "upstream overloaded"},
		{"bad request", 400, `{"error":{"message":"bad model","type":"invalid_request_error"}}`, false, false, false, "bad model"},
		{"quota in body", 400, `{"error":{"message":"Quota exceeded for requests","status":"RESOURCE_EXHAUSTED"}}`, true, false, true, "Quota exceeded for requests"},
		{"invalid key in body", 400, `{"error":{"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`, false, true, false, "API key not valid. Please pass a valid API key."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}, nil)

			_, err := c.Generate(context.Background(), "m", "p")
			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.Status)
			assert.Equal(t, tt.message, se.Message)
			assert.Equal(t, tt.rateLimited, se.RateLimited(), "RateLimited")
			assert.Equal(t, tt.credential, se.Credential(), "Credential")
			assert.Equal(t, tt.temporary, se.Temporary(), "Temporary")
		})
	}
}

func TestGenerate_ErrorObjectWithOKStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"message":"Provider returned error","code":429}}`)
	}, nil)

	_, err := c.Generate(context.Background(), "m", "p")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.RateLimited(), "status %d", se.Status)
}

func TestGenerate_MalformedBody(t *testing.T) {
	for name, body := range map[string]string{
		"not json":   `<html>oops</html>`,
		"no choices": `{"id":"x"}`,
		"empty":      `{"choices":[]}`,
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, body)
			}, nil)
			_, err := c.Generate(context.Background(), "m", "p")
			assert.ErrorIs(t, err, ErrMalformedEnvelope)
		})
	}
}

func TestGenerate_EmptyContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"   "}}]}`)
	}, nil)

	_, err := c.Generate(context.Background(), "m", "p")
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestGenerate_ContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Generate(ctx, "m", "p")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second, "Generate did not return promptly")
}

func TestNewClient_Timeout(t *testing.T) {
	assert.Equal(t, defaultTimeout, NewClient(Config{}).httpClient.Timeout)
	assert.Equal(t, 5*time.Minute, NewClient(Config{Timeout: 5 * time.Minute}).httpClient.Timeout)

	hc := &http.Client{Timeout: time.Second}
	assert.Same(t, hc, NewClient(Config{Timeout: time.Hour, HTTPClient: hc}).httpClient)
}

func TestGenerate_ConfigTimeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		fmt.Fprint(w, chatOK)
	}, func(cfg *Config) { cfg.Timeout = 50 * time.Millisecond })

	_, err := c.Generate(context.Background(), "m", "p")
	require.Error(t, err, "a request longer than Config.Timeout must fail")

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		fmt.Fprint(w, chatOK)
	}, func(cfg *Config) { cfg.Timeout = 2 * time.Second })

	text, err := c.Generate(context.Background(), "m", "p")
	require.NoError(t, err)
	assert.Equal(t, "Abstract\nHello.", text)
}

func TestEnvelopeFor(t *testing.T) {
	for _, name := range []string{"", "chat", "CHAT", "candidates"} {
		_, err := EnvelopeFor(name)
		assert.NoError(t, err, "EnvelopeFor(%q)", name)
	}
	_, err := EnvelopeFor("soap")
	assert.Error(t, err)
}

func TestCandidatesEnvelope_Decode(t *testing.T) {
	env := CandidatesEnvelope{}
	_, err := env.DecodeResponse([]byte(`{"candidates":[]}`))
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
	_, err = env.DecodeResponse([]byte(`{"candidates":[{"content":{"parts":[]}}]}`))
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestChatEnvelope_EncodeOmitsZeroOptions(t *testing.T) {
	b, err := ChatEnvelope{}.EncodeRequest("m", "p", Options{})
	require.NoError(t, err)

	var got map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &got))
	for _, k := range []string{"temperature", "max_tokens", "top_p"} {
		assert.NotContains(t, got, k, "body = %s", b)
	}
}

func TestGenerate_LargeBodyIsBounded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[{"message":{"content":"`)
		io.WriteString(w, strings.Repeat("a", maxResponseBodySize))
		io.WriteString(w, `"}}]}`)
	}, nil)

	_, err := c.Generate(context.Background(), "m", "p")
	assert.ErrorIs(t, err, ErrMalformedEnvelope, "truncated body")
}
