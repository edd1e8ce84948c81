package devproxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citeai/citeai/internal/storage"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewRegistry(s)
}

func ids(list []Provider) []string {
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.ID
	}
	return out
}

func TestSeed_Builtin(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Seed(""))

	list, err := r.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"openai/gpt-oss-120b", "openai/gpt-oss-20b", "deepseek/deepseek-r1-0528", "microsoft/mai-ds-r1"}, ids(list))

	// Seeding a populated registry is a no-op.
	require.NoError(t, r.Seed(""))
	list, err = r.List()
	require.NoError(t, err)
	assert.Len(t, list, 4)
}

func TestSeed_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  - id: local/llm
    label: Local
    base_url: http://127.0.0.1:9999/generate
    api_key: secret
`), 0o600))

	r := newRegistry(t)
	require.NoError(t, r.Seed(path))

	list, err := r.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "local/llm", list[0].ID)
	assert.True(t, list[0].HasKey)

	b, err := json.Marshal(list[0])
	require.NoError(t, err)
	assert.NotContains(t, string(b), "secret")
}

func TestSeed_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers: [oops"), 0o600))

	assert.Error(t, newRegistry(t).Seed(path))
}

func TestAdd_Validation(t *testing.T) {
	r := newRegistry(t)

	assert.Error(t, r.Add(NewProvider{BaseURL: "https://x"}))
	assert.Error(t, r.Add(NewProvider{ID: "a"}))
	assert.Error(t, r.Add(NewProvider{ID: "a", BaseURL: "ftp://x"}))
	require.NoError(t, r.Add(NewProvider{ID: "a", BaseURL: "https://x"}))
	assert.ErrorIs(t, r.Add(NewProvider{ID: "a", BaseURL: "https://y"}), storage.ErrExists)
}

func TestSelectProvider(t *testing.T) {
	list := []Provider{
		{ID: "openai/gpt-oss-120b"},
		{ID: "deepseek/deepseek-r1-0528"},
		{ID: "microsoft/mai-ds-r1"},
	}

	tests := []struct {
		model string
		want  string
	}{
		{"deepseek/deepseek-chat-v3.1:free", "deepseek/deepseek-r1-0528"},
		{"microsoft/mai-ds-r1:free", "microsoft/mai-ds-r1"},
		{"openai/gpt-oss-20b:free", "openai/gpt-oss-120b"},
		{"anthropic/claude", "openai/gpt-oss-120b"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			p, err := selectProvider(list, tt.model)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.ID)
		})
	}

	_, err := selectProvider(nil, "x")
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestSelectProvider_ExactID(t *testing.T) {
	list := []Provider{{ID: "alpha/one"}, {ID: "local"}}
	p, err := selectProvider(list, "local")
	require.NoError(t, err)
	assert.Equal(t, "local", p.ID)
}

func TestProber_Status(t *testing.T) {
	var hits atomic.Int32
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, http.MethodHead, r.Method)
	}))
	defer up.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	r := newRegistry(t)
	require.NoError(t, r.Add(NewProvider{ID: "up", Label: "Up", BaseURL: up.URL}))
	require.NoError(t, r.Add(NewProvider{ID: "down", BaseURL: down.URL}))
	require.NoError(t, r.Add(NewProvider{ID: "gone", BaseURL: "http://127.0.0.1:1"}))

	p := NewProber(r)
	st, err := p.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, st, 3)

	assert.Equal(t, "up", st[0].ID)
	assert.True(t, st[0].Available)
	assert.NotNil(t, st[0].LatencyMS)

	assert.False(t, st[1].Available)
	assert.NotNil(t, st[1].LatencyMS)

	assert.False(t, st[2].Available)
	assert.Nil(t, st[2].LatencyMS)

	// Second call within the TTL is served from cache.
	_, err = p.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestForwarder_Forward(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"output":"hello"}`)
	}))
	defer upstream.Close()

	r := newRegistry(t)
	require.NoError(t, r.Add(NewProvider{ID: "deepseek/r1", BaseURL: upstream.URL, APIKey: "k1"}))

	resp, err := NewForwarder(r).Forward(context.Background(), ForwardRequest{
		Model: "deepseek/deepseek-chat",
		Input: json.RawMessage(`"write something"`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.Status)
	assert.JSONEq(t, `{"output":"hello"}`, string(resp.Body))
	assert.Equal(t, "deepseek/r1", resp.ProviderID)
	assert.Equal(t, "Bearer k1", gotAuth)
	assert.Equal(t, "write something", gotBody["input"])
}

func TestForwarder_Errors(t *testing.T) {
	r := newRegistry(t)
	_, err := NewForwarder(r).Forward(context.Background(), ForwardRequest{Model: "m", Input: json.RawMessage(`"x"`)})
	assert.True(t, errors.Is(err, ErrNoProvider))

	html := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>nope</html>")
	}))
	defer html.Close()
	require.NoError(t, r.Add(NewProvider{ID: "x", BaseURL: html.URL}))

	_, err = NewForwarder(r).Forward(context.Background(), ForwardRequest{Model: "m", Input: json.RawMessage(`"x"`)})
	var fe *ForwardError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "x", fe.ProviderID)
	assert.False(t, errors.Is(err, ErrNoProvider))
}
