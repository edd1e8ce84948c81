package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mockSecrets is a test double for the secrets file.
type mockSecrets map[string]string

func (m mockSecrets) Get(account string) (string, error) {
	v, ok := m[account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func writeTempConfig(t *testing.T, content string) ConfigBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return newFileBackend(path)
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when nothing is configured.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(writeTempConfig(t, `{}`), mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Provider.Auth != "bearer" || cfg.Provider.Envelope != "chat" || cfg.Provider.KeyParam != "key" {
		t.Errorf("Provider = %+v", cfg.Provider)
	}
	if cfg.Provider.Model != "deepseek/deepseek-chat-v3.1:free" {
		t.Errorf("Provider.Model = %q", cfg.Provider.Model)
	}
	if cfg.Generation.Timeout != 120*time.Second {
		t.Errorf("Generation.Timeout = %v, want 2m0s", cfg.Generation.Timeout)
	}
	if cfg.Retry.MaxRetries != 3 || cfg.Retry.InitialDelay != time.Second || cfg.Retry.Multiplier != 2.0 {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if cfg.Proxy.RateLimit != 1.0 || cfg.Proxy.Burst != 5 {
		t.Errorf("Proxy = %+v", cfg.Proxy)
	}
	if cfg.Log.Level != "info" || cfg.Debug {
		t.Errorf("Log.Level = %q, Debug = %v", cfg.Log.Level, cfg.Debug)
	}
	if !strings.HasSuffix(cfg.Storage.DataDir, "citeai") {
		t.Errorf("Storage.DataDir = %q, want a citeai directory", cfg.Storage.DataDir)
	}
}

// TestMissingAPIKeyIsNotAnError verifies Load succeeds without a credential.
func TestMissingAPIKeyIsNotAnError(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(writeTempConfig(t, `{}`), mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HasAPIKey() {
		t.Error("HasAPIKey() = true, want false")
	}
}

// TestFileParsing verifies that typed fields are read from the JSON file.
func TestFileParsing(t *testing.T) {
	clearEnv(t)

	b := writeTempConfig(t, `{
		"server.port": 5000,
		"provider.endpoint": "https://generativelanguage.example/v1beta/models/{model}:generateContent",
		"provider.auth": "query",
		"provider.envelope": "candidates",
		"generation.timeout": "45s",
		"generation.temperature": 0.2,
		"retry.max_retries": 1,
		"retry.multiplier": "1.5",
		"storage.data_dir": "/tmp/citeai-test",
		"debug": true,
		"provider.api_key": "ignored-in-file"
	}`)

	cfg, err := loadWith(b, mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Provider.Auth != "query" || cfg.Provider.Envelope != "candidates" {
		t.Errorf("Provider = %+v", cfg.Provider)
	}
	if cfg.Generation.Timeout != 45*time.Second {
		t.Errorf("Generation.Timeout = %v", cfg.Generation.Timeout)
	}
	if cfg.Generation.Temperature != 0.2 {
		t.Errorf("Generation.Temperature = %v", cfg.Generation.Temperature)
	}
	if cfg.Retry.MaxRetries != 1 || cfg.Retry.Multiplier != 1.5 {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if cfg.Storage.DataDir != "/tmp/citeai-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if !cfg.Debug {
		t.Error("Debug = false, want true")
	}
	if cfg.Provider.APIKey != "" {
		t.Errorf("APIKey = %q, secrets must not come from the config file", cfg.Provider.APIKey)
	}
}

// TestEnvOverride verifies that environment variables override file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("CITEAI_SERVER_PORT", "6000")
	t.Setenv("CITEAI_API_KEY", "env-key")
	t.Setenv("CITEAI_RETRY_INITIAL_DELAY", "250ms")

	cfg, err := loadWith(writeTempConfig(t, `{"server.port": 5000}`), mockSecrets{"provider.api_key": "file-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Provider.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want %q", cfg.Provider.APIKey, "env-key")
	}
	if cfg.Retry.InitialDelay != 250*time.Millisecond {
		t.Errorf("Retry.InitialDelay = %v", cfg.Retry.InitialDelay)
	}
}

// TestUnparsableEnvIgnored verifies a bad value keeps the previous one.
func TestUnparsableEnvIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("CITEAI_SERVER_PORT", "not-a-number")
	t.Setenv("CITEAI_GENERATION_TIMEOUT", "soon")

	cfg, err := loadWith(writeTempConfig(t, `{}`), mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Generation.Timeout != 120*time.Second {
		t.Errorf("Generation.Timeout = %v", cfg.Generation.Timeout)
	}
}

// TestSecretsFallback verifies the secrets file is consulted when env is empty.
func TestSecretsFallback(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(writeTempConfig(t, `{}`), mockSecrets{
		"provider.api_key":  "secret-key",
		"proxy.admin_token": "admin",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider.APIKey != "secret-key" {
		t.Errorf("APIKey = %q, want %q", cfg.Provider.APIKey, "secret-key")
	}
	if cfg.Proxy.AdminToken != "admin" {
		t.Errorf("AdminToken = %q, want %q", cfg.Proxy.AdminToken, "admin")
	}
}

func TestInvalidConfig(t *testing.T) {
	clearEnv(t)

	_, err := loadWith(writeTempConfig(t, `{"provider.auth": "header", "retry.multiplier": 0.5}`), mockSecrets{})
	if err == nil {
		t.Fatal("expected error for invalid config, got nil")
	}
	for _, want := range []string{"provider.auth", "retry.multiplier"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want it to mention %q", err, want)
		}
	}
}

func TestBadConfigFileFallsBackToDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(writeTempConfig(t, `{not json`), mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
}
