package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Provider   ProviderConfig
	Generation GenerationConfig
	Retry      RetryConfig
	Proxy      ProxyConfig
	Storage    StorageConfig
	Log        LogConfig
	Debug      bool
}

type ServerConfig struct {
	Port int
}

// ProviderConfig describes the outbound model endpoint.
type ProviderConfig struct {
	Endpoint string
	APIKey   string
	Auth     string // "bearer" or "query"
	KeyParam string
	Envelope string // "chat" or "candidates"
	Referer  string
	Title    string
	Model    string
}

type GenerationConfig struct {
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
	TopP        float64
}

type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
}

type ProxyConfig struct {
	AdminToken    string
	ProvidersFile string
	RateLimit     float64
	Burst         int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Provider: ProviderConfig{
			Endpoint: "https://openrouter.ai/api/v1/chat/completions",
			Auth:     "bearer",
			KeyParam: "key",
			Envelope: "chat",
			Referer:  "http://localhost:5173",
			Title:    "citeai",
			Model:    "deepseek/deepseek-chat-v3.1:free",
		},
		Generation: GenerationConfig{
			Timeout:     120 * time.Second,
			Temperature: 0.7,
			MaxTokens:   4096,
			TopP:        0.95,
		},
		Retry: RetryConfig{
			MaxRetries:   3,
			InitialDelay: time.Second,
			Multiplier:   2.0,
		},
		Proxy: ProxyConfig{
			RateLimit: 1.0,
			Burst:     5,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from, in increasing precedence: built-in
// defaults, the JSON file at $XDG_CONFIG_HOME/citeai/config.json, a .env
// file in the working directory, environment variables (CITEAI_*), and the
// secrets file at $XDG_DATA_HOME/citeai/secrets.json for secrets that are
// still empty.
//
// A missing API key is not an error. Generation reports it instead.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("reading .env: %w", err)
	}
	return loadWith(newFileBackend(configFilePath()), secretsFile{path: secretsFilePath()})
}

// secretStore abstracts the secrets file for testing.
type secretStore interface {
	Get(account string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if v, err := secrets.Get(s.key); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports values that would make the server misbehave.
func (c Config) Validate() error {
	var problems []string
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	switch c.Provider.Auth {
	case "bearer", "query":
	default:
		problems = append(problems, fmt.Sprintf("provider.auth must be bearer or query, got %q", c.Provider.Auth))
	}
	switch c.Provider.Envelope {
	case "chat", "candidates":
	default:
		problems = append(problems, fmt.Sprintf("provider.envelope must be chat or candidates, got %q", c.Provider.Envelope))
	}
	if c.Generation.Timeout <= 0 {
		problems = append(problems, "generation.timeout must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		problems = append(problems, "retry.max_retries must not be negative")
	}
	if c.Retry.InitialDelay <= 0 {
		problems = append(problems, "retry.initial_delay must be positive")
	}
	if c.Retry.Multiplier < 1 {
		problems = append(problems, "retry.multiplier must be at least 1")
	}
	if c.Proxy.RateLimit <= 0 || c.Proxy.Burst < 1 {
		problems = append(problems, "proxy.rate_limit and proxy.burst must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// HasAPIKey reports whether a provider credential is configured.
func (c Config) HasAPIKey() bool {
	return strings.TrimSpace(c.Provider.APIKey) != ""
}
