package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "CITEAI_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "provider.endpoint", typ: kString, env: "CITEAI_PROVIDER_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Provider.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Endpoint },
	},
	{
		key: "provider.api_key", typ: kString, env: "CITEAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Provider.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.APIKey },
	},
	{
		key: "provider.auth", typ: kString, env: "CITEAI_PROVIDER_AUTH",
		apply:   func(cfg *Config, v any) { cfg.Provider.Auth = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Auth },
	},
	{
		key: "provider.key_param", typ: kString, env: "CITEAI_PROVIDER_KEY_PARAM",
		apply:   func(cfg *Config, v any) { cfg.Provider.KeyParam = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.KeyParam },
	},
	{
		key: "provider.envelope", typ: kString, env: "CITEAI_PROVIDER_ENVELOPE",
		apply:   func(cfg *Config, v any) { cfg.Provider.Envelope = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Envelope },
	},
	{
		key: "provider.referer", typ: kString, env: "CITEAI_PROVIDER_REFERER",
		apply:   func(cfg *Config, v any) { cfg.Provider.Referer = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Referer },
	},
	{
		key: "provider.title", typ: kString, env: "CITEAI_PROVIDER_TITLE",
		apply:   func(cfg *Config, v any) { cfg.Provider.Title = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Title },
	},
	{
		key: "provider.model", typ: kString, env: "CITEAI_PROVIDER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Provider.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Model },
	},
	{
		key: "generation.timeout", typ: kDuration, env: "CITEAI_GENERATION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Generation.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Generation.Timeout },
	},
	{
		key: "generation.temperature", typ: kFloat, env: "CITEAI_GENERATION_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Generation.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Generation.Temperature },
	},
	{
		key: "generation.max_tokens", typ: kInt, env: "CITEAI_GENERATION_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Generation.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.MaxTokens },
	},
	{
		key: "generation.top_p", typ: kFloat, env: "CITEAI_GENERATION_TOP_P",
		apply:   func(cfg *Config, v any) { cfg.Generation.TopP = v.(float64) },
		extract: func(cfg Config) any { return cfg.Generation.TopP },
	},
	{
		key: "retry.max_retries", typ: kInt, env: "CITEAI_RETRY_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Retry.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Retry.MaxRetries },
	},
	{
		key: "retry.initial_delay", typ: kDuration, env: "CITEAI_RETRY_INITIAL_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Retry.InitialDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Retry.InitialDelay },
	},
	{
		key: "retry.multiplier", typ: kFloat, env: "CITEAI_RETRY_MULTIPLIER",
		apply:   func(cfg *Config, v any) { cfg.Retry.Multiplier = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retry.Multiplier },
	},
	{
		key: "proxy.admin_token", typ: kString, env: "CITEAI_ADMIN_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Proxy.AdminToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.AdminToken },
	},
	{
		key: "proxy.providers_file", typ: kString, env: "CITEAI_PROXY_PROVIDERS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Proxy.ProvidersFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.ProvidersFile },
	},
	{
		key: "proxy.rate_limit", typ: kFloat, env: "CITEAI_PROXY_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Proxy.RateLimit = v.(float64) },
		extract: func(cfg Config) any { return cfg.Proxy.RateLimit },
	},
	{
		key: "proxy.burst", typ: kInt, env: "CITEAI_PROXY_BURST",
		apply:   func(cfg *Config, v any) { cfg.Proxy.Burst = v.(int) },
		extract: func(cfg Config) any { return cfg.Proxy.Burst },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CITEAI_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "CITEAI_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "debug", typ: kBool, env: "CITEAI_DEBUG",
		apply:   func(cfg *Config, v any) { cfg.Debug = v.(bool) },
		extract: func(cfg Config) any { return cfg.Debug },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts raw into the Go type expected by s.
func parseValue(s keySpec, raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := parseValue(s, raw)
		if err != nil {
			slog.Warn("ignoring unparsable config value", "key", s.key, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s, raw)
		if err != nil {
			slog.Warn("ignoring unparsable environment variable", "env", s.env, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}
