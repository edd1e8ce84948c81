// Package devproxy is the development proxy: a registry of upstream
// providers, a liveness probe for each, and request forwarding chosen by
// model id.
package devproxy

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/citeai/citeai/internal/storage"
)

// ErrNoProvider is returned by Select when the registry is empty.
var ErrNoProvider = errors.New("no provider configured")

// Store defines the storage operations the Registry needs.
// Implemented by storage.Store.
type Store interface {
	AddProvider(p storage.Provider) error
	ListProviders() ([]storage.Provider, error)
	CountProviders() (int, error)
}

// Provider is the public view of an upstream. The key itself is never exposed.
type Provider struct {
	ID      string `json:"id" yaml:"id"`
	Label   string `json:"label" yaml:"label"`
	BaseURL string `json:"baseUrl" yaml:"base_url"`
	HasKey  bool   `json:"hasKey" yaml:"-"`

	apiKey string
}

// NewProvider is the input to Registry.Add.
type NewProvider struct {
	ID      string `json:"id" yaml:"id" validate:"required,max=200"`
	Label   string `json:"label" yaml:"label" validate:"max=200"`
	BaseURL string `json:"baseUrl" yaml:"base_url" validate:"required,url"`
	APIKey  string `json:"apiKey,omitempty" yaml:"api_key"`
}

// builtin seeds an empty registry when no seed file is configured.
var builtin = []NewProvider{
	{ID: "openai/gpt-oss-120b", Label: "OpenAI GPT-OSS 120B", BaseURL: "https://api.example.com/generate"},
	{ID: "openai/gpt-oss-20b", Label: "OpenAI GPT-OSS 20B", BaseURL: "https://api.example.com/generate"},
	{ID: "deepseek/deepseek-r1-0528", Label: "DeepSeek R1", BaseURL: "https://api.example.com/deepseek"},
	{ID: "microsoft/mai-ds-r1", Label: "Microsoft MAI-DS R1", BaseURL: "https://api.example.com/microsoft"},
}

// Registry manages providers stored in SQLite.
type Registry struct {
	store  Store
	logger *slog.Logger
}

// NewRegistry creates a Registry over store.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store, logger: slog.Default()}
}

// Seed fills an empty registry from the YAML file at path, or from the
// built-in list when path is empty. A non-empty registry is left untouched.
func (r *Registry) Seed(path string) error {
	n, err := r.store.CountProviders()
	if err != nil {
		return fmt.Errorf("counting providers: %w", err)
	}
	if n > 0 {
		return nil
	}

	seed := builtin
	if path != "" {
		seed, err = loadSeedFile(path)
		if err != nil {
			return err
		}
	}
	for _, p := range seed {
		if err := r.Add(p); err != nil && !errors.Is(err, storage.ErrExists) {
			return fmt.Errorf("seeding provider %q: %w", p.ID, err)
		}
	}
	r.logger.Info("provider registry seeded", "count", len(seed), "file", path)
	return nil
}

type seedFile struct {
	Providers []NewProvider `yaml:"providers"`
}

func loadSeedFile(path string) ([]NewProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading provider seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing provider seed file %s: %w", path, err)
	}
	return f.Providers, nil
}

// Add registers a provider. The id and an absolute http(s) base URL are required.
func (r *Registry) Add(p NewProvider) error {
	p.ID = strings.TrimSpace(p.ID)
	p.BaseURL = strings.TrimSpace(p.BaseURL)
	if p.ID == "" || p.BaseURL == "" {
		return errors.New("missing id or baseUrl")
	}
	u, err := url.Parse(p.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid baseUrl %q", p.BaseURL)
	}
	return r.store.AddProvider(storage.Provider{
		ID:      p.ID,
		Label:   strings.TrimSpace(p.Label),
		BaseURL: p.BaseURL,
		APIKey:  p.APIKey,
	})
}

// List returns all providers in registration order.
func (r *Registry) List() ([]Provider, error) {
	rows, err := r.store.ListProviders()
	if err != nil {
		return nil, fmt.Errorf("listing providers: %w", err)
	}
	out := make([]Provider, len(rows))
	for i, row := range rows {
		out[i] = Provider{
			ID:      row.ID,
			Label:   row.Label,
			BaseURL: row.BaseURL,
			HasKey:  row.APIKey != "",
			apiKey:  row.APIKey,
		}
	}
	return out, nil
}

// Select picks the provider for model: the first whose id, up to its first
// '/', is a prefix of model, or whose id equals model. Falls back to the
// first provider.
func (r *Registry) Select(model string) (Provider, error) {
	list, err := r.List()
	if err != nil {
		return Provider{}, err
	}
	return selectProvider(list, model)
}

func selectProvider(list []Provider, model string) (Provider, error) {
	if len(list) == 0 {
		return Provider{}, ErrNoProvider
	}
	for _, p := range list {
		family, _, _ := strings.Cut(p.ID, "/")
		if strings.HasPrefix(model, family) || model == p.ID {
			return p, nil
		}
	}
	return list[0], nil
}
