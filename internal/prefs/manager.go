// Package prefs keeps the user's theme and model choice in a flat key-value
// store. Reads never fail: errors fall back to defaults.
package prefs

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	SetPreference(key, value string) error
	GetPreference(key string) (string, error)
	AllPreferences() (map[string]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// ErrEmptyModel is returned by SetModel for a blank id.
var ErrEmptyModel = errors.New("model id must not be empty")

// Manager provides cached access to preferences.
type Manager struct {
	store  Store
	clock  Clock
	ttl    time.Duration
	logger *slog.Logger

	mu       sync.RWMutex
	cached   *Preferences
	cachedAt time.Time
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store Store) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, clock Clock, ttl time.Duration) *Manager {
	return &Manager{store: store, clock: clock, ttl: ttl, logger: slog.Default()}
}

// Get returns the stored preferences, or defaults for anything missing or
// unreadable.
func (m *Manager) Get() Preferences {
	m.mu.RLock()
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		p := *m.cached
		m.mu.RUnlock()
		return p
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		return *m.cached
	}

	keys, err := m.store.AllPreferences()
	if err != nil {
		m.logger.Warn("reading preferences failed, using defaults", "error", err)
		return Defaults()
	}

	p := m.build(keys)
	m.cached = &p
	m.cachedAt = m.clock.Now()
	return p
}

func (m *Manager) build(keys map[string]string) Preferences {
	p := Defaults()
	if v, ok := keys[KeyTheme]; ok {
		if t, err := ParseTheme(v); err == nil {
			p.Theme = t
		} else {
			m.logger.Warn("ignoring stored theme", "value", v)
		}
	}
	if v := strings.TrimSpace(keys[KeyModel]); v != "" {
		p.Model = v
	}
	return p
}

// StoredModel returns the model id the user selected, or "" when none is
// stored or the store cannot be read.
func (m *Manager) StoredModel() string {
	v, err := m.store.GetPreference(KeyModel)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(v)
}

// SetTheme validates and persists the theme.
func (m *Manager) SetTheme(value string) (Theme, error) {
	t, err := ParseTheme(value)
	if err != nil {
		return "", err
	}
	return t, m.set(KeyTheme, string(t))
}

// SetModel persists the selected model id. Ids outside Catalog are allowed.
func (m *Manager) SetModel(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrEmptyModel
	}
	return m.set(KeyModel, id)
}

// Set dispatches on a preference name: "theme", "model" or their storage keys.
func (m *Manager) Set(name, value string) error {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "theme", KeyTheme:
		_, err := m.SetTheme(value)
		return err
	case "model", KeyModel:
		return m.SetModel(value)
	default:
		return fmt.Errorf("unknown preference %q (want theme or model)", name)
	}
}

func (m *Manager) set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SetPreference(key, value); err != nil {
		return fmt.Errorf("saving preference %q: %w", key, err)
	}
	m.cached = nil
	return nil
}
