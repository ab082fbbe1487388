// Package settings persists dashboard discovery settings across sessions.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/jonesrussell/harvester/internal/domain"
)

// Defaults applied to absent or invalid fields.
const (
	DefaultPerKeyword  = 25
	DefaultMaxAgeDays  = 365
	DefaultEnrichLimit = 50

	settingsFileMode = 0o600
)

// Store is a YAML-file-backed settings store. Reads and writes are
// serialized; saves go through a temp file and rename so a crashed write
// never truncates the previous settings.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a settings store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads settings from disk. A missing file yields pure defaults. Values
// are decoded weakly, so a stringly-typed edit of the file still loads, and
// out-of-range fields fall back to defaults instead of failing.
func (s *Store) Load() (domain.DiscoverySettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := defaultSettings()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return settings, nil
		}
		return settings, fmt.Errorf("failed to read settings file: %w", err)
	}

	var raw map[string]any
	if err = yaml.Unmarshal(data, &raw); err != nil {
		return settings, fmt.Errorf("failed to parse settings file: %w", err)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &settings,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return settings, fmt.Errorf("failed to build settings decoder: %w", err)
	}
	if err = decoder.Decode(raw); err != nil {
		return defaultSettings(), fmt.Errorf("failed to decode settings: %w", err)
	}

	applyDefaults(&settings)
	return settings, nil
}

// Save writes settings to disk atomically.
func (s *Store) Save(settings domain.DiscoverySettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	applyDefaults(&settings)

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".settings-*.yml")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp settings file: %w", err)
	}
	if err = os.Chmod(tmpName, settingsFileMode); err != nil {
		return fmt.Errorf("failed to set settings file mode: %w", err)
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}

func defaultSettings() domain.DiscoverySettings {
	return domain.DiscoverySettings{
		PerKeyword:     DefaultPerKeyword,
		MaxAgeDays:     DefaultMaxAgeDays,
		AutoEnrichMode: domain.ModeFull,
		EnrichLimit:    DefaultEnrichLimit,
	}
}

func applyDefaults(settings *domain.DiscoverySettings) {
	if settings.PerKeyword <= 0 {
		settings.PerKeyword = DefaultPerKeyword
	}
	if settings.MaxAgeDays <= 0 {
		settings.MaxAgeDays = DefaultMaxAgeDays
	}
	if settings.EnrichLimit < 0 {
		settings.EnrichLimit = DefaultEnrichLimit
	}
	if !domain.ValidMode(string(settings.AutoEnrichMode)) {
		settings.AutoEnrichMode = domain.ModeFull
	}
}
