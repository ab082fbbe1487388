package settings_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/harvester/internal/domain"
	"github.com/jonesrussell/harvester/internal/settings"
)

func TestStoreLoadMissingFileReturnsDefaults(t *testing.T) {
	store := settings.NewStore(filepath.Join(t.TempDir(), "discovery.yml"))

	got, err := store.Load()
	require.NoError(t, err)

	assert.Empty(t, got.Keywords)
	assert.Equal(t, settings.DefaultPerKeyword, got.PerKeyword)
	assert.Equal(t, settings.DefaultMaxAgeDays, got.MaxAgeDays)
	assert.Equal(t, domain.ModeFull, got.AutoEnrichMode)
}

func TestStoreRoundTrip(t *testing.T) {
	store := settings.NewStore(filepath.Join(t.TempDir(), "discovery.yml"))

	saved := domain.DiscoverySettings{
		Keywords:       []string{"cooking", "gardening"},
		PerKeyword:     10,
		MaxAgeDays:     90,
		DenyLanguages:  []string{"xx"},
		AutoEnrich:     true,
		AutoEnrichMode: domain.ModeEmailOnly,
		EnrichLimit:    100,
		RunUntilStop:   true,
	}
	require.NoError(t, store.Save(saved))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, saved, got)
}

func TestStoreLoadWeaklyTypedValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "discovery.yml")
	raw := `
keywords:
  - cooking
per_keyword: "15"
auto_enrich: "true"
enrich_limit: 20
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	got, err := settings.NewStore(path).Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"cooking"}, got.Keywords)
	assert.Equal(t, 15, got.PerKeyword)
	assert.True(t, got.AutoEnrich)
	assert.Equal(t, 20, got.EnrichLimit)
	// Absent fields picked up defaults.
	assert.Equal(t, settings.DefaultMaxAgeDays, got.MaxAgeDays)
	assert.Equal(t, domain.ModeFull, got.AutoEnrichMode)
}

func TestStoreInvalidValuesFallBackToDefaults(t *testing.T) {
	store := settings.NewStore(filepath.Join(t.TempDir(), "discovery.yml"))

	require.NoError(t, store.Save(domain.DiscoverySettings{
		PerKeyword:     -3,
		AutoEnrichMode: "bogus",
	}))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, settings.DefaultPerKeyword, got.PerKeyword)
	assert.Equal(t, domain.ModeFull, got.AutoEnrichMode)
}
