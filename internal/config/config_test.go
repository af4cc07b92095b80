package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFromDir(t *testing.T, configFile string) (*Settings, error) {
	t.Helper()
	// Keep stray config files out of the lookup
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("NOSTR_FEED_CONFIG", "")
	return Load(New(), configFile)
}

func TestDefaults(t *testing.T) {
	s, err := loadFromDir(t, "")
	require.NoError(t, err)

	assert.Equal(t, DefaultIndexerRelays, s.IndexerRelays)
	assert.Equal(t, DefaultContentRelays, s.ContentRelays)
	assert.Equal(t, time.Second, s.RelayTimeout)
	assert.Equal(t, 300*time.Millisecond, s.BatchWindow)
	assert.Equal(t, 10, s.MaxPosts)
	assert.Equal(t, 3, s.DaysAgo)
	assert.Equal(t, 10, s.ChunkSize)
	assert.Equal(t, 10, s.ChunkConcurrency)
	assert.Equal(t, 1000, s.LiveTailLimit)
	assert.Equal(t, "badger", s.Storage.Backend)
	assert.Equal(t, 500*time.Millisecond, s.ScrollDelay)
	assert.Equal(t, 30, s.MaxDaysAgo)
	assert.Equal(t, 8080, s.ServerPort)
}

func TestConfigFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
relays:
  content:
    - wss://Relay.Example.com/
    - wss://relay.example.com
    - https://not-a-relay.example.com
feed:
  days_ago: 7
storage:
  backend: memory
`), 0o600))

	t.Setenv("NOSTR_FEED_FEED_CHUNK_SIZE", "25")
	t.Setenv("NOSTR_FEED_RELAYS_INDEXER", "wss://a.example.com,wss://b.example.com")

	s, err := loadFromDir(t, path)
	require.NoError(t, err)

	assert.Equal(t, []string{"wss://relay.example.com"}, s.ContentRelays)
	assert.Equal(t, []string{"wss://a.example.com", "wss://b.example.com"}, s.IndexerRelays)
	assert.Equal(t, 7, s.DaysAgo)
	assert.Equal(t, 25, s.ChunkSize)
	assert.Equal(t, "memory", s.Storage.Backend)
}

func TestInvalidRelaysFallBackToDefaults(t *testing.T) {
	t.Setenv("NOSTR_FEED_RELAYS_CONTENT", "http://nope.example.com wss://10.internal")
	s, err := loadFromDir(t, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultContentRelays, s.ContentRelays)
}

func TestLogLevelFromLegacyVariable(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	s, err := loadFromDir(t, "")
	require.NoError(t, err)
	assert.Equal(t, "debug", s.LogLevel)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing explicit file", func(t *testing.T) {
		_, err := loadFromDir(t, filepath.Join(t.TempDir(), "missing.toml"))
		assert.Error(t, err)
	})

	t.Run("unknown storage backend", func(t *testing.T) {
		t.Setenv("NOSTR_FEED_STORAGE_BACKEND", "sqlite")
		_, err := loadFromDir(t, "")
		assert.ErrorContains(t, err, "unknown backend")
	})

	t.Run("bad port", func(t *testing.T) {
		t.Setenv("NOSTR_FEED_SERVER_PORT", "70000")
		_, err := loadFromDir(t, "")
		assert.ErrorContains(t, err, "invalid port")
	})

	t.Run("window cap below start", func(t *testing.T) {
		t.Setenv("NOSTR_FEED_FEED_MAX_DAYS_AGO", "2")
		_, err := loadFromDir(t, "")
		assert.ErrorContains(t, err, KeyMaxDaysAgo)
	})
}
