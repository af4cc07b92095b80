// Package config loads nostr-feed settings from defaults, an optional config
// file and NOSTR_FEED_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"nostr-feed/internal/nostr"
)

const (
	envPrefix  = "NOSTR_FEED"
	configName = "config"
	configDir  = ".nostr-feed"
)

// Keys
const (
	KeyIndexerRelays     = "relays.indexer"
	KeyContentRelays     = "relays.content"
	KeyRelayTimeout      = "relay.timeout"
	KeyBatchWindow       = "relay.batch_window"
	KeyMaxPosts          = "feed.max_posts"
	KeyDaysAgo           = "feed.days_ago"
	KeyChunkSize         = "feed.chunk_size"
	KeyChunkConcurrency  = "feed.chunk_concurrency"
	KeyLiveTailLimit     = "feed.live_tail_limit"
	KeyPageSize          = "feed.page_size"
	KeyMaxDaysAgo        = "feed.max_days_ago"
	KeyStorageBackend    = "storage.backend"
	KeyStoragePath       = "storage.path"
	KeyRedisURL          = "storage.redis_url"
	KeyStoragePrefix     = "storage.prefix"
	KeyPersistDelay      = "storage.persist_delay"
	KeyScrollDelay       = "scroll.delay"
	KeyTUIThresholdLines = "scroll.tui_threshold_lines"
	KeyServerPort        = "server.port"
	KeyIdentifier        = "auth.identifier"
	KeyLogLevel          = "log.level"
)

// DefaultIndexerRelays serve profiles and contact lists
var DefaultIndexerRelays = []string{
	"wss://purplepag.es",
	"wss://relay.damus.io",
	"wss://relay.nostr.band",
}

// DefaultContentRelays serve notes
var DefaultContentRelays = []string{
	"wss://relay.damus.io",
	"wss://relay.snort.social",
	"wss://nos.lol",
}

// Settings is the resolved configuration
type Settings struct {
	IndexerRelays []string
	ContentRelays []string
	RelayTimeout  time.Duration
	BatchWindow   time.Duration

	MaxPosts         int
	DaysAgo          int
	ChunkSize        int
	ChunkConcurrency int
	LiveTailLimit    int
	PageSize         int
	MaxDaysAgo       int

	Storage Storage

	ScrollDelay       time.Duration
	TUIThresholdLines int

	ServerPort int
	Identifier string // npub, nsec or hex key used by non-interactive login
	LogLevel   string
}

// Storage selects the durable backend
type Storage struct {
	Backend      string // badger, memory or redis
	Path         string
	RedisURL     string
	Prefix       string
	PersistDelay time.Duration
}

// New returns a viper instance with defaults and environment binding
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault(KeyIndexerRelays, DefaultIndexerRelays)
	v.SetDefault(KeyContentRelays, DefaultContentRelays)
	v.SetDefault(KeyRelayTimeout, time.Second)
	v.SetDefault(KeyBatchWindow, 300*time.Millisecond)
	v.SetDefault(KeyMaxPosts, 10)
	v.SetDefault(KeyDaysAgo, 3)
	v.SetDefault(KeyChunkSize, 10)
	v.SetDefault(KeyChunkConcurrency, 10)
	v.SetDefault(KeyLiveTailLimit, 1000)
	v.SetDefault(KeyPageSize, 10)
	v.SetDefault(KeyMaxDaysAgo, 30)
	v.SetDefault(KeyStorageBackend, "badger")
	v.SetDefault(KeyStoragePath, defaultStoragePath())
	v.SetDefault(KeyRedisURL, "redis://localhost:6379/0")
	v.SetDefault(KeyStoragePrefix, "nostr-feed:")
	v.SetDefault(KeyPersistDelay, 300*time.Millisecond)
	v.SetDefault(KeyScrollDelay, 500*time.Millisecond)
	v.SetDefault(KeyTUIThresholdLines, 40)
	v.SetDefault(KeyServerPort, 8080)
	v.SetDefault(KeyIdentifier, "")
	v.SetDefault(KeyLogLevel, "info")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// LOG_LEVEL is what the server deployments already set
	v.BindEnv(KeyLogLevel, envPrefix+"_LOG_LEVEL", "LOG_LEVEL")

	return v
}

func defaultStoragePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(configDir, "data")
	}
	return filepath.Join(homeDir, configDir, "data")
}

// Load reads the config file into v and resolves Settings. An explicit
// configFile (or NOSTR_FEED_CONFIG) must exist; otherwise config.* is looked
// up in the working directory and ~/.nostr-feed and may be absent.
func Load(v *viper.Viper, configFile string) (*Settings, error) {
	if configFile == "" {
		configFile = os.Getenv(envPrefix + "_CONFIG")
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
		slog.Debug("loaded config file", "path", configFile)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, configDir))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			slog.Debug("loaded config file", "path", v.ConfigFileUsed())
		}
	}

	s := &Settings{
		IndexerRelays: relayList(v, KeyIndexerRelays, DefaultIndexerRelays),
		ContentRelays: relayList(v, KeyContentRelays, DefaultContentRelays),
		RelayTimeout:  v.GetDuration(KeyRelayTimeout),
		BatchWindow:   v.GetDuration(KeyBatchWindow),

		MaxPosts:         v.GetInt(KeyMaxPosts),
		DaysAgo:          v.GetInt(KeyDaysAgo),
		ChunkSize:        v.GetInt(KeyChunkSize),
		ChunkConcurrency: v.GetInt(KeyChunkConcurrency),
		LiveTailLimit:    v.GetInt(KeyLiveTailLimit),
		PageSize:         v.GetInt(KeyPageSize),
		MaxDaysAgo:       v.GetInt(KeyMaxDaysAgo),

		Storage: Storage{
			Backend:      strings.ToLower(v.GetString(KeyStorageBackend)),
			Path:         v.GetString(KeyStoragePath),
			RedisURL:     v.GetString(KeyRedisURL),
			Prefix:       v.GetString(KeyStoragePrefix),
			PersistDelay: v.GetDuration(KeyPersistDelay),
		},

		ScrollDelay:       v.GetDuration(KeyScrollDelay),
		TUIThresholdLines: v.GetInt(KeyTUIThresholdLines),

		ServerPort: v.GetInt(KeyServerPort),
		Identifier: v.GetString(KeyIdentifier),
		LogLevel:   v.GetString(KeyLogLevel),
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// relayList normalizes the configured URLs and falls back to defaults when
// none are usable. Environment values may be comma or space separated.
func relayList(v *viper.Viper, key string, defaults []string) []string {
	var raw []string
	for _, entry := range v.GetStringSlice(key) {
		raw = append(raw, strings.FieldsFunc(entry, func(r rune) bool {
			return r == ',' || r == ' '
		})...)
	}

	seen := make(map[string]bool)
	var relays []string
	for _, entry := range raw {
		normalized := nostr.NormalizeRelayURL(entry)
		if normalized == "" {
			slog.Warn("ignoring invalid relay URL", "key", key, "url", entry)
			continue
		}
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		relays = append(relays, normalized)
	}

	if len(relays) == 0 {
		return append([]string(nil), defaults...)
	}
	return relays
}

func (s *Settings) validate() error {
	switch s.Storage.Backend {
	case "badger", "memory", "redis":
	default:
		return fmt.Errorf("%s: unknown backend %q (want badger, memory or redis)", KeyStorageBackend, s.Storage.Backend)
	}
	if s.ServerPort <= 0 || s.ServerPort > 65535 {
		return fmt.Errorf("%s: invalid port %d", KeyServerPort, s.ServerPort)
	}
	if s.MaxPosts <= 0 || s.DaysAgo <= 0 {
		return fmt.Errorf("%s and %s must be positive", KeyMaxPosts, KeyDaysAgo)
	}
	if s.MaxDaysAgo < s.DaysAgo {
		return fmt.Errorf("%s (%d) is below %s (%d)", KeyMaxDaysAgo, s.MaxDaysAgo, KeyDaysAgo, s.DaysAgo)
	}
	return nil
}
