// Package config loads device and relay settings.
//
// Settings come from, in order of precedence: command-line flags bound by
// the caller, TRIPSYNC_* environment variables, a tripsync.toml (or .yaml)
// file in the data directory or given explicitly, and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tripsync/tripsync/internal/channel"
	"github.com/tripsync/tripsync/internal/notify"
	"github.com/tripsync/tripsync/internal/storage"
)

// FileName is the base name of the config file looked up in the data
// directory.
const FileName = "tripsync"

// EnvPrefix prefixes environment overrides: sync.debounce is read from
// TRIPSYNC_SYNC_DEBOUNCE.
const EnvPrefix = "TRIPSYNC"

// Setting keys.
const (
	KeyDataDir       = "data_dir"
	KeyStorageDSN    = "storage.dsn"
	KeyFallbackBytes = "storage.fallback_bytes"
	KeyRemoteURL     = "remote.url"
	KeyDebounce      = "sync.debounce"
	KeyNotifyWindow  = "sync.notify_window"
	KeyRelayListen   = "relay.listen"
	KeyRelayStorage  = "relay.storage_dsn"
	KeyLogFile       = "log.file"
	KeyLogMaxSize    = "log.max_size_mb"
	KeyLogMaxBackups = "log.max_backups"
	KeyInboxDir      = "inbox.dir"
)

// Config is the resolved configuration. Paths left empty in every source
// are derived from DataDir.
type Config struct {
	DataDir string

	// File is the config file that was read, empty when none was found.
	File string

	Storage StorageConfig
	Remote  RemoteConfig
	Sync    SyncConfig
	Relay   RelayConfig
	Log     LogConfig
	Inbox   InboxConfig
}

type StorageConfig struct {
	// DSN of the primary backend (see storage.Open).
	DSN           string
	FallbackBytes int
}

type RemoteConfig struct {
	// URL of the remote store (see remote.Open). Empty keeps the device
	// local-only.
	URL string
}

type SyncConfig struct {
	Debounce     time.Duration
	NotifyWindow time.Duration
}

type RelayConfig struct {
	Listen     string
	StorageDSN string
}

type LogConfig struct {
	// File enables a rotating log file in addition to stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

type InboxConfig struct {
	Dir string
}

// DefaultDataDir returns ~/.tripsync, or .tripsync when the home directory
// is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".tripsync"
	}
	return filepath.Join(home, ".tripsync")
}

// New returns a viper instance with defaults and environment overrides
// registered. Callers bind their flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyDataDir, DefaultDataDir())
	v.SetDefault(KeyStorageDSN, "")
	v.SetDefault(KeyFallbackBytes, storage.DefaultFallbackBytes)
	v.SetDefault(KeyRemoteURL, "")
	v.SetDefault(KeyDebounce, channel.DefaultDebounce.String())
	v.SetDefault(KeyNotifyWindow, notify.DefaultWindow.String())
	v.SetDefault(KeyRelayListen, ":7420")
	v.SetDefault(KeyRelayStorage, "")
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyLogMaxSize, 10)
	v.SetDefault(KeyLogMaxBackups, 3)
	v.SetDefault(KeyInboxDir, "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configFile, or the config file in the data directory when
// configFile is empty, and resolves the settings. A missing config file in
// the data directory is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(v.GetString(KeyDataDir))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		DataDir: v.GetString(KeyDataDir),
		File:    v.ConfigFileUsed(),
		Storage: StorageConfig{
			DSN:           v.GetString(KeyStorageDSN),
			FallbackBytes: v.GetInt(KeyFallbackBytes),
		},
		Remote: RemoteConfig{URL: v.GetString(KeyRemoteURL)},
		Sync: SyncConfig{
			Debounce:     v.GetDuration(KeyDebounce),
			NotifyWindow: v.GetDuration(KeyNotifyWindow),
		},
		Relay: RelayConfig{
			Listen:     v.GetString(KeyRelayListen),
			StorageDSN: v.GetString(KeyRelayStorage),
		},
		Log: LogConfig{
			File:       v.GetString(KeyLogFile),
			MaxSizeMB:  v.GetInt(KeyLogMaxSize),
			MaxBackups: v.GetInt(KeyLogMaxBackups),
		},
		Inbox: InboxConfig{Dir: v.GetString(KeyInboxDir)},
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file, flag or
// environment variable sets anything.
func Default(dataDir string) *Config {
	cfg := &Config{
		DataDir: dataDir,
		Storage: StorageConfig{FallbackBytes: storage.DefaultFallbackBytes},
		Sync: SyncConfig{
			Debounce:     channel.DefaultDebounce,
			NotifyWindow: notify.DefaultWindow,
		},
		Relay: RelayConfig{Listen: ":7420"},
		Log:   LogConfig{MaxSizeMB: 10, MaxBackups: 3},
	}
	_ = cfg.resolve()
	return cfg
}

func (c *Config) resolve() error {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = filepath.Join(c.DataDir, "tripsync.db")
	}
	if c.Relay.StorageDSN == "" {
		c.Relay.StorageDSN = filepath.Join(c.DataDir, "relay.db")
	}
	if c.Inbox.Dir == "" {
		c.Inbox.Dir = filepath.Join(c.DataDir, "inbox")
	}
	if c.Sync.Debounce <= 0 {
		return fmt.Errorf("%s must be positive, got %s", KeyDebounce, c.Sync.Debounce)
	}
	if c.Sync.NotifyWindow < 0 {
		return fmt.Errorf("%s must not be negative, got %s", KeyNotifyWindow, c.Sync.NotifyWindow)
	}
	if c.Storage.FallbackBytes < 0 {
		return fmt.Errorf("%s must not be negative, got %d", KeyFallbackBytes, c.Storage.FallbackBytes)
	}
	return nil
}

// EnsureDataDir creates the data directory.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}
