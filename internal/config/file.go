package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// fileConfig mirrors the on-disk layout. Durations are written as strings
// such as "500ms" so the file stays readable.
type fileConfig struct {
	DataDir string      `toml:"data_dir"`
	Storage fileStorage `toml:"storage"`
	Remote  fileRemote  `toml:"remote"`
	Sync    fileSync    `toml:"sync"`
	Relay   fileRelay   `toml:"relay"`
	Log     fileLog     `toml:"log"`
	Inbox   fileInbox   `toml:"inbox"`
}

type fileStorage struct {
	DSN           string `toml:"dsn"`
	FallbackBytes int    `toml:"fallback_bytes"`
}

type fileRemote struct {
	URL string `toml:"url"`
}

type fileSync struct {
	Debounce     string `toml:"debounce"`
	NotifyWindow string `toml:"notify_window"`
}

type fileRelay struct {
	Listen     string `toml:"listen"`
	StorageDSN string `toml:"storage_dsn"`
}

type fileLog struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

type fileInbox struct {
	Dir string `toml:"dir"`
}

// Path returns the default config file location for dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, FileName+".toml")
}

// WriteTOML writes cfg to path. It refuses to replace an existing file
// unless force is set.
func WriteTOML(path string, cfg *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(path), ".tripsync-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if err := toml.NewEncoder(f).Encode(toFile(cfg)); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func toFile(cfg *Config) fileConfig {
	return fileConfig{
		DataDir: cfg.DataDir,
		Storage: fileStorage{DSN: cfg.Storage.DSN, FallbackBytes: cfg.Storage.FallbackBytes},
		Remote:  fileRemote{URL: cfg.Remote.URL},
		Sync: fileSync{
			Debounce:     cfg.Sync.Debounce.String(),
			NotifyWindow: cfg.Sync.NotifyWindow.String(),
		},
		Relay: fileRelay{Listen: cfg.Relay.Listen, StorageDSN: cfg.Relay.StorageDSN},
		Log: fileLog{
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		},
		Inbox: fileInbox{Dir: cfg.Inbox.Dir},
	}
}
