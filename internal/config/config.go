// Package config provides configuration loading for the parley daemon.
package config

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/parley-dev/parley/internal/paths"
)

// Defaults applied when the config file is absent or a field is unset.
const (
	DefaultListenAddr      = "127.0.0.1:4664"
	DefaultLogLevel        = "info"
	DefaultMessageCacheCap = 2000
	DefaultChatCacheCap    = 50
)

// Config represents the daemon configuration file (~/.config/parley/config.toml).
type Config struct {
	// Daemon contains daemon-level settings.
	Daemon DaemonConfig `toml:"daemon"`

	// Adapters contains per-adapter overrides keyed by adapter id.
	Adapters map[string]AdapterConfig `toml:"adapters"`

	// Cache contains message cache bounds.
	Cache CacheConfig `toml:"cache"`
}

// DaemonConfig contains daemon-level settings.
type DaemonConfig struct {
	// ListenAddr is the WebSocket listen address.
	ListenAddr string `toml:"listen_addr"`
	// LogLevel is one of debug/info/warn/error.
	LogLevel string `toml:"log_level"`
	// LogPath overrides the default log file path.
	LogPath string `toml:"log_path"`
	// DBPath overrides the default sqlite database path.
	DBPath string `toml:"db_path"`
	// CategoriesPath points at the tool display-category declarations file.
	CategoriesPath string `toml:"categories_path"`
}

// AdapterConfig contains per-adapter overrides.
type AdapterConfig struct {
	// Binary overrides the CLI binary name/path for this adapter.
	Binary string `toml:"binary"`
	// DefaultModel is the model used when a chat doesn't specify one.
	DefaultModel string `toml:"default_model"`
}

// CacheConfig contains message cache bounds.
type CacheConfig struct {
	// MessagesPerChat caps raw messages retained per chat.
	MessagesPerChat int `toml:"messages_per_chat"`
	// Chats caps how many chats are cached before whole-chat eviction.
	Chats int `toml:"chats"`
}

// Load loads the daemon configuration from the default path.
// Returns a zero-value config (not nil) if the file doesn't exist.
func Load() (*Config, error) {
	path, err := paths.ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads the config from a specific path.
// Returns a zero-value config (not nil) if the file doesn't exist.
func LoadFromPath(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	return &cfg, nil
}

// ListenAddr returns the configured listen address or the default.
func (c *Config) ListenAddr() string {
	if c != nil && c.Daemon.ListenAddr != "" {
		return c.Daemon.ListenAddr
	}
	return DefaultListenAddr
}

// LogLevel returns the configured log level or the default.
func (c *Config) LogLevel() string {
	if c != nil && c.Daemon.LogLevel != "" {
		return c.Daemon.LogLevel
	}
	return DefaultLogLevel
}

// DBPath returns the configured database path or the default.
func (c *Config) DBPath() string {
	if c != nil && c.Daemon.DBPath != "" {
		return c.Daemon.DBPath
	}
	return paths.DBPath()
}

// AdapterBinary returns the binary override for an adapter, or empty string.
func (c *Config) AdapterBinary(adapterID string) string {
	if c == nil {
		return ""
	}
	if a, ok := c.Adapters[adapterID]; ok {
		return a.Binary
	}
	return ""
}

// AdapterDefaultModel returns the default model for an adapter, or empty
// string to let the CLI pick.
func (c *Config) AdapterDefaultModel(adapterID string) string {
	if c == nil {
		return ""
	}
	if a, ok := c.Adapters[adapterID]; ok {
		return a.DefaultModel
	}
	return ""
}

// MessageCacheCap returns the per-chat raw message cap.
func (c *Config) MessageCacheCap() int {
	if c != nil && c.Cache.MessagesPerChat > 0 {
		return c.Cache.MessagesPerChat
	}
	return DefaultMessageCacheCap
}

// ChatCacheCap returns the cached-chat cap.
func (c *Config) ChatCacheCap() int {
	if c != nil && c.Cache.Chats > 0 {
		return c.Cache.Chats
	}
	return DefaultChatCacheCap
}
