// Package config holds the daemon configuration and data-dir path helpers.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration, stored at <data_dir>/config.toml.
type Config struct {
	ListenAddr  string `toml:"listen_addr"`
	DataDir     string `toml:"data_dir"`
	TokenSecret string `toml:"token_secret"`

	TokenTTL duration `toml:"token_ttl"`

	// SessionBuffer is the outbound envelope queue size per websocket
	// session. A full queue drops envelopes rather than blocking delivery.
	SessionBuffer int `toml:"session_buffer"`

	// TypingRate and TypingBurst throttle inbound typing frames per session.
	TypingRate  float64 `toml:"typing_rate"`
	TypingBurst int     `toml:"typing_burst"`

	// RetentionGrace is how long a message soft-deleted on both sides is
	// kept before physical removal. Zero disables the sweeper.
	RetentionGrace    duration `toml:"retention_grace"`
	RetentionInterval duration `toml:"retention_interval"`
}

// duration lets TOML carry values like "24h" or "15m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		ListenAddr:        "127.0.0.1:8420",
		DataDir:           BaseDir(),
		TokenTTL:          duration{24 * time.Hour},
		SessionBuffer:     64,
		TypingRate:        5,
		TypingBurst:       10,
		RetentionGrace:    duration{30 * 24 * time.Hour},
		RetentionInterval: duration{time.Hour},
	}
}

// Load reads config from path, layering it over defaults. A missing file is
// not an error: defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// BaseDir returns ~/.parley.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".parley")
}

// ConfigPath returns the config file path inside a data dir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.toml")
}

// DBPath returns the sqlite database path inside a data dir.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, "parley.db")
}

// LogDir returns the log directory inside a data dir.
func LogDir(dataDir string) string {
	return filepath.Join(dataDir, "logs")
}

// LogPath returns the daemon log file path inside a data dir.
func LogPath(dataDir string) string {
	return filepath.Join(LogDir(dataDir), "parleyd.log")
}

// EnsureDirs creates the data directory tree with proper permissions.
func EnsureDirs(dataDir string) error {
	for _, d := range []string{dataDir, LogDir(dataDir)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
