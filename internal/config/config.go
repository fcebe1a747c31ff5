package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FormatMemory keeps the database in memory only; Location is ignored.
const FormatMemory = "memory"

type Config struct {
	DB      DBConfig      `toml:"db" yaml:"db"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
}

type DBConfig struct {
	Location string `toml:"location" yaml:"location"`
	Format   string `toml:"format" yaml:"format"`
}

type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		DB: DBConfig{
			Location: "~/.findb/findb.db",
			Format:   "file",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a TOML (or, by extension, YAML) config file and applies
// FINDB_* environment overrides. If path is empty, ~/.findb/config.toml is
// used when present and defaults otherwise.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		// Try default location
		path = expandHome("~/.findb/config.toml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		_, err = toml.Decode(string(data), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides lets environment variables override file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FINDB_LOCATION"); v != "" {
		cfg.DB.Location = v
	}
	if v := os.Getenv("FINDB_FORMAT"); v != "" {
		cfg.DB.Format = v
	}
	if v := os.Getenv("FINDB_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FINDB_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// StoreLocation returns the expanded database path, or "" when the
// database is kept in memory.
func (c *Config) StoreLocation() string {
	if c.DB.Format == FormatMemory {
		return ""
	}
	return expandHome(c.DB.Location)
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	return expandHome(path)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
