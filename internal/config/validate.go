package config

import (
	"errors"
	"fmt"
	"strings"

	"findb/internal/logging"
	"findb/internal/store"
)

// Validate checks that the configured format and logging settings are
// supported.
func (c *Config) Validate() error {
	var errs []error

	switch c.DB.Format {
	case store.FormatFile, store.FormatBolt, store.FormatSQLite, FormatMemory:
	default:
		errs = append(errs, fmt.Errorf("db.format: unsupported format %q", c.DB.Format))
	}
	if c.DB.Format != FormatMemory && strings.TrimSpace(c.DB.Location) == "" {
		errs = append(errs, errors.New("db.location: required unless format is memory"))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unsupported format %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
