package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Driver names a storage backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Settings are the process-level options read from the environment.
type Settings struct {
	Addr            string        `env:"VERSIONED_ADDR" envDefault:":8080"`
	ConfigPath      string        `env:"VERSIONED_CONFIG_PATH" envDefault:"."`
	Driver          Driver        `env:"VERSIONED_STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath      string        `env:"VERSIONED_SQLITE_PATH" envDefault:"versioned.db"`
	AllowedOrigins  []string      `env:"VERSIONED_CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	ServiceName     string        `env:"VERSIONED_SERVICE_NAME" envDefault:"versioned"`
	ShutdownTimeout time.Duration `env:"VERSIONED_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	OTelEndpoint    string        `env:"VERSIONED_OTEL_ENDPOINT"`
	OTelEnabled     bool          `env:"VERSIONED_OTEL_ENABLED" envDefault:"true"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadSettings parses and validates Settings.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := ParseEnv(&s); err != nil {
		return Settings{}, err
	}
	s.Driver = Driver(strings.ToLower(strings.TrimSpace(string(s.Driver))))
	switch s.Driver {
	case DriverSQLite:
		if strings.TrimSpace(s.SQLitePath) == "" {
			return Settings{}, fmt.Errorf("VERSIONED_SQLITE_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
	default:
		return Settings{}, fmt.Errorf("unsupported storage driver %q", s.Driver)
	}
	return s, nil
}
