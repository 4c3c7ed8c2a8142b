package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/rpattn/versioned/internal/db"
)

// newViper prepares a viper instance for configPath, which is either a directory
// holding config.yaml or the path of a YAML file.
func newViper(configPath string) *viper.Viper {
	v := viper.New()
	switch ext := strings.ToLower(filepath.Ext(configPath)); ext {
	case ".yaml", ".yml":
		v.SetConfigFile(configPath)
	default:
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if configPath == "" {
			configPath = "."
		}
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix("VERSIONED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // VERSIONED_DATABASE_HOST overrides database.host
	return v
}

// readConfig loads the file when present. A missing file is not an error.
func readConfig(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config: %w", err)
	}
	return true, nil
}

// LoadDBConfig returns the Postgres settings from config.yaml and the environment.
func LoadDBConfig(configPath string) (db.Config, error) {
	v := newViper(configPath)
	found, err := readConfig(v)
	if err != nil {
		return db.Config{}, err
	}
	if found {
		log.Printf("[config] loaded %s", v.ConfigFileUsed())
	} else {
		log.Printf("[config] no config.yaml found, using defaults and env vars")
	}
	return databaseConfig(v), nil
}

func databaseConfig(v *viper.Viper) db.Config {
	cfg := db.DefaultConfig()
	for _, key := range []string{"host", "port", "user", "password", "dbname", "sslmode"} {
		_ = v.BindEnv("database." + key)
	}

	if v.IsSet("database.host") {
		cfg.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.SSLMode = v.GetString("database.sslmode")
	}
	return cfg
}
