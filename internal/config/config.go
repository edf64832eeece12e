// Package config holds client configuration, loaded from an optional YAML
// file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendNATS     = "nats"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config is the full client configuration.
type Config struct {
	Room         string        `yaml:"room"`
	User         string        `yaml:"user"`
	TickInterval time.Duration `yaml:"tick_interval"`
	Store        StoreConfig   `yaml:"store"`
}

// StoreConfig selects and configures the document store backend.
type StoreConfig struct {
	Backend  string         `yaml:"backend"`
	NATS     NATSConfig     `yaml:"nats"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// NATSConfig holds JetStream KV connection settings.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the Postgres connection URL.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		TickInterval: time.Second,
		Store: StoreConfig{
			Backend: BackendNATS,
			NATS: NATSConfig{
				URL:           "nats://127.0.0.1:4222",
				MaxReconnects: -1,
				ReconnectWait: 2 * time.Second,
			},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "postgres",
				Password: "postgres",
				Database: "tomat",
				SSLMode:  "disable",
			},
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path when
// non-empty, and TOMAT_*/NATS_*/DB_* environment variables, in that order.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Room = getEnv("TOMAT_ROOM", cfg.Room)
	cfg.User = getEnv("TOMAT_USER", cfg.User)
	cfg.Store.Backend = getEnv("TOMAT_STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.NATS.URL = getEnv("NATS_URL", cfg.Store.NATS.URL)
	cfg.Store.Postgres.Host = getEnv("DB_HOST", cfg.Store.Postgres.Host)
	cfg.Store.Postgres.Port = getEnvAsInt("DB_PORT", cfg.Store.Postgres.Port)
	cfg.Store.Postgres.User = getEnv("DB_USER", cfg.Store.Postgres.User)
	cfg.Store.Postgres.Password = getEnv("DB_PASSWORD", cfg.Store.Postgres.Password)
	cfg.Store.Postgres.Database = getEnv("DB_NAME", cfg.Store.Postgres.Database)
	cfg.Store.Postgres.SSLMode = getEnv("DB_SSLMODE", cfg.Store.Postgres.SSLMode)

	switch cfg.Store.Backend {
	case BackendNATS, BackendPostgres, BackendMemory:
	default:
		return Config{}, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
