// Package config loads the calstore configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cyp0633/calstore/server/classification"
	"github.com/cyp0633/calstore/server/notify/rabbit"
	"github.com/cyp0633/calstore/server/recurrence"
	"github.com/cyp0633/calstore/server/storage"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

type StorageConfig struct {
	// Backend is "memory" or "postgres".
	Backend  string `yaml:"backend"`
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

type ClassificationConfig struct {
	Policy      classification.Policy `yaml:"policy"`
	Placeholder string                `yaml:"placeholder"`
}

type SyncConfig struct {
	// DefaultLimit caps sync reports when the caller gives no limit.
	// Zero means unlimited.
	DefaultLimit int `yaml:"default_limit"`
}

type NotificationConfig struct {
	Enabled       bool `yaml:"enabled"`
	rabbit.Config `yaml:",inline"`
}

// Config is the top-level configuration.
type Config struct {
	Storage        StorageConfig        `yaml:"storage"`
	Logging        LoggingConfig        `yaml:"logging"`
	Classification ClassificationConfig `yaml:"classification"`
	Sync           SyncConfig           `yaml:"sync"`
	Notifications  NotificationConfig   `yaml:"notifications"`
	// TimezoneAliases maps non-IANA TZID values to IANA names.
	TimezoneAliases map[string]string `yaml:"timezone_aliases"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{Backend: BackendMemory, MaxConns: 10},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Classification: ClassificationConfig{
			Policy:      classification.DefaultPolicy(),
			Placeholder: classification.DefaultPlaceholder,
		},
		Notifications: NotificationConfig{
			Config: rabbit.Config{Exchange: "calstore", RoutingKey: "calstore"},
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Storage.DSN = getenvDefault("CALSTORE_DB_DSN", c.Storage.DSN)
	c.Storage.Backend = getenvDefault("CALSTORE_STORAGE", c.Storage.Backend)
	c.Logging.Level = getenvDefault("CALSTORE_LOG_LEVEL", c.Logging.Level)
	if url := os.Getenv("CALSTORE_AMQP_URL"); url != "" {
		c.Notifications.URL = url
		c.Notifications.Enabled = true
	}
}

// Validate reports the first inconsistency in c.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn (or CALSTORE_DB_DSN) is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.MaxConns < 0 {
		return fmt.Errorf("storage.max_conns must not be negative (got %d)", c.Storage.MaxConns)
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}
	if c.Sync.DefaultLimit < 0 {
		return fmt.Errorf("sync.default_limit must not be negative (got %d)", c.Sync.DefaultLimit)
	}
	if c.Notifications.Enabled && c.Notifications.URL == "" {
		return errors.New("notifications.url (or CALSTORE_AMQP_URL) is required when notifications are enabled")
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid logging level %q", s)
	}
	return level, nil
}

// Logger builds the logger described by the logging section.
func (c *Config) Logger() *slog.Logger {
	level, err := parseLevel(c.Logging.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// StoreOptions translates the configuration into store options.
func (c *Config) StoreOptions(logger *slog.Logger) []storage.Option {
	opts := []storage.Option{
		storage.WithLogger(logger),
		storage.WithClassification(classification.New(
			classification.WithPolicy(c.Classification.Policy),
			classification.WithPlaceholder(c.Classification.Placeholder),
		)),
		storage.WithSyncLimit(c.Sync.DefaultLimit),
	}
	if len(c.TimezoneAliases) > 0 {
		opts = append(opts, storage.WithZones(recurrence.DefaultZones().With(c.TimezoneAliases)))
	}
	return opts
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
