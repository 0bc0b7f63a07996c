// Package config loads the proxy's environment configuration.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Defaults for tunables not present in the environment.
const (
	DefaultPort                  = 3000
	DefaultGraphVariant          = "current"
	DefaultSchemaCacheTTL        = 300_000 * time.Millisecond
	DefaultSubgraphCheckInterval = 30_000 * time.Millisecond
	DefaultSubgraphHealthTimeout = 5_000 * time.Millisecond
	DefaultSchemaDir             = "schemas"
	DefaultMocksDir              = "mocks"
	DefaultSubgraphConfigFile    = "subgraph-config.yaml"
)

// Config is the process-wide configuration assembled from the environment.
type Config struct {
	Port int

	// Apollo registry credentials. ApolloKey may be empty, in which case
	// registry-sourced schemas are unavailable and every subgraph must use a
	// local source.
	ApolloKey          string
	ApolloGraphID      string
	ApolloGraphVariant string

	SchemaCacheTTL        time.Duration
	SubgraphCheckInterval time.Duration
	SubgraphHealthTimeout time.Duration

	EnablePassthrough bool
	MockOnError       bool

	LogLevel slog.Level

	// Directories and files consulted at startup.
	SchemaDir          string
	MocksDir           string
	SubgraphConfigFile string
}

// GraphRef returns the registry graph reference in id@variant form.
func (c *Config) GraphRef() string {
	return fmt.Sprintf("%s@%s", c.ApolloGraphID, c.ApolloGraphVariant)
}

// Load reads configuration from the environment and applies defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{
		Port:                  DefaultPort,
		ApolloKey:             k.String("APOLLO_KEY"),
		ApolloGraphID:         k.String("APOLLO_GRAPH_ID"),
		ApolloGraphVariant:    DefaultGraphVariant,
		SchemaCacheTTL:        DefaultSchemaCacheTTL,
		SubgraphCheckInterval: DefaultSubgraphCheckInterval,
		SubgraphHealthTimeout: DefaultSubgraphHealthTimeout,
		EnablePassthrough:     true,
		MockOnError:           true,
		LogLevel:              slog.LevelInfo,
		SchemaDir:             DefaultSchemaDir,
		MocksDir:              DefaultMocksDir,
		SubgraphConfigFile:    DefaultSubgraphConfigFile,
	}

	if v := k.String("APOLLO_GRAPH_VARIANT"); v != "" {
		cfg.ApolloGraphVariant = v
	}
	if v := k.String("SCHEMA_DIR"); v != "" {
		cfg.SchemaDir = v
	}
	if v := k.String("MOCKS_DIR"); v != "" {
		cfg.MocksDir = v
	}
	if v := k.String("SUBGRAPH_CONFIG_FILE"); v != "" {
		cfg.SubgraphConfigFile = v
	}

	if v := k.String("PORT"); v != "" {
		cfg.Port = k.Int("PORT")
		if cfg.Port <= 0 || cfg.Port > 65535 {
			return nil, fmt.Errorf("PORT must be in 1-65535, got %q", v)
		}
	}

	var err error
	if cfg.SchemaCacheTTL, err = durationMS(k, "SCHEMA_CACHE_TTL_MS", cfg.SchemaCacheTTL); err != nil {
		return nil, err
	}
	if cfg.SubgraphCheckInterval, err = durationMS(k, "SUBGRAPH_CHECK_INTERVAL_MS", cfg.SubgraphCheckInterval); err != nil {
		return nil, err
	}
	if cfg.SubgraphHealthTimeout, err = durationMS(k, "SUBGRAPH_HEALTH_TIMEOUT_MS", cfg.SubgraphHealthTimeout); err != nil {
		return nil, err
	}

	if cfg.EnablePassthrough, err = boolVar(k, "ENABLE_PASSTHROUGH", true); err != nil {
		return nil, err
	}
	if cfg.MockOnError, err = boolVar(k, "MOCK_ON_ERROR", true); err != nil {
		return nil, err
	}

	if v := k.String("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return nil, err
		}
		cfg.LogLevel = level
	}

	return cfg, nil
}

func durationMS(k *koanf.Koanf, key string, def time.Duration) (time.Duration, error) {
	v := k.String(key)
	if v == "" {
		return def, nil
	}
	ms := k.Int64(key)
	if ms <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func boolVar(k *koanf.Koanf, key string, def bool) (bool, error) {
	if k.String(key) == "" {
		return def, nil
	}
	switch strings.ToLower(k.String(key)) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("%s must be a boolean, got %q", key, k.String(key))
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", s)
}
