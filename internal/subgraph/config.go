// Package subgraph defines per-subgraph configuration and the local overrides
// file that carries it.
package subgraph

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Defaults applied when an option is absent from the overrides file.
const (
	DefaultMaxRetries          = 3
	DefaultRetryDelayMs        = 1000
	DefaultHealthCheckInterval = 30_000
)

// Bounds for the numeric options.
const (
	MinMaxRetries          = 0
	MaxMaxRetries          = 10
	MinRetryDelayMs        = 100
	MaxRetryDelayMs        = 30_000
	MinHealthCheckInterval = 5_000
	MaxHealthCheckInterval = 300_000
)

// SchemaSource identifies where a subgraph's schema is loaded from.
type SchemaSource string

const (
	SourceApolloRegistry     SchemaSource = "apollo-registry"
	SourceLocalIntrospection SchemaSource = "local-introspection"
	SourceUnknown            SchemaSource = "unknown"
)

// Config holds the recognized per-subgraph options.
type Config struct {
	// ForceMock makes the subgraph always mock; health probing is skipped.
	ForceMock bool `koanf:"forceMock" json:"forceMock"`

	// DisableMocking makes the subgraph never mock; failures surface as
	// errors. Mutually exclusive with ForceMock.
	DisableMocking bool `koanf:"disableMocking" json:"disableMocking"`

	// UseLocalSchema selects introspection (or SchemaFile) over the registry
	// as the schema source.
	UseLocalSchema bool `koanf:"useLocalSchema" json:"useLocalSchema"`

	// SchemaFile names an SDL file inside the schema directory. Takes
	// precedence over introspection.
	SchemaFile string `koanf:"schemaFile" json:"schemaFile,omitempty"`

	// IntrospectionHeaders are sent only on introspection requests.
	IntrospectionHeaders map[string]string `koanf:"introspectionHeaders" json:"introspectionHeaders,omitempty"`

	// MaxRetries is the number of consecutive failures before the subgraph
	// transitions to mocking.
	MaxRetries int `koanf:"maxRetries" json:"maxRetries"`

	// RetryDelayMs is the delay between introspection retry attempts.
	RetryDelayMs int `koanf:"retryDelayMs" json:"retryDelayMs"`

	// HealthCheckIntervalMs is the probe period.
	HealthCheckIntervalMs int `koanf:"healthCheckIntervalMs" json:"healthCheckIntervalMs"`
}

// Default returns a config with every option at its default.
func Default() *Config {
	return &Config{
		MaxRetries:            DefaultMaxRetries,
		RetryDelayMs:          DefaultRetryDelayMs,
		HealthCheckIntervalMs: DefaultHealthCheckInterval,
	}
}

// Source derives the schema source from the config.
func (c *Config) Source() SchemaSource {
	if c == nil {
		return SourceUnknown
	}
	if c.UseLocalSchema || c.SchemaFile != "" {
		return SourceLocalIntrospection
	}
	return SourceApolloRegistry
}

// Validate checks option compatibility and numeric ranges.
func (c *Config) Validate(name string) error {
	if c.ForceMock && c.DisableMocking {
		return fmt.Errorf("subgraph %q: forceMock and disableMocking are mutually exclusive", name)
	}
	if c.MaxRetries < MinMaxRetries || c.MaxRetries > MaxMaxRetries {
		return fmt.Errorf("subgraph %q: maxRetries must be in %d-%d, got %d", name, MinMaxRetries, MaxMaxRetries, c.MaxRetries)
	}
	if c.RetryDelayMs < MinRetryDelayMs || c.RetryDelayMs > MaxRetryDelayMs {
		return fmt.Errorf("subgraph %q: retryDelayMs must be in %d-%d, got %d", name, MinRetryDelayMs, MaxRetryDelayMs, c.RetryDelayMs)
	}
	if c.HealthCheckIntervalMs < MinHealthCheckInterval || c.HealthCheckIntervalMs > MaxHealthCheckInterval {
		return fmt.Errorf("subgraph %q: healthCheckIntervalMs must be in %d-%d, got %d", name, MinHealthCheckInterval, MaxHealthCheckInterval, c.HealthCheckIntervalMs)
	}
	return nil
}

// applyDefaults fills zero-valued numeric options. An explicit maxRetries of
// 0 is indistinguishable from an absent one here; immediate mocking is
// expressed with forceMock instead.
func (c *Config) applyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelayMs == 0 {
		c.RetryDelayMs = DefaultRetryDelayMs
	}
	if c.HealthCheckIntervalMs == 0 {
		c.HealthCheckIntervalMs = DefaultHealthCheckInterval
	}
}

// ConfigFile is the parsed shape of the local overrides file.
type ConfigFile struct {
	Subgraphs map[string]*Config `koanf:"subgraphs"`
}

// LoadConfigFile reads and validates the overrides file at path. A missing
// file is not an error; it returns an empty mapping.
func LoadConfigFile(path string) (map[string]*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return map[string]*Config{}, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parse subgraph config %s: %w", path, err)
	}

	var cf ConfigFile
	if err := k.Unmarshal("", &cf); err != nil {
		return nil, fmt.Errorf("unmarshal subgraph config %s: %w", path, err)
	}

	for name, cfg := range cf.Subgraphs {
		if cfg == nil {
			cfg = Default()
			cf.Subgraphs[name] = cfg
		}
		cfg.applyDefaults()
		if err := cfg.Validate(name); err != nil {
			return nil, err
		}
	}

	if cf.Subgraphs == nil {
		cf.Subgraphs = map[string]*Config{}
	}
	return cf.Subgraphs, nil
}
