package subgraph

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", *Default(), false},
		{"force mock alone", Config{ForceMock: true, MaxRetries: 3, RetryDelayMs: 1000, HealthCheckIntervalMs: 30000}, false},
		{"conflicting flags", Config{ForceMock: true, DisableMocking: true, MaxRetries: 3, RetryDelayMs: 1000, HealthCheckIntervalMs: 30000}, true},
		{"retries too high", Config{MaxRetries: 11, RetryDelayMs: 1000, HealthCheckIntervalMs: 30000}, true},
		{"delay too low", Config{MaxRetries: 3, RetryDelayMs: 50, HealthCheckIntervalMs: 30000}, true},
		{"delay too high", Config{MaxRetries: 3, RetryDelayMs: 31000, HealthCheckIntervalMs: 30000}, true},
		{"interval too low", Config{MaxRetries: 3, RetryDelayMs: 1000, HealthCheckIntervalMs: 1000}, true},
		{"interval too high", Config{MaxRetries: 3, RetryDelayMs: 1000, HealthCheckIntervalMs: 600000}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate("test")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSource(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
		want SchemaSource
	}{
		{"nil config", nil, SourceUnknown},
		{"default", Default(), SourceApolloRegistry},
		{"local schema", &Config{UseLocalSchema: true}, SourceLocalIntrospection},
		{"schema file", &Config{SchemaFile: "products.graphql"}, SourceLocalIntrospection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Source(); got != tt.want {
				t.Fatalf("Source() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subgraph-config.yaml")
	content := `subgraphs:
  products:
    forceMock: true
  reviews:
    useLocalSchema: true
    maxRetries: 5
    introspectionHeaders:
      Authorization: Bearer token
  inventory: {}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	configs, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile() error = %v", err)
	}
	if len(configs) != 3 {
		t.Fatalf("got %d subgraphs, want 3", len(configs))
	}

	if !configs["products"].ForceMock {
		t.Fatalf("products should be force-mocked")
	}
	if configs["products"].MaxRetries != DefaultMaxRetries {
		t.Fatalf("products maxRetries = %d, want default %d", configs["products"].MaxRetries, DefaultMaxRetries)
	}

	reviews := configs["reviews"]
	if !reviews.UseLocalSchema || reviews.MaxRetries != 5 {
		t.Fatalf("reviews config not applied: %+v", reviews)
	}
	if reviews.IntrospectionHeaders["Authorization"] != "Bearer token" {
		t.Fatalf("introspection headers not parsed: %+v", reviews.IntrospectionHeaders)
	}

	if configs["inventory"].RetryDelayMs != DefaultRetryDelayMs {
		t.Fatalf("inventory should have default retry delay")
	}
}

func TestLoadConfigFileMissing(t *testing.T) {
	configs, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not be an error, got %v", err)
	}
	if len(configs) != 0 {
		t.Fatalf("got %d subgraphs, want 0", len(configs))
	}
}

func TestLoadConfigFileRejectsConflicts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subgraph-config.yaml")
	content := `subgraphs:
  broken:
    forceMock: true
    disableMocking: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfigFile(path); err == nil {
		t.Fatalf("conflicting flags should be rejected")
	}
}
