// Package engineconfig holds the engine-wide configuration structures and
// loader: nested structs with yaml tags, a Load function, and typed
// construction-time errors.
package engineconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// InvalidConfiguration is returned for construction-time configuration
// problems. It is always surfaced to the caller, never
// absorbed.
type InvalidConfiguration struct {
	Field  string
	Reason string
}

func (e *InvalidConfiguration) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// CacheConfig configures the optional match-result cache.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Backend string `yaml:"backend"` // "memory" or "redis"
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
	TTL     string `yaml:"ttl"` // parsed with time.ParseDuration
}

// TelemetryConfig configures OpenTelemetry tracing of engine operations.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // "otlp", "stdout", or "none"
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// StorageConfig configures the optional persisted filtering-log sink.
type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // sqlite database path
}

// Config is the engine's top-level configuration.
type Config struct {
	// Engine is a free-form tag identifying the host runtime. Echoed, not
	// interpreted.
	Engine string `yaml:"engine"`
	// Version is the advisory semantic version of the host.
	Version string `yaml:"version"`
	// Verbose enables additional diagnostics via the log sink.
	Verbose bool `yaml:"verbose"`
	// ChunkSize is the number of rules processed per yield in
	// LoadRulesAsync. Defaults to 1000 when zero.
	ChunkSize int `yaml:"chunk_size"`
	// HostsMode enables conversion of "IP HOSTNAME" lines into
	// "||HOSTNAME^" network rules while scanning.
	HostsMode bool `yaml:"hosts_mode"`
	// IgnoreCosmetic makes the scanner skip cosmetic rules entirely,
	// typical for DNS-level or hosts-file deployments where only network
	// rules can ever apply.
	IgnoreCosmetic bool `yaml:"ignore_cosmetic"`

	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Storage   StorageConfig   `yaml:"storage"`
}

// Default returns a Config with the documented defaults applied.
func Default() Config {
	return Config{
		Engine:    "ruleengine",
		ChunkSize: 1000,
	}
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks construction-time invariants.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1000
	}
	if c.Cache.Enabled && c.Cache.Backend == "redis" && c.Cache.Addr == "" {
		return &InvalidConfiguration{Field: "cache.addr", Reason: "redis backend requires an address"}
	}
	if c.Storage.Enabled && c.Storage.Path == "" {
		return &InvalidConfiguration{Field: "storage.path", Reason: "persisted filtering log requires a path"}
	}
	return nil
}
