// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/parley-foundation/parley/realm"
)

// Duration is a time.Duration that unmarshals from the usual string
// form ("10m", "24h") in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library form.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the master configuration for the parley bridge.
type Config struct {
	// Realms is the trust domain registry: every realm whose
	// credentials the bridge accepts, including exactly one marked as
	// the host realm.
	Realms []realm.Realm `yaml:"realms"`

	// Backend configures the backend messaging service connection.
	Backend BackendConfig `yaml:"backend"`

	// Cache configures the identity and token caches.
	Cache CacheConfig `yaml:"cache"`

	// Threads configures membership behavior.
	Threads ThreadsConfig `yaml:"threads"`

	// Diagnostics configures the operation ledger API.
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

// BackendConfig configures the backend messaging service.
type BackendConfig struct {
	// BaseURL is the backend service endpoint.
	BaseURL string `yaml:"base_url"`

	// ServiceToken authenticates the bridge's privileged calls
	// (identity creation, token issuance, participant management).
	ServiceToken string `yaml:"service_token"`
}

// CacheConfig configures the identity and token caches.
type CacheConfig struct {
	// RedisURL selects the Redis-backed store when set. Empty selects
	// the in-memory store.
	RedisURL string `yaml:"redis_url"`

	// KeyPrefix namespaces cache keys in a shared Redis.
	// Default: "parley:".
	KeyPrefix string `yaml:"key_prefix"`

	// IdentityTTL bounds cached backend identity handles.
	// Default: 24h.
	IdentityTTL Duration `yaml:"identity_ttl"`

	// SafetyMargin is reserved from every token's lifetime so a
	// served token never expires mid-use. Default: 10m.
	SafetyMargin Duration `yaml:"safety_margin"`
}

// ThreadsConfig configures membership behavior.
type ThreadsConfig struct {
	// CounterpartAddresses are added to every new thread as
	// placeholder participants so the other side can discover the
	// thread before logging in.
	CounterpartAddresses []string `yaml:"counterpart_addresses"`

	// UnrestrictedListing disables membership filtering in thread
	// listing. A deliberate diagnostic opt-in; never enable it for
	// user-facing traffic.
	UnrestrictedListing bool `yaml:"unrestricted_listing"`
}

// DiagnosticsConfig configures the operation ledger API.
type DiagnosticsConfig struct {
	// Listen is the address for the diagnostics HTTP listener.
	// Empty disables the listener.
	Listen string `yaml:"listen"`

	// LedgerCapacity bounds the in-memory operation ledger.
	// Default: 1024.
	LedgerCapacity int `yaml:"ledger_capacity"`
}

// Default returns the default configuration. These defaults exist to
// give every field a sensible zero-value before the file is merged in;
// the config file itself is required.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			KeyPrefix:    "parley:",
			IdentityTTL:  Duration(24 * time.Hour),
			SafetyMargin: Duration(10 * time.Minute),
		},
		Diagnostics: DiagnosticsConfig{
			LedgerCapacity: 1024,
		},
	}
}

// Load loads configuration from the PARLEY_CONFIG environment
// variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or discovery: if PARLEY_CONFIG is not set,
// this fails. Deterministic, auditable configuration with no hidden
// overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("PARLEY_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("PARLEY_CONFIG environment variable not set; " +
			"set it to the path of your parley.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth; environment variables do not
// override its values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for structural problems that the
// realm registry and component constructors would otherwise hit later
// with worse error messages.
func (c *Config) Validate() error {
	if len(c.Realms) == 0 {
		return fmt.Errorf("no realms configured")
	}
	if _, err := realm.NewRegistry(c.Realms); err != nil {
		return err
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Backend.ServiceToken == "" {
		return fmt.Errorf("backend.service_token is required")
	}
	if c.Cache.IdentityTTL < 0 {
		return fmt.Errorf("cache.identity_ttl must not be negative")
	}
	if c.Cache.SafetyMargin < 0 {
		return fmt.Errorf("cache.safety_margin must not be negative")
	}
	if c.Diagnostics.LedgerCapacity < 0 {
		return fmt.Errorf("diagnostics.ledger_capacity must not be negative")
	}
	return nil
}
