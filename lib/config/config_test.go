// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validConfig = `
realms:
  - id: origin
    issuer: https://login.origin.example/v2
    client_id: origin-client
    client_secret: origin-secret
    scopes: ["https://backend.example/.default"]
  - id: host
    issuer: https://login.host.example/v2
    client_id: host-client
    client_secret: host-secret
    scopes: ["https://backend.example/.default"]
    host: true

backend:
  base_url: https://backend.example
  service_token: service-secret

cache:
  safety_margin: 5m

threads:
  counterpart_addresses:
    - bob@host.example
    - carol@remote.example
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parley.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if len(cfg.Realms) != 2 {
		t.Fatalf("realms = %d, want 2", len(cfg.Realms))
	}
	if !cfg.Realms[1].Host {
		t.Error("host realm flag not loaded")
	}
	if cfg.Backend.BaseURL != "https://backend.example" {
		t.Errorf("base url = %q", cfg.Backend.BaseURL)
	}
	if got := cfg.Cache.SafetyMargin.Std(); got != 5*time.Minute {
		t.Errorf("safety margin = %v, want 5m", got)
	}
	// Defaults survive a partial file.
	if got := cfg.Cache.IdentityTTL.Std(); got != 24*time.Hour {
		t.Errorf("identity ttl = %v, want default 24h", got)
	}
	if cfg.Cache.KeyPrefix != "parley:" {
		t.Errorf("key prefix = %q, want default", cfg.Cache.KeyPrefix)
	}
	if len(cfg.Threads.CounterpartAddresses) != 2 {
		t.Errorf("counterpart addresses = %v", cfg.Threads.CounterpartAddresses)
	}
	if cfg.Threads.UnrestrictedListing {
		t.Error("unrestricted listing must default to off")
	}
}

func TestLoadRequiresEnvVar(t *testing.T) {
	t.Setenv("PARLEY_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load succeeded without PARLEY_CONFIG")
	}
}

func TestLoadFromEnvVar(t *testing.T) {
	t.Setenv("PARLEY_CONFIG", writeConfig(t, validConfig))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Realms) != 2 {
		t.Errorf("realms = %d, want 2", len(cfg.Realms))
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "missing service token",
			mutate:  func(c string) string { return strings.Replace(c, "service_token: service-secret", "", 1) },
			wantErr: "service_token",
		},
		{
			name:    "missing base url",
			mutate:  func(c string) string { return strings.Replace(c, "base_url: https://backend.example", "", 1) },
			wantErr: "base_url",
		},
		{
			name:    "no host realm",
			mutate:  func(c string) string { return strings.Replace(c, "host: true", "host: false", 1) },
			wantErr: "host realm",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.mutate(validConfig)))
			if err == nil {
				t.Fatal("LoadFile succeeded with invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestInvalidDuration(t *testing.T) {
	broken := strings.Replace(validConfig, "safety_margin: 5m", "safety_margin: soon", 1)
	if _, err := LoadFile(writeConfig(t, broken)); err == nil {
		t.Fatal("LoadFile accepted a malformed duration")
	}
}
