// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/sonar/lib/namespace"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "sonar.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return configPath
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Production {
		t.Errorf("expected environment=production, got %s", cfg.Environment)
	}
	if cfg.Sonar.MaxFrameBytes != DefaultMaxFrameBytes {
		t.Errorf("expected max_frame_bytes=%d, got %d", DefaultMaxFrameBytes, cfg.Sonar.MaxFrameBytes)
	}
	if cfg.Log.Format != "json" || cfg.Log.Level != "info" {
		t.Errorf("unexpected log defaults %+v", cfg.Log)
	}
	// The port has no default: a file must choose it.
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "sonar.port") {
		t.Errorf("Validate() of defaults = %v, want sonar.port error", err)
	}
}

func TestLoad_RequiresSonarConfig(t *testing.T) {
	t.Setenv("SONAR_CONFIG", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when SONAR_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "SONAR_CONFIG environment variable not set") {
		t.Errorf("unexpected error %q", err)
	}
}

func TestLoad_WithSonarConfig(t *testing.T) {
	t.Setenv("SONAR_CONFIG", writeConfig(t, `
sonar:
  port: 4100
  bind: 127.0.0.1
`))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got := cfg.Sonar.Address(); got != "127.0.0.1:4100" {
		t.Errorf("expected address 127.0.0.1:4100, got %s", got)
	}
}

func TestLoadFile(t *testing.T) {
	configPath := writeConfig(t, `
sonar:
  port: 4100
  tls_cert: /etc/sonar/cert.pem
  tls_key: /etc/sonar/key.pem
  max_frame_bytes: 4096

database:
  path: /var/lib/sonar/sonar.db
  pool_size: 8

admin:
  socket: /run/sonar/admin.sock

metrics:
  listen: 127.0.0.1:9100

log:
  level: warn

bootstrap: /etc/sonar/seed.jsonc
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Sonar.Address() != ":4100" {
		t.Errorf("expected address :4100, got %s", cfg.Sonar.Address())
	}
	if !cfg.Sonar.TLS() {
		t.Error("expected TLS to be enabled")
	}
	if cfg.Sonar.MaxFrameBytes != 4096 {
		t.Errorf("expected max_frame_bytes=4096, got %d", cfg.Sonar.MaxFrameBytes)
	}
	if cfg.Database.Path != "/var/lib/sonar/sonar.db" || cfg.Database.PoolSize != 8 {
		t.Errorf("unexpected database config %+v", cfg.Database)
	}
	if cfg.Admin.Socket != "/run/sonar/admin.sock" {
		t.Errorf("expected admin socket, got %q", cfg.Admin.Socket)
	}
	if cfg.Metrics.Listen != "127.0.0.1:9100" {
		t.Errorf("expected metrics listen, got %q", cfg.Metrics.Listen)
	}
	if cfg.Log.SlogLevel() != slog.LevelWarn {
		t.Errorf("expected warn level, got %v", cfg.Log.SlogLevel())
	}
	if cfg.Log.Format != "json" {
		t.Errorf("expected json format, got %s", cfg.Log.Format)
	}
	if cfg.Bootstrap != "/etc/sonar/seed.jsonc" {
		t.Errorf("expected bootstrap path, got %q", cfg.Bootstrap)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	configPath := writeConfig(t, `
sonar:
  port: 70000
  tls_cert: /etc/sonar/cert.pem
log:
  format: xml
`)

	_, err := LoadFile(configPath)
	if err == nil {
		t.Fatal("expected validation error")
	}
	var configErr *namespace.ConfigurationError
	if !errors.As(err, &configErr) {
		t.Fatalf("error %v does not contain a *namespace.ConfigurationError", err)
	}
	for _, key := range []string{"sonar.port", "sonar.tls_cert", "log.format"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestLoadFile_Malformed(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "sonar: [port"))
	if err == nil || !strings.Contains(err.Error(), "parsing") {
		t.Errorf("LoadFile = %v, want parse error", err)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadFile of missing file = %v, want ErrNotExist", err)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, `
environment: production
sonar:
  port: 4100
log:
  level: info
production:
  log:
    level: error
  metrics:
    listen: 0.0.0.0:9100
`))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("expected level=error from production override, got %s", cfg.Log.Level)
	}
	if cfg.Metrics.Listen != "0.0.0.0:9100" {
		t.Errorf("expected metrics listen from override, got %q", cfg.Metrics.Listen)
	}

	// Development without its own section logs text at debug.
	cfg, err = LoadFile(writeConfig(t, `
environment: development
sonar:
  port: 4100
`))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Log.Format != "text" || cfg.Log.SlogLevel() != slog.LevelDebug {
		t.Errorf("unexpected development log config %+v", cfg.Log)
	}
}

func TestEnvVarsDoNotOverride(t *testing.T) {
	t.Setenv("SONAR_PORT", "5000")
	t.Setenv("SONAR_ENVIRONMENT", "development")

	cfg, err := LoadFile(writeConfig(t, `
sonar:
  port: 4100
`))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Sonar.Port != 4100 {
		t.Errorf("expected port=4100 from file, got %d (env vars should not override)", cfg.Sonar.Port)
	}
	if cfg.Environment != Production {
		t.Errorf("expected environment=production, got %s (env vars should not override)", cfg.Environment)
	}
}

func TestPathExpansion(t *testing.T) {
	t.Setenv("HOME", "/home/sonar")
	t.Setenv("SONAR_STATE", "/srv/sonar")

	cfg, err := LoadFile(writeConfig(t, `
sonar:
  port: 4100
database:
  path: ${SONAR_STATE}/sonar.db
admin:
  socket: ${RUNTIME_DIR:-/run/sonar}/admin.sock
bootstrap: ${HOME}/seed.jsonc
`))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Database.Path != "/srv/sonar/sonar.db" {
		t.Errorf("database.path = %q", cfg.Database.Path)
	}
	if cfg.Admin.Socket != "/run/sonar/admin.sock" {
		t.Errorf("admin.socket = %q", cfg.Admin.Socket)
	}
	if cfg.Bootstrap != "/home/sonar/seed.jsonc" {
		t.Errorf("bootstrap = %q", cfg.Bootstrap)
	}
}

func TestExpandVars(t *testing.T) {
	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{
			input:    "${HOME}/sonar",
			vars:     map[string]string{"HOME": "/home/user"},
			expected: "/home/user/sonar",
		},
		{
			input:    "${MISSING_SONAR_TEST_VAR:-default}",
			vars:     map[string]string{},
			expected: "default",
		},
		{
			input:    "${PRESENT:-default}",
			vars:     map[string]string{"PRESENT": "value"},
			expected: "value",
		},
		{
			input:    "${A}/${B}",
			vars:     map[string]string{"A": "first", "B": "second"},
			expected: "first/second",
		},
		{
			input:    "no variables here",
			vars:     map[string]string{},
			expected: "no variables here",
		},
	}

	for _, tt := range tests {
		result := expandVars(tt.input, tt.vars)
		if result != tt.expected {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			modify: func(c *Config) {},
		},
		{
			name:    "invalid environment",
			modify:  func(c *Config) { c.Environment = "staging" },
			wantErr: "environment",
		},
		{
			name:    "negative port",
			modify:  func(c *Config) { c.Sonar.Port = -1 },
			wantErr: "sonar.port",
		},
		{
			name:    "bind is not an address",
			modify:  func(c *Config) { c.Sonar.Bind = "localhost" },
			wantErr: "sonar.bind",
		},
		{
			name:    "key without cert",
			modify:  func(c *Config) { c.Sonar.TLSKey = "/key.pem" },
			wantErr: "sonar.tls_cert",
		},
		{
			name:    "tiny frame limit",
			modify:  func(c *Config) { c.Sonar.MaxFrameBytes = 8 },
			wantErr: "sonar.max_frame_bytes",
		},
		{
			name: "empty pool",
			modify: func(c *Config) {
				c.Database.Path = "/tmp/sonar.db"
				c.Database.PoolSize = 0
			},
			wantErr: "database.pool_size",
		},
		{
			name:    "metrics without port",
			modify:  func(c *Config) { c.Metrics.Listen = "localhost" },
			wantErr: "metrics.listen",
		},
		{
			name:    "unknown level",
			modify:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: "log.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Sonar.Port = 4100
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}
