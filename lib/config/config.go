// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/sonar/lib/namespace"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// DefaultMaxFrameBytes bounds a single protocol frame unless
// sonar.max_frame_bytes says otherwise.
const DefaultMaxFrameBytes = 1 << 20

// Config is the server configuration.
type Config struct {
	// Environment selects logging defaults and which override section
	// applies.
	Environment Environment `yaml:"environment"`

	Sonar    SonarConfig    `yaml:"sonar"`
	Database DatabaseConfig `yaml:"database"`
	Admin    AdminConfig    `yaml:"admin"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`

	// Bootstrap is the path of a JSONC seed file applied when the
	// store holds no users. Empty disables seeding.
	Bootstrap string `yaml:"bootstrap"`

	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides contains the fields an environment section may replace.
type Overrides struct {
	Log     *LogConfig     `yaml:"log,omitempty"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
}

// SonarConfig configures the protocol listener.
type SonarConfig struct {
	// Port is required.
	Port int `yaml:"port"`

	// Bind is the listen address. Default: all interfaces.
	Bind string `yaml:"bind"`

	// TLSCert and TLSKey enable TLS. Both or neither.
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`

	MaxFrameBytes int `yaml:"max_frame_bytes"`
}

// Address returns the host:port the listener binds.
func (s SonarConfig) Address() string {
	return net.JoinHostPort(s.Bind, strconv.Itoa(s.Port))
}

// TLS reports whether the listener serves TLS.
func (s SonarConfig) TLS() bool {
	return s.TLSCert != ""
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path of the database file. Empty runs without persistence.
	Path string `yaml:"path"`

	// PoolSize is the number of pooled connections.
	PoolSize int `yaml:"pool_size"`
}

// AdminConfig configures the control socket.
type AdminConfig struct {
	// Socket is the Unix socket path. Empty disables the socket.
	Socket string `yaml:"socket"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the host:port of the HTTP endpoint. Empty disables it.
	Listen string `yaml:"listen"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// SlogLevel returns the configured level. Validate has already
// rejected unknown names.
func (l LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Default returns the configuration values a file is merged into.
// sonar.port has no default.
func Default() *Config {
	return &Config{
		Environment: Production,
		Sonar: SonarConfig{
			MaxFrameBytes: DefaultMaxFrameBytes,
		},
		Database: DatabaseConfig{
			PoolSize: 4,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from the file named by SONAR_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv("SONAR_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("SONAR_CONFIG environment variable not set; " +
			"set it to the path of your sonar.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads, expands and validates the configuration at path.
// A file that parses but does not validate yields an error wrapping one
// or more *namespace.ConfigurationError values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
		if overrides == nil {
			overrides = &Overrides{Log: &LogConfig{Level: "debug", Format: "text"}}
		}
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if overrides.Log != nil {
		if overrides.Log.Level != "" {
			c.Log.Level = overrides.Log.Level
		}
		if overrides.Log.Format != "" {
			c.Log.Format = overrides.Log.Format
		}
	}
	if overrides.Metrics != nil && overrides.Metrics.Listen != "" {
		c.Metrics.Listen = overrides.Metrics.Listen
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	for _, field := range []*string{
		&c.Sonar.TLSCert,
		&c.Sonar.TLSKey,
		&c.Database.Path,
		&c.Admin.Socket,
		&c.Bootstrap,
	} {
		*field = expandVars(*field, vars)
	}
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

func invalid(key, reason string) error {
	return &namespace.ConfigurationError{Subject: key, Reason: reason}
}

// Validate checks the configuration. Every problem is reported, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, invalid("environment", fmt.Sprintf("unknown environment %q", c.Environment)))
	}

	switch {
	case c.Sonar.Port == 0:
		errs = append(errs, invalid("sonar.port", "required"))
	case c.Sonar.Port < 1 || c.Sonar.Port > 65535:
		errs = append(errs, invalid("sonar.port", fmt.Sprintf("%d is outside 1-65535", c.Sonar.Port)))
	}
	if c.Sonar.Bind != "" {
		if _, err := netip.ParseAddr(c.Sonar.Bind); err != nil {
			errs = append(errs, invalid("sonar.bind", fmt.Sprintf("%q is not an IP address", c.Sonar.Bind)))
		}
	}
	if (c.Sonar.TLSCert == "") != (c.Sonar.TLSKey == "") {
		errs = append(errs, invalid("sonar.tls_cert", "tls_cert and tls_key must be set together"))
	}
	if c.Sonar.MaxFrameBytes < 64 {
		errs = append(errs, invalid("sonar.max_frame_bytes", fmt.Sprintf("%d is below the 64 byte minimum", c.Sonar.MaxFrameBytes)))
	}

	if c.Database.Path != "" && c.Database.PoolSize < 1 {
		errs = append(errs, invalid("database.pool_size", "must be at least 1"))
	}

	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			errs = append(errs, invalid("metrics.listen", err.Error()))
		}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		errs = append(errs, invalid("log.level", fmt.Sprintf("unknown level %q", c.Log.Level)))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, invalid("log.format", `must be "json" or "text"`))
	}

	if strings.TrimSpace(c.Bootstrap) != c.Bootstrap {
		errs = append(errs, invalid("bootstrap", "path has surrounding whitespace"))
	}

	return errors.Join(errs...)
}
