// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable Load reads the config path
// from.
const EnvironmentVariable = "CONTENT_ANALYSIS_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the complete configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Agent  AgentConfig  `yaml:"agent"`
	Client ClientConfig `yaml:"client"`
	Audit  AuditConfig  `yaml:"audit"`
	Policy PolicyConfig `yaml:"policy"`

	Development *ConfigOverrides `yaml:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides holds the fields an environment section may replace.
type ConfigOverrides struct {
	LogLevel string        `yaml:"log_level,omitempty"`
	Audit    *AuditConfig  `yaml:"audit,omitempty"`
	Policy   *PolicyConfig `yaml:"policy,omitempty"`
}

// AgentConfig describes the endpoint the agent serves.
type AgentConfig struct {
	// Name identifies the agent; browsers use the same name.
	Name string `yaml:"name"`

	// UserSpecific scopes the endpoint to the current user.
	UserSpecific bool `yaml:"user_specific"`

	// SocketDirectory holds the endpoint. Empty means the system
	// temporary directory.
	SocketDirectory string `yaml:"socket_directory"`

	// PoolSize is the number of browsers served at once, and the
	// number of sessions analysed concurrently.
	PoolSize int `yaml:"pool_size"`

	// Backlog is the kernel accept queue behind the pool.
	Backlog int `yaml:"backlog"`

	// MaxMessageSize bounds one request frame in bytes.
	MaxMessageSize int `yaml:"max_message_size"`

	// AcknowledgementTimeout bounds how long a worker waits for the
	// browser's acknowledgement after sending a verdict.
	AcknowledgementTimeout time.Duration `yaml:"acknowledgement_timeout"`
}

// ClientConfig describes how the client reaches the agent.
type ClientConfig struct {
	Name            string      `yaml:"name"`
	UserSpecific    bool        `yaml:"user_specific"`
	SocketDirectory string      `yaml:"socket_directory"`
	Retry           RetryConfig `yaml:"retry"`

	// Timeout bounds one request/response round trip.
	Timeout time.Duration `yaml:"timeout"`
}

// RetryConfig bounds how long the client waits out a busy agent.
type RetryConfig struct {
	// MaxAttempts of zero retries until Timeout.
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// AuditConfig configures the verdict audit log.
type AuditConfig struct {
	// Database is the SQLite file path. Empty disables auditing.
	Database string `yaml:"database"`

	// PoolSize is the number of database connections.
	PoolSize int `yaml:"pool_size"`
}

// PolicyConfig configures verdict rules.
type PolicyConfig struct {
	// RulesFile is the YAML rules file. Empty allows everything.
	RulesFile string `yaml:"rules_file"`

	// MaxContentBytes bounds how much of a file request's content is
	// read for pattern matching.
	MaxContentBytes int64 `yaml:"max_content_bytes"`
}

// Default returns the configuration every loaded file is merged onto.
func Default() *Config {
	return &Config{
		Environment: Development,
		LogLevel:    "info",
		Agent: AgentConfig{
			Name:                   "content_analysis",
			PoolSize:               8,
			Backlog:                16,
			MaxMessageSize:         64 << 20,
			AcknowledgementTimeout: 30 * time.Second,
		},
		Client: ClientConfig{
			Name: "content_analysis",
			Retry: RetryConfig{
				InitialBackoff: 10 * time.Millisecond,
				MaxBackoff:     time.Second,
			},
			Timeout: 60 * time.Second,
		},
		Audit: AuditConfig{
			PoolSize: 4,
		},
		Policy: PolicyConfig{
			MaxContentBytes: 1 << 20,
		},
	}
}

// Load loads the file named by CONTENT_ANALYSIS_CONFIG. It fails if the
// variable is unset.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your config file, or use --config", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path over Default().
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
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if overrides.LogLevel != "" {
		c.LogLevel = overrides.LogLevel
	}
	if overrides.Audit != nil {
		if overrides.Audit.Database != "" {
			c.Audit.Database = overrides.Audit.Database
		}
		if overrides.Audit.PoolSize != 0 {
			c.Audit.PoolSize = overrides.Audit.PoolSize
		}
	}
	if overrides.Policy != nil {
		if overrides.Policy.RulesFile != "" {
			c.Policy.RulesFile = overrides.Policy.RulesFile
		}
		if overrides.Policy.MaxContentBytes != 0 {
			c.Policy.MaxContentBytes = overrides.Policy.MaxContentBytes
		}
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME":            os.Getenv("HOME"),
		"XDG_RUNTIME_DIR": os.Getenv("XDG_RUNTIME_DIR"),
	}

	c.Agent.SocketDirectory = expandVars(c.Agent.SocketDirectory, vars)
	c.Client.SocketDirectory = expandVars(c.Client.SocketDirectory, vars)
	c.Audit.Database = expandVars(c.Audit.Database, vars)
	c.Policy.RulesFile = expandVars(c.Policy.RulesFile, vars)
}

// varPattern matches ${VAR} and ${VAR:-default}.
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

var logLevels = []string{"debug", "info", "warn", "error"}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if !slices.Contains(logLevels, c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level must be one of: %v", logLevels))
	}

	errs = append(errs, validateName("agent.name", c.Agent.Name)...)
	if c.Agent.PoolSize < 1 {
		errs = append(errs, errors.New("agent.pool_size must be at least 1"))
	}
	if c.Agent.Backlog < 0 {
		errs = append(errs, errors.New("agent.backlog must not be negative"))
	}
	if c.Agent.MaxMessageSize < 0 {
		errs = append(errs, errors.New("agent.max_message_size must not be negative"))
	}
	if c.Agent.AcknowledgementTimeout <= 0 {
		errs = append(errs, errors.New("agent.acknowledgement_timeout must be positive"))
	}

	errs = append(errs, validateName("client.name", c.Client.Name)...)
	retry := c.Client.Retry
	if retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("client.retry.max_attempts must not be negative"))
	}
	if retry.InitialBackoff < 0 || retry.MaxBackoff < 0 {
		errs = append(errs, errors.New("client.retry backoff durations must not be negative"))
	}
	if retry.MaxBackoff > 0 && retry.MaxBackoff < retry.InitialBackoff {
		errs = append(errs, errors.New("client.retry.max_backoff must not be less than initial_backoff"))
	}
	if c.Client.Timeout <= 0 {
		errs = append(errs, errors.New("client.timeout must be positive"))
	}

	if c.Audit.Database != "" && c.Audit.PoolSize < 1 {
		errs = append(errs, errors.New("audit.pool_size must be at least 1"))
	}
	if c.Policy.MaxContentBytes <= 0 {
		errs = append(errs, errors.New("policy.max_content_bytes must be positive"))
	}

	return errors.Join(errs...)
}

func validateName(field, name string) []error {
	switch {
	case name == "":
		return []error{fmt.Errorf("%s is required", field)}
	case strings.ContainsRune(name, '/'):
		return []error{fmt.Errorf("%s must not contain '/'", field)}
	}
	return nil
}

// SlogLevel returns LogLevel as a slog.Level. Unknown values map to
// info; Validate reports them.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
