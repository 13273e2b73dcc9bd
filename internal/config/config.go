// Package config loads run configuration from an optional YAML file with
// PW_* environment-variable overrides layered on top. Precedence is
// defaults < file < environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable for a probeweave run.
type Config struct {
	// MaxAttempts is the repair budget per construct. Range: 1-10.
	MaxAttempts int `yaml:"max_attempts"`

	// Workers overrides the computed pool capacity when > 0.
	Workers int `yaml:"workers"`

	// RequestsPerMinute is the oracle provider's rate budget. Zero disables
	// client-side rate limiting.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	Sandbox SandboxConfig `yaml:"sandbox"`
	Cache   CacheConfig   `yaml:"cache"`
	Oracle  OracleConfig  `yaml:"oracle"`
}

// SandboxConfig controls script execution isolation.
type SandboxConfig struct {
	// Interpreter executes generated scripts. Must be on PATH.
	Interpreter string `yaml:"interpreter"`

	// Root is the parent directory for per-execution workspaces. Empty
	// selects the system temp directory.
	Root string `yaml:"root"`

	// TimeoutSeconds bounds each script execution. Range: 1-300.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// MemoryLimitMB caps the interpreter's address space. Zero disables
	// the ceiling.
	MemoryLimitMB int `yaml:"memory_limit_mb"`

	// PreserveFailed keeps the workspaces of failed executions for
	// debugging instead of removing them.
	PreserveFailed bool `yaml:"preserve_failed"`
}

// CacheConfig controls artifact persistence.
type CacheConfig struct {
	// Path is the SQLite database file. ":memory:" selects an in-process
	// store that does not survive the run.
	Path string `yaml:"path"`
}

// OracleConfig controls the repair model.
type OracleConfig struct {
	// Model names the Anthropic model used for repair.
	Model string `yaml:"model"`

	// APIKey authenticates with the provider. Usually left empty here and
	// supplied via ANTHROPIC_API_KEY instead.
	APIKey string `yaml:"api_key"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		MaxAttempts:       3,
		RequestsPerMinute: 50,
		Sandbox: SandboxConfig{
			Interpreter:    "python3",
			TimeoutSeconds: 10,
			MemoryLimitMB:  512,
		},
		Cache: CacheConfig{
			Path: defaultCachePath(),
		},
		Oracle: OracleConfig{
			Model: "claude-sonnet-4-5-20250929",
		},
	}
}

func defaultCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".probeweave/cache.db"
	}
	return home + "/.probeweave/cache.db"
}

// Load builds the effective configuration. path may be empty, in which case
// only defaults and the environment apply. A missing file at a non-empty
// path is an error; the caller asked for it explicitly.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays PW_* environment variables onto the config.
//
// Environment variables:
//   - PW_MAX_ATTEMPTS: repair budget per construct (default: 3)
//   - PW_WORKERS: worker pool override, 0 = computed (default: 0)
//   - PW_REQUESTS_PER_MINUTE: oracle rate budget (default: 50)
//   - PW_SANDBOX_INTERPRETER: script interpreter (default: python3)
//   - PW_SANDBOX_ROOT: workspace parent directory (default: system temp)
//   - PW_SANDBOX_TIMEOUT_SECONDS: per-execution timeout (default: 10)
//   - PW_SANDBOX_MEMORY_LIMIT_MB: interpreter memory ceiling (default: 512)
//   - PW_SANDBOX_PRESERVE_FAILED: keep failed workspaces (default: false)
//   - PW_CACHE_PATH: SQLite cache file (default: ~/.probeweave/cache.db)
//   - PW_ORACLE_MODEL: repair model name
func (c *Config) applyEnv() error {
	if err := parseEnvInt("PW_MAX_ATTEMPTS", &c.MaxAttempts); err != nil {
		return err
	}
	if err := parseEnvInt("PW_WORKERS", &c.Workers); err != nil {
		return err
	}
	if err := parseEnvInt("PW_REQUESTS_PER_MINUTE", &c.RequestsPerMinute); err != nil {
		return err
	}
	parseEnvString("PW_SANDBOX_INTERPRETER", &c.Sandbox.Interpreter)
	parseEnvString("PW_SANDBOX_ROOT", &c.Sandbox.Root)
	if err := parseEnvInt("PW_SANDBOX_TIMEOUT_SECONDS", &c.Sandbox.TimeoutSeconds); err != nil {
		return err
	}
	if err := parseEnvInt("PW_SANDBOX_MEMORY_LIMIT_MB", &c.Sandbox.MemoryLimitMB); err != nil {
		return err
	}
	if err := parseEnvBool("PW_SANDBOX_PRESERVE_FAILED", &c.Sandbox.PreserveFailed); err != nil {
		return err
	}
	parseEnvString("PW_CACHE_PATH", &c.Cache.Path)
	parseEnvString("PW_ORACLE_MODEL", &c.Oracle.Model)
	return nil
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 || c.MaxAttempts > 10 {
		return fmt.Errorf("max_attempts must be between 1 and 10 (got %d)", c.MaxAttempts)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers cannot be negative (got %d)", c.Workers)
	}
	if c.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute cannot be negative (got %d)", c.RequestsPerMinute)
	}
	if c.Sandbox.Interpreter == "" {
		return fmt.Errorf("sandbox.interpreter cannot be empty")
	}
	if c.Sandbox.TimeoutSeconds < 1 || c.Sandbox.TimeoutSeconds > 300 {
		return fmt.Errorf("sandbox.timeout_seconds must be between 1 and 300 (got %d)",
			c.Sandbox.TimeoutSeconds)
	}
	if c.Sandbox.MemoryLimitMB < 0 {
		return fmt.Errorf("sandbox.memory_limit_mb cannot be negative (got %d)",
			c.Sandbox.MemoryLimitMB)
	}
	if c.Cache.Path == "" {
		return fmt.Errorf("cache.path cannot be empty")
	}
	if c.Oracle.Model == "" {
		return fmt.Errorf("oracle.model cannot be empty")
	}
	return nil
}

// SandboxTimeout returns the per-execution timeout as a duration.
func (c Config) SandboxTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSeconds) * time.Second
}

func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

func parseEnvString(key string, dest *string) {
	if value := os.Getenv(key); value != "" {
		*dest = value
	}
}
