package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Budget   BudgetConfig   `mapstructure:"budget"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport   string `mapstructure:"transport"`
	HTTPPort    int    `mapstructure:"http_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// SandboxConfig holds sandbox configuration
type SandboxConfig struct {
	Engine            string  `mapstructure:"engine"`
	Image             string  `mapstructure:"image"`
	Dockerfile        string  `mapstructure:"dockerfile"`
	WorkDir           string  `mapstructure:"work_dir"`
	TimeoutSec        int     `mapstructure:"timeout_sec"`
	MemoryMB          int     `mapstructure:"memory_mb"`
	CPUs              float64 `mapstructure:"cpus"`
	MaxArtifactSizeMB int     `mapstructure:"max_artifact_size_mb"`
	NetworkEnabled    bool    `mapstructure:"network_enabled"`
	User              string  `mapstructure:"user"`
}

// WorkflowConfig holds retry loop configuration
type WorkflowConfig struct {
	MaxAttempts int    `mapstructure:"max_attempts"`
	GenCodesDir string `mapstructure:"gen_codes_dir"`
}

// OracleConfig holds the model backend configuration
type OracleConfig struct {
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	TimeoutSec  int     `mapstructure:"timeout_sec"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// BudgetConfig holds the shared usage ceilings
type BudgetConfig struct {
	Backend   string `mapstructure:"backend"`
	MaxCalls  int64  `mapstructure:"max_calls"`
	MaxTokens int64  `mapstructure:"max_tokens"`
}

// StoreConfig holds the SQLite store configuration
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// Logging modes
const (
	LogModeProduction  = "production"
	LogModeDevelopment = "development"
	LogModeCLI         = "cli"
)

// Environment variables with fixed names
const (
	EnvRunnerImage = "CODELOOP_RUNNER_IMAGE"
	EnvDockerfile  = "CODELOOP_DOCKERFILE"
	EnvAPIKey      = "CODELOOP_API_KEY"
)

// New loads and validates the application configuration
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	return Load(v)
}

// Load applies defaults and environment bindings to v, reads its config
// file if one is found, and returns the validated configuration.
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("CODELOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("sandbox.image", EnvRunnerImage)
	_ = v.BindEnv("sandbox.dockerfile", EnvDockerfile)
	_ = v.BindEnv("oracle.api_key", EnvAPIKey, "OPENAI_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 0)

	v.SetDefault("sandbox.engine", "docker")
	v.SetDefault("sandbox.image", "codeloop-runner:py313")
	v.SetDefault("sandbox.dockerfile", "")
	v.SetDefault("sandbox.work_dir", "")
	v.SetDefault("sandbox.timeout_sec", 120)
	v.SetDefault("sandbox.memory_mb", 1024)
	v.SetDefault("sandbox.cpus", 1.0)
	v.SetDefault("sandbox.max_artifact_size_mb", 20)
	v.SetDefault("sandbox.network_enabled", false)
	v.SetDefault("sandbox.user", "")

	v.SetDefault("workflow.max_attempts", 3)
	v.SetDefault("workflow.gen_codes_dir", "")

	v.SetDefault("oracle.base_url", "https://api.openai.com")
	v.SetDefault("oracle.api_key", "")
	v.SetDefault("oracle.model", "gpt-4o-mini")
	v.SetDefault("oracle.timeout_sec", 120)
	v.SetDefault("oracle.temperature", 0.0)
	v.SetDefault("oracle.max_tokens", 8192)

	v.SetDefault("budget.backend", "memory")
	v.SetDefault("budget.max_calls", 1000)
	v.SetDefault("budget.max_tokens", 1_000_000)

	v.SetDefault("store.path", "codeloop.db")

	v.SetDefault("logging.mode", LogModeProduction)
	v.SetDefault("logging.level", "info")
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.MetricsPort < 0 {
		return fmt.Errorf("server.metrics_port must not be negative, got: %d", c.Server.MetricsPort)
	}

	if c.Sandbox.Engine != "docker" && c.Sandbox.Engine != "podman" {
		return fmt.Errorf("unsupported sandbox.engine: %s", c.Sandbox.Engine)
	}

	if c.Sandbox.Image == "" {
		return fmt.Errorf("sandbox.image must not be empty")
	}

	if c.Sandbox.TimeoutSec <= 0 {
		return fmt.Errorf("sandbox.timeout_sec must be positive, got: %d", c.Sandbox.TimeoutSec)
	}

	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}

	if c.Sandbox.MaxArtifactSizeMB <= 0 {
		return fmt.Errorf("sandbox.max_artifact_size_mb must be positive, got: %d", c.Sandbox.MaxArtifactSizeMB)
	}

	if c.Workflow.MaxAttempts <= 0 {
		return fmt.Errorf("workflow.max_attempts must be positive, got: %d", c.Workflow.MaxAttempts)
	}

	if c.Oracle.TimeoutSec <= 0 {
		return fmt.Errorf("oracle.timeout_sec must be positive, got: %d", c.Oracle.TimeoutSec)
	}

	switch c.Budget.Backend {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for budget.backend sqlite")
		}
	default:
		return fmt.Errorf("unsupported budget.backend: %s", c.Budget.Backend)
	}

	if c.Budget.MaxCalls <= 0 || c.Budget.MaxTokens <= 0 {
		return fmt.Errorf("budget.max_calls and budget.max_tokens must be positive")
	}

	validModes := map[string]bool{LogModeProduction: true, LogModeDevelopment: true, LogModeCLI: true}
	if !validModes[c.Logging.Mode] {
		return fmt.Errorf("invalid logging.mode: %s", c.Logging.Mode)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
		"dpanic": true, "panic": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	return nil
}

// GetTimeout returns the sandbox run ceiling as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSec) * time.Second
}

// GetOracleTimeout returns the oracle request timeout as a duration
func (c *Config) GetOracleTimeout() time.Duration {
	return time.Duration(c.Oracle.TimeoutSec) * time.Second
}
