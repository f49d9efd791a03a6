// Package config provides configuration management for the bridge.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the bridge.
type Config struct {
	Engine      EngineConfig      `mapstructure:"engine"`
	Permissions PermissionsConfig `mapstructure:"permissions"`
	Analyzer    AnalyzerConfig    `mapstructure:"analyzer"`
	MCP         MCPConfig         `mapstructure:"mcp"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// EngineConfig holds configuration for the upstream agent engine process.
type EngineConfig struct {
	// Command is the engine binary to spawn (default: claude).
	Command string `mapstructure:"command"`

	// Args are extra arguments appended after the stream protocol flags.
	Args []string `mapstructure:"args"`

	// Model is the model the engine starts with when the host does not pick one.
	Model string `mapstructure:"model"`

	// InitTimeout bounds the engine initialize handshake, in seconds.
	InitTimeout int `mapstructure:"initTimeout"`

	// SettingsPath points at a settings file with hooks and permission rules.
	// Empty means the default location under the working directory.
	SettingsPath string `mapstructure:"settingsPath"`
}

// PermissionsConfig holds permission mediation configuration.
type PermissionsConfig struct {
	// DefaultMode is the permission mode new sessions start in.
	// One of: default, acceptEdits, plan, bypassPermissions.
	DefaultMode string `mapstructure:"defaultMode"`

	// RequestTimeout bounds a single host-side permission prompt, in seconds.
	// Zero means wait until the host answers or the turn is cancelled.
	RequestTimeout int `mapstructure:"requestTimeout"`
}

// AnalyzerConfig holds prompt analysis configuration.
type AnalyzerConfig struct {
	// Enabled controls whether prompts are analyzed before dispatch.
	Enabled bool `mapstructure:"enabled"`

	// AutoProfile applies the recommended model profile to the engine
	// when analysis classifies a prompt. Off by default so analysis is
	// purely advisory unless opted in.
	AutoProfile bool `mapstructure:"autoProfile"`
}

// MCPConfig holds the embedded MCP file server configuration.
type MCPConfig struct {
	// Enabled controls whether the streamable HTTP MCP server is started.
	Enabled bool `mapstructure:"enabled"`

	// Host and Port for the HTTP listener.
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// CredentialsConfig holds credential resolution configuration.
type CredentialsConfig struct {
	// File is the path to the stored credential file.
	// Empty means ~/.acpbridge/credentials.json.
	File string `mapstructure:"file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// InitTimeoutDuration returns the engine init timeout as a time.Duration.
func (e *EngineConfig) InitTimeoutDuration() time.Duration {
	return time.Duration(e.InitTimeout) * time.Second
}

// RequestTimeoutDuration returns the permission request timeout as a time.Duration.
// Zero duration means no timeout.
func (p *PermissionsConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(p.RequestTimeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	if env := os.Getenv("ACPBRIDGE_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.command", "claude")
	v.SetDefault("engine.args", []string{})
	v.SetDefault("engine.model", "")
	v.SetDefault("engine.initTimeout", 30)
	v.SetDefault("engine.settingsPath", "")

	// Permission defaults
	v.SetDefault("permissions.defaultMode", "default")
	v.SetDefault("permissions.requestTimeout", 0)

	// Analyzer defaults
	v.SetDefault("analyzer.enabled", true)
	v.SetDefault("analyzer.autoProfile", false)

	// MCP defaults
	v.SetDefault("mcp.enabled", false)
	v.SetDefault("mcp.host", "127.0.0.1")
	v.SetDefault("mcp.port", 9315)

	// Credential defaults
	v.SetDefault("credentials.file", "")

	// Logging defaults. Output goes to stderr because stdout carries
	// the protocol stream.
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stderr")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix ACPBRIDGE_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/acpbridge/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("ACPBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("engine.command", "ACPBRIDGE_ENGINE_COMMAND")
	_ = v.BindEnv("engine.initTimeout", "ACPBRIDGE_ENGINE_INIT_TIMEOUT")
	_ = v.BindEnv("engine.settingsPath", "ACPBRIDGE_ENGINE_SETTINGS_PATH")
	_ = v.BindEnv("permissions.defaultMode", "ACPBRIDGE_PERMISSIONS_DEFAULT_MODE")
	_ = v.BindEnv("analyzer.autoProfile", "ACPBRIDGE_ANALYZER_AUTO_PROFILE")
	_ = v.BindEnv("credentials.file", "ACPBRIDGE_CREDENTIALS_FILE")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/acpbridge/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Engine.Command == "" {
		errs = append(errs, "engine.command is required")
	}
	if cfg.Engine.InitTimeout <= 0 {
		errs = append(errs, "engine.initTimeout must be positive")
	}

	validModes := map[string]bool{"default": true, "acceptEdits": true, "plan": true, "bypassPermissions": true}
	if !validModes[cfg.Permissions.DefaultMode] {
		errs = append(errs, "permissions.defaultMode must be one of: default, acceptEdits, plan, bypassPermissions")
	}
	if cfg.Permissions.RequestTimeout < 0 {
		errs = append(errs, "permissions.requestTimeout must not be negative")
	}

	if cfg.MCP.Enabled {
		// Port 0 asks the OS for an ephemeral port.
		if cfg.MCP.Port < 0 || cfg.MCP.Port > 65535 {
			errs = append(errs, "mcp.port must be between 0 and 65535")
		}
		if cfg.MCP.Host == "" {
			errs = append(errs, "mcp.host is required when mcp.enabled is set")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
