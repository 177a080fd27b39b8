// Package config holds the runtime configuration for the MCP integration
// core: the connection pool, engine, health loop, and storage locations.
package config

import (
	"fmt"
	"time"
)

// LogConfig controls the structured logger.
type LogConfig struct {
	Level         string `mapstructure:"level"`
	EnableConsole bool   `mapstructure:"enable_console"`
	EnableFile    bool   `mapstructure:"enable_file"`
	LogDir        string `mapstructure:"log_dir"`
	Filename      string `mapstructure:"filename"`
	MaxSize       int    `mapstructure:"max_size_mb"`
	MaxBackups    int    `mapstructure:"max_backups"`
	MaxAge        int    `mapstructure:"max_age_days"`
	Compress      bool   `mapstructure:"compress"`
	JSONFormat    bool   `mapstructure:"json_format"`
}

// DefaultLogConfig returns the console-only default logger configuration.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:         "info",
		EnableConsole: true,
		EnableFile:    false,
		Filename:      "core.log",
		MaxSize:       10,
		MaxBackups:    5,
		MaxAge:        30,
		Compress:      true,
	}
}

// Config is the full configuration surface.
type Config struct {
	DataDir string `mapstructure:"data_dir"`
	Listen  string `mapstructure:"listen"`

	MaxConnections        int           `mapstructure:"max_connections"`
	ConnectionTimeout      time.Duration `mapstructure:"connection_timeout"`
	RequestTimeoutDefault  time.Duration `mapstructure:"request_timeout_default"`
	RequestTimeoutMax      time.Duration `mapstructure:"request_timeout_max"`
	HealthInterval         time.Duration `mapstructure:"health_interval"`
	DiscoveryInterval      time.Duration `mapstructure:"discovery_interval"`
	IdleEvict              time.Duration `mapstructure:"idle_evict"`
	MaxRetries             int           `mapstructure:"max_retries"`
	RetryDelay             time.Duration `mapstructure:"retry_delay"`
	ExecutionStuckInterval time.Duration `mapstructure:"execution_stuck_interval"`
	EventSinkBuffer        int           `mapstructure:"event_sink_buffer"`

	Log *LogConfig `mapstructure:"log"`
}

// Default returns the configuration with every documented default applied.
func Default() *Config {
	return &Config{
		DataDir:                "~/.mcp-integration-core",
		Listen:                 "127.0.0.1:8080",
		MaxConnections:         50,
		ConnectionTimeout:      30 * time.Second,
		RequestTimeoutDefault:  30 * time.Second,
		RequestTimeoutMax:      10 * time.Minute,
		HealthInterval:         60 * time.Second,
		DiscoveryInterval:      15 * time.Minute,
		IdleEvict:              30 * time.Minute,
		MaxRetries:             3,
		RetryDelay:             time.Second,
		ExecutionStuckInterval: 5 * time.Minute,
		EventSinkBuffer:        1024,
		Log:                    DefaultLogConfig(),
	}
}

// Validate checks invariants that must hold before the core can start.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive, got %d", c.MaxConnections)
	}
	if c.RequestTimeoutDefault <= 0 {
		return fmt.Errorf("request_timeout_default must be positive")
	}
	if c.RequestTimeoutMax < c.RequestTimeoutDefault {
		return fmt.Errorf("request_timeout_max (%s) must be >= request_timeout_default (%s)",
			c.RequestTimeoutMax, c.RequestTimeoutDefault)
	}
	if c.EventSinkBuffer <= 0 {
		return fmt.Errorf("event_sink_buffer must be positive")
	}
	return nil
}

// ClampRequestTimeout enforces the requestTimeoutMsMax upper bound:
// caller-supplied timeouts larger than the configured maximum are
// clamped rather than rejected.
func (c *Config) ClampRequestTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		return c.RequestTimeoutDefault
	}
	if requested > c.RequestTimeoutMax {
		return c.RequestTimeoutMax
	}
	return requested
}
