package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from an optional file path, environment
// variables prefixed MCPCORE_, and falls back to Default() for anything
// unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	def := Default()
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("listen", def.Listen)
	v.SetDefault("max_connections", def.MaxConnections)
	v.SetDefault("connection_timeout", def.ConnectionTimeout)
	v.SetDefault("request_timeout_default", def.RequestTimeoutDefault)
	v.SetDefault("request_timeout_max", def.RequestTimeoutMax)
	v.SetDefault("health_interval", def.HealthInterval)
	v.SetDefault("discovery_interval", def.DiscoveryInterval)
	v.SetDefault("idle_evict", def.IdleEvict)
	v.SetDefault("max_retries", def.MaxRetries)
	v.SetDefault("retry_delay", def.RetryDelay)
	v.SetDefault("execution_stuck_interval", def.ExecutionStuckInterval)
	v.SetDefault("event_sink_buffer", def.EventSinkBuffer)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.enable_console", def.Log.EnableConsole)
	v.SetDefault("log.enable_file", def.Log.EnableFile)
	v.SetDefault("log.filename", def.Log.Filename)
	v.SetDefault("log.max_size_mb", def.Log.MaxSize)
	v.SetDefault("log.max_backups", def.Log.MaxBackups)
	v.SetDefault("log.max_age_days", def.Log.MaxAge)
	v.SetDefault("log.compress", def.Log.Compress)
	v.SetDefault("log.json_format", def.Log.JSONFormat)

	v.SetEnvPrefix("MCPCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	cfg := &Config{Log: &LogConfig{}}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
