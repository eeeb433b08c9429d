// Package config loads server configuration from environment variables
// and an optional .env file, following the same env/envDefault tag
// convention and validate-then-log flow the rest of this codebase uses.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration.
//
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Server basics
	Addr string `env:"BLIP_ADDR" envDefault:":4984"`

	// BLIP protocol tuning
	CompressionLevel int           `env:"BLIP_COMPRESSION_LEVEL" envDefault:"6"`
	IdleTimeout      time.Duration `env:"BLIP_IDLE_TIMEOUT" envDefault:"5m"`

	// Resource limits (from container)
	CPULimit    float64 `env:"BLIP_CPU_LIMIT" envDefault:"1.0"`
	MemoryLimit int64   `env:"BLIP_MEMORY_LIMIT" envDefault:"536870912"` // 512MB

	// Capacity and admission
	MaxConnections  int     `env:"BLIP_MAX_CONNECTIONS" envDefault:"500"`
	ConnRatePerSec  float64 `env:"BLIP_CONN_RATE_PER_SEC" envDefault:"50"`
	ConnRateBurst   int     `env:"BLIP_CONN_RATE_BURST" envDefault:"100"`

	// CPU safety thresholds, in percent of host CPU as sampled by sysmon
	// (the same reading the admission limiter's CPU check uses)
	CPURejectThreshold float64 `env:"BLIP_CPU_REJECT_THRESHOLD" envDefault:"75.0"`
	CPUPauseThreshold  float64 `env:"BLIP_CPU_PAUSE_THRESHOLD" envDefault:"80.0"`

	// Replication checkpoint behavior
	SparseCheckpoints bool `env:"BLIP_SPARSE_CHECKPOINTS" envDefault:"true"`

	// Monitoring
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from a .env file (if present) and environment
// variables, in that order of increasing priority, then validates it.
// logger may be nil.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	if logger != nil {
		logger.Info().Msg("configuration loaded and validated")
	}
	return cfg, nil
}

// Validate checks configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("BLIP_ADDR is required")
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > 9 {
		return fmt.Errorf("BLIP_COMPRESSION_LEVEL must be 0-9, got %d", c.CompressionLevel)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("BLIP_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("BLIP_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}
	if c.CPUPauseThreshold < 0 || c.CPUPauseThreshold > 100 {
		return fmt.Errorf("BLIP_CPU_PAUSE_THRESHOLD must be 0-100, got %.1f", c.CPUPauseThreshold)
	}
	if c.CPUPauseThreshold < c.CPURejectThreshold {
		return fmt.Errorf("BLIP_CPU_PAUSE_THRESHOLD (%.1f) must be >= BLIP_CPU_REJECT_THRESHOLD (%.1f)",
			c.CPUPauseThreshold, c.CPURejectThreshold)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "text": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, text, pretty (got: %s)", c.LogFormat)
	}
	return nil
}

// LogConfig logs configuration using structured logging.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Int("compression_level", c.CompressionLevel).
		Dur("idle_timeout", c.IdleTimeout).
		Float64("cpu_limit", c.CPULimit).
		Int64("memory_limit_mb", c.MemoryLimit/(1024*1024)).
		Int("max_connections", c.MaxConnections).
		Float64("conn_rate_per_sec", c.ConnRatePerSec).
		Int("conn_rate_burst", c.ConnRateBurst).
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Float64("cpu_pause_threshold", c.CPUPauseThreshold).
		Bool("sparse_checkpoints", c.SparseCheckpoints).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("server configuration loaded")
}
