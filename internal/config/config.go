// Package config loads the requestopt configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/FairForge/requestopt/internal/benchmark"
	"github.com/FairForge/requestopt/internal/logging"
	"github.com/FairForge/requestopt/internal/optimizer"
	"github.com/FairForge/requestopt/internal/transport"
)

// Transport modes
const (
	TransportSimulated = "simulated"
	TransportHTTP      = "http"
)

// History backends
const (
	HistoryMemory   = "memory"
	HistoryFile     = "file"
	HistoryPostgres = "postgres"
	HistoryS3       = "s3"
)

// Config is the full process configuration
type Config struct {
	Logging   logging.LoggerConfig      `yaml:"logging"`
	Optimizer optimizer.Config          `yaml:"optimizer"`
	Benchmark BenchmarkConfig           `yaml:"benchmark"`
	Transport TransportConfig           `yaml:"transport"`
	Simulator transport.SimulatedConfig `yaml:"simulator"`
	Server    ServerConfig              `yaml:"server"`
	History   HistoryConfig             `yaml:"history"`
}

// BenchmarkConfig selects benchmark profiles
type BenchmarkConfig struct {
	Profile      string `yaml:"profile"`
	ProfilesFile string `yaml:"profiles_file"`
}

// TransportConfig selects the executor requests are sent through
type TransportConfig struct {
	Mode string               `yaml:"mode"`
	HTTP transport.HTTPConfig `yaml:"http"`
}

// ServerConfig configures the admin HTTP server
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimit       float64       `yaml:"rate_limit"`
	Burst           int           `yaml:"burst"`
	// JWTSecret enables HS256 bearer auth on the optimizer and benchmark
	// routes when set.
	JWTSecret string `yaml:"jwt_secret"`
}

// HistoryConfig configures where benchmark results are kept
type HistoryConfig struct {
	Backend string             `yaml:"backend"`
	Dir     string             `yaml:"dir"`
	DSN     string             `yaml:"dsn"`
	S3      benchmark.S3Config `yaml:"s3"`
	Limit   int                `yaml:"limit"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Logging:   logging.LoggerConfig{Level: logging.LevelInfo, Format: logging.FormatJSON},
		Optimizer: optimizer.DefaultConfig(),
		Benchmark: BenchmarkConfig{Profile: "quick"},
		Transport: TransportConfig{Mode: TransportSimulated},
		Simulator: *transport.DefaultSimulatedConfig(),
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       100,
			Burst:           200,
		},
		History: HistoryConfig{
			Backend: HistoryMemory,
			Dir:     "benchmarks",
			Limit:   50,
		},
	}
}

// applyDefaults fills fields left empty by the file or environment
func applyDefaults(cfg *Config) {
	d := Default()
	cfg.Logging.ApplyDefaults()
	cfg.Optimizer.ApplyDefaults()
	if cfg.Benchmark.Profile == "" {
		cfg.Benchmark.Profile = d.Benchmark.Profile
	}
	if cfg.Transport.Mode == "" {
		cfg.Transport.Mode = d.Transport.Mode
	}
	if cfg.Transport.Mode == TransportHTTP {
		cfg.Transport.HTTP.ApplyDefaults()
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = d.Server.Addr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = d.Server.ReadTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = d.Server.RateLimit
	}
	if cfg.Server.Burst == 0 {
		cfg.Server.Burst = d.Server.Burst
	}
	if cfg.History.Backend == "" {
		cfg.History.Backend = d.History.Backend
	}
	if cfg.History.Dir == "" {
		cfg.History.Dir = d.History.Dir
	}
	if cfg.History.Limit == 0 {
		cfg.History.Limit = d.History.Limit
	}
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if err := c.Optimizer.Validate(); err != nil {
		return fmt.Errorf("optimizer: %w", err)
	}

	switch c.Transport.Mode {
	case TransportSimulated:
		if c.Simulator.FailureRate < 0 || c.Simulator.FailureRate > 1 {
			return fmt.Errorf("simulator: failure_rate must be between 0 and 1, got %v", c.Simulator.FailureRate)
		}
	case TransportHTTP:
		if err := c.Transport.HTTP.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("transport: unknown mode %q", c.Transport.Mode)
	}

	switch c.History.Backend {
	case HistoryMemory, HistoryFile:
	case HistoryPostgres:
		if c.History.DSN == "" {
			return errors.New("history: dsn is required for the postgres backend")
		}
	case HistoryS3:
		if err := c.History.S3.Validate(); err != nil {
			return fmt.Errorf("history: s3: %w", err)
		}
	default:
		return fmt.Errorf("history: unknown backend %q", c.History.Backend)
	}
	if c.History.Limit < 1 {
		return fmt.Errorf("history: limit must be at least 1, got %d", c.History.Limit)
	}
	return nil
}
