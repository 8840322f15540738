package optimizer

import (
	"fmt"
	"time"

	"github.com/FairForge/requestopt/internal/perf"
)

// Priority strategies for the admission queue
const (
	StrategyPriority = "priority"
	StrategyFIFO     = "fifo"
)

// Config holds optimizer settings. Every field is optional; zero values are
// replaced by defaults in ApplyDefaults except the boolean flags, which are
// taken as given.
//
// With BatchWindow set, a batched single request waits up to BatchTimeout
// for others and is dispatched with them as one batch. Without it single
// requests are dispatched immediately.
type Config struct {
	EnableBatching       bool          `yaml:"enable_batching" json:"enable_batching"`
	MaxBatchSize         int           `yaml:"max_batch_size" json:"max_batch_size"`
	BatchTimeout         time.Duration `yaml:"batch_timeout" json:"batch_timeout"`
	BatchWindow          bool          `yaml:"batch_window" json:"batch_window"`
	EnableDeduplication  bool          `yaml:"enable_deduplication" json:"enable_deduplication"`
	DeduplicationWindow  time.Duration `yaml:"deduplication_window" json:"deduplication_window"`
	EnableCompression    bool          `yaml:"enable_compression" json:"enable_compression"`
	CompressionThreshold int           `yaml:"compression_threshold" json:"compression_threshold"`
	CompressionAlgorithm string        `yaml:"compression_algorithm" json:"compression_algorithm"`
	MaxConcurrency       int           `yaml:"max_concurrency" json:"max_concurrency"`
	EnableQueuing        bool          `yaml:"enable_queuing" json:"enable_queuing"`
	QueueSizeLimit       int           `yaml:"queue_size_limit" json:"queue_size_limit"`
	PriorityStrategy     string        `yaml:"priority_strategy" json:"priority_strategy"`
}

// DefaultConfig returns the documented defaults
func DefaultConfig() Config {
	return Config{
		EnableBatching:       true,
		MaxBatchSize:         10,
		BatchTimeout:         100 * time.Millisecond,
		EnableDeduplication:  true,
		DeduplicationWindow:  5 * time.Second,
		EnableCompression:    true,
		CompressionThreshold: perf.DefaultCompressionThreshold,
		CompressionAlgorithm: perf.AlgorithmGzip,
		MaxConcurrency:       10,
		EnableQueuing:        true,
		QueueSizeLimit:       1000,
		PriorityStrategy:     StrategyPriority,
	}
}

// ApplyDefaults fills unset numeric and string fields
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = d.MaxBatchSize
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = d.BatchTimeout
	}
	if c.DeduplicationWindow == 0 {
		c.DeduplicationWindow = d.DeduplicationWindow
	}
	if c.CompressionThreshold == 0 {
		c.CompressionThreshold = d.CompressionThreshold
	}
	if c.CompressionAlgorithm == "" {
		c.CompressionAlgorithm = d.CompressionAlgorithm
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.QueueSizeLimit == 0 {
		c.QueueSizeLimit = d.QueueSizeLimit
	}
	if c.PriorityStrategy == "" {
		c.PriorityStrategy = d.PriorityStrategy
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.MaxBatchSize < 1 {
		return fmt.Errorf("max_batch_size must be at least 1, got %d", c.MaxBatchSize)
	}
	if c.BatchTimeout < 0 {
		return fmt.Errorf("batch_timeout must be non-negative, got %s", c.BatchTimeout)
	}
	if c.DeduplicationWindow <= 0 {
		return fmt.Errorf("deduplication_window must be positive, got %s", c.DeduplicationWindow)
	}
	if c.CompressionThreshold < 0 {
		return fmt.Errorf("compression_threshold must be non-negative, got %d", c.CompressionThreshold)
	}
	switch c.CompressionAlgorithm {
	case perf.AlgorithmGzip, perf.AlgorithmZstd, perf.AlgorithmSnappy:
	default:
		return fmt.Errorf("unsupported compression_algorithm %q", c.CompressionAlgorithm)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1, got %d", c.MaxConcurrency)
	}
	if c.QueueSizeLimit < 1 {
		return fmt.Errorf("queue_size_limit must be at least 1, got %d", c.QueueSizeLimit)
	}
	switch c.PriorityStrategy {
	case StrategyPriority, StrategyFIFO:
	default:
		return fmt.Errorf("unsupported priority_strategy %q", c.PriorityStrategy)
	}
	return nil
}

func (c *Config) compressionConfig() *perf.CompressionConfig {
	cc := perf.DefaultCompressionConfig()
	cc.Threshold = c.CompressionThreshold
	cc.Algorithm = c.CompressionAlgorithm
	if c.CompressionAlgorithm != perf.AlgorithmGzip {
		cc.Level = 0
	}
	return cc
}

func (c *Config) batchConfig() *perf.BatchConfig {
	return &perf.BatchConfig{
		MaxBatchSize:  c.MaxBatchSize,
		BatchTimeout:  c.BatchTimeout,
		MaxConcurrent: c.MaxConcurrency,
	}
}
