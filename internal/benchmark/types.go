// Package benchmark drives synthetic load through the request optimizer,
// keeps a history of results, detects regressions and compares runs.
package benchmark

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlreadyRunning is returned when a run is started while another is active
	ErrAlreadyRunning = errors.New("benchmark already running")
	// ErrStopped is returned by a run abandoned through StopBenchmark
	ErrStopped = errors.New("benchmark stopped")
	// ErrBenchmarkNotFound is returned when no result matches a benchmark name
	ErrBenchmarkNotFound = errors.New("benchmark not found")
	// ErrUnknownProfile is returned for an unregistered profile name
	ErrUnknownProfile = errors.New("unknown benchmark profile")
	// ErrInvalidConfig wraps benchmark configuration validation failures
	ErrInvalidConfig = errors.New("invalid benchmark config")
)

// Scenarios a benchmark can exercise per entity
const (
	ScenarioList   = "list"
	ScenarioGet    = "get"
	ScenarioCreate = "create"
	ScenarioUpdate = "update"
	ScenarioDelete = "delete"
)

// DefaultHistoryLimit is how many results the suite keeps
const DefaultHistoryLimit = 50

// Config describes one benchmark run. It is not modified once a run starts.
type Config struct {
	Name             string        `yaml:"name" json:"name"`
	Description      string        `yaml:"description" json:"description,omitempty"`
	Iterations       int           `yaml:"iterations" json:"iterations"`
	Concurrency      int           `yaml:"concurrency" json:"concurrency"`
	WarmupIterations int           `yaml:"warmup_iterations" json:"warmup_iterations"`
	MaxDuration      time.Duration `yaml:"max_duration" json:"max_duration"`
	TargetEntities   []string      `yaml:"target_entities" json:"target_entities"`
	Scenarios        []string      `yaml:"scenarios" json:"scenarios"`
}

// ApplyDefaults fills unset fields
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "benchmark"
	}
	if c.Iterations == 0 {
		c.Iterations = 100
	}
	if c.Concurrency == 0 {
		c.Concurrency = 1
	}
	if len(c.TargetEntities) == 0 {
		c.TargetEntities = []string{"Companies", "Contacts", "Tickets"}
	}
	if len(c.Scenarios) == 0 {
		c.Scenarios = []string{ScenarioList, ScenarioGet}
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Iterations < 1 {
		return fmt.Errorf("iterations must be at least 1, got %d", c.Iterations)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.WarmupIterations < 0 {
		return fmt.Errorf("warmup_iterations must be non-negative, got %d", c.WarmupIterations)
	}
	if c.MaxDuration < 0 {
		return fmt.Errorf("max_duration must be non-negative, got %s", c.MaxDuration)
	}
	for _, s := range c.Scenarios {
		switch s {
		case ScenarioList, ScenarioGet, ScenarioCreate, ScenarioUpdate, ScenarioDelete:
		default:
			return fmt.Errorf("unknown scenario %q", s)
		}
	}
	return nil
}

// Summary is the outcome of a whole run
type Summary struct {
	StartTime          time.Time     `json:"start_time"`
	EndTime            time.Time     `json:"end_time"`
	Duration           time.Duration `json:"duration"`
	TotalRequests      int64         `json:"total_requests"`
	SuccessfulRequests int64         `json:"successful_requests"`
	FailedRequests     int64         `json:"failed_requests"`
	ErrorRate          float64       `json:"error_rate"` // percent
	Synthesized        bool          `json:"synthesized"`
}

// ThroughputResult is produced by the throughput phase
type ThroughputResult struct {
	TotalRequests      int64         `json:"total_requests"`
	SuccessfulRequests int64         `json:"successful_requests"`
	FailedRequests     int64         `json:"failed_requests"`
	Duration           time.Duration `json:"duration"`
	RequestsPerSecond  float64       `json:"requests_per_second"`
}

// Percentiles in milliseconds
type Percentiles struct {
	P50  float64 `json:"p50"`
	P75  float64 `json:"p75"`
	P90  float64 `json:"p90"`
	P95  float64 `json:"p95"`
	P99  float64 `json:"p99"`
	P999 float64 `json:"p99_9"`
}

// Bucket counts latency samples in a range
type Bucket struct {
	Label   string  `json:"label"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// LatencyResult is produced by the latency phase. Values are milliseconds.
type LatencyResult struct {
	Samples      int         `json:"samples"`
	Mean         float64     `json:"mean"`
	Min          float64     `json:"min"`
	Max          float64     `json:"max"`
	StdDev       float64     `json:"std_dev"`
	Percentiles  Percentiles `json:"percentiles"`
	Distribution []Bucket    `json:"distribution"`
}

// MemoryResult is produced by the memory phase. Sizes are heap bytes.
type MemoryResult struct {
	Samples       int     `json:"samples"`
	StartBytes    uint64  `json:"start_bytes"`
	EndBytes      uint64  `json:"end_bytes"`
	PeakBytes     uint64  `json:"peak_bytes"`
	AverageBytes  uint64  `json:"average_bytes"`
	GrowthRate    float64 `json:"growth_rate"` // percent, start to end
	LeakSuspected bool    `json:"leak_suspected"`
	Goroutines    int     `json:"goroutines"`
}

// Performance groups the per-phase results
type Performance struct {
	Throughput ThroughputResult `json:"throughput"`
	Latency    LatencyResult    `json:"latency"`
	Memory     MemoryResult     `json:"memory"`
}

// EndpointResult breaks a run down by endpoint
type EndpointResult struct {
	Endpoint    string  `json:"endpoint"`
	Requests    int64   `json:"requests"`
	Failures    int64   `json:"failures"`
	MeanLatency float64 `json:"mean_latency_ms"`
	MaxLatency  float64 `json:"max_latency_ms"`
}

// ConcurrencyResult describes the load phase
type ConcurrencyResult struct {
	Level             int     `json:"level"`
	PeakInFlight      int64   `json:"peak_in_flight"`
	RequestsPerSecond float64 `json:"requests_per_second"`
}

// ResourceSample is a runtime snapshot taken during a run
type ResourceSample struct {
	Timestamp    time.Time `json:"timestamp"`
	HeapAlloc    uint64    `json:"heap_alloc"`
	HeapObjects  uint64    `json:"heap_objects"`
	NumGoroutine int       `json:"num_goroutine"`
	NumGC        uint32    `json:"num_gc"`
}

// ErrorRecord is one failed request
type ErrorRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Phase     string    `json:"phase"`
	Endpoint  string    `json:"endpoint"`
	Message   string    `json:"message"`
}

// LoadTestResult is the record of one completed run
type LoadTestResult struct {
	ID                  string                    `json:"id"`
	Config              Config                    `json:"config"`
	Summary             Summary                   `json:"summary"`
	Performance         Performance               `json:"performance"`
	Endpoints           map[string]EndpointResult `json:"endpoints"`
	Concurrency         ConcurrencyResult         `json:"concurrency"`
	ResourceUtilization []ResourceSample          `json:"resource_utilization"`
	Errors              []ErrorRecord             `json:"errors"`
	Recommendations     []string                  `json:"recommendations"`
}

// ProgressEvent is the payload of events.Progress
type ProgressEvent struct {
	RunID   string `json:"run_id"`
	Name    string `json:"name"`
	Phase   string `json:"phase"`
	Percent int    `json:"percent"`
}

// CompletedEvent is the payload of events.BenchmarkCompleted
type CompletedEvent struct {
	RunID             string        `json:"run_id"`
	Name              string        `json:"name"`
	Duration          time.Duration `json:"duration"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	MeanLatency       float64       `json:"mean_latency_ms"`
	P99Latency        float64       `json:"p99_latency_ms"`
	ErrorRate         float64       `json:"error_rate"`
	PeakMemory        uint64        `json:"peak_memory"`
}

// RegressionsEvent is the payload of events.RegressionsDetected
type RegressionsEvent struct {
	RunID       string       `json:"run_id"`
	Name        string       `json:"name"`
	Regressions []Regression `json:"regressions"`
}
