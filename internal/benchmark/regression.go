package benchmark

import (
	"fmt"
	"time"
)

// Regression types
const (
	RegressionThroughput = "throughput"
	RegressionLatency    = "latency"
	RegressionMemory     = "memory"
)

// Regression severities
const (
	SeverityMajor    = "major"
	SeverityCritical = "critical"
)

// RegressionThresholds are percentage changes, relative to the previous run,
// beyond which a regression is reported.
type RegressionThresholds struct {
	ThroughputDrop     float64 `yaml:"throughput_drop" json:"throughput_drop"`
	ThroughputCritical float64 `yaml:"throughput_critical" json:"throughput_critical"`
	LatencyIncrease    float64 `yaml:"latency_increase" json:"latency_increase"`
	LatencyCritical    float64 `yaml:"latency_critical" json:"latency_critical"`
	MemoryIncrease     float64 `yaml:"memory_increase" json:"memory_increase"`
	MemoryCritical     float64 `yaml:"memory_critical" json:"memory_critical"`
}

// DefaultRegressionThresholds returns the standard thresholds
func DefaultRegressionThresholds() RegressionThresholds {
	return RegressionThresholds{
		ThroughputDrop:     20,
		ThroughputCritical: 50,
		LatencyIncrease:    25,
		LatencyCritical:    100,
		MemoryIncrease:     50,
		MemoryCritical:     100,
	}
}

// Regression is a degradation between two consecutive runs
type Regression struct {
	Type               string    `json:"type"`
	Severity           string    `json:"severity"`
	DetectedAt         time.Time `json:"detected_at"`
	AffectedComponents []string  `json:"affected_components"`
	Impact             string    `json:"impact"`
	PossibleCauses     []string  `json:"possible_causes"`
	RecommendedActions []string  `json:"recommended_actions"`
	Before             float64   `json:"before"`
	After              float64   `json:"after"`
	ChangePercent      float64   `json:"change_percent"`
}

var regressionCauses = map[string][]string{
	RegressionThroughput: {
		"Increased upstream API latency",
		"Lock contention in the request path",
		"Reduced batching or deduplication effectiveness",
		"Rate limiting by the vendor API",
	},
	RegressionLatency: {
		"Slower upstream responses",
		"Queue saturation under the configured concurrency",
		"Expensive optimization rules",
		"Compression of large payloads",
	},
	RegressionMemory: {
		"Deduplication window retaining too many responses",
		"Unbounded request pattern tracking",
		"Goroutine leak in the dispatch path",
	},
}

var regressionActions = map[string][]string{
	RegressionThroughput: {
		"Profile the request path with pprof",
		"Review recent changes to optimization rules",
		"Increase max_concurrency or max_batch_size",
	},
	RegressionLatency: {
		"Check upstream API health",
		"Raise compression_threshold",
		"Review queue_size_limit and priority strategy",
	},
	RegressionMemory: {
		"Capture a heap profile",
		"Shorten deduplication_window",
		"Check goroutine counts across runs",
	},
}

var regressionComponents = map[string][]string{
	RegressionThroughput: {"optimizer", "batch_processor", "transport"},
	RegressionLatency:    {"optimizer", "admission_queue", "compression"},
	RegressionMemory:     {"deduplicator", "pattern_tracker"},
}

// DetectRegressions compares current against the run before it. Only
// pairwise degradations are reported.
func DetectRegressions(previous, current *LoadTestResult, th RegressionThresholds, now time.Time) []Regression {
	if previous == nil || current == nil {
		return nil
	}
	var out []Regression

	beforeRPS := previous.Performance.Throughput.RequestsPerSecond
	afterRPS := current.Performance.Throughput.RequestsPerSecond
	if beforeRPS > 0 {
		drop := (beforeRPS - afterRPS) / beforeRPS * 100
		if drop > th.ThroughputDrop {
			sev := SeverityMajor
			if drop > th.ThroughputCritical {
				sev = SeverityCritical
			}
			out = append(out, newRegression(RegressionThroughput, sev, now, beforeRPS, afterRPS, -drop,
				fmt.Sprintf("throughput dropped %.1f%% (%.1f to %.1f req/s)", drop, beforeRPS, afterRPS)))
		}
	}

	beforeLat := previous.Performance.Latency.Mean
	afterLat := current.Performance.Latency.Mean
	if beforeLat > 0 {
		inc := (afterLat - beforeLat) / beforeLat * 100
		if inc > th.LatencyIncrease {
			sev := SeverityMajor
			if inc > th.LatencyCritical {
				sev = SeverityCritical
			}
			out = append(out, newRegression(RegressionLatency, sev, now, beforeLat, afterLat, inc,
				fmt.Sprintf("mean latency rose %.1f%% (%.2fms to %.2fms)", inc, beforeLat, afterLat)))
		}
	}

	beforeMem := float64(previous.Performance.Memory.PeakBytes)
	afterMem := float64(current.Performance.Memory.PeakBytes)
	if beforeMem > 0 {
		inc := (afterMem - beforeMem) / beforeMem * 100
		if inc > th.MemoryIncrease {
			sev := SeverityMajor
			if inc > th.MemoryCritical {
				sev = SeverityCritical
			}
			out = append(out, newRegression(RegressionMemory, sev, now, beforeMem, afterMem, inc,
				fmt.Sprintf("peak heap rose %.1f%% (%.0f to %.0f bytes)", inc, beforeMem, afterMem)))
		}
	}
	return out
}

func newRegression(kind, severity string, now time.Time, before, after, change float64, impact string) Regression {
	return Regression{
		Type:               kind,
		Severity:           severity,
		DetectedAt:         now,
		AffectedComponents: append([]string(nil), regressionComponents[kind]...),
		Impact:             impact,
		PossibleCauses:     append([]string(nil), regressionCauses[kind]...),
		RecommendedActions: append([]string(nil), regressionActions[kind]...),
		Before:             before,
		After:              after,
		ChangePercent:      change,
	}
}
