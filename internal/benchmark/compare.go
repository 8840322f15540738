package benchmark

import (
	"math"
	"time"
)

// Per-metric classification
const (
	StatusImproved  = "improved"
	StatusDegraded  = "degraded"
	StatusUnchanged = "unchanged"
)

// Overall comparison verdicts
const (
	VerdictSignificantImprovement = "significant_improvement"
	VerdictImprovement            = "improvement"
	VerdictSignificantDegradation = "significant_degradation"
	VerdictDegradation            = "degradation"
	VerdictMixed                  = "mixed"
	VerdictNoSignificantChange    = "no_significant_change"
)

const (
	classifyThreshold     = 10.0
	significanceThreshold = 15.0
	significantTier       = 30.0
)

// MetricDelta compares one metric between two runs. Change is signed so
// that positive always means better.
type MetricDelta struct {
	Metric   string  `json:"metric" yaml:"metric"`
	Baseline float64 `json:"baseline" yaml:"baseline"`
	Current  float64 `json:"current" yaml:"current"`
	Change   float64 `json:"change_percent" yaml:"change_percent"`
	Status   string  `json:"status" yaml:"status"`
}

// ComparisonReport is the pairwise comparison of two runs
type ComparisonReport struct {
	BaselineID   string        `json:"baseline_id" yaml:"baseline_id"`
	BaselineName string        `json:"baseline_name" yaml:"baseline_name"`
	CurrentID    string        `json:"current_id" yaml:"current_id"`
	CurrentName  string        `json:"current_name" yaml:"current_name"`
	GeneratedAt  time.Time     `json:"generated_at" yaml:"generated_at"`
	Metrics      []MetricDelta `json:"metrics" yaml:"metrics"`
	Verdict      string        `json:"verdict" yaml:"verdict"`
	Confidence   float64       `json:"confidence" yaml:"confidence"`
}

// Metric returns the named delta
func (r *ComparisonReport) Metric(name string) (MetricDelta, bool) {
	for _, m := range r.Metrics {
		if m.Metric == name {
			return m, true
		}
	}
	return MetricDelta{}, false
}

// CompareResults builds the comparison of current against baseline
func CompareResults(baseline, current *LoadTestResult) *ComparisonReport {
	bp, cp := baseline.Performance, current.Performance
	report := &ComparisonReport{
		BaselineID:   baseline.ID,
		BaselineName: baseline.Config.Name,
		CurrentID:    current.ID,
		CurrentName:  current.Config.Name,
		GeneratedAt:  time.Now(),
		Metrics: []MetricDelta{
			higherIsBetter("throughput_rps", bp.Throughput.RequestsPerSecond, cp.Throughput.RequestsPerSecond),
			lowerIsBetter("latency_avg_ms", bp.Latency.Mean, cp.Latency.Mean),
			lowerIsBetter("latency_p95_ms", bp.Latency.Percentiles.P95, cp.Latency.Percentiles.P95),
			lowerIsBetter("latency_p99_ms", bp.Latency.Percentiles.P99, cp.Latency.Percentiles.P99),
			lowerIsBetter("memory_peak_bytes", float64(bp.Memory.PeakBytes), float64(cp.Memory.PeakBytes)),
			lowerIsBetter("memory_avg_bytes", float64(bp.Memory.AverageBytes), float64(cp.Memory.AverageBytes)),
			lowerIsBetter("memory_growth_pct", bp.Memory.GrowthRate, cp.Memory.GrowthRate),
			errorRateDelta(baseline.Summary.ErrorRate, current.Summary.ErrorRate),
		},
	}
	report.Verdict = verdict(report.Metrics)
	report.Confidence = confidence(baseline, current)
	return report
}

func higherIsBetter(name string, before, after float64) MetricDelta {
	d := MetricDelta{Metric: name, Baseline: before, Current: after}
	if before != 0 {
		d.Change = (after - before) / math.Abs(before) * 100
	}
	d.Status = classify(d.Change)
	return d
}

func lowerIsBetter(name string, before, after float64) MetricDelta {
	d := MetricDelta{Metric: name, Baseline: before, Current: after}
	if before != 0 {
		d.Change = (before - after) / math.Abs(before) * 100
	}
	d.Status = classify(d.Change)
	return d
}

// errorRateDelta treats any errors after a clean baseline as a full
// degradation.
func errorRateDelta(before, after float64) MetricDelta {
	if before == 0 {
		d := MetricDelta{Metric: "error_rate", Baseline: before, Current: after}
		if after > 0 {
			d.Change = -100
		}
		d.Status = classify(d.Change)
		return d
	}
	return lowerIsBetter("error_rate", before, after)
}

func classify(change float64) string {
	switch {
	case change > classifyThreshold:
		return StatusImproved
	case change < -classifyThreshold:
		return StatusDegraded
	default:
		return StatusUnchanged
	}
}

func verdict(metrics []MetricDelta) string {
	var improvements, degradations int
	var best, worst float64
	for _, m := range metrics {
		switch {
		case m.Change > significanceThreshold:
			improvements++
			best = math.Max(best, m.Change)
		case m.Change < -significanceThreshold:
			degradations++
			worst = math.Min(worst, m.Change)
		}
	}

	switch {
	case improvements > 0 && degradations == 0:
		if best > significantTier {
			return VerdictSignificantImprovement
		}
		return VerdictImprovement
	case degradations > 0 && improvements == 0:
		if worst < -significantTier {
			return VerdictSignificantDegradation
		}
		return VerdictDegradation
	case improvements > 0 && degradations > 0:
		return VerdictMixed
	default:
		return VerdictNoSignificantChange
	}
}

func confidence(baseline, current *LoadTestResult) float64 {
	samples := float64(baseline.Summary.TotalRequests + current.Summary.TotalRequests)
	errRates := baseline.Summary.ErrorRate + current.Summary.ErrorRate
	c := math.Min(samples/2000, 1) * (1 - errRates/200)
	return math.Max(c, 0.1)
}
