package benchmark

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Report renders a result for humans or for export
type Report struct {
	Result      *LoadTestResult `json:"result"`
	Regressions []Regression    `json:"regressions,omitempty"`
}

// NewReport wraps result together with any regressions found for it
func NewReport(result *LoadTestResult, regressions []Regression) *Report {
	return &Report{Result: result, Regressions: regressions}
}

// Text renders a plain-text summary
func (r *Report) Text() string {
	res := r.Result
	var sb strings.Builder

	sb.WriteString("=== Benchmark Report ===\n\n")
	fmt.Fprintf(&sb, "Name: %s\n", res.Config.Name)
	fmt.Fprintf(&sb, "Run: %s\n", res.ID)
	fmt.Fprintf(&sb, "Duration: %v\n", res.Summary.Duration.Round(time.Millisecond))
	fmt.Fprintf(&sb, "Iterations: %d  Concurrency: %d\n\n", res.Config.Iterations, res.Config.Concurrency)

	sb.WriteString("--- Summary ---\n")
	fmt.Fprintf(&sb, "Total requests: %d\n", res.Summary.TotalRequests)
	fmt.Fprintf(&sb, "Successful: %d\n", res.Summary.SuccessfulRequests)
	fmt.Fprintf(&sb, "Failed: %d\n", res.Summary.FailedRequests)
	fmt.Fprintf(&sb, "Error rate: %.2f%%", res.Summary.ErrorRate)
	if res.Summary.Synthesized {
		sb.WriteString(" (estimated)")
	}
	sb.WriteString("\n\n")

	p := res.Performance
	sb.WriteString("--- Throughput ---\n")
	fmt.Fprintf(&sb, "Requests/sec: %.2f\n\n", p.Throughput.RequestsPerSecond)

	sb.WriteString("--- Latency (ms) ---\n")
	fmt.Fprintf(&sb, "Mean: %.2f  Min: %.2f  Max: %.2f  StdDev: %.2f\n", p.Latency.Mean, p.Latency.Min, p.Latency.Max, p.Latency.StdDev)
	fmt.Fprintf(&sb, "P50: %.2f  P90: %.2f  P95: %.2f  P99: %.2f  P99.9: %.2f\n",
		p.Latency.Percentiles.P50, p.Latency.Percentiles.P90, p.Latency.Percentiles.P95,
		p.Latency.Percentiles.P99, p.Latency.Percentiles.P999)
	for _, b := range p.Latency.Distribution {
		fmt.Fprintf(&sb, "  %-10s %6d (%.1f%%)\n", b.Label, b.Count, b.Percent)
	}
	sb.WriteString("\n")

	sb.WriteString("--- Memory ---\n")
	fmt.Fprintf(&sb, "Peak: %s  Average: %s\n", formatBytes(p.Memory.PeakBytes), formatBytes(p.Memory.AverageBytes))
	fmt.Fprintf(&sb, "Growth: %.2f%%", p.Memory.GrowthRate)
	if p.Memory.LeakSuspected {
		sb.WriteString(" (possible leak)")
	}
	sb.WriteString("\n\n")

	if len(res.Endpoints) > 0 {
		sb.WriteString("--- Endpoints ---\n")
		keys := make([]string, 0, len(res.Endpoints))
		for k := range res.Endpoints {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			ep := res.Endpoints[k]
			fmt.Fprintf(&sb, "%-32s %6d req  %4d failed  mean %.2fms\n", k, ep.Requests, ep.Failures, ep.MeanLatency)
		}
		sb.WriteString("\n")
	}

	if len(r.Regressions) > 0 {
		sb.WriteString("--- Regressions ---\n")
		for _, reg := range r.Regressions {
			fmt.Fprintf(&sb, "[%s] %s: %s\n", strings.ToUpper(reg.Severity), reg.Type, reg.Impact)
		}
		sb.WriteString("\n")
	}

	if len(res.Recommendations) > 0 {
		sb.WriteString("--- Recommendations ---\n")
		for _, rec := range res.Recommendations {
			fmt.Fprintf(&sb, "- %s\n", rec)
		}
	}
	return sb.String()
}

// YAML renders the report using the JSON field names
func (r *Report) YAML() ([]byte, error) {
	return toYAML(r)
}

// Text renders the comparison as a table
func (c *ComparisonReport) Text() string {
	var sb strings.Builder
	sb.WriteString("=== Benchmark Comparison ===\n\n")
	fmt.Fprintf(&sb, "Baseline: %s (%s)\n", c.BaselineName, c.BaselineID)
	fmt.Fprintf(&sb, "Current: %s (%s)\n\n", c.CurrentName, c.CurrentID)
	fmt.Fprintf(&sb, "%-20s %14s %14s %10s  %s\n", "Metric", "Baseline", "Current", "Change", "Status")
	for _, m := range c.Metrics {
		fmt.Fprintf(&sb, "%-20s %14.2f %14.2f %+9.1f%%  %s\n", m.Metric, m.Baseline, m.Current, m.Change, m.Status)
	}
	fmt.Fprintf(&sb, "\nVerdict: %s (confidence %.2f)\n", c.Verdict, c.Confidence)
	return sb.String()
}

// toYAML round-trips through JSON so the YAML keys match the JSON tags
func toYAML(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	out, err := yaml.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return out, nil
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
