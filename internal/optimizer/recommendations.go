package optimizer

import (
	"fmt"
)

// Recommendation severities
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
)

// Recommendation is an advisory produced from current metrics. Nothing acts
// on it automatically.
type Recommendation struct {
	Category string `json:"category"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

const (
	lowBatchEfficiency     = 60.0
	lowDedupHitRate        = 5.0
	minRequestsForDedup    = 100
	lowCompressionRatio    = 1.5
	highConcurrencyPercent = 90.0
	hotPatternFrequency    = 50
)

// OptimizationRecommendations derives advisories from metrics and patterns
func (o *Optimizer) OptimizationRecommendations() []Recommendation {
	m := o.Metrics()
	cfg := o.Config()
	var recs []Recommendation

	if m.BatchedRequests > 0 && m.BatchEfficiency < lowBatchEfficiency {
		recs = append(recs, Recommendation{
			Category: "batching",
			Severity: SeverityWarning,
			Message: fmt.Sprintf("batch efficiency is %.1f%%; consider lowering max_batch_size (%d) or raising batch_timeout (%s)",
				m.BatchEfficiency, cfg.MaxBatchSize, cfg.BatchTimeout),
		})
	}

	if m.TotalRequests >= minRequestsForDedup && m.DeduplicationHitRate < lowDedupHitRate {
		recs = append(recs, Recommendation{
			Category: "deduplication",
			Severity: SeverityInfo,
			Message: fmt.Sprintf("deduplication hit rate is %.1f%%; disable deduplication or widen the window (%s) if duplicates are expected",
				m.DeduplicationHitRate, cfg.DeduplicationWindow),
		})
	}

	if m.CompressedResponses > 0 && m.AverageCompressionRatio < lowCompressionRatio {
		recs = append(recs, Recommendation{
			Category: "compression",
			Severity: SeverityInfo,
			Message: fmt.Sprintf("average compression ratio is %.2f; raise compression_threshold (%d bytes) or try another algorithm",
				m.AverageCompressionRatio, cfg.CompressionThreshold),
		})
	}

	for _, p := range o.RequestPatterns() {
		if p.Frequency >= hotPatternFrequency && p.HasOpportunity(OpportunityBatching) {
			recs = append(recs, Recommendation{
				Category: "patterns",
				Severity: SeverityInfo,
				Message: fmt.Sprintf("%s is called frequently (%d times); submit these requests together with OptimizeRequests to batch them",
					p.Signature, p.Frequency),
			})
		}
	}

	if m.ConcurrencyUtilization >= highConcurrencyPercent {
		recs = append(recs, Recommendation{
			Category: "concurrency",
			Severity: SeverityWarning,
			Message: fmt.Sprintf("concurrency utilization is %.0f%%; consider raising max_concurrency (%d)",
				m.ConcurrencyUtilization, cfg.MaxConcurrency),
		})
	}

	return recs
}
