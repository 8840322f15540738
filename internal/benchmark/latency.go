package benchmark

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
)

// LatencyBenchmark collects per-request latency
type LatencyBenchmark struct {
	stopper
	target Target
	logger *zap.Logger
}

// NewLatencyBenchmark creates a latency phase against target
func NewLatencyBenchmark(target Target, logger *zap.Logger) *LatencyBenchmark {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LatencyBenchmark{target: target, logger: logger}
}

// Run issues iterations requests and summarizes their latencies
func (b *LatencyBenchmark) Run(ctx context.Context, gen *RequestGenerator, iterations, concurrency int) (LatencyResult, []sample) {
	ctx, cancel := b.begin(ctx)
	defer cancel()

	samples := runIterations(ctx, b.target, gen, iterations, concurrency, nil, nil)
	latencies := make([]time.Duration, len(samples))
	for i, s := range samples {
		latencies[i] = s.Latency
	}
	res := SummarizeLatency(latencies)

	b.logger.Debug("latency phase finished",
		zap.Int("samples", res.Samples),
		zap.Float64("p50_ms", res.Percentiles.P50),
		zap.Float64("p99_ms", res.Percentiles.P99))
	return res, samples
}

var latencyBuckets = []struct {
	label string
	upper time.Duration
}{
	{"0-100ms", 100 * time.Millisecond},
	{"100-200ms", 200 * time.Millisecond},
	{"200-500ms", 500 * time.Millisecond},
	{"500ms-1s", time.Second},
	{">1s", math.MaxInt64},
}

// SummarizeLatency computes mean, spread, nearest-rank percentiles and the
// bucketed distribution of the given latencies. The input is not modified.
func SummarizeLatency(latencies []time.Duration) LatencyResult {
	res := LatencyResult{Samples: len(latencies)}
	res.Distribution = make([]Bucket, len(latencyBuckets))
	for i, b := range latencyBuckets {
		res.Distribution[i].Label = b.label
	}
	if len(latencies) == 0 {
		return res
	}

	sorted := make([]float64, len(latencies))
	for i, d := range latencies {
		sorted[i] = durationMs(d)
	}
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	n := float64(len(sorted))
	res.Mean = sum / n
	res.Min = sorted[0]
	res.Max = sorted[len(sorted)-1]

	var sq float64
	for _, v := range sorted {
		sq += (v - res.Mean) * (v - res.Mean)
	}
	res.StdDev = math.Sqrt(sq / n)

	res.Percentiles = Percentiles{
		P50:  nearestRank(sorted, 50),
		P75:  nearestRank(sorted, 75),
		P90:  nearestRank(sorted, 90),
		P95:  nearestRank(sorted, 95),
		P99:  nearestRank(sorted, 99),
		P999: nearestRank(sorted, 99.9),
	}

	for _, d := range latencies {
		for i, b := range latencyBuckets {
			if d < b.upper {
				res.Distribution[i].Count++
				break
			}
		}
	}
	for i := range res.Distribution {
		res.Distribution[i].Percent = float64(res.Distribution[i].Count) / n * 100
	}
	return res
}

// nearestRank returns the p-th percentile of an ascending slice
func nearestRank(sorted []float64, p float64) float64 {
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
