package benchmark

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ThroughputBenchmark measures completed requests per second
type ThroughputBenchmark struct {
	stopper
	target Target
	logger *zap.Logger
}

// NewThroughputBenchmark creates a throughput phase against target
func NewThroughputBenchmark(target Target, logger *zap.Logger) *ThroughputBenchmark {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThroughputBenchmark{target: target, logger: logger}
}

// Run issues iterations requests. Requests cut off by cancellation are not
// counted; the result covers whatever completed.
func (b *ThroughputBenchmark) Run(ctx context.Context, gen *RequestGenerator, iterations, concurrency int) (ThroughputResult, []sample) {
	ctx, cancel := b.begin(ctx)
	defer cancel()

	start := time.Now()
	samples := runIterations(ctx, b.target, gen, iterations, concurrency, nil, nil)
	elapsed := time.Since(start)

	failed := countFailures(samples)
	res := ThroughputResult{
		TotalRequests:      int64(len(samples)),
		SuccessfulRequests: int64(len(samples)) - failed,
		FailedRequests:     failed,
		Duration:           elapsed,
	}
	if elapsed > 0 {
		res.RequestsPerSecond = float64(len(samples)) / elapsed.Seconds()
	}

	b.logger.Debug("throughput phase finished",
		zap.Int64("requests", res.TotalRequests),
		zap.Float64("rps", res.RequestsPerSecond))
	return res, samples
}
