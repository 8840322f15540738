package benchmark

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LoadBenchmark drives the full iteration count at the configured
// concurrency while sampling runtime resources on a ticker.
type LoadBenchmark struct {
	stopper
	target         Target
	logger         *zap.Logger
	sampleInterval time.Duration
}

// loadOutcome is what the load phase hands back to the suite
type loadOutcome struct {
	Samples      []sample
	Duration     time.Duration
	PeakInFlight int64
	Resources    []ResourceSample
}

// NewLoadBenchmark creates a load phase against target
func NewLoadBenchmark(target Target, logger *zap.Logger) *LoadBenchmark {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoadBenchmark{target: target, logger: logger, sampleInterval: 250 * time.Millisecond}
}

// Run issues iterations requests from concurrency workers
func (b *LoadBenchmark) Run(ctx context.Context, gen *RequestGenerator, iterations, concurrency int) loadOutcome {
	ctx, cancel := b.begin(ctx)
	defer cancel()

	var (
		mu        sync.Mutex
		resources = []ResourceSample{takeResourceSample()}
		done      = make(chan struct{})
		wg        sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(b.sampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s := takeResourceSample()
				mu.Lock()
				resources = append(resources, s)
				mu.Unlock()
			}
		}
	}()

	stats := &runStats{}
	start := time.Now()
	samples := runIterations(ctx, b.target, gen, iterations, concurrency, stats, nil)
	elapsed := time.Since(start)
	close(done)
	wg.Wait()

	resources = append(resources, takeResourceSample())

	b.logger.Debug("load phase finished",
		zap.Int("requests", len(samples)),
		zap.Int("concurrency", concurrency),
		zap.Int64("peak_in_flight", stats.peakInFlight.Load()))

	return loadOutcome{
		Samples:      samples,
		Duration:     elapsed,
		PeakInFlight: stats.peakInFlight.Load(),
		Resources:    resources,
	}
}
