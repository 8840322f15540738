package benchmark

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// sample is the outcome of one request
type sample struct {
	Endpoint string
	Start    time.Time
	Latency  time.Duration
	Err      error
}

// stopper is shared by the sub-benchmarks. Stop cancels the phase in flight
// and every later Run of the same sub-benchmark.
type stopper struct {
	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
}

func (s *stopper) begin(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		cancel()
	}
	s.cancel = cancel
	return ctx, cancel
}

// Stop cancels the running phase
func (s *stopper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
}

// Stopped reports whether Stop was called
func (s *stopper) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// runStats is updated by workers while a phase runs
type runStats struct {
	inFlight     atomic.Int64
	peakInFlight atomic.Int64
	completed    atomic.Int64
}

func (r *runStats) enter() {
	n := r.inFlight.Add(1)
	for {
		peak := r.peakInFlight.Load()
		if n <= peak || r.peakInFlight.CompareAndSwap(peak, n) {
			return
		}
	}
}

func (r *runStats) leave() {
	r.inFlight.Add(-1)
	r.completed.Add(1)
}

// runIterations issues iterations requests from gen against target using
// concurrency workers. It stops early when ctx is done and returns the
// samples collected so far, in completion order.
func runIterations(ctx context.Context, target Target, gen *RequestGenerator, iterations, concurrency int,
	stats *runStats, observe func(done int64)) []sample {

	if iterations <= 0 {
		return nil
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > iterations {
		concurrency = iterations
	}
	if stats == nil {
		stats = &runStats{}
	}

	var (
		mu      sync.Mutex
		samples = make([]sample, 0, iterations)
		issued  atomic.Int64
		wg      sync.WaitGroup
	)

	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				if issued.Add(1) > int64(iterations) {
					return
				}

				req := gen.Next()
				stats.enter()
				start := time.Now()
				_, err := target.Execute(ctx, req)
				latency := time.Since(start)
				stats.leave()

				// A request cut short by cancellation is not a sample.
				if err != nil && ctx.Err() != nil {
					return
				}

				mu.Lock()
				samples = append(samples, sample{
					Endpoint: req.Key(),
					Start:    start,
					Latency:  latency,
					Err:      err,
				})
				done := int64(len(samples))
				mu.Unlock()

				if observe != nil {
					observe(done)
				}
			}
		}()
	}
	wg.Wait()
	return samples
}

func countFailures(samples []sample) int64 {
	var n int64
	for _, s := range samples {
		if s.Err != nil {
			n++
		}
	}
	return n
}

func endpointBreakdown(samples []sample) map[string]EndpointResult {
	out := make(map[string]EndpointResult)
	for _, s := range samples {
		ep := out[s.Endpoint]
		ep.Endpoint = s.Endpoint
		ep.Requests++
		if s.Err != nil {
			ep.Failures++
		}
		ms := durationMs(s.Latency)
		ep.MeanLatency += (ms - ep.MeanLatency) / float64(ep.Requests)
		if ms > ep.MaxLatency {
			ep.MaxLatency = ms
		}
		out[s.Endpoint] = ep
	}
	return out
}

func mergeEndpoints(dst, src map[string]EndpointResult) {
	for k, s := range src {
		d, ok := dst[k]
		if !ok {
			dst[k] = s
			continue
		}
		total := d.Requests + s.Requests
		d.MeanLatency = (d.MeanLatency*float64(d.Requests) + s.MeanLatency*float64(s.Requests)) / float64(total)
		d.Requests = total
		d.Failures += s.Failures
		if s.MaxLatency > d.MaxLatency {
			d.MaxLatency = s.MaxLatency
		}
		dst[k] = d
	}
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
