package benchmark

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// leakGrowthThreshold is the start-to-end heap growth, in percent, above
// which a run is flagged as a suspected leak.
const leakGrowthThreshold = 20.0

// MemoryBenchmark samples heap usage while requests run
type MemoryBenchmark struct {
	stopper
	target Target
	logger *zap.Logger
}

// NewMemoryBenchmark creates a memory phase against target
func NewMemoryBenchmark(target Target, logger *zap.Logger) *MemoryBenchmark {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBenchmark{target: target, logger: logger}
}

// Run issues iterations requests, sampling the heap roughly every tenth of
// the way through. Start and end readings follow a forced GC so growth
// reflects retained memory.
func (b *MemoryBenchmark) Run(ctx context.Context, gen *RequestGenerator, iterations, concurrency int) (MemoryResult, []ResourceSample, []sample) {
	ctx, cancel := b.begin(ctx)
	defer cancel()

	runtime.GC()
	first := takeResourceSample()

	var mu sync.Mutex
	resources := []ResourceSample{first}

	step := int64(iterations / 10)
	if step < 1 {
		step = 1
	}
	observe := func(done int64) {
		if done%step != 0 {
			return
		}
		s := takeResourceSample()
		mu.Lock()
		resources = append(resources, s)
		mu.Unlock()
	}

	samples := runIterations(ctx, b.target, gen, iterations, concurrency, nil, observe)

	runtime.GC()
	last := takeResourceSample()
	resources = append(resources, last)

	res := summarizeMemory(resources)
	b.logger.Debug("memory phase finished",
		zap.Uint64("peak_bytes", res.PeakBytes),
		zap.Float64("growth_pct", res.GrowthRate),
		zap.Bool("leak_suspected", res.LeakSuspected))
	return res, resources, samples
}

// summarizeMemory expects the first and last samples to be the post-GC
// start and end readings.
func summarizeMemory(resources []ResourceSample) MemoryResult {
	res := MemoryResult{Samples: len(resources)}
	if len(resources) == 0 {
		return res
	}
	first, last := resources[0], resources[len(resources)-1]
	res.StartBytes = first.HeapAlloc
	res.EndBytes = last.HeapAlloc
	res.Goroutines = last.NumGoroutine

	var sum uint64
	for _, s := range resources {
		sum += s.HeapAlloc
		if s.HeapAlloc > res.PeakBytes {
			res.PeakBytes = s.HeapAlloc
		}
	}
	res.AverageBytes = sum / uint64(len(resources))

	if res.StartBytes > 0 {
		res.GrowthRate = (float64(res.EndBytes) - float64(res.StartBytes)) / float64(res.StartBytes) * 100
	}
	res.LeakSuspected = res.GrowthRate > leakGrowthThreshold
	return res
}

func takeResourceSample() ResourceSample {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return ResourceSample{
		Timestamp:    time.Now(),
		HeapAlloc:    m.HeapAlloc,
		HeapObjects:  m.HeapObjects,
		NumGoroutine: runtime.NumGoroutine(),
		NumGC:        m.NumGC,
	}
}
