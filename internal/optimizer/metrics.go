package optimizer

import (
	"math"
	"sync"
	"time"
)

// Metrics aggregates what the optimizer has done since start or last reset
type Metrics struct {
	TotalRequests           int64         `json:"total_requests"`
	BatchedRequests         int64         `json:"batched_requests"`
	DeduplicatedRequests    int64         `json:"deduplicated_requests"`
	CompressedResponses     int64         `json:"compressed_responses"`
	AverageBatchSize        float64       `json:"average_batch_size"`
	BatchEfficiency         float64       `json:"batch_efficiency"`
	DeduplicationHitRate    float64       `json:"deduplication_hit_rate"`
	AverageCompressionRatio float64       `json:"average_compression_ratio"`
	BandwidthSaved          int64         `json:"bandwidth_saved"`
	TimeSaved               time.Duration `json:"time_saved"`
	ConcurrencyUtilization  float64       `json:"concurrency_utilization"`
}

// baselineLatency is the assumed cost of an unoptimized request
const baselineLatency = 200 * time.Millisecond

type metricsAggregate struct {
	mu      sync.Mutex
	m       Metrics
	batches int64
}

func (a *metricsAggregate) snapshot() Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.m
}

func (a *metricsAggregate) reset() {
	a.mu.Lock()
	a.m = Metrics{}
	a.batches = 0
	a.mu.Unlock()
}

func (a *metricsAggregate) addRequests(n int64, maxConcurrency int) {
	a.mu.Lock()
	a.m.TotalRequests += n
	a.recomputeLocked(0, maxConcurrency)
	a.mu.Unlock()
}

func (a *metricsAggregate) addBatched(n int64, maxBatchSize, maxConcurrency int) {
	a.mu.Lock()
	a.m.BatchedRequests += n
	a.recomputeLocked(maxBatchSize, maxConcurrency)
	a.mu.Unlock()
}

func (a *metricsAggregate) addDeduplicated(maxConcurrency int) {
	a.mu.Lock()
	a.m.DeduplicatedRequests++
	a.recomputeLocked(0, maxConcurrency)
	a.mu.Unlock()
}

// addCompression folds a committed compression into the metrics. The ratio
// average is smoothed as (old+new)/2, not a cumulative mean.
func (a *metricsAggregate) addCompression(ratio float64, saved int) {
	a.mu.Lock()
	a.m.CompressedResponses++
	a.m.BandwidthSaved += int64(saved)
	a.m.AverageCompressionRatio = (a.m.AverageCompressionRatio + ratio) / 2
	a.mu.Unlock()
}

// observeBatch updates the running mean batch size
func (a *metricsAggregate) observeBatch(size int, maxBatchSize, maxConcurrency int) {
	a.mu.Lock()
	a.batches++
	a.m.AverageBatchSize += (float64(size) - a.m.AverageBatchSize) / float64(a.batches)
	a.recomputeLocked(maxBatchSize, maxConcurrency)
	a.mu.Unlock()
}

func (a *metricsAggregate) finishRequest(elapsed time.Duration, maxBatchSize, maxConcurrency int) time.Duration {
	saved := baselineLatency - elapsed
	if saved < 0 {
		saved = 0
	}
	a.mu.Lock()
	a.m.TimeSaved += saved
	a.recomputeLocked(maxBatchSize, maxConcurrency)
	a.mu.Unlock()
	return saved
}

// recomputeLocked refreshes derived percentages. maxBatchSize 0 leaves batch
// efficiency untouched.
func (a *metricsAggregate) recomputeLocked(maxBatchSize, maxConcurrency int) {
	m := &a.m
	if maxBatchSize > 0 && m.BatchedRequests > 0 {
		m.BatchEfficiency = m.AverageBatchSize / float64(maxBatchSize) * 100
	}
	if m.TotalRequests > 0 {
		m.DeduplicationHitRate = float64(m.DeduplicatedRequests) / float64(m.TotalRequests) * 100
	}
	if maxConcurrency > 0 {
		m.ConcurrencyUtilization = math.Min(float64(m.TotalRequests)/float64(maxConcurrency)*100, 100)
	}
}
