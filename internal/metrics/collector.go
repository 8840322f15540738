// internal/metrics/collector.go
package metrics

import (
	"github.com/FairForge/requestopt/internal/benchmark"
	"github.com/FairForge/requestopt/internal/events"
	"github.com/FairForge/requestopt/internal/optimizer"
	"github.com/FairForge/requestopt/internal/perf"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "requestopt"

// Collector exports optimizer and benchmark events as Prometheus metrics
type Collector struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	dedupHits           prometheus.Counter
	batchSize           prometheus.Histogram
	batchesTotal        prometheus.Counter
	compressedResponses *prometheus.CounterVec
	bytesSaved          prometheus.Counter
	compressionRatio    prometheus.Histogram
	ruleFailures        *prometheus.CounterVec

	benchmarkRuns       *prometheus.CounterVec
	benchmarkThroughput *prometheus.GaugeVec
	benchmarkLatency    *prometheus.GaugeVec
	benchmarkProgress   *prometheus.GaugeVec
	regressions         *prometheus.CounterVec
}

// NewCollector registers the metrics with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Requests handled by the optimizer by outcome",
			},
			[]string{"outcome"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Time spent in the optimizer per request",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path"},
		),
		dedupHits: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dedup_hits_total",
				Help:      "Requests answered from an in-flight or recent identical request",
			},
		),
		batchSize: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_size",
				Help:      "Requests per processed batch",
				Buckets:   prometheus.LinearBuckets(1, 5, 10),
			},
		),
		batchesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Batches processed",
			},
		),
		compressedResponses: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compressed_responses_total",
				Help:      "Responses compressed by algorithm",
			},
			[]string{"algorithm"},
		),
		bytesSaved: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compression_bytes_saved_total",
				Help:      "Bytes saved by committed response compression",
			},
		),
		compressionRatio: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "compression_ratio",
				Help:      "Original size divided by compressed size",
				Buckets:   []float64{1, 1.1, 1.5, 2, 3, 5, 10, 20},
			},
		),
		ruleFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_failures_total",
				Help:      "Optimization rule failures by rule",
			},
			[]string{"rule"},
		),
		benchmarkRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "benchmark_runs_total",
				Help:      "Completed benchmark runs",
			},
			[]string{"name"},
		),
		benchmarkThroughput: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "benchmark_throughput_rps",
				Help:      "Requests per second of the latest run",
			},
			[]string{"name"},
		),
		benchmarkLatency: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "benchmark_latency_ms",
				Help:      "Latency of the latest run",
			},
			[]string{"name", "stat"},
		),
		benchmarkProgress: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "benchmark_progress_percent",
				Help:      "Progress of the active run",
			},
			[]string{"name"},
		),
		regressions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "benchmark_regressions_total",
				Help:      "Regressions detected between consecutive runs",
			},
			[]string{"type", "severity"},
		),
	}
}

// Attach subscribes the collector to bus. The returned function detaches it.
func (c *Collector) Attach(bus *events.Bus) func() {
	return bus.Subscribe(events.All, c.Handle)
}

// Handle records a single event
func (c *Collector) Handle(e events.Event) {
	switch p := e.Payload.(type) {
	case optimizer.RequestCompletedEvent:
		c.observeRequest(p)
	case perf.CacheHitEvent:
		c.dedupHits.Inc()
	case perf.BatchProcessedEvent:
		c.batchesTotal.Inc()
		c.batchSize.Observe(float64(p.Size))
	case perf.CompressionEvent:
		c.compressionRatio.Observe(p.CompressionRatio)
	case optimizer.RuleFailedEvent:
		c.ruleFailures.WithLabelValues(p.RuleID).Inc()
	case benchmark.ProgressEvent:
		c.benchmarkProgress.WithLabelValues(p.Name).Set(float64(p.Percent))
	case benchmark.CompletedEvent:
		c.benchmarkRuns.WithLabelValues(p.Name).Inc()
		c.benchmarkThroughput.WithLabelValues(p.Name).Set(p.RequestsPerSecond)
		c.benchmarkLatency.WithLabelValues(p.Name, "mean").Set(p.MeanLatency)
		c.benchmarkLatency.WithLabelValues(p.Name, "p99").Set(p.P99Latency)
	case benchmark.RegressionsEvent:
		for _, r := range p.Regressions {
			c.regressions.WithLabelValues(r.Type, r.Severity).Inc()
		}
	}
}

func (c *Collector) observeRequest(e optimizer.RequestCompletedEvent) {
	outcome := "success"
	switch {
	case e.Error != "":
		outcome = "error"
	case e.Deduplicated:
		outcome = "deduplicated"
	}
	c.requestsTotal.WithLabelValues(outcome).Inc()

	path := "direct"
	switch {
	case e.Deduplicated:
		path = "deduplicated"
	case e.Batched:
		path = "batched"
	}
	c.requestDuration.WithLabelValues(path).Observe(e.Duration.Seconds())

	if e.Compressed {
		c.compressedResponses.WithLabelValues(e.Encoding).Inc()
		c.bytesSaved.Add(float64(e.BytesSaved))
	}
}
