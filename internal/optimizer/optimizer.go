// Package optimizer applies rules, deduplication, batching and compression to
// outbound API requests and keeps aggregate efficiency metrics.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/FairForge/requestopt/internal/events"
	"github.com/FairForge/requestopt/internal/perf"
	"github.com/FairForge/requestopt/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNotRunning is returned when requests arrive before Start or after Stop
var ErrNotRunning = errors.New("optimizer is not running")

// minCommitRatio is the compression ratio a response must beat before its
// compressed form replaces the original.
const minCommitRatio = 1.1

// RequestCompletedEvent is the payload of events.RequestCompleted
type RequestCompletedEvent struct {
	RequestID    string        `json:"request_id"`
	Key          string        `json:"key"`
	Duration     time.Duration `json:"duration"`
	Deduplicated bool          `json:"deduplicated"`
	Batched      bool          `json:"batched"`
	Compressed   bool          `json:"compressed"`
	Encoding     string        `json:"encoding,omitempty"`
	BytesSaved   int           `json:"bytes_saved"`
	Error        string        `json:"error,omitempty"`
}

// Option configures an Optimizer
type Option func(*Optimizer)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *Optimizer) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEventBus shares an event bus with other components
func WithEventBus(bus *events.Bus) Option {
	return func(o *Optimizer) {
		if bus != nil {
			o.bus = bus
		}
	}
}

// WithoutDefaultRules starts the optimizer with an empty rule list
func WithoutDefaultRules() Option {
	return func(o *Optimizer) {
		o.skipDefaultRules = true
	}
}

// Optimizer is the request pipeline. It is safe for concurrent use.
type Optimizer struct {
	executor transport.Executor
	bus      *events.Bus
	logger   *zap.Logger

	mu         sync.RWMutex
	config     Config
	running    bool
	compressor *perf.Compressor

	dedup    *perf.Deduplicator
	batch    *perf.BatchProcessor
	queue    *admissionQueue
	rules    *ruleSet
	patterns *patternTracker
	metrics  *metricsAggregate

	skipDefaultRules bool
	unsubscribe      func()
}

// New creates a stopped optimizer that dispatches through executor.
//
// Start from DefaultConfig and override fields from there. Zero durations
// and sizes are defaulted, but the Enable flags are taken as given, so a
// bare Config{} yields an optimizer with batching, deduplication,
// compression and queuing all switched off.
func New(config Config, executor transport.Executor, opts ...Option) (*Optimizer, error) {
	if executor == nil {
		return nil, errors.New("executor is required")
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid optimizer config: %w", err)
	}

	o := &Optimizer{
		executor: executor,
		bus:      events.NewBus(),
		logger:   zap.NewNop(),
		config:   config,
		patterns: newPatternTracker(),
		metrics:  &metricsAggregate{},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("optimizer")

	compressor, err := perf.NewCompressor(config.compressionConfig(), o.bus, o.logger.Named("compression"))
	if err != nil {
		return nil, fmt.Errorf("create compressor: %w", err)
	}
	o.compressor = compressor
	o.dedup = perf.NewDeduplicator(config.DeduplicationWindow, o.bus, o.logger.Named("dedup"))
	o.batch = perf.NewBatchProcessor(config.batchConfig(), executor, o.bus, o.logger.Named("batch"))
	o.queue = newAdmissionQueue(config.QueueSizeLimit, config.MaxConcurrency, config.PriorityStrategy)
	o.rules = newRuleSet(o.bus, o.logger)

	if !o.skipDefaultRules {
		for _, rule := range DefaultRules() {
			if err := o.rules.add(rule); err != nil {
				return nil, err
			}
		}
	}

	o.unsubscribe = o.bus.Subscribe(events.BatchProcessed, o.onBatchProcessed)
	return o, nil
}

func (o *Optimizer) onBatchProcessed(e events.Event) {
	payload, ok := e.Payload.(perf.BatchProcessedEvent)
	if !ok {
		return
	}
	cfg := o.Config()
	o.metrics.observeBatch(payload.Size, cfg.MaxBatchSize, cfg.MaxConcurrency)
}

// Start enables request processing
func (o *Optimizer) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return
	}
	o.running = true
	o.batch.Start()
	o.logger.Info("optimizer started",
		zap.Bool("batching", o.config.EnableBatching),
		zap.Bool("deduplication", o.config.EnableDeduplication),
		zap.Bool("compression", o.config.EnableCompression),
		zap.Bool("queuing", o.config.EnableQueuing))
}

// Stop rejects new requests and stops the batch processor
func (o *Optimizer) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return
	}
	o.running = false
	o.batch.Stop()
	o.logger.Info("optimizer stopped")
}

// Close stops the optimizer and releases its resources
func (o *Optimizer) Close() error {
	o.Stop()
	if o.unsubscribe != nil {
		o.unsubscribe()
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.compressor.Close()
}

// IsRunning reports whether the optimizer accepts requests
func (o *Optimizer) IsRunning() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running
}

// Config returns a copy of the current configuration
func (o *Optimizer) Config() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.config
}

// UpdateConfig validates and applies a new configuration to a live optimizer
func (o *Optimizer) UpdateConfig(config Config) error {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid optimizer config: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if config.CompressionAlgorithm != o.config.CompressionAlgorithm {
		compressor, err := perf.NewCompressor(config.compressionConfig(), o.bus, o.logger.Named("compression"))
		if err != nil {
			return fmt.Errorf("create compressor: %w", err)
		}
		// In-flight compress calls may still hold the old compressor; it is
		// left to the garbage collector rather than closed here.
		o.compressor = compressor
	} else {
		o.compressor.SetThreshold(config.CompressionThreshold)
	}
	o.dedup.SetWindow(config.DeduplicationWindow)
	o.batch.SetWindow(config.MaxBatchSize, config.BatchTimeout)
	o.queue.resize(config.QueueSizeLimit, config.MaxConcurrency, config.PriorityStrategy)
	o.config = config

	o.logger.Info("optimizer config updated",
		zap.Int("max_batch_size", config.MaxBatchSize),
		zap.Int("max_concurrency", config.MaxConcurrency))
	return nil
}

// Subscribe registers a handler for optimizer events
func (o *Optimizer) Subscribe(eventType events.EventType, handler events.Handler) func() {
	return o.bus.Subscribe(eventType, handler)
}

// Bus returns the event bus the optimizer publishes on
func (o *Optimizer) Bus() *events.Bus {
	return o.bus
}

// OptimizeRequest runs one request through the rule pipeline, deduplication,
// dispatch and compression.
func (o *Optimizer) OptimizeRequest(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if !o.IsRunning() {
		return nil, ErrNotRunning
	}
	start := time.Now()
	cfg := o.Config()

	o.metrics.addRequests(1, cfg.MaxConcurrency)
	applied := o.rules.apply(ctx, req)

	event := RequestCompletedEvent{RequestID: req.ID, Key: req.Key()}

	var resp *transport.Response
	var err error
	if cfg.EnableDeduplication {
		var shared bool
		resp, shared, err = o.dedup.Do(ctx, req, func(ctx context.Context) (*transport.Response, error) {
			return o.dispatch(ctx, req, cfg, &event)
		})
		if err == nil && shared {
			o.metrics.addDeduplicated(cfg.MaxConcurrency)
			event.Deduplicated = true
			event.Duration = time.Since(start)
			o.bus.Publish(events.RequestCompleted, event)
			return resp, nil
		}
	} else {
		resp, err = o.dispatch(ctx, req, cfg, &event)
	}

	if err != nil {
		o.logger.Error("request failed",
			zap.String("request_id", req.ID),
			zap.String("method", req.Method),
			zap.String("endpoint", req.Endpoint),
			zap.Error(err))
		event.Duration = time.Since(start)
		event.Error = err.Error()
		o.bus.Publish(events.RequestCompleted, event)
		return nil, fmt.Errorf("optimize request %s: %w", req.ID, err)
	}

	if cfg.EnableCompression && resp.HasPayload() {
		o.compress(req, resp, &event)
	}

	elapsed := time.Since(start)
	o.patterns.record(req, elapsed)
	saved := o.metrics.finishRequest(elapsed, cfg.MaxBatchSize, cfg.MaxConcurrency)
	o.rules.recordImprovement(applied, float64(saved)/float64(time.Millisecond))

	event.Duration = elapsed
	o.bus.Publish(events.RequestCompleted, event)
	return resp, nil
}

// dispatch executes req through the batch processor or the executor, holding
// an admission slot when queuing is enabled.
func (o *Optimizer) dispatch(ctx context.Context, req *transport.Request, cfg Config, event *RequestCompletedEvent) (*transport.Response, error) {
	if cfg.EnableQueuing {
		release, err := o.queue.acquire(ctx, req.Priority)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	if cfg.EnableBatching {
		o.metrics.addBatched(1, cfg.MaxBatchSize, cfg.MaxConcurrency)
		event.Batched = true
		if cfg.BatchWindow {
			return o.batch.Enqueue(ctx, req).Get(ctx)
		}
		return o.batch.ProcessRequest(ctx, req)
	}
	return o.executor.Execute(ctx, req)
}

func (o *Optimizer) compress(req *transport.Request, resp *transport.Response, event *RequestCompletedEvent) {
	o.mu.RLock()
	compressor := o.compressor
	o.mu.RUnlock()

	result := compressor.Compress(resp)
	if result.Algorithm == perf.AlgorithmNone || result.CompressionRatio <= minCommitRatio {
		return
	}

	resp.Data = result.Data
	resp.Encoding = result.Algorithm
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Content-Encoding"] = result.Algorithm

	saved := result.Saved()
	o.metrics.addCompression(result.CompressionRatio, saved)
	event.Compressed = true
	event.Encoding = result.Algorithm
	event.BytesSaved = saved

	o.logger.Debug("response compressed",
		zap.String("request_id", req.ID),
		zap.Int("original_size", result.OriginalSize),
		zap.Int("compressed_size", result.CompressedSize),
		zap.Float64("ratio", result.CompressionRatio))
}

// OptimizeRequests groups requests by method and endpoint, splits groups to
// at most MaxBatchSize and dispatches the groups in parallel. Responses are
// flattened in group order, so callers correlate them by ID. The first group
// failure cancels the rest and is returned.
func (o *Optimizer) OptimizeRequests(ctx context.Context, reqs []*transport.Request) ([]*transport.Response, error) {
	if !o.IsRunning() {
		return nil, ErrNotRunning
	}
	if len(reqs) == 0 {
		return nil, nil
	}
	cfg := o.Config()

	var groups [][]*transport.Request
	if cfg.EnableBatching {
		groups = GroupRequests(reqs, cfg.MaxBatchSize)
	} else {
		groups = perf.Chunk(reqs, 1)
	}

	results := make([][]*transport.Response, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	for i, group := range groups {
		g.Go(func() error {
			if len(group) == 1 {
				resp, err := o.OptimizeRequest(gctx, group[0])
				if err != nil {
					return err
				}
				results[i] = []*transport.Response{resp}
				return nil
			}

			resps, err := o.dispatchBatch(gctx, group, cfg)
			if err != nil {
				return err
			}
			results[i] = resps
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("batch optimization failed",
			zap.Int("requests", len(reqs)),
			zap.Int("groups", len(groups)),
			zap.Error(err))
		return nil, err
	}

	out := make([]*transport.Response, 0, len(reqs))
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func (o *Optimizer) dispatchBatch(ctx context.Context, group []*transport.Request, cfg Config) ([]*transport.Response, error) {
	n := int64(len(group))
	o.metrics.addRequests(n, cfg.MaxConcurrency)
	o.metrics.addBatched(n, cfg.MaxBatchSize, cfg.MaxConcurrency)

	if cfg.EnableQueuing {
		priority := group[0].Priority
		for _, r := range group[1:] {
			if r.Priority > priority {
				priority = r.Priority
			}
		}
		release, err := o.queue.acquire(ctx, priority)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	resps, err := o.batch.ProcessBatch(ctx, group)
	if err != nil {
		o.logger.Error("batch dispatch failed",
			zap.String("key", group[0].Key()),
			zap.Int("size", len(group)),
			zap.Error(err))
		return nil, err
	}
	return resps, nil
}

// GroupRequests groups requests by method:endpoint in order of first
// appearance and splits each group into chunks of at most maxBatchSize.
func GroupRequests(reqs []*transport.Request, maxBatchSize int) [][]*transport.Request {
	index := make(map[string]int)
	var grouped [][]*transport.Request
	for _, r := range reqs {
		key := r.Key()
		i, ok := index[key]
		if !ok {
			i = len(grouped)
			index[key] = i
			grouped = append(grouped, nil)
		}
		grouped[i] = append(grouped[i], r)
	}

	var out [][]*transport.Request
	for _, g := range grouped {
		out = append(out, perf.Chunk(g, maxBatchSize)...)
	}
	return out
}

// AddOptimizationRule registers a rule and re-sorts the rule list
func (o *Optimizer) AddOptimizationRule(rule Rule) error {
	if err := o.rules.add(rule); err != nil {
		return err
	}
	o.logger.Debug("optimization rule added",
		zap.String("rule_id", rule.ID),
		zap.Int("priority", rule.Priority))
	return nil
}

// RemoveOptimizationRule removes a rule and reports whether it existed
func (o *Optimizer) RemoveOptimizationRule(id string) bool {
	return o.rules.remove(id)
}

// SetRuleEnabled toggles a rule and reports whether it exists
func (o *Optimizer) SetRuleEnabled(id string, enabled bool) bool {
	return o.rules.setEnabled(id, enabled)
}

// Rules lists registered rules in execution order
func (o *Optimizer) Rules() []RuleInfo {
	return o.rules.list()
}

// Metrics returns a snapshot of the aggregate metrics
func (o *Optimizer) Metrics() Metrics {
	return o.metrics.snapshot()
}

// RequestPatterns returns observed request patterns, most frequent first
func (o *Optimizer) RequestPatterns() []RequestPattern {
	return o.patterns.snapshot()
}

// QueueStats returns admission queue statistics
func (o *Optimizer) QueueStats() QueueStats {
	return o.queue.stats()
}

// DedupStats returns deduplication statistics
func (o *Optimizer) DedupStats() *perf.DedupStats {
	return o.dedup.Stats()
}

// ResetMetrics zeroes the aggregate metrics
func (o *Optimizer) ResetMetrics() {
	o.metrics.reset()
	o.logger.Info("optimizer metrics reset")
}
