package benchmark

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/FairForge/requestopt/internal/events"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxErrorRecords = 100

// synthesizedSuccessRate is assumed for single-worker runs, which skip the
// load phase and have no measured summary of their own.
const synthesizedSuccessRate = 0.95

// Option configures a Suite
type Option func(*Suite)

// WithLogger sets the suite logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Suite) {
		if logger != nil {
			s.logger = logger.Named("benchmark")
		}
	}
}

// WithEventBus publishes progress and results on bus
func WithEventBus(bus *events.Bus) Option {
	return func(s *Suite) {
		if bus != nil {
			s.bus = bus
		}
	}
}

// WithHistoryStore persists every recorded result
func WithHistoryStore(store HistoryStore) Option {
	return func(s *Suite) { s.store = store }
}

// WithHistoryLimit caps the in-memory history
func WithHistoryLimit(n int) Option {
	return func(s *Suite) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithProfiles adds or replaces named profiles
func WithProfiles(profiles map[string]Config) Option {
	return func(s *Suite) {
		for name, cfg := range profiles {
			s.profiles[name] = cfg
		}
	}
}

// WithRegressionThresholds overrides the regression thresholds
func WithRegressionThresholds(th RegressionThresholds) Option {
	return func(s *Suite) { s.thresholds = th }
}

type stoppable interface {
	Stop()
}

// Suite runs benchmarks against a target one at a time and keeps their
// history.
type Suite struct {
	target       Target
	logger       *zap.Logger
	bus          *events.Bus
	store        HistoryStore
	historyLimit int
	thresholds   RegressionThresholds
	profiles     map[string]Config

	mu      sync.Mutex
	running bool
	runID   string
	subs    []stoppable

	histMu      sync.RWMutex
	history     []*LoadTestResult
	regressions map[string][]Regression
}

// NewSuite creates a suite that drives target
func NewSuite(target Target, opts ...Option) *Suite {
	s := &Suite{
		target:       target,
		logger:       zap.NewNop(),
		bus:          events.NewBus(),
		historyLimit: DefaultHistoryLimit,
		thresholds:   DefaultRegressionThresholds(),
		profiles:     DefaultProfiles(),
		regressions:  make(map[string][]Regression),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers handler for events of the given type
func (s *Suite) Subscribe(eventType events.EventType, handler events.Handler) func() {
	return s.bus.Subscribe(eventType, handler)
}

// Bus returns the suite's event bus
func (s *Suite) Bus() *events.Bus {
	return s.bus
}

// IsRunning reports whether a run is active
func (s *Suite) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// StopBenchmark stops every phase of the active run. The run returns
// ErrStopped and records nothing. It reports whether a run was active.
func (s *Suite) StopBenchmark() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	for _, sub := range s.subs {
		sub.Stop()
	}
	s.logger.Info("benchmark stopped", zap.String("run_id", s.runID))
	s.running = false
	s.runID = ""
	s.subs = nil
	return true
}

// Profiles returns the registered profile names
func (s *Suite) Profiles() []string {
	return profileNames(s.profiles)
}

// Profile returns the named profile
func (s *Suite) Profile(name string) (Config, bool) {
	cfg, ok := s.profiles[name]
	return cfg, ok
}

// RunProfile runs the named profile
func (s *Suite) RunProfile(ctx context.Context, name string) (*LoadTestResult, error) {
	cfg, ok := s.profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	return s.RunBenchmark(ctx, cfg)
}

type phases struct {
	throughput *ThroughputBenchmark
	latency    *LatencyBenchmark
	memory     *MemoryBenchmark
	load       *LoadBenchmark
}

func (s *Suite) begin() (string, *phases, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return "", nil, ErrAlreadyRunning
	}

	p := &phases{
		throughput: NewThroughputBenchmark(s.target, s.logger),
		latency:    NewLatencyBenchmark(s.target, s.logger),
		memory:     NewMemoryBenchmark(s.target, s.logger),
		load:       NewLoadBenchmark(s.target, s.logger),
	}
	s.running = true
	s.runID = uuid.NewString()
	s.subs = []stoppable{p.throughput, p.latency, p.memory, p.load}
	return s.runID, p, nil
}

func (s *Suite) finish(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runID == runID {
		s.running = false
		s.runID = ""
		s.subs = nil
	}
}

func (s *Suite) active(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && s.runID == runID
}

func (s *Suite) progress(runID, name, phase string, percent int) {
	s.bus.Publish(events.Progress, ProgressEvent{RunID: runID, Name: name, Phase: phase, Percent: percent})
}

// RunBenchmark executes warmup, throughput, latency and memory phases, then
// a load phase when cfg.Concurrency > 1. The result is added to history.
// When MaxDuration elapses the remaining phases are cut short and the result
// covers what completed.
func (s *Suite) RunBenchmark(ctx context.Context, cfg Config) (*LoadTestResult, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	runID, p, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer s.finish(runID)

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if cfg.MaxDuration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cfg.MaxDuration)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	log := s.logger.With(zap.String("run_id", runID), zap.String("name", cfg.Name))
	log.Info("benchmark started",
		zap.Int("iterations", cfg.Iterations),
		zap.Int("concurrency", cfg.Concurrency))

	checkpoint := func() error {
		if !s.active(runID) {
			return ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("benchmark %s: %w", cfg.Name, err)
		}
		return nil
	}

	gen := NewRequestGenerator(cfg.TargetEntities, cfg.Scenarios)
	start := time.Now()
	result := &LoadTestResult{ID: runID, Config: cfg}

	warmup := cfg.WarmupIterations
	if warmup == 0 {
		warmup = phaseShare(cfg.Iterations, 0.1)
	}
	p.throughput.Run(runCtx, gen, warmup, cfg.Concurrency)
	if err := checkpoint(); err != nil {
		return nil, err
	}
	s.progress(runID, cfg.Name, "warmup", 10)

	throughput, tSamples := p.throughput.Run(runCtx, gen, phaseShare(cfg.Iterations, 0.3), cfg.Concurrency)
	if err := checkpoint(); err != nil {
		return nil, err
	}
	result.Performance.Throughput = throughput
	s.progress(runID, cfg.Name, "throughput", 40)

	latency, lSamples := p.latency.Run(runCtx, gen, phaseShare(cfg.Iterations, 0.3), cfg.Concurrency)
	if err := checkpoint(); err != nil {
		return nil, err
	}
	result.Performance.Latency = latency
	s.progress(runID, cfg.Name, "latency", 70)

	memory, resources, mSamples := p.memory.Run(runCtx, gen, phaseShare(cfg.Iterations, 0.2), cfg.Concurrency)
	if err := checkpoint(); err != nil {
		return nil, err
	}
	result.Performance.Memory = memory
	result.ResourceUtilization = resources
	s.progress(runID, cfg.Name, "memory", 90)

	phaseSamples := map[string][]sample{
		"throughput": tSamples,
		"latency":    lSamples,
		"memory":     mSamples,
	}

	if cfg.Concurrency > 1 {
		out := p.load.Run(runCtx, gen, cfg.Iterations, cfg.Concurrency)
		if err := checkpoint(); err != nil {
			return nil, err
		}
		phaseSamples["load"] = out.Samples

		failed := countFailures(out.Samples)
		result.Summary.TotalRequests = int64(len(out.Samples))
		result.Summary.FailedRequests = failed
		result.Summary.SuccessfulRequests = result.Summary.TotalRequests - failed
		result.Endpoints = endpointBreakdown(out.Samples)
		result.Concurrency = ConcurrencyResult{Level: cfg.Concurrency, PeakInFlight: out.PeakInFlight}
		if out.Duration > 0 {
			result.Concurrency.RequestsPerSecond = float64(len(out.Samples)) / out.Duration.Seconds()
		}
		result.ResourceUtilization = append(result.ResourceUtilization, out.Resources...)
	} else {
		total := int64(cfg.Iterations)
		successful := int64(math.Round(float64(total) * synthesizedSuccessRate))
		result.Summary.TotalRequests = total
		result.Summary.SuccessfulRequests = successful
		result.Summary.FailedRequests = total - successful
		result.Summary.Synthesized = true

		result.Endpoints = endpointBreakdown(tSamples)
		mergeEndpoints(result.Endpoints, endpointBreakdown(lSamples))
		mergeEndpoints(result.Endpoints, endpointBreakdown(mSamples))
		result.Concurrency = ConcurrencyResult{Level: 1, PeakInFlight: 1, RequestsPerSecond: throughput.RequestsPerSecond}
	}
	if result.Summary.TotalRequests > 0 {
		result.Summary.ErrorRate = float64(result.Summary.FailedRequests) / float64(result.Summary.TotalRequests) * 100
	}

	end := time.Now()
	result.Summary.StartTime = start
	result.Summary.EndTime = end
	result.Summary.Duration = end.Sub(start)
	result.Errors = collectErrors(phaseSamples)
	result.Recommendations = s.recommend(result)
	s.progress(runID, cfg.Name, "complete", 100)

	if runCtx.Err() != nil && ctx.Err() == nil {
		log.Warn("benchmark hit max duration, result is partial", zap.Duration("max_duration", cfg.MaxDuration))
	}

	// A stop that lands after the last phase still abandons the run.
	if !s.active(runID) {
		return nil, ErrStopped
	}

	s.RecordResult(ctx, result)
	s.bus.Publish(events.BenchmarkCompleted, CompletedEvent{
		RunID:             runID,
		Name:              cfg.Name,
		Duration:          result.Summary.Duration,
		RequestsPerSecond: throughput.RequestsPerSecond,
		MeanLatency:       latency.Mean,
		P99Latency:        latency.Percentiles.P99,
		ErrorRate:         result.Summary.ErrorRate,
		PeakMemory:        memory.PeakBytes,
	})

	log.Info("benchmark completed",
		zap.Duration("duration", result.Summary.Duration),
		zap.Float64("rps", throughput.RequestsPerSecond),
		zap.Float64("p99_ms", latency.Percentiles.P99))
	return result, nil
}

func phaseShare(iterations int, share float64) int {
	n := int(float64(iterations) * share)
	if n < 1 {
		n = 1
	}
	return n
}

func collectErrors(bySample map[string][]sample) []ErrorRecord {
	var out []ErrorRecord
	for _, phase := range []string{"throughput", "latency", "memory", "load"} {
		for _, s := range bySample[phase] {
			if s.Err == nil {
				continue
			}
			if len(out) == maxErrorRecords {
				return out
			}
			out = append(out, ErrorRecord{
				Timestamp: s.Start,
				Phase:     phase,
				Endpoint:  s.Endpoint,
				Message:   s.Err.Error(),
			})
		}
	}
	return out
}

func (s *Suite) recommend(r *LoadTestResult) []string {
	var recs []string
	if !r.Summary.Synthesized && r.Summary.ErrorRate > 5 {
		recs = append(recs, fmt.Sprintf("Error rate %.1f%% is above 5%%; inspect the error records before trusting latency figures", r.Summary.ErrorRate))
	}
	if r.Performance.Latency.Percentiles.P99 > 1000 {
		recs = append(recs, "P99 latency exceeds 1s; consider raising max_concurrency or batching slow endpoints")
	}
	if r.Performance.Memory.LeakSuspected {
		recs = append(recs, fmt.Sprintf("Heap grew %.1f%% across the memory phase; capture a heap profile", r.Performance.Memory.GrowthRate))
	}
	if r.Concurrency.Level > 1 && r.Concurrency.PeakInFlight < int64(r.Concurrency.Level) {
		recs = append(recs, "Peak in-flight requests stayed below the configured concurrency; the admission queue may be limiting load")
	}
	if a, ok := s.target.(Advisor); ok {
		recs = append(recs, a.Recommendations()...)
	}
	return recs
}

// RecordResult appends result to history, persists it and returns the
// regressions found against the previous entry.
func (s *Suite) RecordResult(ctx context.Context, result *LoadTestResult) []Regression {
	s.histMu.Lock()
	var previous *LoadTestResult
	if n := len(s.history); n > 0 {
		previous = s.history[n-1]
	}
	s.history = append(s.history, result)
	if over := len(s.history) - s.historyLimit; over > 0 {
		for _, old := range s.history[:over] {
			delete(s.regressions, old.ID)
		}
		s.history = append([]*LoadTestResult(nil), s.history[over:]...)
	}
	regs := DetectRegressions(previous, result, s.thresholds, time.Now())
	if len(regs) > 0 {
		s.regressions[result.ID] = regs
	}
	s.histMu.Unlock()

	if s.store != nil {
		if err := s.store.Save(ctx, result); err != nil {
			s.logger.Error("failed to persist benchmark result", zap.String("run_id", result.ID), zap.Error(err))
		}
	}

	if len(regs) > 0 {
		s.logger.Warn("performance regressions detected",
			zap.String("run_id", result.ID),
			zap.Int("count", len(regs)))
		s.bus.Publish(events.RegressionsDetected, RegressionsEvent{
			RunID:       result.ID,
			Name:        result.Config.Name,
			Regressions: regs,
		})
	}
	return regs
}

// LoadHistory replaces the in-memory history with the newest stored results
func (s *Suite) LoadHistory(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	results, err := s.store.Load(ctx, s.historyLimit)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	s.histMu.Lock()
	defer s.histMu.Unlock()
	s.history = results
	s.regressions = make(map[string][]Regression)
	for i := 1; i < len(results); i++ {
		if regs := DetectRegressions(results[i-1], results[i], s.thresholds, results[i].Summary.EndTime); len(regs) > 0 {
			s.regressions[results[i].ID] = regs
		}
	}
	return nil
}

// History returns the recorded results, oldest first
func (s *Suite) History() []*LoadTestResult {
	s.histMu.RLock()
	defer s.histMu.RUnlock()
	return append([]*LoadTestResult(nil), s.history...)
}

// Regressions returns the regressions recorded for a run
func (s *Suite) Regressions(runID string) []Regression {
	s.histMu.RLock()
	defer s.histMu.RUnlock()
	return append([]Regression(nil), s.regressions[runID]...)
}

// Report builds the report for a recorded run
func (s *Suite) Report(runID string) (*Report, error) {
	s.histMu.RLock()
	defer s.histMu.RUnlock()
	for _, r := range s.history {
		if r.ID == runID {
			return NewReport(r, append([]Regression(nil), s.regressions[r.ID]...)), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrBenchmarkNotFound, runID)
}

// lookup returns the newest results matching ref by ID or name, newest first
func (s *Suite) lookup(ref string) []*LoadTestResult {
	s.histMu.RLock()
	defer s.histMu.RUnlock()
	var out []*LoadTestResult
	for i := len(s.history) - 1; i >= 0; i-- {
		r := s.history[i]
		if r.ID == ref || r.Config.Name == ref {
			out = append(out, r)
		}
	}
	return out
}

// Compare compares the latest run of current against the latest run of
// baseline. Names or run IDs are accepted. When both refer to the same
// name the two most recent runs of it are compared.
func (s *Suite) Compare(baseline, current string) (*ComparisonReport, error) {
	base := s.lookup(baseline)
	if len(base) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrBenchmarkNotFound, baseline)
	}
	if baseline == current {
		if len(base) < 2 {
			return nil, fmt.Errorf("%w: %s has no earlier run", ErrBenchmarkNotFound, baseline)
		}
		return CompareResults(base[1], base[0]), nil
	}
	cur := s.lookup(current)
	if len(cur) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrBenchmarkNotFound, current)
	}
	return CompareResults(base[0], cur[0]), nil
}

// CompareBenchmarks is Compare for report generation: a missing benchmark
// is logged and yields nil.
func (s *Suite) CompareBenchmarks(baseline, current string) *ComparisonReport {
	report, err := s.Compare(baseline, current)
	if err != nil {
		s.logger.Error("benchmark comparison failed",
			zap.String("baseline", baseline),
			zap.String("current", current),
			zap.Error(err))
		return nil
	}
	return report
}
