// internal/perf/batch.go
package perf

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FairForge/requestopt/internal/events"
	"github.com/FairForge/requestopt/internal/transport"
	"go.uber.org/zap"
)

// ErrProcessorStopped is returned for work submitted to a stopped processor
var ErrProcessorStopped = errors.New("batch processor is not running")

// BatchConfig configures batch processing
type BatchConfig struct {
	MaxBatchSize  int
	BatchTimeout  time.Duration
	MaxConcurrent int
}

// DefaultBatchConfig returns default configuration
func DefaultBatchConfig() *BatchConfig {
	return &BatchConfig{
		MaxBatchSize:  10,
		BatchTimeout:  100 * time.Millisecond,
		MaxConcurrent: 10,
	}
}

// BatchStats tracks batch statistics
type BatchStats struct {
	BatchesProcessed int64
	ItemsProcessed   int64
	SingleRequests   int64
	Errors           int64
	AvgBatchSize     float64
}

// BatchProcessedEvent is the payload of events.BatchProcessed
type BatchProcessedEvent struct {
	Size      int                   `json:"size"`
	Responses []*transport.Response `json:"responses"`
}

type queuedRequest struct {
	ctx    context.Context
	req    *transport.Request
	future *Future[*transport.Response]
}

// BatchProcessor dispatches requests to an executor either one at a time or
// as groups executed concurrently. Enqueue accumulates requests into a
// window flushed by size or by BatchTimeout.
type BatchProcessor struct {
	config   *BatchConfig
	executor transport.Executor
	bus      *events.Bus
	logger   *zap.Logger
	parallel *ParallelBatchExecutor[*transport.Request, *transport.Response]

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	pending []queuedRequest
	timer   *time.Timer

	batches atomic.Int64
	items   atomic.Int64
	singles atomic.Int64
	errs    atomic.Int64
}

// NewBatchProcessor creates a stopped batch processor
func NewBatchProcessor(config *BatchConfig, executor transport.Executor, bus *events.Bus, logger *zap.Logger) *BatchProcessor {
	if config == nil {
		config = DefaultBatchConfig()
	}
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	bp := &BatchProcessor{
		config:   config,
		executor: executor,
		bus:      bus,
		logger:   logger,
	}
	bp.parallel = NewParallelBatchExecutor(config.MaxConcurrent, bp.execute)
	return bp
}

// Start enables processing
func (bp *BatchProcessor) Start() {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if bp.running {
		return
	}
	bp.ctx, bp.cancel = context.WithCancel(context.Background())
	bp.running = true
	bp.logger.Debug("batch processor started",
		zap.Int("max_batch_size", bp.config.MaxBatchSize),
		zap.Duration("batch_timeout", bp.config.BatchTimeout))
}

// Stop disables processing, cancels the flush timer and rejects requests
// still waiting in the accumulation window.
func (bp *BatchProcessor) Stop() {
	bp.mu.Lock()
	if !bp.running {
		bp.mu.Unlock()
		return
	}
	bp.running = false
	if bp.timer != nil {
		bp.timer.Stop()
		bp.timer = nil
	}
	pending := bp.pending
	bp.pending = nil
	cancel := bp.cancel
	bp.mu.Unlock()

	cancel()
	for _, q := range pending {
		q.future.Resolve(nil, ErrProcessorStopped)
	}
	bp.logger.Debug("batch processor stopped", zap.Int("rejected", len(pending)))
}

// IsRunning reports whether the processor accepts work
func (bp *BatchProcessor) IsRunning() bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.running
}

func (bp *BatchProcessor) execute(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	return bp.executor.Execute(ctx, req)
}

// ProcessRequest executes a single request immediately
func (bp *BatchProcessor) ProcessRequest(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if !bp.IsRunning() {
		return nil, ErrProcessorStopped
	}
	bp.singles.Add(1)

	resp, err := bp.execute(ctx, req)
	if err != nil {
		bp.errs.Add(1)
		return nil, fmt.Errorf("execute %s: %w", req.Key(), err)
	}
	return resp, nil
}

// ProcessBatch executes every request of the group concurrently and returns
// one response per request in input order. The first failure is returned
// after the whole group has settled.
func (bp *BatchProcessor) ProcessBatch(ctx context.Context, reqs []*transport.Request) ([]*transport.Response, error) {
	if !bp.IsRunning() {
		return nil, ErrProcessorStopped
	}
	if len(reqs) == 0 {
		return nil, nil
	}

	responses, errs := bp.parallel.Execute(ctx, reqs)
	bp.record(len(reqs))

	for i, err := range errs {
		if err != nil {
			bp.errs.Add(1)
			return nil, fmt.Errorf("batch item %s: %w", reqs[i].ID, err)
		}
	}

	bp.bus.Publish(events.BatchProcessed, BatchProcessedEvent{
		Size:      len(reqs),
		Responses: responses,
	})
	return responses, nil
}

func (bp *BatchProcessor) record(size int) {
	bp.batches.Add(1)
	bp.items.Add(int64(size))
}

// Enqueue adds a request to the accumulation window. The window is flushed
// as one batch once it holds MaxBatchSize requests or BatchTimeout after
// its first request arrived.
func (bp *BatchProcessor) Enqueue(ctx context.Context, req *transport.Request) *Future[*transport.Response] {
	future := NewFuture[*transport.Response]()

	bp.mu.Lock()
	if !bp.running {
		bp.mu.Unlock()
		future.Resolve(nil, ErrProcessorStopped)
		return future
	}

	bp.pending = append(bp.pending, queuedRequest{ctx: ctx, req: req, future: future})
	var batch []queuedRequest
	if len(bp.pending) >= bp.config.MaxBatchSize {
		batch = bp.takeLocked()
	} else if bp.timer == nil {
		bp.timer = time.AfterFunc(bp.config.BatchTimeout, bp.flushTimer)
	}
	bp.mu.Unlock()

	if batch != nil {
		go bp.dispatch(batch)
	}
	return future
}

// SetWindow changes the accumulation window limits. A window already open
// keeps its timer.
func (bp *BatchProcessor) SetWindow(maxBatchSize int, timeout time.Duration) {
	if maxBatchSize <= 0 {
		maxBatchSize = 1
	}
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.config.MaxBatchSize = maxBatchSize
	bp.config.BatchTimeout = timeout
}

// Flush dispatches the accumulation window now and waits for it
func (bp *BatchProcessor) Flush() {
	bp.mu.Lock()
	batch := bp.takeLocked()
	bp.mu.Unlock()
	if batch != nil {
		bp.dispatch(batch)
	}
}

// Pending returns number of requests waiting in the accumulation window
func (bp *BatchProcessor) Pending() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.pending)
}

func (bp *BatchProcessor) flushTimer() {
	bp.mu.Lock()
	bp.timer = nil
	batch := bp.takeLocked()
	bp.mu.Unlock()
	if batch != nil {
		bp.dispatch(batch)
	}
}

func (bp *BatchProcessor) takeLocked() []queuedRequest {
	if len(bp.pending) == 0 {
		return nil
	}
	if bp.timer != nil {
		bp.timer.Stop()
		bp.timer = nil
	}
	batch := bp.pending
	bp.pending = make([]queuedRequest, 0, bp.config.MaxBatchSize)
	return batch
}

// dispatch executes an accumulated window. Each request keeps its own
// context and each future settles with its own result.
func (bp *BatchProcessor) dispatch(batch []queuedRequest) {
	bp.mu.Lock()
	procCtx := bp.ctx
	bp.mu.Unlock()

	bp.record(len(batch))
	responses := make([]*transport.Response, len(batch))
	var wg sync.WaitGroup
	sem := make(chan struct{}, bp.parallel.Workers())
	failed := false
	var failMu sync.Mutex

	for i, q := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, q queuedRequest) {
			defer wg.Done()
			defer func() { <-sem }()

			ctx, cancel := mergeCancel(q.ctx, procCtx)
			defer cancel()

			resp, err := bp.execute(ctx, q.req)
			if err != nil {
				bp.errs.Add(1)
				failMu.Lock()
				failed = true
				failMu.Unlock()
				q.future.Resolve(nil, err)
				return
			}
			responses[idx] = resp
			q.future.Resolve(resp, nil)
		}(i, q)
	}
	wg.Wait()

	if !failed {
		bp.bus.Publish(events.BatchProcessed, BatchProcessedEvent{
			Size:      len(batch),
			Responses: responses,
		})
	}
}

// mergeCancel returns a context derived from ctx that is also cancelled
// when stop is done.
func mergeCancel(ctx, stop context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	if stop == nil {
		return merged, cancel
	}
	unregister := context.AfterFunc(stop, cancel)
	return merged, func() {
		unregister()
		cancel()
	}
}

// Stats returns batch statistics
func (bp *BatchProcessor) Stats() *BatchStats {
	stats := &BatchStats{
		BatchesProcessed: bp.batches.Load(),
		ItemsProcessed:   bp.items.Load(),
		SingleRequests:   bp.singles.Load(),
		Errors:           bp.errs.Load(),
	}
	if stats.BatchesProcessed > 0 {
		stats.AvgBatchSize = float64(stats.ItemsProcessed) / float64(stats.BatchesProcessed)
	}
	return stats
}

// Chunk splits items into consecutive slices of at most size elements
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end:end])
	}
	return chunks
}

// ParallelBatchExecutor executes batches in parallel
type ParallelBatchExecutor[T any, R any] struct {
	workers int
	process func(context.Context, T) (R, error)
}

// NewParallelBatchExecutor creates a new executor
func NewParallelBatchExecutor[T any, R any](workers int, process func(context.Context, T) (R, error)) *ParallelBatchExecutor[T, R] {
	if workers <= 0 {
		workers = 1
	}
	return &ParallelBatchExecutor[T, R]{
		workers: workers,
		process: process,
	}
}

// Execute processes items in parallel
func (e *ParallelBatchExecutor[T, R]) Execute(ctx context.Context, items []T) ([]R, []error) {
	results := make([]R, len(items))
	errors := make([]error, len(items))

	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup

	for i, item := range items {
		select {
		case <-ctx.Done():
			errors[i] = ctx.Err()
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(idx int, it T) {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := e.process(ctx, it)
			results[idx] = result
			errors[idx] = err
		}(i, item)
	}

	wg.Wait()
	return results, errors
}

// Workers returns worker count
func (e *ParallelBatchExecutor[T, R]) Workers() int {
	return e.workers
}
