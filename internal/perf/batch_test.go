// internal/perf/batch_test.go
package perf

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FairForge/requestopt/internal/events"
	"github.com/FairForge/requestopt/internal/transport"
)

func echoExecutor(calls *atomic.Int64) transport.Executor {
	return transport.ExecutorFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		calls.Add(1)
		return &transport.Response{ID: req.ID, StatusCode: 200, Success: true}, nil
	})
}

func TestDefaultBatchConfig(t *testing.T) {
	config := DefaultBatchConfig()

	if config.MaxBatchSize != 10 {
		t.Errorf("expected 10, got %d", config.MaxBatchSize)
	}
	if config.BatchTimeout != 100*time.Millisecond {
		t.Error("unexpected batch timeout")
	}
	if config.MaxConcurrent != 10 {
		t.Errorf("expected 10, got %d", config.MaxConcurrent)
	}
}

func TestBatchProcessorRejectsWhenStopped(t *testing.T) {
	var calls atomic.Int64
	bp := NewBatchProcessor(nil, echoExecutor(&calls), nil, nil)

	if _, err := bp.ProcessRequest(context.Background(), newReq("GET", "/a", nil)); !errors.Is(err, ErrProcessorStopped) {
		t.Errorf("expected ErrProcessorStopped, got %v", err)
	}
	if _, err := bp.ProcessBatch(context.Background(), []*transport.Request{newReq("GET", "/a", nil)}); !errors.Is(err, ErrProcessorStopped) {
		t.Errorf("expected ErrProcessorStopped, got %v", err)
	}
	if _, err := bp.Enqueue(context.Background(), newReq("GET", "/a", nil)).Get(context.Background()); !errors.Is(err, ErrProcessorStopped) {
		t.Errorf("expected ErrProcessorStopped, got %v", err)
	}
	if calls.Load() != 0 {
		t.Error("executor must not run while stopped")
	}
}

func TestBatchProcessorProcessRequest(t *testing.T) {
	var calls atomic.Int64
	bp := NewBatchProcessor(nil, echoExecutor(&calls), nil, nil)
	bp.Start()
	defer bp.Stop()

	req := newReq("GET", "/companies/1", nil)
	resp, err := bp.ProcessRequest(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.ID != req.ID {
		t.Error("response id should match request")
	}
	if stats := bp.Stats(); stats.SingleRequests != 1 || stats.BatchesProcessed != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestBatchProcessorProcessBatchOrder(t *testing.T) {
	bus := events.NewBus()
	var event BatchProcessedEvent
	bus.Subscribe(events.BatchProcessed, func(e events.Event) {
		event = e.Payload.(BatchProcessedEvent)
	})

	// Earlier requests finish later so completion order differs from input order.
	exec := transport.ExecutorFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		delay := time.Duration(req.Priority) * time.Millisecond
		time.Sleep(delay)
		return &transport.Response{ID: req.ID, StatusCode: 200}, nil
	})

	bp := NewBatchProcessor(&BatchConfig{MaxBatchSize: 5, MaxConcurrent: 5}, exec, bus, nil)
	bp.Start()
	defer bp.Stop()

	reqs := make([]*transport.Request, 5)
	for i := range reqs {
		reqs[i] = newReq("GET", "/tickets/list", map[string]interface{}{"page": i})
		reqs[i].Priority = 25 - i*5
	}

	responses, err := bp.ProcessBatch(context.Background(), reqs)
	if err != nil {
		t.Fatal(err)
	}
	if len(responses) != len(reqs) {
		t.Fatalf("expected %d responses, got %d", len(reqs), len(responses))
	}
	for i := range reqs {
		if responses[i].ID != reqs[i].ID {
			t.Errorf("response %d out of order", i)
		}
	}
	if event.Size != 5 || len(event.Responses) != 5 {
		t.Errorf("unexpected batch event %+v", event)
	}
	if stats := bp.Stats(); stats.BatchesProcessed != 1 || stats.AvgBatchSize != 5 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestBatchProcessorProcessBatchError(t *testing.T) {
	bus := events.NewBus()
	boom := errors.New("boom")
	exec := transport.ExecutorFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		if req.Endpoint == "/bad" {
			return nil, boom
		}
		return &transport.Response{ID: req.ID}, nil
	})

	bp := NewBatchProcessor(nil, exec, bus, nil)
	bp.Start()
	defer bp.Stop()

	_, err := bp.ProcessBatch(context.Background(), []*transport.Request{
		newReq("GET", "/good", nil),
		newReq("GET", "/bad", nil),
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if bus.Count(events.BatchProcessed) != 0 {
		t.Error("failed batch should not be reported as processed")
	}
}

func TestBatchProcessorEnqueueFlushOnSize(t *testing.T) {
	var calls atomic.Int64
	bp := NewBatchProcessor(&BatchConfig{MaxBatchSize: 3, BatchTimeout: time.Hour, MaxConcurrent: 3}, echoExecutor(&calls), nil, nil)
	bp.Start()
	defer bp.Stop()

	futures := make([]*Future[*transport.Response], 3)
	for i := range futures {
		futures[i] = bp.Enqueue(context.Background(), newReq("GET", "/contacts", map[string]interface{}{"i": i}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i, f := range futures {
		if _, err := f.Get(ctx); err != nil {
			t.Fatalf("future %d: %v", i, err)
		}
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 executions, got %d", calls.Load())
	}
	if bp.Pending() != 0 {
		t.Error("window should be empty")
	}
}

func TestBatchProcessorEnqueueFlushOnTimeout(t *testing.T) {
	var calls atomic.Int64
	bp := NewBatchProcessor(&BatchConfig{MaxBatchSize: 100, BatchTimeout: 50 * time.Millisecond, MaxConcurrent: 4}, echoExecutor(&calls), nil, nil)
	bp.Start()
	defer bp.Stop()

	f := bp.Enqueue(context.Background(), newReq("GET", "/contacts", nil))
	if bp.Pending() != 1 {
		t.Errorf("expected 1 pending, got %d", bp.Pending())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := f.Get(ctx); err != nil {
		t.Fatalf("timeout flush did not happen: %v", err)
	}
	if stats := bp.Stats(); stats.BatchesProcessed != 1 {
		t.Errorf("expected 1 batch, got %d", stats.BatchesProcessed)
	}
}

func TestBatchProcessorStopRejectsPending(t *testing.T) {
	var calls atomic.Int64
	bp := NewBatchProcessor(&BatchConfig{MaxBatchSize: 100, BatchTimeout: time.Hour, MaxConcurrent: 1}, echoExecutor(&calls), nil, nil)
	bp.Start()

	f := bp.Enqueue(context.Background(), newReq("GET", "/contacts", nil))
	bp.Stop()

	if _, err := f.Get(context.Background()); !errors.Is(err, ErrProcessorStopped) {
		t.Errorf("expected ErrProcessorStopped, got %v", err)
	}
	if calls.Load() != 0 {
		t.Error("pending request should not execute after stop")
	}
}

func TestChunk(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}
	chunks := Chunk(items, 3)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	total := 0
	for _, c := range chunks {
		if len(c) > 3 {
			t.Errorf("chunk larger than limit: %d", len(c))
		}
		total += len(c)
	}
	if total != len(items) {
		t.Errorf("expected %d items, got %d", len(items), total)
	}
	if len(Chunk([]int{}, 3)) != 0 {
		t.Error("expected no chunks for empty input")
	}
}

func TestParallelBatchExecutor(t *testing.T) {
	var maxInFlight, inFlight atomic.Int64
	executor := NewParallelBatchExecutor(2, func(ctx context.Context, x int) (int, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return x * 2, nil
	})

	results, errs := executor.Execute(context.Background(), []int{1, 2, 3, 4, 5})
	for i, r := range results {
		if errs[i] != nil || r != (i+1)*2 {
			t.Errorf("item %d: got %d %v", i, r, errs[i])
		}
	}
	if maxInFlight.Load() > 2 {
		t.Errorf("worker limit exceeded: %d", maxInFlight.Load())
	}
	if executor.Workers() != 2 {
		t.Errorf("expected 2 workers, got %d", executor.Workers())
	}
}

func TestBatchProcessorSetWindow(t *testing.T) {
	var calls atomic.Int64
	bp := NewBatchProcessor(&BatchConfig{MaxBatchSize: 10, BatchTimeout: time.Minute, MaxConcurrent: 4}, echoExecutor(&calls), events.NewBus(), nil)
	bp.Start()
	defer bp.Stop()

	bp.SetWindow(2, time.Minute)
	f1 := bp.Enqueue(context.Background(), newReq("GET", "/a", nil))
	if bp.Pending() != 1 {
		t.Fatalf("expected 1 pending, got %d", bp.Pending())
	}
	f2 := bp.Enqueue(context.Background(), newReq("GET", "/b", nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, f := range []*Future[*transport.Response]{f1, f2} {
		if _, err := f.Get(ctx); err != nil {
			t.Fatalf("expected the smaller window to flush, got %v", err)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 executions, got %d", calls.Load())
	}
}
