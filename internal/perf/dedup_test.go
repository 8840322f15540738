// internal/perf/dedup_test.go
package perf

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FairForge/requestopt/internal/events"
	"github.com/FairForge/requestopt/internal/transport"
)

func newReq(method, endpoint string, params map[string]interface{}) *transport.Request {
	return transport.NewRequest(method, endpoint, params)
}

func TestSignatureOrderIndependent(t *testing.T) {
	a := map[string]interface{}{}
	a["status"] = "open"
	a["page"] = 2
	a["filter"] = map[string]interface{}{"z": 1, "a": []interface{}{"x", "y"}}

	b := map[string]interface{}{}
	b["filter"] = map[string]interface{}{"a": []interface{}{"x", "y"}, "z": 1}
	b["page"] = 2
	b["status"] = "open"

	sigA, err := Signature(newReq("get", "/tickets/list", a))
	if err != nil {
		t.Fatalf("signature failed: %v", err)
	}
	sigB, err := Signature(newReq("GET", "/tickets/list", b))
	if err != nil {
		t.Fatalf("signature failed: %v", err)
	}
	if sigA != sigB {
		t.Errorf("expected equal signatures, got %s and %s", sigA, sigB)
	}

	sigC, _ := Signature(newReq("GET", "/tickets/list", map[string]interface{}{"page": 3}))
	if sigC == sigA {
		t.Error("different params must not share a signature")
	}
}

func TestSignatureEmptyParams(t *testing.T) {
	s1, _ := Signature(newReq("GET", "/companies", nil))
	s2, _ := Signature(newReq("GET", "/companies", map[string]interface{}{}))
	if s1 != s2 {
		t.Error("nil and empty params should match")
	}
}

func TestDeduplicatorConcurrentCoalescing(t *testing.T) {
	bus := events.NewBus()
	var cacheHits atomic.Int64
	bus.Subscribe(events.CacheHit, func(events.Event) { cacheHits.Add(1) })

	d := NewDeduplicator(time.Minute, bus, nil)

	var executions atomic.Int64
	release := make(chan struct{})
	exec := func(ctx context.Context) (*transport.Response, error) {
		executions.Add(1)
		<-release
		return &transport.Response{ID: "shared", StatusCode: 200, Data: "ok", Success: true}, nil
	}

	const n = 20
	var wg sync.WaitGroup
	responses := make([]*transport.Response, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := newReq("GET", "/contacts/list", map[string]interface{}{"page": 1})
			responses[i], _, errs[i] = d.Do(context.Background(), req, exec)
		}(i)
	}

	// Let every goroutine reach the entry before releasing the leader.
	deadline := time.Now().Add(2 * time.Second)
	for cacheHits.Load() < n-1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	if got := executions.Load(); got != 1 {
		t.Errorf("expected 1 execution, got %d", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d failed: %v", i, errs[i])
		}
		if responses[i].Data != "ok" {
			t.Errorf("request %d got %v", i, responses[i].Data)
		}
	}

	req := newReq("GET", "/contacts/list", map[string]interface{}{"page": 1})
	if hits := d.Hits(req); hits != n-1 {
		t.Errorf("expected %d hits, got %d", n-1, hits)
	}
	if stats := d.Stats(); stats.Hits != n-1 || stats.Misses != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestDeduplicatorCheckHitAndMiss(t *testing.T) {
	d := NewDeduplicator(time.Minute, nil, nil)
	req := newReq("GET", "/companies/1", nil)

	if _, ok := d.Check(context.Background(), req); ok {
		t.Fatal("expected miss on empty deduplicator")
	}

	_, shared, err := d.Do(context.Background(), req, func(context.Context) (*transport.Response, error) {
		return &transport.Response{ID: req.ID, StatusCode: 200, Headers: map[string]string{"X": "1"}}, nil
	})
	if err != nil || shared {
		t.Fatalf("expected fresh execution, got shared=%v err=%v", shared, err)
	}

	resp, ok := d.Check(context.Background(), newReq("GET", "/companies/1", nil))
	if !ok {
		t.Fatal("expected hit")
	}
	resp.Headers["X"] = "mutated"

	again, _ := d.Check(context.Background(), req)
	if again.Headers["X"] != "1" {
		t.Error("cached response was mutated through a returned copy")
	}
}

func TestDeduplicatorFailureEvicts(t *testing.T) {
	d := NewDeduplicator(time.Minute, nil, nil)
	req := newReq("POST", "/tickets", map[string]interface{}{"title": "x"})

	boom := errors.New("boom")
	_, _, err := d.Do(context.Background(), req, func(context.Context) (*transport.Response, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if d.Len() != 0 {
		t.Errorf("failed entry should be evicted, %d left", d.Len())
	}

	calls := 0
	resp, shared, err := d.Do(context.Background(), req, func(context.Context) (*transport.Response, error) {
		calls++
		return &transport.Response{StatusCode: 201}, nil
	})
	if err != nil || shared || calls != 1 || resp.StatusCode != 201 {
		t.Errorf("expected fresh execution after failure, got calls=%d shared=%v err=%v", calls, shared, err)
	}
}

func TestDeduplicatorWaiterRecoversFromFailedLeader(t *testing.T) {
	d := NewDeduplicator(time.Minute, nil, nil)
	req := newReq("GET", "/contacts/7", nil)

	future := d.Register(req)
	if future == nil {
		t.Fatal("expected registration")
	}

	done := make(chan *transport.Response, 1)
	go func() {
		resp, _, _ := d.Do(context.Background(), req, func(context.Context) (*transport.Response, error) {
			return &transport.Response{StatusCode: 200, Data: "fresh"}, nil
		})
		done <- resp
	}()

	time.Sleep(10 * time.Millisecond)
	d.Complete(req, nil, errors.New("upstream failed"))

	select {
	case resp := <-done:
		if resp == nil || resp.Data != "fresh" {
			t.Errorf("expected fresh response, got %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter did not recover")
	}
}

func TestDeduplicatorSharedResponseCarriesRequestID(t *testing.T) {
	bus := events.NewBus()
	var cacheHits atomic.Int64
	bus.Subscribe(events.CacheHit, func(events.Event) { cacheHits.Add(1) })
	d := NewDeduplicator(time.Minute, bus, nil)

	leaderReq := newReq("GET", "/deals", map[string]interface{}{"stage": "won"})
	followerReq := newReq("GET", "/deals", map[string]interface{}{"stage": "won"})
	followerReq.ID = "follower-1"

	started := make(chan struct{})
	release := make(chan struct{})
	leaderDone := make(chan *transport.Response, 1)
	go func() {
		resp, _, _ := d.Do(context.Background(), leaderReq, func(context.Context) (*transport.Response, error) {
			close(started)
			<-release
			return &transport.Response{ID: leaderReq.ID, StatusCode: 200, Data: "won"}, nil
		})
		leaderDone <- resp
	}()
	<-started

	followerDone := make(chan *transport.Response, 1)
	go func() {
		resp, shared, err := d.Do(context.Background(), followerReq, func(context.Context) (*transport.Response, error) {
			t.Error("follower should not execute")
			return nil, nil
		})
		if err != nil || !shared {
			t.Errorf("expected shared response, got shared=%v err=%v", shared, err)
		}
		followerDone <- resp
	}()

	deadline := time.Now().Add(2 * time.Second)
	for cacheHits.Load() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(release)

	if resp := <-leaderDone; resp.ID != leaderReq.ID {
		t.Errorf("leader response ID %q, want %q", resp.ID, leaderReq.ID)
	}
	if resp := <-followerDone; resp == nil || resp.ID != "follower-1" {
		t.Errorf("follower response should carry its own ID, got %+v", resp)
	}

	checkReq := newReq("GET", "/deals", map[string]interface{}{"stage": "won"})
	checkReq.ID = "check-1"
	resp, ok := d.Check(context.Background(), checkReq)
	if !ok {
		t.Fatal("expected hit")
	}
	if resp.ID != "check-1" {
		t.Errorf("checked response ID %q, want check-1", resp.ID)
	}
}

func TestDeduplicatorLeaderPanicFailsEntry(t *testing.T) {
	bus := events.NewBus()
	var cacheHits atomic.Int64
	bus.Subscribe(events.CacheHit, func(events.Event) { cacheHits.Add(1) })
	d := NewDeduplicator(time.Minute, bus, nil)
	req := newReq("GET", "/contacts/9", nil)

	started := make(chan struct{})
	release := make(chan struct{})
	recovered := make(chan interface{}, 1)
	go func() {
		defer func() { recovered <- recover() }()
		_, _, _ = d.Do(context.Background(), req, func(context.Context) (*transport.Response, error) {
			close(started)
			<-release
			panic("executor crashed")
		})
	}()
	<-started

	followerDone := make(chan *transport.Response, 1)
	go func() {
		resp, _, err := d.Do(context.Background(), newReq("GET", "/contacts/9", nil), func(context.Context) (*transport.Response, error) {
			return &transport.Response{StatusCode: 200, Data: "retried"}, nil
		})
		if err != nil {
			t.Errorf("follower failed: %v", err)
		}
		followerDone <- resp
	}()

	deadline := time.Now().Add(2 * time.Second)
	for cacheHits.Load() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(release)

	if r := <-recovered; r != "executor crashed" {
		t.Errorf("panic should propagate to the leader, got %v", r)
	}

	select {
	case resp := <-followerDone:
		if resp == nil || resp.Data != "retried" {
			t.Errorf("expected follower to run its own execution, got %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("follower blocked on a panicked execution")
	}

	if stats := d.Stats(); stats.Failures != 1 {
		t.Errorf("expected 1 failure, got %+v", stats)
	}
}

func TestDeduplicatorExpiry(t *testing.T) {
	d := NewDeduplicator(time.Second, nil, nil)
	now := time.Now()
	d.now = func() time.Time { return now }

	req := newReq("GET", "/tickets/list", nil)
	_, _, _ = d.Do(context.Background(), req, func(context.Context) (*transport.Response, error) {
		return &transport.Response{StatusCode: 200}, nil
	})

	if _, ok := d.Check(context.Background(), req); !ok {
		t.Fatal("expected hit inside window")
	}

	now = now.Add(time.Second)
	if _, ok := d.Check(context.Background(), req); ok {
		t.Error("entry outlived its window")
	}
	if d.Len() != 0 {
		t.Errorf("expired entry not evicted, %d left", d.Len())
	}
}

func TestDeduplicatorRegisterDuplicate(t *testing.T) {
	d := NewDeduplicator(0, nil, nil)
	req := newReq("GET", "/a", nil)

	if d.Register(req) == nil {
		t.Fatal("expected first registration")
	}
	if d.Register(req) != nil {
		t.Error("duplicate registration should return nil")
	}

	d.Complete(req, &transport.Response{StatusCode: 200}, nil)
	resp, ok := d.Check(context.Background(), req)
	if !ok || resp.StatusCode != 200 {
		t.Error("expected completed response")
	}

	d.Clear()
	if d.Len() != 0 {
		t.Error("expected empty after clear")
	}
}

func TestDeduplicatorPurgesExpiredOnRegister(t *testing.T) {
	d := NewDeduplicator(time.Second, nil, nil)
	now := time.Now()
	d.now = func() time.Time { return now }

	ok := func(context.Context) (*transport.Response, error) {
		return &transport.Response{StatusCode: 200}, nil
	}
	for _, ep := range []string{"/a", "/b"} {
		_, _, _ = d.Do(context.Background(), newReq("GET", ep, nil), ok)
	}

	now = now.Add(time.Second)
	_, _, _ = d.Do(context.Background(), newReq("GET", "/c", nil), ok)

	if d.Len() != 1 {
		t.Errorf("expected only the fresh entry, got %d", d.Len())
	}
	if stats := d.Stats(); stats.Evictions != 2 {
		t.Errorf("expected 2 evictions, got %d", stats.Evictions)
	}
}
