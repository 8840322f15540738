// internal/perf/async_test.go
package perf

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFutureResolve(t *testing.T) {
	f := NewFuture[int]()
	if f.IsReady() {
		t.Fatal("expected unsettled future")
	}

	go f.Resolve(42, nil)

	result, err := f.Get(context.Background())
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if result != 42 {
		t.Errorf("expected 42, got %d", result)
	}
	if !f.IsReady() {
		t.Error("expected ready future")
	}
}

func TestFutureResolveOnce(t *testing.T) {
	f := NewFuture[string]()
	f.Resolve("first", nil)
	f.Resolve("second", errors.New("ignored"))

	result, err := f.Get(context.Background())
	if err != nil || result != "first" {
		t.Errorf("expected first result to win, got %q %v", result, err)
	}
}

func TestFutureError(t *testing.T) {
	f := NewFuture[int]()
	want := errors.New("boom")
	f.Resolve(0, want)

	if _, err := f.Get(context.Background()); !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
}

func TestFutureGetContextCancel(t *testing.T) {
	f := NewFuture[int]()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := f.Get(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestFutureDone(t *testing.T) {
	f := NewFuture[int]()
	f.Resolve(1, nil)

	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("done channel not closed")
	}
}
