package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSimulatedFailure is returned when the simulated executor injects a failure
var ErrSimulatedFailure = errors.New("transport: simulated failure")

// SimulatedConfig configures the in-process executor used by benchmarks and tests
type SimulatedConfig struct {
	Latency     time.Duration `yaml:"latency"`
	Jitter      time.Duration `yaml:"jitter"`
	FailureRate float64       `yaml:"failure_rate"` // 0-1
	PayloadSize int           `yaml:"payload_size"` // approximate JSON bytes
	Seed        uint64        `yaml:"seed"`
}

// DefaultSimulatedConfig returns defaults
func DefaultSimulatedConfig() *SimulatedConfig {
	return &SimulatedConfig{
		Latency:     5 * time.Millisecond,
		Jitter:      2 * time.Millisecond,
		PayloadSize: 2048,
		Seed:        1,
	}
}

// SimulatedExecutor answers requests locally with a deterministic latency,
// failure and payload profile.
type SimulatedExecutor struct {
	config *SimulatedConfig
	mu     sync.Mutex
	rng    *rand.Rand
	calls  atomic.Int64
}

// NewSimulatedExecutor creates a simulated executor
func NewSimulatedExecutor(config *SimulatedConfig) *SimulatedExecutor {
	if config == nil {
		config = DefaultSimulatedConfig()
	}
	return &SimulatedExecutor{
		config: config,
		rng:    rand.New(rand.NewPCG(config.Seed, config.Seed^0x9e3779b97f4a7c15)),
	}
}

// Execute sleeps for the configured latency and returns a synthetic payload
func (s *SimulatedExecutor) Execute(ctx context.Context, req *Request) (*Response, error) {
	s.calls.Add(1)

	s.mu.Lock()
	delay := s.config.Latency
	if s.config.Jitter > 0 {
		delay += time.Duration(s.rng.Int64N(int64(s.config.Jitter)))
	}
	fail := s.config.FailureRate > 0 && s.rng.Float64() < s.config.FailureRate
	s.mu.Unlock()

	start := time.Now()
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if fail {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Endpoint, ErrSimulatedFailure)
	}

	return &Response{
		ID:           req.ID,
		StatusCode:   200,
		Headers:      map[string]string{"Content-Type": "application/json"},
		Data:         syntheticPayload(req, s.config.PayloadSize),
		ResponseTime: time.Since(start),
		Success:      true,
	}, nil
}

// Calls returns how many requests reached the executor
func (s *SimulatedExecutor) Calls() int64 {
	return s.calls.Load()
}

func syntheticPayload(req *Request, size int) map[string]interface{} {
	// each item serializes to roughly 64 bytes
	n := size / 64
	items := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, map[string]interface{}{
			"id":     i,
			"name":   fmt.Sprintf("item-%06d", i),
			"status": "active",
		})
	}
	return map[string]interface{}{
		"endpoint": req.Endpoint,
		"items":    items,
		"count":    n,
	}
}
