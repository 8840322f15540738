// Package events is the in-process signal bus shared by the optimizer, its
// components and the benchmark suite.
package events

import (
	"sync"
	"time"
)

// EventType names a signal. The string values are part of the external
// contract; tooling subscribes by name.
type EventType string

const (
	BatchProcessed       EventType = "batch_processed"
	CacheHit             EventType = "cache_hit"
	CompressionCompleted EventType = "compression_completed"
	RequestCompleted     EventType = "request_completed"
	RuleFailed           EventType = "rule_failed"
	Progress             EventType = "progress"
	BenchmarkCompleted   EventType = "benchmark_completed"
	RegressionsDetected  EventType = "regressions_detected"
)

// All matches every event type when used as a subscription pattern
const All EventType = "*"

// Event is a published signal. Payload holds the emitting package's typed
// payload (for example perf.CompressionEvent).
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Handler processes events
type Handler func(event Event)

type subscription struct {
	id      uint64
	pattern EventType
	handler Handler
}

// Bus is a synchronous in-memory publish/subscribe hub. Handlers run on the
// publishing goroutine in subscription order.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	counts map[EventType]int64
}

// NewBus creates an event bus
func NewBus() *Bus {
	return &Bus{
		counts: make(map[EventType]int64),
	}
}

// Subscribe registers a handler and returns a function that removes it
func (b *Bus) Subscribe(pattern EventType, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, pattern: pattern, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers an event to every matching handler
func (b *Bus) Publish(eventType EventType, payload interface{}) {
	if b == nil {
		return
	}
	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	b.mu.Lock()
	b.counts[eventType]++
	handlers := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if matchesPattern(eventType, s.pattern) {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}

// Count returns how many events of a type have been published
func (b *Bus) Count(eventType EventType) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.counts[eventType]
}

func matchesPattern(eventType, pattern EventType) bool {
	return eventType == pattern || pattern == All
}
