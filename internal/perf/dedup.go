// internal/perf/dedup.go
package perf

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/FairForge/requestopt/internal/events"
	"github.com/FairForge/requestopt/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// DefaultDeduplicationWindow is how long a resolved response is reused
const DefaultDeduplicationWindow = 5 * time.Second

// CacheHitEvent is the payload of events.CacheHit
type CacheHitEvent struct {
	Signature string `json:"signature"`
	RequestID string `json:"request_id"`
	Hits      int64  `json:"hits"`
}

// DedupStats tracks deduplication statistics
type DedupStats struct {
	Entries   int64   `json:"entries"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Failures  int64   `json:"failures"`
	HitRate   float64 `json:"hit_rate"`
}

type dedupEntry struct {
	signature string
	future    *Future[*transport.Response]
	expiresAt time.Time
	hits      int64
}

// Deduplicator coalesces identical requests onto a single execution and
// reuses the response for the rest of the deduplication window.
type Deduplicator struct {
	mu        sync.Mutex
	window    time.Duration
	entries   map[string]*dedupEntry
	stats     DedupStats
	lastPurge time.Time
	bus       *events.Bus
	logger    *zap.Logger
	now       func() time.Time
}

// NewDeduplicator creates a deduplicator with the given window
func NewDeduplicator(window time.Duration, bus *events.Bus, logger *zap.Logger) *Deduplicator {
	if window <= 0 {
		window = DefaultDeduplicationWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduplicator{
		window:  window,
		entries: make(map[string]*dedupEntry),
		bus:     bus,
		logger:  logger,
		now:     time.Now,
	}
}

// Signature returns the canonical key for a request. Params are serialized
// with sorted keys at every level so insertion order never matters. A body,
// when present, is part of the key.
func Signature(req *transport.Request) (string, error) {
	params, err := canonicalJSON(req.Params)
	if err != nil {
		return "", fmt.Errorf("signature params: %w", err)
	}
	raw := strings.ToUpper(req.Method) + ":" + req.Endpoint + ":" + params
	if req.Body != nil {
		body, err := canonicalJSON(map[string]interface{}{"body": req.Body})
		if err != nil {
			return "", fmt.Errorf("signature body: %w", err)
		}
		raw += ":" + body
	}
	sum := blake2b.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:]), nil
}

func canonicalJSON(params map[string]interface{}) (string, error) {
	if len(params) == 0 {
		return "{}", nil
	}
	// Round-trip through interface{} so structs and typed maps normalize to
	// map[string]interface{}, which encoding/json emits with sorted keys.
	raw, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	var normalized interface{}
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return "", err
	}
	out, err := json.Marshal(normalized)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Check returns the response of a live identical request, waiting for it if
// it is still in flight. A failed or expired entry is evicted and reported as
// a miss.
func (d *Deduplicator) Check(ctx context.Context, req *transport.Request) (*transport.Response, bool) {
	sig, err := Signature(req)
	if err != nil {
		d.logger.Debug("unsignable request", zap.String("request_id", req.ID), zap.Error(err))
		return nil, false
	}

	entry := d.lookup(sig, req.ID)
	if entry == nil {
		return nil, false
	}

	resp, err := entry.future.Get(ctx)
	if err != nil {
		d.evict(entry, ctx.Err() == nil)
		return nil, false
	}
	return sharedResponse(resp, req.ID), true
}

// sharedResponse copies a coalesced response and stamps it with the ID of
// the request it answers.
func sharedResponse(resp *transport.Response, requestID string) *transport.Response {
	c := resp.Clone()
	if c != nil {
		c.ID = requestID
	}
	return c
}

// Do executes req through exec unless an identical request is live, in which
// case the caller shares that result. shared reports whether the response
// came from another execution. Concurrent duplicates run exec once.
func (d *Deduplicator) Do(ctx context.Context, req *transport.Request,
	exec func(context.Context) (*transport.Response, error)) (resp *transport.Response, shared bool, err error) {

	sig, sigErr := Signature(req)
	if sigErr != nil {
		d.logger.Debug("unsignable request", zap.String("request_id", req.ID), zap.Error(sigErr))
		resp, err = exec(ctx)
		return resp, false, err
	}

	for {
		entry, leader := d.acquire(sig, req.ID)
		if leader {
			return d.lead(ctx, entry, exec)
		}

		resp, err = entry.future.Get(ctx)
		if err == nil {
			return sharedResponse(resp, req.ID), true, nil
		}
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		// The shared execution failed: drop it and run our own.
		d.evict(entry, true)
	}
}

// lead runs exec for a freshly registered entry and settles its future.
// A panic in exec fails the entry for waiters before it propagates.
func (d *Deduplicator) lead(ctx context.Context, entry *dedupEntry,
	exec func(context.Context) (*transport.Response, error)) (resp *transport.Response, shared bool, err error) {

	settled := false
	defer func() {
		if settled {
			return
		}
		r := recover()
		entry.future.Resolve(nil, fmt.Errorf("deduplicated execution panicked: %v", r))
		d.evict(entry, true)
		if r != nil {
			panic(r)
		}
	}()

	resp, err = exec(ctx)
	settled = true
	if err != nil {
		entry.future.Resolve(nil, err)
		d.evict(entry, true)
		return nil, false, err
	}
	entry.future.Resolve(resp.Clone(), nil)
	return resp, false, nil
}

// lookup returns a live entry and records a hit, or records a miss
func (d *Deduplicator) lookup(sig, requestID string) *dedupEntry {
	d.mu.Lock()
	entry := d.liveLocked(sig)
	if entry == nil {
		d.stats.Misses++
		d.updateHitRate()
		d.mu.Unlock()
		return nil
	}
	hits := d.hitLocked(entry)
	d.mu.Unlock()

	d.publishHit(sig, requestID, hits)
	return entry
}

// acquire returns the live entry for sig, or registers a new one and makes
// the caller its leader. Lookup and registration happen under one lock so
// concurrent duplicates always coalesce.
func (d *Deduplicator) acquire(sig, requestID string) (*dedupEntry, bool) {
	d.mu.Lock()
	if entry := d.liveLocked(sig); entry != nil {
		hits := d.hitLocked(entry)
		d.mu.Unlock()
		d.publishHit(sig, requestID, hits)
		return entry, false
	}

	d.stats.Misses++
	d.updateHitRate()
	entry := d.registerLocked(sig)
	d.mu.Unlock()
	return entry, true
}

// liveLocked returns the unexpired entry for sig, evicting an expired one
func (d *Deduplicator) liveLocked(sig string) *dedupEntry {
	entry, ok := d.entries[sig]
	if !ok {
		return nil
	}
	if !d.now().Before(entry.expiresAt) {
		d.removeLocked(entry)
		return nil
	}
	return entry
}

func (d *Deduplicator) hitLocked(entry *dedupEntry) int64 {
	entry.hits++
	d.stats.Hits++
	d.updateHitRate()
	return entry.hits
}

func (d *Deduplicator) registerLocked(sig string) *dedupEntry {
	d.purgeLocked()
	entry := &dedupEntry{
		signature: sig,
		future:    NewFuture[*transport.Response](),
		expiresAt: d.now().Add(d.window),
	}
	d.entries[sig] = entry
	d.stats.Entries = int64(len(d.entries))
	return entry
}

func (d *Deduplicator) publishHit(sig, requestID string, hits int64) {
	d.bus.Publish(events.CacheHit, CacheHitEvent{Signature: sig, RequestID: requestID, Hits: hits})
}

// Register creates a pending entry for req that Complete settles later. It
// returns nil when an identical live entry already exists.
func (d *Deduplicator) Register(req *transport.Request) *Future[*transport.Response] {
	sig, err := Signature(req)
	if err != nil {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.liveLocked(sig) != nil {
		return nil
	}
	return d.registerLocked(sig).future
}

// Complete settles the entry registered for req. A failure evicts it.
func (d *Deduplicator) Complete(req *transport.Request, resp *transport.Response, err error) {
	sig, sigErr := Signature(req)
	if sigErr != nil {
		return
	}

	d.mu.Lock()
	entry, ok := d.entries[sig]
	d.mu.Unlock()
	if !ok {
		return
	}

	if err != nil {
		entry.future.Resolve(nil, err)
		d.evict(entry, true)
		return
	}
	entry.future.Resolve(resp.Clone(), nil)
}

// evict removes entry if it is still the registered one for its signature
func (d *Deduplicator) evict(entry *dedupEntry, failed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if current, ok := d.entries[entry.signature]; ok && current == entry {
		d.removeLocked(entry)
		if failed {
			d.stats.Failures++
		}
	}
}

func (d *Deduplicator) removeLocked(entry *dedupEntry) {
	delete(d.entries, entry.signature)
	d.stats.Evictions++
	d.stats.Entries = int64(len(d.entries))
}

// purgeLocked drops expired entries at most once per window
func (d *Deduplicator) purgeLocked() {
	now := d.now()
	if now.Sub(d.lastPurge) < d.window {
		return
	}
	d.lastPurge = now
	for _, entry := range d.entries {
		if !now.Before(entry.expiresAt) && entry.future.IsReady() {
			d.removeLocked(entry)
		}
	}
}

func (d *Deduplicator) updateHitRate() {
	total := d.stats.Hits + d.stats.Misses
	if total > 0 {
		d.stats.HitRate = float64(d.stats.Hits) / float64(total) * 100
	}
}

// Hits returns the duplicate counter of the live entry for req
func (d *Deduplicator) Hits(req *transport.Request) int64 {
	sig, err := Signature(req)
	if err != nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if entry, ok := d.entries[sig]; ok {
		return entry.hits
	}
	return 0
}

// SetWindow changes the window for entries registered from now on
func (d *Deduplicator) SetWindow(window time.Duration) {
	if window <= 0 {
		return
	}
	d.mu.Lock()
	d.window = window
	d.mu.Unlock()
}

// Clear drops every entry
func (d *Deduplicator) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = make(map[string]*dedupEntry)
	d.stats.Entries = 0
}

// Len returns number of live entries
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Stats returns deduplication statistics
func (d *Deduplicator) Stats() *DedupStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	stats := d.stats
	return &stats
}
