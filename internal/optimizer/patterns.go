package optimizer

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/FairForge/requestopt/internal/transport"
)

// Optimization opportunities a pattern can expose
const (
	OpportunityBatching    = "batching"
	OpportunityCompression = "compression"
)

// batchingFrequency is the frequency above which a pattern is worth batching
const batchingFrequency = 10

// RequestPattern aggregates observations of one method:endpoint pair
type RequestPattern struct {
	Signature           string        `json:"signature"`
	Method              string        `json:"method"`
	Endpoint            string        `json:"endpoint"`
	Frequency           int64         `json:"frequency"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	Opportunities       []string      `json:"opportunities"`
	Confidence          float64       `json:"confidence"`
	FirstSeen           time.Time     `json:"first_seen"`
	LastSeen            time.Time     `json:"last_seen"`
}

// HasOpportunity reports whether the pattern exposes an opportunity
func (p RequestPattern) HasOpportunity(name string) bool {
	for _, o := range p.Opportunities {
		if o == name {
			return true
		}
	}
	return false
}

type patternState struct {
	pattern       RequestPattern
	opportunities map[string]struct{}
}

type patternTracker struct {
	mu       sync.Mutex
	patterns map[string]*patternState
	now      func() time.Time
}

func newPatternTracker() *patternTracker {
	return &patternTracker{
		patterns: make(map[string]*patternState),
		now:      time.Now,
	}
}

func (pt *patternTracker) record(req *transport.Request, elapsed time.Duration) {
	key := req.Key()
	now := pt.now()

	pt.mu.Lock()
	defer pt.mu.Unlock()

	st, ok := pt.patterns[key]
	if !ok {
		st = &patternState{
			pattern: RequestPattern{
				Signature: key,
				Method:    req.Method,
				Endpoint:  req.Endpoint,
				FirstSeen: now,
			},
			opportunities: make(map[string]struct{}),
		}
		pt.patterns[key] = st
	}

	p := &st.pattern
	p.Frequency++
	p.AverageResponseTime += (elapsed - p.AverageResponseTime) / time.Duration(p.Frequency)
	p.LastSeen = now

	if p.Frequency > batchingFrequency {
		st.opportunities[OpportunityBatching] = struct{}{}
	}
	if strings.Contains(strings.ToLower(req.Endpoint), "list") {
		st.opportunities[OpportunityCompression] = struct{}{}
	}
	p.Confidence = math.Min(float64(p.Frequency)/100, 1)
}

// snapshot returns copies ordered by frequency, most frequent first
func (pt *patternTracker) snapshot() []RequestPattern {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	out := make([]RequestPattern, 0, len(pt.patterns))
	for _, st := range pt.patterns {
		p := st.pattern
		p.Opportunities = make([]string, 0, len(st.opportunities))
		for o := range st.opportunities {
			p.Opportunities = append(p.Opportunities, o)
		}
		sort.Strings(p.Opportunities)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Signature < out[j].Signature
	})
	return out
}

func (pt *patternTracker) reset() {
	pt.mu.Lock()
	pt.patterns = make(map[string]*patternState)
	pt.mu.Unlock()
}
