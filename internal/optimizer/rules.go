package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/FairForge/requestopt/internal/events"
	"github.com/FairForge/requestopt/internal/transport"
	"go.uber.org/zap"
)

// ErrDuplicateRule is returned when a rule id is already registered
var ErrDuplicateRule = errors.New("optimization rule already exists")

// Rule transforms matching requests before dispatch. Rules run highest
// priority first; equal priorities keep insertion order.
type Rule struct {
	ID        string
	Name      string
	Priority  int
	Condition func(req *transport.Request) bool
	Transform func(ctx context.Context, req *transport.Request) (*transport.Request, error)
	Enabled   bool
}

// RuleStats tracks how a rule has performed
type RuleStats struct {
	Applications       int64   `json:"applications"`
	Failures           int64   `json:"failures"`
	SuccessRate        float64 `json:"success_rate"`
	AverageImprovement float64 `json:"average_improvement_ms"`
}

// RuleInfo describes a registered rule
type RuleInfo struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Priority int       `json:"priority"`
	Enabled  bool      `json:"enabled"`
	Stats    RuleStats `json:"stats"`
}

// RuleFailedEvent is the payload of events.RuleFailed
type RuleFailedEvent struct {
	RuleID    string `json:"rule_id"`
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
}

type ruleEntry struct {
	rule         Rule
	stats        RuleStats
	improvements int64
}

type ruleSet struct {
	mu      sync.RWMutex
	entries []*ruleEntry
	bus     *events.Bus
	logger  *zap.Logger
}

func newRuleSet(bus *events.Bus, logger *zap.Logger) *ruleSet {
	return &ruleSet{bus: bus, logger: logger}
}

func (rs *ruleSet) add(rule Rule) error {
	if rule.ID == "" {
		return errors.New("rule id is required")
	}
	if rule.Condition == nil || rule.Transform == nil {
		return fmt.Errorf("rule %s: condition and transform are required", rule.ID)
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	for _, e := range rs.entries {
		if e.rule.ID == rule.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.ID)
		}
	}
	rs.entries = append(rs.entries, &ruleEntry{rule: rule})
	sort.SliceStable(rs.entries, func(i, j int) bool {
		return rs.entries[i].rule.Priority > rs.entries[j].rule.Priority
	})
	return nil
}

func (rs *ruleSet) remove(id string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	for i, e := range rs.entries {
		if e.rule.ID == id {
			rs.entries = append(rs.entries[:i], rs.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (rs *ruleSet) setEnabled(id string, enabled bool) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	for _, e := range rs.entries {
		if e.rule.ID == id {
			e.rule.Enabled = enabled
			return true
		}
	}
	return false
}

func (rs *ruleSet) list() []RuleInfo {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	out := make([]RuleInfo, 0, len(rs.entries))
	for _, e := range rs.entries {
		out = append(out, RuleInfo{
			ID:       e.rule.ID,
			Name:     e.rule.Name,
			Priority: e.rule.Priority,
			Enabled:  e.rule.Enabled,
			Stats:    e.stats,
		})
	}
	return out
}

// apply runs every enabled rule against req in order and returns the ids of
// the rules whose transform succeeded. A failing rule is logged and skipped.
func (rs *ruleSet) apply(ctx context.Context, req *transport.Request) []string {
	rs.mu.RLock()
	snapshot := make([]*ruleEntry, 0, len(rs.entries))
	for _, e := range rs.entries {
		if e.rule.Enabled {
			snapshot = append(snapshot, e)
		}
	}
	rs.mu.RUnlock()

	var applied []string
	for _, e := range snapshot {
		matched, err := runCondition(e.rule, req)
		if err != nil {
			rs.fail(e, req, err)
			continue
		}
		if !matched {
			continue
		}

		out, err := runTransform(ctx, e.rule, req)

		rs.mu.Lock()
		e.stats.Applications++
		if err != nil {
			e.stats.Failures++
		}
		e.stats.SuccessRate = float64(e.stats.Applications-e.stats.Failures) / float64(e.stats.Applications) * 100
		rs.mu.Unlock()

		if err != nil {
			rs.fail(e, req, err)
			continue
		}
		if out != nil && out != req {
			*req = *out
		}
		applied = append(applied, e.rule.ID)
	}
	return applied
}

func (rs *ruleSet) fail(e *ruleEntry, req *transport.Request, err error) {
	rs.logger.Warn("optimization rule failed",
		zap.String("rule_id", e.rule.ID),
		zap.String("request_id", req.ID),
		zap.Error(err))
	rs.bus.Publish(events.RuleFailed, RuleFailedEvent{
		RuleID:    e.rule.ID,
		RequestID: req.ID,
		Error:     err.Error(),
	})
}

// recordImprovement folds the time a request saved into the running average
// of every rule that was applied to it.
func (rs *ruleSet) recordImprovement(ids []string, savedMs float64) {
	if len(ids) == 0 {
		return
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()

	for _, e := range rs.entries {
		for _, id := range ids {
			if e.rule.ID != id {
				continue
			}
			e.improvements++
			e.stats.AverageImprovement += (savedMs - e.stats.AverageImprovement) / float64(e.improvements)
		}
	}
}

func runCondition(rule Rule, req *transport.Request) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("condition panicked: %v", r)
		}
	}()
	return rule.Condition(req), nil
}

func runTransform(ctx context.Context, rule Rule, req *transport.Request) (out *transport.Request, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transform panicked: %v", r)
		}
	}()
	return rule.Transform(ctx, req)
}

// DefaultRules returns the rules every optimizer starts with
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:       "get-priority-boost",
			Name:     "Boost GET request priority",
			Priority: 8,
			Enabled:  true,
			Condition: func(req *transport.Request) bool {
				return strings.EqualFold(req.Method, "GET")
			},
			Transform: func(_ context.Context, req *transport.Request) (*transport.Request, error) {
				req.Priority++
				req.SetMetadata("priorityBoosted", true)
				return req, nil
			},
		},
		{
			ID:       "list-compression",
			Name:     "Prefer compression for list endpoints",
			Priority: 6,
			Enabled:  true,
			Condition: func(req *transport.Request) bool {
				return strings.Contains(strings.ToLower(req.Endpoint), "list")
			},
			Transform: func(_ context.Context, req *transport.Request) (*transport.Request, error) {
				req.SetMetadata("preferCompression", true)
				return req, nil
			},
		},
	}
}
