package benchmark

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/FairForge/requestopt/internal/optimizer"
	"github.com/FairForge/requestopt/internal/transport"
	"go.uber.org/zap"
)

// Target executes benchmark requests. Any transport.Executor qualifies.
type Target = transport.Executor

// Advisor is implemented by targets that can add their own recommendations
// to a result.
type Advisor interface {
	Recommendations() []string
}

// OptimizerTarget routes benchmark requests through a live optimizer
type OptimizerTarget struct {
	opt *optimizer.Optimizer
}

// NewOptimizerTarget wraps a started optimizer
func NewOptimizerTarget(opt *optimizer.Optimizer) *OptimizerTarget {
	return &OptimizerTarget{opt: opt}
}

// NewSimulatedTarget builds and starts an optimizer backed by a simulated
// executor. Close releases it.
func NewSimulatedTarget(sim *transport.SimulatedConfig, cfg optimizer.Config, logger *zap.Logger) (*OptimizerTarget, error) {
	opt, err := optimizer.New(cfg, transport.NewSimulatedExecutor(sim), optimizer.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create optimizer: %w", err)
	}
	opt.Start()
	return &OptimizerTarget{opt: opt}, nil
}

// Execute sends req through the optimizer
func (t *OptimizerTarget) Execute(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	return t.opt.OptimizeRequest(ctx, req)
}

// Optimizer returns the wrapped optimizer
func (t *OptimizerTarget) Optimizer() *optimizer.Optimizer {
	return t.opt
}

// Recommendations forwards the optimizer's advisories
func (t *OptimizerTarget) Recommendations() []string {
	recs := t.opt.OptimizationRecommendations()
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, fmt.Sprintf("optimizer (%s): %s", r.Category, r.Message))
	}
	return out
}

// Close stops the wrapped optimizer
func (t *OptimizerTarget) Close() error {
	return t.opt.Close()
}

// RequestGenerator produces a deterministic stream of requests that cycles
// through every entity for each scenario in turn.
type RequestGenerator struct {
	entities  []string
	scenarios []string
	next      atomic.Uint64
}

// NewRequestGenerator creates a generator for the configured entities and scenarios
func NewRequestGenerator(entities, scenarios []string) *RequestGenerator {
	return &RequestGenerator{entities: entities, scenarios: scenarios}
}

// Next returns the next request
func (g *RequestGenerator) Next() *transport.Request {
	i := g.next.Add(1) - 1
	n := uint64(len(g.entities))
	entity := strings.ToLower(g.entities[i%n])
	scenario := g.scenarios[(i/n)%uint64(len(g.scenarios))]
	id := i%100 + 1

	switch scenario {
	case ScenarioList:
		return transport.NewRequest("GET", "/"+entity+"/list", map[string]interface{}{
			"pageSize": 50,
			"page":     i%5 + 1,
		})
	case ScenarioCreate:
		return transport.NewRequest("POST", "/"+entity, map[string]interface{}{
			"name": fmt.Sprintf("%s-%d", entity, i),
		})
	case ScenarioUpdate:
		return transport.NewRequest("PUT", fmt.Sprintf("/%s/%d", entity, id), map[string]interface{}{
			"revision": i,
		})
	case ScenarioDelete:
		return transport.NewRequest("DELETE", fmt.Sprintf("/%s/%d", entity, id), nil)
	default:
		return transport.NewRequest("GET", fmt.Sprintf("/%s/%d", entity, id), nil)
	}
}
