package main

import (
	"context"
	"fmt"

	"github.com/FairForge/requestopt/internal/benchmark"
	"github.com/FairForge/requestopt/internal/config"
	"github.com/FairForge/requestopt/internal/events"
	"github.com/FairForge/requestopt/internal/logging"
	"github.com/FairForge/requestopt/internal/metrics"
	"github.com/FairForge/requestopt/internal/optimizer"
	"github.com/FairForge/requestopt/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// app holds the wired components shared by every command
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	bus       *events.Bus
	optimizer *optimizer.Optimizer
	suite     *benchmark.Suite
	closers   []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		bus:      events.NewBus(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	executor, err := a.executor()
	if err != nil {
		return err
	}

	a.optimizer, err = optimizer.New(a.cfg.Optimizer, executor,
		optimizer.WithLogger(a.logger),
		optimizer.WithEventBus(a.bus))
	if err != nil {
		return fmt.Errorf("create optimizer: %w", err)
	}
	a.optimizer.Start()
	a.closers = append(a.closers, a.optimizer.Close)

	collector := metrics.NewCollector(a.registry)
	a.onClose(collector.Attach(a.bus))
	eventLogger := events.NewEventLogger(a.bus, a.logger)
	a.onClose(eventLogger.Close)

	opts := []benchmark.Option{
		benchmark.WithLogger(a.logger),
		benchmark.WithEventBus(a.bus),
		benchmark.WithHistoryLimit(a.cfg.History.Limit),
	}
	if path := a.cfg.Benchmark.ProfilesFile; path != "" {
		profiles, err := benchmark.LoadProfiles(path)
		if err != nil {
			return err
		}
		opts = append(opts, benchmark.WithProfiles(profiles))
	}

	store, err := a.historyStore(ctx)
	if err != nil {
		return err
	}
	if store != nil {
		opts = append(opts, benchmark.WithHistoryStore(store))
	}

	a.suite = benchmark.NewSuite(benchmark.NewOptimizerTarget(a.optimizer), opts...)
	if store != nil {
		if err := a.suite.LoadHistory(ctx); err != nil {
			return fmt.Errorf("load benchmark history: %w", err)
		}
	}
	return nil
}

func (a *app) executor() (transport.Executor, error) {
	switch a.cfg.Transport.Mode {
	case config.TransportHTTP:
		exec, err := transport.NewHTTPExecutor(&a.cfg.Transport.HTTP, a.logger)
		if err != nil {
			return nil, fmt.Errorf("create http executor: %w", err)
		}
		a.logger.Info("using http transport", zap.String("base_url", a.cfg.Transport.HTTP.BaseURL))
		return exec, nil
	default:
		a.logger.Info("using simulated transport",
			zap.Duration("latency", a.cfg.Simulator.Latency),
			zap.Float64("failure_rate", a.cfg.Simulator.FailureRate))
		return transport.NewSimulatedExecutor(&a.cfg.Simulator), nil
	}
}

func (a *app) historyStore(ctx context.Context) (benchmark.HistoryStore, error) {
	switch a.cfg.History.Backend {
	case config.HistoryFile:
		store, err := benchmark.NewFileStore(a.cfg.History.Dir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.HistoryPostgres:
		store, err := benchmark.OpenPostgresStore(a.cfg.History.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case config.HistoryS3:
		store, err := benchmark.NewS3Store(ctx, a.cfg.History.S3)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, nil
	}
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, func() error {
		fn()
		return nil
	})
}

// applyConfig hot-applies the parts of cfg that can change at runtime
func (a *app) applyConfig(cfg *config.Config) {
	if err := a.optimizer.UpdateConfig(cfg.Optimizer); err != nil {
		a.logger.Warn("rejected optimizer config", zap.Error(err))
		return
	}
	if cfg.Transport.Mode != a.cfg.Transport.Mode || cfg.History.Backend != a.cfg.History.Backend || cfg.Server.Addr != a.cfg.Server.Addr {
		a.logger.Warn("only optimizer changes are applied live; restart to apply the rest")
	}
}

// Close releases components in reverse order of creation
func (a *app) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
	return firstErr
}
