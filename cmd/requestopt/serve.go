package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/FairForge/requestopt/internal/api"
	"github.com/FairForge/requestopt/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP server",
		Long: `Run the optimizer behind the admin HTTP API.

Optimizer settings in the config file are re-applied whenever the file changes.

Examples:
  requestopt serve --config requestopt.yaml
  requestopt serve --addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return runServe(cmd.Context(), root.configPath, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(parent context.Context, configPath string, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if configPath != "" {
		if err := config.Watch(ctx, configPath, a.logger, a.applyConfig); err != nil {
			a.logger.Warn("config hot reload disabled", zap.Error(err))
		}
	}

	server := api.NewServer(cfg.Server, a.optimizer, a.suite, a.registry, a.logger)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	a.suite.StopBenchmark()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("shutdown error", zap.Error(err))
		return err
	}
	return nil
}
