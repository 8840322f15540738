// Package main implements the requestopt CLI: an admin server for the
// request optimizer and a benchmark runner.
package main

import (
	"fmt"
	"os"

	"github.com/FairForge/requestopt/internal/config"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "requestopt",
		Short: "Request optimization layer and benchmark harness",
		Long: `requestopt deduplicates, batches and compresses outbound API requests,
and benchmarks the result against a simulated or real vendor API.

Configuration is read from --config (YAML) and REQOPT_* environment
variables, e.g. REQOPT_OPTIMIZER_MAX_BATCH_SIZE=20.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML config file")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newBenchCmd(opts))
	cmd.AddCommand(newTokenCmd(opts))
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
