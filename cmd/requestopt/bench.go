package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/FairForge/requestopt/internal/benchmark"
	"github.com/spf13/cobra"
)

const (
	formatText = "text"
	formatYAML = "yaml"
	formatJSON = "json"
)

func newBenchCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run and compare benchmarks",
	}
	cmd.AddCommand(newBenchRunCmd(root))
	cmd.AddCommand(newBenchCompareCmd(root))
	cmd.AddCommand(newBenchHistoryCmd(root))
	cmd.AddCommand(newBenchProfilesCmd(root))
	return cmd
}

type benchRunOptions struct {
	profile     string
	name        string
	iterations  int
	concurrency int
	maxDuration time.Duration
	format      string
	output      string
}

func newBenchRunCmd(root *rootOptions) *cobra.Command {
	opts := &benchRunOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a benchmark profile",
		Long: `Run a benchmark profile through the optimizer and print its report.

Flags override the profile's values. Results are recorded in the configured
history backend, so later runs report regressions against earlier ones.

Examples:
  requestopt bench run --profile standard
  requestopt bench run --iterations 500 --concurrency 8 --format yaml -o result.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd.Context(), root, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.profile, "profile", "p", "", "profile name (defaults to benchmark.profile)")
	cmd.Flags().StringVar(&opts.name, "name", "", "result name (defaults to the profile name)")
	cmd.Flags().IntVarP(&opts.iterations, "iterations", "n", 0, "number of requests")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "concurrent workers")
	cmd.Flags().DurationVar(&opts.maxDuration, "max-duration", 0, "stop after this long")
	cmd.Flags().StringVarP(&opts.format, "format", "f", formatText, "output format: text, yaml or json")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write the report to a file instead of stdout")
	return cmd
}

func runBench(ctx context.Context, root *rootOptions, opts *benchRunOptions, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return withApp(ctx, root, func(a *app) error {
		profile := opts.profile
		if profile == "" {
			profile = a.cfg.Benchmark.Profile
		}
		run, ok := a.suite.Profile(profile)
		if !ok {
			return fmt.Errorf("%w: %s", benchmark.ErrUnknownProfile, profile)
		}
		if opts.name != "" {
			run.Name = opts.name
		}
		if opts.iterations > 0 {
			run.Iterations = opts.iterations
		}
		if opts.concurrency > 0 {
			run.Concurrency = opts.concurrency
		}
		if opts.maxDuration > 0 {
			run.MaxDuration = opts.maxDuration
		}

		result, err := a.suite.RunBenchmark(ctx, run)
		if err != nil {
			return err
		}
		report, err := a.suite.Report(result.ID)
		if err != nil {
			return err
		}

		out, err := renderReport(report, opts.format)
		if err != nil {
			return err
		}
		if opts.output != "" {
			return os.WriteFile(opts.output, out, 0o600)
		}
		_, err = stdout.Write(out)
		return err
	})
}

func renderReport(report *benchmark.Report, format string) ([]byte, error) {
	switch format {
	case formatText:
		return []byte(report.Text()), nil
	case formatYAML:
		return report.YAML()
	case formatJSON:
		return json.MarshalIndent(report, "", "  ")
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

func newBenchCompareCmd(root *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "compare <baseline> [current]",
		Short: "Compare two recorded benchmarks",
		Long: `Compare the latest run of current against the latest run of baseline.
Names or run IDs are accepted. With one argument the two most recent runs of
that benchmark are compared. Requires a file or postgres history backend.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseline, current := args[0], args[0]
			if len(args) == 2 {
				current = args[1]
			}
			return withApp(cmd.Context(), root, func(a *app) error {
				report, err := a.suite.Compare(baseline, current)
				if err != nil {
					return err
				}
				if format == formatJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(report)
				}
				_, err = io.WriteString(cmd.OutOrStdout(), report.Text())
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "output format: text or json")
	return cmd
}

func newBenchHistoryCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List recorded benchmark results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), root, func(a *app) error {
				return writeHistory(cmd.OutOrStdout(), a.suite.History())
			})
		},
	}
}

func writeHistory(w io.Writer, history []*benchmark.LoadTestResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tSTARTED\tREQ/S\tP95 (ms)\tERRORS")
	for _, r := range history {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%.2f\t%.2f%%\n",
			r.ID,
			r.Config.Name,
			r.Summary.StartTime.Format(time.RFC3339),
			r.Performance.Throughput.RequestsPerSecond,
			r.Performance.Latency.Percentiles.P95,
			r.Summary.ErrorRate)
	}
	return tw.Flush()
}

func newBenchProfilesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List benchmark profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			profiles := benchmark.DefaultProfiles()
			if cfg.Benchmark.ProfilesFile != "" {
				extra, err := benchmark.LoadProfiles(cfg.Benchmark.ProfilesFile)
				if err != nil {
					return err
				}
				for name, p := range extra {
					profiles[name] = p
				}
			}
			return writeProfiles(cmd.OutOrStdout(), profiles)
		},
	}
}

func writeProfiles(w io.Writer, profiles map[string]benchmark.Config) error {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tITERATIONS\tCONCURRENCY\tWARMUP\tMAX DURATION")
	for _, name := range names {
		p := profiles[name]
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", name, p.Iterations, p.Concurrency, p.WarmupIterations, p.MaxDuration)
	}
	return tw.Flush()
}

func withApp(ctx context.Context, root *rootOptions, fn func(a *app) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := root.load()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(a)
}
