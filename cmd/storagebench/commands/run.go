package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/profile"
	"github.com/spf13/cobra"

	bench "github.com/willibrandon/storagebench"
	"github.com/willibrandon/storagebench/internal/logger"
	"github.com/willibrandon/storagebench/memstats"
	"github.com/willibrandon/storagebench/monitoring"
	"github.com/willibrandon/storagebench/storage"
)

type runOptions struct {
	probe       string
	metricsAddr string
	profile     string
	keep        bool
}

func runCmd() *cobra.Command {
	opts := runOptions{probe: defaultProbe()}

	cmd := &cobra.Command{
		Use:   "run <config> [output-dir]",
		Short: "Run one benchmark and print its CSV",
		Long: `Run one benchmark and print one CSV row per batch write, followed by a
row holding the writer's close time.

<config> is a path to a YAML file or an inline YAML document. Without
[output-dir] the writer's files go to a temporary directory that is removed
afterwards unless --keep is given.`,
		Example: `  storagebench run bench.yaml
  storagebench run '{storage_id: mcap, write_total_bytes: 100000000}' /tmp/out`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("%w: run needs a config", bench.ErrMissingArguments)
			}
			return cobra.MaximumNArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runBenchmark(cmd.Context(), cmd.OutOrStdout(), args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.probe, "probe", opts.probe, "Allocator probe (runtime, malloc, combined)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	cmd.Flags().StringVar(&opts.profile, "profile", "", "Write a cpu or mem profile into the output directory")
	cmd.Flags().BoolVar(&opts.keep, "keep", false, "Keep the temporary output directory")

	return cmd
}

func defaultProbe() string {
	if memstats.MallocSupported() {
		return "combined"
	}
	return "runtime"
}

// runBenchmark executes the benchmark described by args[0] and writes its
// CSV to out.
func runBenchmark(ctx context.Context, out io.Writer, args []string, opts runOptions) error {
	cfg, err := bench.LoadConfig(args[0])
	if err != nil {
		return err
	}

	probe, err := memstats.New(opts.probe)
	if err != nil {
		return fmt.Errorf("invalid --probe: %w", err)
	}

	var outputDir string
	if len(args) > 1 {
		outputDir = args[1]
		if err := os.MkdirAll(outputDir, 0750); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	} else {
		dir, cleanup, err := tempOutputDir(opts.keep)
		if err != nil {
			return err
		}
		defer cleanup()
		outputDir = dir
	}

	runnerOpts := []bench.Option{bench.WithProbe(probe), bench.WithLogger(logger.Log)}

	if opts.metricsAddr != "" {
		srv, err := monitoring.Serve(opts.metricsAddr)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Log.Info("Serving metrics on {addr}", srv.Addr())

		mon := monitoring.New(monitoring.WithMemorySampling(true))
		mon.Start()
		defer func() {
			mon.Stop()
			stats := mon.GetStats()
			logger.Log.Info("Monitor saw {batches} batches, {bytes} bytes in {uptime}",
				stats.Batches, stats.Bytes, stats.Uptime)
		}()
		runnerOpts = append(runnerOpts, bench.WithMonitor(mon))
	}

	if opts.profile != "" {
		stop, err := startProfile(opts.profile, outputDir)
		if err != nil {
			return err
		}
		defer stop()
	}

	runner, err := bench.NewRunner(runnerOpts...)
	if err != nil {
		return err
	}

	logger.Log.Info("Running {storage_id} benchmark into {dir}", cfg.StorageID, outputDir)
	result, err := runner.Run(cfg, outputDir)
	if err != nil {
		var werr *storage.WriterError
		if errors.As(err, &werr) {
			logger.Log.Error("Storage {storage_id} failed during {op}", werr.StorageID, werr.Op)
		}
		return err
	}

	return bench.WriteCSV(out, result)
}

func tempOutputDir(keep bool) (string, func(), error) {
	dir, err := os.MkdirTemp("", "storagebench-")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if keep {
		return dir, func() {
			logger.Log.Info("Kept output in {dir}", dir)
		}, nil
	}
	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Log.Warn("Failed to remove {dir}: {error}", dir, err)
		}
	}, nil
}

func startProfile(mode, dir string) (func(), error) {
	var p func(*profile.Profile)
	switch mode {
	case "cpu":
		p = profile.CPUProfile
	case "mem":
		p = profile.MemProfile
	default:
		return nil, fmt.Errorf("unknown profile mode: %s", mode)
	}
	stopper := profile.Start(p, profile.ProfilePath(dir), profile.Quiet, profile.NoShutdownHook)
	return stopper.Stop, nil
}
