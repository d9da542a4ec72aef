package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/willibrandon/storagebench/internal/logger"
	"github.com/willibrandon/storagebench/sweep"
)

// newExec returns how each sweep case is run. Tests replace it.
var newExec = func() (sweep.ExecFunc, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	return sweep.SelfExec(exe), nil
}

func sweepCmd() *cobra.Command {
	var (
		dimensionsPath string
		baseArg        string
	)

	cmd := &cobra.Command{
		Use:   "sweep [digest.csv]",
		Short: "Benchmark every combination of config variants",
		Long: `Run one benchmark per combination of the sweep dimensions, each in its own
process, and write a digest row per run: average write throughput, peak
allocator deltas and close time.

The default sweep compares message sizes, batch sizes and plugin configs
over a 1 GB workload. Without [digest.csv] the digest goes to stdout.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			dims := sweep.DefaultDimensions()
			if dimensionsPath != "" {
				var err error
				if dims, err = sweep.LoadDimensions(dimensionsPath); err != nil {
					return err
				}
			}

			base := sweep.DefaultBase()
			if baseArg != "" {
				var err error
				if base, err = loadBase(baseArg); err != nil {
					return err
				}
			}

			exec, err := newExec()
			if err != nil {
				return err
			}

			cases := sweep.BuildConfigs(base, dims)
			logger.Log.Info("Sweeping {count} configurations", len(cases))

			s := &sweep.Sweeper{Exec: exec, Log: logger.Log}
			rows, err := s.Run(cmd.Context(), cases)
			if err != nil {
				return err
			}

			if len(args) == 0 {
				return sweep.WriteDigest(cmd.OutOrStdout(), rows)
			}

			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("failed to create digest: %w", err)
			}
			if err := sweep.WriteDigest(f, rows); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			logger.Log.Info("Wrote digest to {path}", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&dimensionsPath, "dimensions", "", "YAML file listing sweep dimensions")
	cmd.Flags().StringVar(&baseArg, "base", "", "Base config every case starts from (file or inline YAML)")

	return cmd
}

// loadBase reads a base config from a file, or parses arg itself as YAML.
func loadBase(arg string) (map[string]any, error) {
	data := []byte(arg)
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		// #nosec G304 - path supplied by the operator
		if data, err = os.ReadFile(arg); err != nil {
			return nil, fmt.Errorf("failed to read base config: %w", err)
		}
	}

	var base map[string]any
	if err := yaml.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("failed to parse base config: %w", err)
	}
	if base == nil {
		base = map[string]any{}
	}
	return base, nil
}
