// Package sweep runs a benchmark once for every combination of config
// fragments and condenses each run's CSV into one digest row.
package sweep

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"strings"

	"github.com/willibrandon/mtlog/core"
	"gopkg.in/yaml.v3"

	"github.com/willibrandon/storagebench/internal/logger"
)

// Variant is one named value of a dimension.
type Variant struct {
	Name     string         `yaml:"name"`
	Fragment map[string]any `yaml:"config"`
}

// Dimension is an axis of the sweep.
type Dimension struct {
	Name     string    `yaml:"name"`
	Variants []Variant `yaml:"variants"`
}

// Label records which variant of a dimension a case uses.
type Label struct {
	Dimension string
	Variant   string
}

// Case is one benchmark configuration of the sweep.
type Case struct {
	Labels []Label
	Config map[string]any
}

// Name joins the labels as dimension=variant pairs.
func (c Case) Name() string {
	return labelName(c.Labels)
}

func labelName(labels []Label) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = l.Dimension + "=" + l.Variant
	}
	return strings.Join(parts, "-")
}

// BuildConfigs returns the cartesian product of dims in declaration order.
// Each case starts from a copy of base and applies one fragment per
// dimension as a shallow key update, so later dimensions win.
func BuildConfigs(base map[string]any, dims []Dimension) []Case {
	cases := []Case{{Config: maps.Clone(base)}}
	if cases[0].Config == nil {
		cases[0].Config = map[string]any{}
	}

	for _, dim := range dims {
		next := make([]Case, 0, len(cases)*len(dim.Variants))
		for _, existing := range cases {
			for _, v := range dim.Variants {
				labels := append(append([]Label(nil), existing.Labels...), Label{Dimension: dim.Name, Variant: v.Name})
				config := maps.Clone(existing.Config)
				maps.Copy(config, v.Fragment)
				next = append(next, Case{Labels: labels, Config: config})
			}
		}
		cases = next
	}
	return cases
}

// LoadDimensions reads a YAML list of dimensions.
func LoadDimensions(path string) ([]Dimension, error) {
	// #nosec G304 - path supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dimensions: %w", err)
	}

	var dims []Dimension
	if err := yaml.Unmarshal(data, &dims); err != nil {
		return nil, fmt.Errorf("failed to parse dimensions: %w", err)
	}
	for _, d := range dims {
		if d.Name == "" || len(d.Variants) == 0 {
			return nil, fmt.Errorf("dimension %q needs a name and at least one variant", d.Name)
		}
	}
	return dims, nil
}

// ExecFunc runs one benchmark with the YAML config document, writing into
// outDir, and returns its CSV output.
type ExecFunc func(ctx context.Context, config []byte, outDir string) ([]byte, error)

// SelfExec runs "<binary> run <config> <outDir>" as a child process so each
// benchmark starts with a fresh heap.
func SelfExec(binary string) ExecFunc {
	return func(ctx context.Context, config []byte, outDir string) ([]byte, error) {
		// #nosec G204 - binary is the running executable
		cmd := exec.CommandContext(ctx, binary, "run", string(config), outDir)
		var stdout bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("benchmark process failed: %w", err)
		}
		return stdout.Bytes(), nil
	}
}

// Sweeper runs cases one after another.
type Sweeper struct {
	Exec ExecFunc
	// TempDir is the parent of each run's output directory. Empty means
	// os.TempDir.
	TempDir string
	Log     core.Logger
}

// Run executes every case and digests its output. The first failure stops
// the sweep.
func (s *Sweeper) Run(ctx context.Context, cases []Case) ([]DigestRow, error) {
	log := s.Log
	if log == nil {
		log = logger.Log
	}

	rows := make([]DigestRow, 0, len(cases))
	for _, c := range cases {
		log.Info("Running benchmark: {name}...", c.Name())

		out, err := s.runOnce(ctx, c)
		if err != nil {
			return rows, fmt.Errorf("case %s: %w", c.Name(), err)
		}

		row, err := Digest(c.Labels, out)
		if err != nil {
			return rows, fmt.Errorf("case %s: %w", c.Name(), err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Sweeper) runOnce(ctx context.Context, c Case) ([]byte, error) {
	config, err := yaml.Marshal(c.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	outDir, err := os.MkdirTemp(s.TempDir, "storagebench-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	defer os.RemoveAll(outDir)

	return s.Exec(ctx, config, outDir)
}

// DefaultBase is the starting config of the default sweep: a 1 GB byte
// budget split by each topic's write_proportion.
func DefaultBase() map[string]any {
	return map[string]any{"write_total_bytes": 1_000_000_000}
}

// DefaultDimensions compares message sizes, batch sizes and plugin configs.
func DefaultDimensions() []Dimension {
	topic := func(name string, size int, proportion float64) map[string]any {
		return map[string]any{"name": name, "message_size": size, "write_proportion": proportion}
	}

	return []Dimension{
		{
			Name: "messages",
			Variants: []Variant{
				{Name: "large", Fragment: map[string]any{"topics": []any{topic("/large", 1_000_000, 1.0)}}},
				{Name: "medium", Fragment: map[string]any{"topics": []any{topic("/medium", 10_000, 1.0)}}},
				{Name: "small", Fragment: map[string]any{"topics": []any{topic("/small", 100, 1.0)}}},
				{Name: "mixed", Fragment: map[string]any{"topics": []any{
					topic("/small", 100, 0.1),
					topic("/medium", 10_000, 0.2),
					topic("/large", 1_000_000, 0.7),
				}}},
			},
		},
		{
			Name: "batch_size",
			Variants: []Variant{
				{Name: "small", Fragment: map[string]any{"min_batch_size_bytes": 1_000}},
				{Name: "medium", Fragment: map[string]any{"min_batch_size_bytes": 1_000_000}},
				{Name: "large", Fragment: map[string]any{"min_batch_size_bytes": 100_000_000}},
			},
		},
		{
			Name: "plugin_config",
			Variants: []Variant{
				{Name: "mcap_default", Fragment: map[string]any{"storage_id": "mcap"}},
				{Name: "mcap_nocrc", Fragment: map[string]any{
					"storage_id":      "mcap",
					"storage_options": map[string]any{"noCRC": true},
				}},
				{Name: "mcap_nochunking", Fragment: map[string]any{
					"storage_id":      "mcap",
					"storage_options": map[string]any{"noCRC": true, "noChunking": true},
				}},
				{Name: "sqlite_default", Fragment: map[string]any{"storage_id": "sqlite3"}},
				{Name: "sqlite_resilient", Fragment: map[string]any{
					"storage_id": "sqlite3",
					"storage_options": map[string]any{
						"write": map[string]any{"pragmas": []any{"journal_mode=WAL", "synchronous=NORMAL"}},
					},
				}},
				{Name: "wal_default", Fragment: map[string]any{"storage_id": "wal"}},
			},
		},
	}
}
