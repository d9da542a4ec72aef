package bench

import (
	"fmt"

	"github.com/willibrandon/mtlog/core"

	"github.com/willibrandon/storagebench/memstats"
	"github.com/willibrandon/storagebench/monitoring"
	"github.com/willibrandon/storagebench/storage"
)

// Option configures a Runner.
type Option func(*Runner) error

// OpenFunc opens the writer for a run.
type OpenFunc func(opts storage.Options) (storage.Writer, error)

// WithOpener replaces the storage registry lookup.
func WithOpener(open OpenFunc) Option {
	return func(r *Runner) error {
		if open == nil {
			return fmt.Errorf("opener must not be nil")
		}
		r.open = open
		return nil
	}
}

// WithProbe sets the allocator probe.
func WithProbe(probe memstats.Probe) Option {
	return func(r *Runner) error {
		if probe == nil {
			return fmt.Errorf("probe must not be nil")
		}
		r.probe = probe
		return nil
	}
}

// WithMonitor feeds batch progress to a background monitor.
func WithMonitor(m *monitoring.Monitor) Option {
	return func(r *Runner) error {
		r.monitor = m
		return nil
	}
}

// WithLogger sets the progress logger.
func WithLogger(log core.Logger) Option {
	return func(r *Runner) error {
		if log == nil {
			return fmt.Errorf("logger must not be nil")
		}
		r.log = log
		return nil
	}
}

// WithGenerator sets the payload generator.
func WithGenerator(g *Generator) Option {
	return func(r *Runner) error {
		if g == nil {
			return fmt.Errorf("generator must not be nil")
		}
		r.generator = g
		return nil
	}
}
