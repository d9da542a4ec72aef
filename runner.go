package bench

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/willibrandon/mtlog/core"
	"gopkg.in/yaml.v3"

	"github.com/willibrandon/storagebench/internal/logger"
	"github.com/willibrandon/storagebench/memstats"
	"github.com/willibrandon/storagebench/monitoring"
	"github.com/willibrandon/storagebench/storage"
)

// State is a Runner's position in its lifecycle. A runner only moves
// forward and is used for a single run.
type State int

const (
	StateIdle State = iota
	StateOpened
	StateTopicsRegistered
	StateWriting
	StateClosing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpened:
		return "opened"
	case StateTopicsRegistered:
		return "topics_registered"
	case StateWriting:
		return "writing"
	case StateClosing:
		return "closing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	// StorageConfigFile is written to the output directory when the config
	// carries a storage_config mapping.
	StorageConfigFile = "storage_config.yaml"
	// OutputName is the writer URI's final element.
	OutputName = "out"

	topicType           = "std_msgs/String"
	serializationFormat = "cdr"
)

// WriteRecord is the measurement of one batch write.
type WriteRecord struct {
	Sequence      uint32
	Bytes         int64
	Messages      int
	WriteDuration time.Duration
	// Delta is relative to the baseline taken before the first write.
	Delta memstats.Snapshot
}

// Result is everything a run measured.
type Result struct {
	StorageID     string
	Records       []WriteRecord
	CloseDuration time.Duration
}

// Runner executes one benchmark.
type Runner struct {
	open      OpenFunc
	probe     memstats.Probe
	generator *Generator
	monitor   *monitoring.Monitor
	log       core.Logger
	state     State
}

// NewRunner creates a runner. By default it opens writers from the storage
// registry and samples memory with memstats.Default.
func NewRunner(opts ...Option) (*Runner, error) {
	r := &Runner{
		open:  storage.Open,
		probe: memstats.Default(),
		log:   logger.Log,
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("invalid runner option: %w", err)
		}
	}

	if r.generator == nil {
		r.generator = NewGenerator()
	}
	return r, nil
}

// State returns the runner's current state.
func (r *Runner) State() State {
	return r.state
}

// Run executes the benchmark described by cfg, writing into outputDir.
func (r *Runner) Run(cfg *BenchmarkConfig, outputDir string) (*Result, error) {
	if r.state != StateIdle {
		return nil, fmt.Errorf("runner already used (state %s)", r.state)
	}

	batches := r.prepare(cfg)

	opts := storage.Options{
		URI:       filepath.Join(outputDir, OutputName),
		StorageID: cfg.StorageID,
	}
	if cfg.HasStorageConfig() {
		path, err := writeStorageConfig(cfg.StorageConfig, outputDir)
		if err != nil {
			r.state = StateFailed
			return nil, err
		}
		opts.StorageConfigURI = path
	}

	w, err := r.open(opts)
	if err != nil {
		r.state = StateFailed
		return nil, fmt.Errorf("%w: %w", ErrWriter, err)
	}
	r.transition(StateOpened)

	for _, t := range cfg.Topics {
		err := w.CreateTopic(storage.TopicMetadata{
			Name:                t.Name,
			Type:                topicType,
			SerializationFormat: serializationFormat,
		})
		if err != nil {
			return nil, r.abort(w, err)
		}
	}
	r.transition(StateTopicsRegistered)

	baseline := r.probe.Snapshot()
	result := &Result{
		StorageID: cfg.StorageID,
		Records:   make([]WriteRecord, 0, len(batches)),
	}

	r.transition(StateWriting)
	for i, batch := range batches {
		bytes := batch.Bytes()

		start := time.Now()
		err := w.Write(batch)
		elapsed := time.Since(start)

		if err != nil {
			monitoring.RecordBatch(cfg.StorageID, bytes, len(batch), elapsed, false)
			return nil, r.abort(w, err)
		}

		delta := memstats.Delta(baseline, r.probe.Snapshot())
		result.Records = append(result.Records, WriteRecord{
			// #nosec G115 - batch counts stay far below 2^32
			Sequence:      uint32(i),
			Bytes:         bytes,
			Messages:      len(batch),
			WriteDuration: elapsed,
			Delta:         delta,
		})

		monitoring.RecordBatch(cfg.StorageID, bytes, len(batch), elapsed, true)
		monitoring.UpdateHeapDelta(delta.Arena, delta.InUse, delta.Mmap)
		if r.monitor != nil {
			r.monitor.RecordBatch(bytes)
		}
		r.log.Debug("batch {sequence} wrote {bytes} bytes in {duration}", i, bytes, elapsed)
	}

	r.transition(StateClosing)
	start := time.Now()
	err = w.Close()
	result.CloseDuration = time.Since(start)
	if err != nil {
		r.state = StateFailed
		return nil, fmt.Errorf("%w: %w", ErrWriter, err)
	}
	monitoring.RecordClose(cfg.StorageID, result.CloseDuration)

	r.transition(StateDone)
	r.log.Info("wrote {batches} batches to {storage_id}, close took {duration}",
		len(result.Records), cfg.StorageID, result.CloseDuration)
	return result, nil
}

// prepare generates every message and batch before the writer is opened.
func (r *Runner) prepare(cfg *BenchmarkConfig) []storage.Batch {
	slots := Plan(cfg)
	r.log.Info("generating {count} messages across {topics} topics", len(slots), len(cfg.Topics))

	msgs := Materialize(slots, r.generator)
	batches := Split(msgs, cfg.BatchPolicy())
	r.log.Info("split into {batches} batches", len(batches))
	return batches
}

func (r *Runner) transition(next State) {
	r.log.Verbose("runner {from} -> {to}", r.state, next)
	r.state = next
}

// abort releases the writer after a failure and returns err as a writer
// error. The close error is dropped in favour of the original one.
func (r *Runner) abort(w storage.Writer, err error) error {
	r.log.Error("aborting run in state {state}: {error}", r.state, err)
	r.state = StateFailed
	_ = w.Close()
	return fmt.Errorf("%w: %w", ErrWriter, err)
}

func writeStorageConfig(node *yaml.Node, dir string) (string, error) {
	data, err := yaml.Marshal(node)
	if err != nil {
		return "", fmt.Errorf("failed to encode storage config: %w", err)
	}

	path := filepath.Join(dir, StorageConfigFile)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write storage config: %w", err)
	}
	return path, nil
}
