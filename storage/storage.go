// Package storage defines the writer interface the benchmark drives and the
// registry of storage plugins that implement it.
package storage

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Writer is a storage engine opened for a single benchmark run.
type Writer interface {
	// CreateTopic registers a topic before any of its messages are written
	CreateTopic(topic TopicMetadata) error

	// Write stores one batch. Messages are written in slice order.
	Write(batch Batch) error

	// Close flushes and releases the engine
	Close() error
}

// TopicMetadata describes a topic registered with a writer.
type TopicMetadata struct {
	Name                string
	Type                string
	SerializationFormat string
}

// Message is one timestamped payload on a topic.
type Message struct {
	Topic     string
	Timestamp int64 // nanoseconds since the Unix epoch
	Data      []byte
}

// Batch is a group of messages handed to a single Write call.
type Batch []*Message

// Bytes returns the total payload size of the batch.
func (b Batch) Bytes() int64 {
	var n int64
	for _, m := range b {
		n += int64(len(m.Data))
	}
	return n
}

// Options selects and configures a plugin.
type Options struct {
	// URI is the output location. File based plugins derive their file
	// names from it.
	URI string
	// StorageID names the plugin
	StorageID string
	// StorageConfigURI is the path of a plugin specific YAML file, or empty
	StorageConfigURI string
}

// OpenFunc constructs a writer for a plugin.
type OpenFunc func(opts Options) (Writer, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]OpenFunc)
)

// Register makes a plugin available under id. It panics if id is already
// registered.
func Register(id string, open OpenFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := registry[id]; dup {
		panic("storage: Register called twice for plugin " + id)
	}
	registry[id] = open
}

// Open looks up opts.StorageID and opens a writer with it.
func Open(opts Options) (Writer, error) {
	registryMu.RLock()
	open, ok := registry[opts.StorageID]
	registryMu.RUnlock()

	if !ok {
		return nil, &WriterError{StorageID: opts.StorageID, Op: "open", Err: fmt.Errorf("unknown storage plugin (available: %v)", IDs())}
	}

	w, err := open(opts)
	if err != nil {
		return nil, wrapError(opts.StorageID, "open", err)
	}
	return w, nil
}

// IDs returns the registered plugin ids in sorted order.
func IDs() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// WriterError represents a plugin-specific error
type WriterError struct {
	Err       error
	StorageID string
	Op        string
}

func (e *WriterError) Error() string {
	return fmt.Sprintf("storage %s: %s: %v", e.StorageID, e.Op, e.Err)
}

func (e *WriterError) Unwrap() error {
	return e.Err
}

// wrapError tags err with the plugin and operation unless it already is a
// *WriterError.
func wrapError(id, op string, err error) error {
	if err == nil {
		return nil
	}
	if we, ok := err.(*WriterError); ok {
		return we
	}
	return &WriterError{StorageID: id, Op: op, Err: err}
}

// loadConfig decodes the plugin config file at path into out. An empty path
// leaves out untouched.
func loadConfig(path string, out any) error {
	if path == "" {
		return nil
	}

	// #nosec G304 - path is written by the benchmark runner
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read storage config: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse storage config: %w", err)
	}
	return nil
}
