package storage

import (
	"fmt"

	"github.com/willibrandon/storagebench/wal"
)

func init() {
	Register("wal", func(opts Options) (Writer, error) {
		return NewWALWriter(opts)
	})
}

// WALConfig is the wal plugin's storage_config.
type WALConfig struct {
	SegmentSize          int64  `yaml:"segment_size"`
	SyncMode             string `yaml:"sync_mode"`
	Checksum             string `yaml:"checksum"`
	Compression          string `yaml:"compression"`
	EncryptionPassphrase string `yaml:"encryption_passphrase"`
}

func (c WALConfig) options() ([]wal.Option, error) {
	var opts []wal.Option

	if c.SegmentSize > 0 {
		opts = append(opts, wal.WithSegmentSize(c.SegmentSize))
	}

	mode, err := wal.ParseSyncMode(c.SyncMode)
	if err != nil {
		return nil, err
	}
	opts = append(opts, wal.WithSyncMode(mode))

	sum, err := wal.ParseChecksumType(c.Checksum)
	if err != nil {
		return nil, err
	}
	opts = append(opts, wal.WithChecksum(sum))

	compression, err := wal.ParseCompression(c.Compression)
	if err != nil {
		return nil, err
	}
	opts = append(opts, wal.WithCompression(compression))

	if c.EncryptionPassphrase != "" {
		opts = append(opts, wal.WithPassphrase(c.EncryptionPassphrase))
	}
	return opts, nil
}

// WALWriter maps topics onto channels of a segmented log.
type WALWriter struct {
	log      *wal.WAL
	path     string
	channels map[string]uint16
	entries  []wal.Entry
}

// NewWALWriter opens the log <uri>.wal.
func NewWALWriter(opts Options) (*WALWriter, error) {
	var cfg WALConfig
	if err := loadConfig(opts.StorageConfigURI, &cfg); err != nil {
		return nil, err
	}
	walOpts, err := cfg.options()
	if err != nil {
		return nil, err
	}

	path := opts.URI + ".wal"
	log, err := wal.Open(path, walOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL: %w", err)
	}

	return &WALWriter{
		log:      log,
		path:     path,
		channels: make(map[string]uint16),
	}, nil
}

// Path returns the log path handed to wal.Open.
func (w *WALWriter) Path() string {
	return w.path
}

// CreateTopic writes a channel record for the topic.
func (w *WALWriter) CreateTopic(topic TopicMetadata) error {
	id, err := w.log.AddChannel(topic.Name)
	if err != nil {
		return &WriterError{StorageID: "wal", Op: "create_topic", Err: err}
	}
	w.channels[topic.Name] = id
	return nil
}

// Write appends the batch as one group of records.
func (w *WALWriter) Write(batch Batch) error {
	w.entries = w.entries[:0]
	for _, m := range batch {
		id, ok := w.channels[m.Topic]
		if !ok {
			return &WriterError{StorageID: "wal", Op: "write", Err: fmt.Errorf("unknown topic %q", m.Topic)}
		}
		w.entries = append(w.entries, wal.Entry{Channel: id, Timestamp: m.Timestamp, Data: m.Data})
	}

	if err := w.log.Append(w.entries); err != nil {
		return &WriterError{StorageID: "wal", Op: "write", Err: err}
	}
	return nil
}

// Close syncs and closes the log.
func (w *WALWriter) Close() error {
	if err := w.log.Close(); err != nil {
		return &WriterError{StorageID: "wal", Op: "close", Err: err}
	}
	return nil
}
