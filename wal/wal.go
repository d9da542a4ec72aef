package wal

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by operations on a closed log.
var ErrClosed = errors.New("WAL is closed")

// SyncMode defines when the log syncs to disk.
type SyncMode int

const (
	// SyncBatch syncs once per Append call
	SyncBatch SyncMode = iota
	// SyncImmediate syncs after every record (safest, slowest)
	SyncImmediate
	// SyncNone leaves syncing to the OS until Close
	SyncNone
)

// ParseSyncMode maps a config name to a SyncMode.
func ParseSyncMode(name string) (SyncMode, error) {
	switch strings.ToLower(name) {
	case "", "batch":
		return SyncBatch, nil
	case "immediate":
		return SyncImmediate, nil
	case "none":
		return SyncNone, nil
	default:
		return SyncBatch, fmt.Errorf("unknown sync mode: %s", name)
	}
}

// Entry is one message handed to Append.
type Entry struct {
	Channel   uint16
	Timestamp int64
	Data      []byte
}

// WAL is a segmented append-only message log.
type WAL struct {
	mu          sync.Mutex
	path        string
	file        *os.File
	segments    *SegmentManager
	sum         Checksum
	codec       *codec
	header      segmentHeader
	sequence    uint64
	channels    map[string]uint16
	topics      []string
	currentSize int64
	syncMode    SyncMode
	closed      atomic.Bool
	buf         []byte
}

// Option configures the log.
type Option func(*config) error

type config struct {
	segmentSize   int64
	syncMode      SyncMode
	checksum      ChecksumType
	compression   Compression
	passphrase    []byte
	createDirPerm os.FileMode
}

// Open creates the log at path, continuing after any segments already there.
func Open(path string, opts ...Option) (*WAL, error) {
	cfg := &config{
		segmentSize:   64 * 1024 * 1024, // 64MB default
		syncMode:      SyncBatch,
		checksum:      ChecksumCRC32C,
		createDirPerm: 0700,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), cfg.createDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	segments, err := NewSegmentManager(path, cfg.segmentSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment manager: %w", err)
	}

	sum, err := NewChecksum(cfg.checksum)
	if err != nil {
		return nil, err
	}

	w := &WAL{
		path:     path,
		segments: segments,
		sum:      sum,
		channels: make(map[string]uint16),
		syncMode: cfg.syncMode,
		header:   segmentHeader{checksum: cfg.checksum},
	}

	var key []byte
	if len(cfg.passphrase) > 0 {
		if _, err := io.ReadFull(rand.Reader, w.header.salt[:]); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		if key, err = deriveKey(cfg.passphrase, w.header.salt[:]); err != nil {
			return nil, err
		}
	}

	if w.codec, err = newCodec(cfg.compression, key); err != nil {
		return nil, err
	}

	if len(segments.Segments()) > 0 {
		if err := w.recover(cfg.passphrase); err != nil {
			w.codec.close()
			return nil, fmt.Errorf("failed to recover WAL: %w", err)
		}
	}

	if err := w.openSegment(); err != nil {
		w.codec.close()
		return nil, err
	}

	return w, nil
}

// AddChannel registers topic and returns its channel id. Registering a topic
// twice returns the existing id.
func (w *WAL) AddChannel(topic string) (uint16, error) {
	if w.closed.Load() {
		return 0, ErrClosed
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if id, ok := w.channels[topic]; ok {
		return id, nil
	}
	if len(w.topics) > math.MaxUint16 {
		return 0, fmt.Errorf("too many channels")
	}

	// #nosec G115 - bounded above
	id := uint16(len(w.topics))
	w.sequence++
	rec := &Record{
		Flags:    FlagChannel,
		Sequence: w.sequence,
		Channel:  id,
		Data:     []byte(topic),
	}

	var err error
	w.buf, err = rec.AppendTo(w.buf[:0], w.sum)
	if err != nil {
		return 0, err
	}
	if err := w.writeBuffered(); err != nil {
		return 0, err
	}

	w.channels[topic] = id
	w.topics = append(w.topics, topic)
	return id, nil
}

// Append writes entries in order.
func (w *WAL) Append(entries []Entry) error {
	if w.closed.Load() {
		return ErrClosed
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = w.buf[:0]
	for _, e := range entries {
		if int(e.Channel) >= len(w.topics) {
			return fmt.Errorf("unknown channel %d", e.Channel)
		}

		data, flags, err := w.codec.encode(e.Data)
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}

		w.sequence++
		rec := &Record{
			Flags:     flags,
			Timestamp: e.Timestamp,
			Sequence:  w.sequence,
			Channel:   e.Channel,
			Data:      data,
		}
		if w.buf, err = rec.AppendTo(w.buf, w.sum); err != nil {
			return err
		}

		if w.syncMode == SyncImmediate || w.segments.ShouldRotate(w.currentSize+int64(len(w.buf))) {
			if err := w.writeBuffered(); err != nil {
				return err
			}
			if w.syncMode == SyncImmediate {
				if err := w.file.Sync(); err != nil {
					return fmt.Errorf("sync failed: %w", err)
				}
			}
		}
	}

	if err := w.writeBuffered(); err != nil {
		return err
	}
	if w.syncMode == SyncBatch {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
	}
	return nil
}

// Flush forces written data to disk.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close syncs and closes the active segment.
func (w *WAL) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	defer w.codec.close()

	var errs []error
	if w.file != nil {
		if err := w.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("failed to sync WAL: %w", err))
		}
		if err := w.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close WAL: %w", err))
		}
		w.file = nil
	}
	return errors.Join(errs...)
}

// Sequence returns the last sequence number written.
func (w *WAL) Sequence() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sequence
}

// Segments returns a copy of the segment list with current sizes.
func (w *WAL) Segments() []Segment {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.segments.UpdateSegmentSizes()
	out := make([]Segment, 0, len(w.segments.Segments()))
	for _, seg := range w.segments.Segments() {
		out = append(out, *seg)
	}
	return out
}

// writeBuffered appends w.buf to the active segment and rotates if full.
func (w *WAL) writeBuffered() error {
	if len(w.buf) == 0 {
		return nil
	}

	n, err := w.file.Write(w.buf)
	w.currentSize += int64(n)
	if err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	w.buf = w.buf[:0]

	if w.segments.ShouldRotate(w.currentSize) {
		if err := w.rotate(); err != nil {
			return fmt.Errorf("rotation failed: %w", err)
		}
	}
	return nil
}

func (w *WAL) rotate() error {
	if err := w.file.Sync(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil
	return w.openSegment()
}

func (w *WAL) openSegment() error {
	seg := w.segments.Next(w.sequence + 1)

	file, err := os.OpenFile(seg.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open WAL segment: %w", err)
	}
	if _, err := file.Write(w.header.marshal()); err != nil {
		file.Close()
		return fmt.Errorf("failed to write segment header: %w", err)
	}

	w.file = file
	w.currentSize = segmentHeaderSize
	return nil
}

// recover restores sequence and channel state from existing segments.
func (w *WAL) recover(passphrase []byte) error {
	r := &Reader{segments: w.segments.Segments(), passphrase: passphrase}
	report, err := r.Verify()
	if err != nil {
		return err
	}
	if !report.Valid {
		return fmt.Errorf("existing segments are damaged: %v", report.Errors)
	}

	w.sequence = report.LastSequence
	for id := 0; id < len(report.Channels); id++ {
		// #nosec G115 - channel ids come from uint16 records
		topic, ok := report.Channels[uint16(id)]
		if !ok {
			return fmt.Errorf("channel %d missing from existing segments", id)
		}
		// #nosec G115 - see above
		w.channels[topic] = uint16(id)
		w.topics = append(w.topics, topic)
	}
	return nil
}

// WithSegmentSize sets the maximum size of a segment before rotation.
func WithSegmentSize(size int64) Option {
	return func(c *config) error {
		if size <= 0 {
			return fmt.Errorf("segment size must be positive")
		}
		c.segmentSize = size
		return nil
	}
}

// WithSyncMode sets when the log syncs to disk.
func WithSyncMode(mode SyncMode) Option {
	return func(c *config) error {
		c.syncMode = mode
		return nil
	}
}

// WithChecksum selects the record checksum.
func WithChecksum(typ ChecksumType) Option {
	return func(c *config) error {
		if _, err := NewChecksum(typ); err != nil {
			return err
		}
		c.checksum = typ
		return nil
	}
}

// WithCompression selects the payload compressor.
func WithCompression(compression Compression) Option {
	return func(c *config) error {
		c.compression = compression
		return nil
	}
}

// WithPassphrase seals payloads with a key derived from passphrase.
func WithPassphrase(passphrase string) Option {
	return func(c *config) error {
		if passphrase == "" {
			return fmt.Errorf("passphrase must not be empty")
		}
		c.passphrase = []byte(passphrase)
		return nil
	}
}
