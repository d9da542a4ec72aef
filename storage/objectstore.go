package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"github.com/willibrandon/storagebench/wal"
)

// blobPutter uploads a single object. Implementations do not retry.
type blobPutter interface {
	put(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) error
	close() error
}

// objectStoreConfig holds the keys shared by every object store plugin.
type objectStoreConfig struct {
	Prefix      string `yaml:"prefix"`
	Compression string `yaml:"compression"`
}

// Manifest is written as <prefix>/<name>/manifest.yaml when an object store
// writer is closed.
type Manifest struct {
	Topics      []TopicMetadata `yaml:"topics"`
	Objects     []string        `yaml:"objects"`
	Messages    int             `yaml:"messages"`
	Bytes       int64           `yaml:"bytes"`
	Compression string          `yaml:"compression"`
	ClosedAt    time.Time       `yaml:"closed_at"`
}

// objectWriter stores each batch as one object and a manifest on close.
type objectWriter struct {
	id          string
	store       blobPutter
	base        string
	compression wal.Compression
	enc         *zstd.Encoder
	topics      map[string]struct{}
	manifest    Manifest
	buf         []byte
}

func newObjectWriter(id string, store blobPutter, uri string, cfg objectStoreConfig) (*objectWriter, error) {
	compression, err := wal.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	o := &objectWriter{
		id:          id,
		store:       store,
		base:        path.Join(cfg.Prefix, path.Base(uri)),
		compression: compression,
		topics:      make(map[string]struct{}),
	}
	o.manifest.Compression = compression.String()

	if compression == wal.CompressionZstd {
		if o.enc, err = zstd.NewWriter(nil); err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}
	return o, nil
}

// CreateTopic adds the topic to the manifest.
func (o *objectWriter) CreateTopic(topic TopicMetadata) error {
	if _, ok := o.topics[topic.Name]; ok {
		return nil
	}
	o.topics[topic.Name] = struct{}{}
	o.manifest.Topics = append(o.manifest.Topics, topic)
	return nil
}

// Write frames and uploads the batch.
func (o *objectWriter) Write(batch Batch) error {
	for _, m := range batch {
		if _, ok := o.topics[m.Topic]; !ok {
			return &WriterError{StorageID: o.id, Op: "write", Err: fmt.Errorf("unknown topic %q", m.Topic)}
		}
	}

	o.buf = appendBatch(o.buf[:0], batch)
	body := o.compress(o.buf)

	key := fmt.Sprintf("%s/batch-%08d.bin", o.base, len(o.manifest.Objects))
	metadata := map[string]string{
		"messages":    fmt.Sprintf("%d", len(batch)),
		"bytes":       fmt.Sprintf("%d", batch.Bytes()),
		"compression": o.compression.String(),
	}
	if err := o.store.put(context.Background(), key, body, "application/octet-stream", metadata); err != nil {
		return &WriterError{StorageID: o.id, Op: "upload", Err: err}
	}

	o.manifest.Objects = append(o.manifest.Objects, key)
	o.manifest.Messages += len(batch)
	o.manifest.Bytes += batch.Bytes()
	return nil
}

// Close uploads the manifest and releases the client.
func (o *objectWriter) Close() error {
	defer func() {
		if o.enc != nil {
			_ = o.enc.Close()
		}
	}()

	o.manifest.ClosedAt = time.Now().UTC()
	sort.Slice(o.manifest.Topics, func(i, j int) bool {
		return o.manifest.Topics[i].Name < o.manifest.Topics[j].Name
	})

	body, err := yaml.Marshal(&o.manifest)
	if err != nil {
		_ = o.store.close()
		return &WriterError{StorageID: o.id, Op: "close", Err: err}
	}
	if err := o.store.put(context.Background(), o.base+"/manifest.yaml", body, "application/yaml", nil); err != nil {
		_ = o.store.close()
		return &WriterError{StorageID: o.id, Op: "close", Err: err}
	}
	if err := o.store.close(); err != nil {
		return &WriterError{StorageID: o.id, Op: "close", Err: err}
	}
	return nil
}

func (o *objectWriter) compress(data []byte) []byte {
	switch o.compression {
	case wal.CompressionSnappy:
		return snappy.Encode(nil, data)
	case wal.CompressionZstd:
		return o.enc.EncodeAll(data, nil)
	default:
		out := make([]byte, len(data))
		copy(out, data)
		return out
	}
}

// appendBatch frames each message as
// topic_len(2) topic timestamp(8) data_len(4) data.
func appendBatch(dst []byte, batch Batch) []byte {
	for _, m := range batch {
		// #nosec G115 - topic names are short
		dst = binary.LittleEndian.AppendUint16(dst, uint16(len(m.Topic)))
		dst = append(dst, m.Topic...)
		// #nosec G115 - timestamps are positive
		dst = binary.LittleEndian.AppendUint64(dst, uint64(m.Timestamp))
		// #nosec G115 - message sizes fit in 32 bits
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(m.Data)))
		dst = append(dst, m.Data...)
	}
	return dst
}

// decodeBatch reverses appendBatch.
func decodeBatch(data []byte) (Batch, error) {
	var batch Batch
	for len(data) > 0 {
		if len(data) < 2 {
			return nil, fmt.Errorf("truncated topic length")
		}
		n := int(binary.LittleEndian.Uint16(data))
		data = data[2:]
		if len(data) < n+12 {
			return nil, fmt.Errorf("truncated message header")
		}
		m := &Message{Topic: string(data[:n])}
		data = data[n:]
		m.Timestamp = int64(binary.LittleEndian.Uint64(data))
		size := int(binary.LittleEndian.Uint32(data[8:]))
		data = data[12:]
		if len(data) < size {
			return nil, fmt.Errorf("truncated message data")
		}
		m.Data = data[:size]
		data = data[size:]
		batch = append(batch, m)
	}
	return batch, nil
}
