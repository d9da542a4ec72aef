package storage

import (
	"fmt"
	"os"
	"strings"

	"github.com/foxglove/mcap/go/mcap"
)

func init() {
	Register("mcap", func(opts Options) (Writer, error) {
		return NewMCAPWriter(opts)
	})
}

// MCAPConfig is the mcap plugin's storage_config. Key names follow the
// rosbag2 mcap plugin.
type MCAPConfig struct {
	NoCRC          bool   `yaml:"noCRC"`
	NoChunking     bool   `yaml:"noChunking"`
	NoMessageIndex bool   `yaml:"noMessageIndex"`
	ChunkSize      int64  `yaml:"chunkSize"`
	Compression    string `yaml:"compression"`
}

const defaultChunkSize = 768 * 1024

func (c MCAPConfig) writerOptions() (*mcap.WriterOptions, error) {
	opts := &mcap.WriterOptions{
		IncludeCRC:          !c.NoCRC,
		Chunked:             !c.NoChunking,
		ChunkSize:           defaultChunkSize,
		Compression:         mcap.CompressionZSTD,
		SkipMessageIndexing: c.NoMessageIndex,
	}
	if c.ChunkSize > 0 {
		opts.ChunkSize = c.ChunkSize
	}

	switch strings.ToLower(c.Compression) {
	case "", "zstd":
	case "lz4":
		opts.Compression = mcap.CompressionLZ4
	case "none":
		opts.Compression = mcap.CompressionNone
	default:
		return nil, fmt.Errorf("unknown mcap compression: %s", c.Compression)
	}
	return opts, nil
}

// MCAPWriter writes an MCAP file with one channel per topic.
type MCAPWriter struct {
	file     *os.File
	w        *mcap.Writer
	path     string
	schemas  map[string]uint16
	channels map[string]uint16
	sequence uint32
}

// NewMCAPWriter creates <uri>.mcap and writes the file header.
func NewMCAPWriter(opts Options) (*MCAPWriter, error) {
	var cfg MCAPConfig
	if err := loadConfig(opts.StorageConfigURI, &cfg); err != nil {
		return nil, err
	}
	writerOpts, err := cfg.writerOptions()
	if err != nil {
		return nil, err
	}

	path := opts.URI + ".mcap"
	// #nosec G304 - output path chosen by the operator
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcap file: %w", err)
	}

	w, err := mcap.NewWriter(file, writerOpts)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create mcap writer: %w", err)
	}
	if err := w.WriteHeader(&mcap.Header{Profile: "ros2", Library: "storagebench"}); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write mcap header: %w", err)
	}

	return &MCAPWriter{
		file:     file,
		w:        w,
		path:     path,
		schemas:  make(map[string]uint16),
		channels: make(map[string]uint16),
	}, nil
}

// Path returns the output file name.
func (m *MCAPWriter) Path() string {
	return m.path
}

// CreateTopic writes a schema record for a new type and a channel record for
// the topic.
func (m *MCAPWriter) CreateTopic(topic TopicMetadata) error {
	if _, ok := m.channels[topic.Name]; ok {
		return nil
	}

	schemaID, ok := m.schemas[topic.Type]
	if !ok {
		// #nosec G115 - schema ids start at 1 and stay well below 2^16
		schemaID = uint16(len(m.schemas) + 1)
		err := m.w.WriteSchema(&mcap.Schema{
			ID:       schemaID,
			Name:     topic.Type,
			Encoding: "ros2msg",
			Data:     []byte("string data"),
		})
		if err != nil {
			return &WriterError{StorageID: "mcap", Op: "create_topic", Err: err}
		}
		m.schemas[topic.Type] = schemaID
	}

	// #nosec G115 - see above
	channelID := uint16(len(m.channels))
	err := m.w.WriteChannel(&mcap.Channel{
		ID:              channelID,
		SchemaID:        schemaID,
		Topic:           topic.Name,
		MessageEncoding: topic.SerializationFormat,
		Metadata:        map[string]string{},
	})
	if err != nil {
		return &WriterError{StorageID: "mcap", Op: "create_topic", Err: err}
	}

	m.channels[topic.Name] = channelID
	return nil
}

// Write appends each message as an MCAP message record.
func (m *MCAPWriter) Write(batch Batch) error {
	for _, msg := range batch {
		channelID, ok := m.channels[msg.Topic]
		if !ok {
			return &WriterError{StorageID: "mcap", Op: "write", Err: fmt.Errorf("unknown topic %q", msg.Topic)}
		}

		m.sequence++
		// #nosec G115 - generation timestamps are positive
		ts := uint64(msg.Timestamp)
		err := m.w.WriteMessage(&mcap.Message{
			ChannelID:   channelID,
			Sequence:    m.sequence,
			LogTime:     ts,
			PublishTime: ts,
			Data:        msg.Data,
		})
		if err != nil {
			return &WriterError{StorageID: "mcap", Op: "write", Err: err}
		}
	}
	return nil
}

// Close writes the summary section and closes the file.
func (m *MCAPWriter) Close() error {
	if err := m.w.Close(); err != nil {
		m.file.Close()
		return &WriterError{StorageID: "mcap", Op: "close", Err: err}
	}
	if err := m.file.Close(); err != nil {
		return &WriterError{StorageID: "mcap", Op: "close", Err: err}
	}
	return nil
}
