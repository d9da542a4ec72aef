package bench

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TopicConfig describes one synthetic topic.
type TopicConfig struct {
	Name        string
	MessageSize int
	// WriteProportion is the share of WriteTotalBytes given to this topic.
	// Proportions are not normalized.
	WriteProportion float64
}

// BenchmarkConfig is a decoded benchmark configuration.
type BenchmarkConfig struct {
	StorageID          string
	BatchNumMessages   int
	MinBatchSizeBytes  int64 // > 0 selects byte-threshold batching
	RepeatMessageCount int
	WriteTotalBytes    int64 // > 0 selects proportional planning
	Topics             []TopicConfig
	// StorageConfig is passed through to the plugin untouched.
	StorageConfig *yaml.Node
}

// DefaultTopics are used when a config has no topics key.
func DefaultTopics() []TopicConfig {
	return []TopicConfig{
		{Name: "/large", MessageSize: 1_000_000, WriteProportion: 0.9},
		{Name: "/small", MessageSize: 1_000, WriteProportion: 0.1},
	}
}

// DefaultConfig returns the configuration used for missing keys.
func DefaultConfig() *BenchmarkConfig {
	return &BenchmarkConfig{
		StorageID:          "sqlite3",
		BatchNumMessages:   10,
		RepeatMessageCount: 1000,
		Topics:             DefaultTopics(),
	}
}

// Proportional reports whether the workload is planned from a byte budget.
func (c *BenchmarkConfig) Proportional() bool {
	return c.WriteTotalBytes > 0
}

// HasStorageConfig reports whether a plugin config document is present.
func (c *BenchmarkConfig) HasStorageConfig() bool {
	return c.StorageConfig != nil && c.StorageConfig.Kind == yaml.MappingNode
}

type topicDoc struct {
	Name            string   `yaml:"name"`
	MessageSize     int      `yaml:"message_size"`
	WriteProportion *float64 `yaml:"write_proportion"`
}

type configDoc struct {
	StorageID          string      `yaml:"storage_id"`
	BatchNumMessages   int         `yaml:"batch_num_messages"`
	MinBatchSizeBytes  int64       `yaml:"min_batch_size_bytes"`
	RepeatMessageCount int         `yaml:"repeat_message_count"`
	WriteTotalBytes    int64       `yaml:"write_total_bytes"`
	Topics             *[]topicDoc `yaml:"topics"`
	StorageConfig      yaml.Node   `yaml:"storage_config"`
	StorageOptions     yaml.Node   `yaml:"storage_options"`
}

// DecodeConfig parses a YAML benchmark configuration. Missing keys keep
// their defaults and unknown keys are ignored.
func DecodeConfig(data []byte) (*BenchmarkConfig, error) {
	def := DefaultConfig()
	doc := configDoc{
		StorageID:          def.StorageID,
		BatchNumMessages:   def.BatchNumMessages,
		RepeatMessageCount: def.RepeatMessageCount,
	}

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigDecode, err)
	}

	cfg := &BenchmarkConfig{
		StorageID:          doc.StorageID,
		BatchNumMessages:   doc.BatchNumMessages,
		MinBatchSizeBytes:  doc.MinBatchSizeBytes,
		RepeatMessageCount: doc.RepeatMessageCount,
		WriteTotalBytes:    doc.WriteTotalBytes,
		Topics:             def.Topics,
	}

	if doc.Topics != nil {
		cfg.Topics = make([]TopicConfig, 0, len(*doc.Topics))
		for i, t := range *doc.Topics {
			if t.Name == "" {
				return nil, fmt.Errorf("%w: topic %d has no name", ErrConfigDecode, i)
			}
			if t.MessageSize <= 0 {
				return nil, fmt.Errorf("%w: topic %s: message_size must be positive", ErrConfigDecode, t.Name)
			}
			topic := TopicConfig{Name: t.Name, MessageSize: t.MessageSize, WriteProportion: 1.0}
			if t.WriteProportion != nil {
				topic.WriteProportion = *t.WriteProportion
			}
			cfg.Topics = append(cfg.Topics, topic)
		}
	}

	switch {
	case doc.StorageConfig.Kind != 0:
		cfg.StorageConfig = &doc.StorageConfig
	case doc.StorageOptions.Kind != 0:
		cfg.StorageConfig = &doc.StorageOptions
	}

	return cfg, nil
}

// LoadConfig decodes arg as a path to a YAML file or, when no such file
// exists, as an inline YAML document.
func LoadConfig(arg string) (*BenchmarkConfig, error) {
	if strings.TrimSpace(arg) == "" {
		return nil, fmt.Errorf("%w: empty config", ErrConfigDecode)
	}

	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		// #nosec G304 - config path supplied by the operator
		data, err := os.ReadFile(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		return DecodeConfig(data)
	}

	return DecodeConfig([]byte(arg))
}
