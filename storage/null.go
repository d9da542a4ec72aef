package storage

import "fmt"

func init() {
	Register("null", func(Options) (Writer, error) {
		return &NullWriter{topics: make(map[string]struct{})}, nil
	})
}

// NullWriter discards everything it is given. It isolates harness overhead
// from engine cost.
type NullWriter struct {
	topics   map[string]struct{}
	Bytes    int64
	Messages int
	Batches  int
	closed   bool
}

// CreateTopic records the topic name.
func (n *NullWriter) CreateTopic(topic TopicMetadata) error {
	if n.closed {
		return fmt.Errorf("writer closed")
	}
	n.topics[topic.Name] = struct{}{}
	return nil
}

// Write counts the batch.
func (n *NullWriter) Write(batch Batch) error {
	if n.closed {
		return fmt.Errorf("writer closed")
	}
	for _, m := range batch {
		if _, ok := n.topics[m.Topic]; !ok {
			return fmt.Errorf("unknown topic %q", m.Topic)
		}
	}
	n.Bytes += batch.Bytes()
	n.Messages += len(batch)
	n.Batches++
	return nil
}

// Close marks the writer closed.
func (n *NullWriter) Close() error {
	n.closed = true
	return nil
}
