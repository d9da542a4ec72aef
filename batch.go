package bench

import "github.com/willibrandon/storagebench/storage"

// BatchPolicy decides when the batch being accumulated is complete.
type BatchPolicy interface {
	Full(messages int, bytes int64) bool
}

// CountPolicy closes a batch after N messages.
type CountPolicy struct {
	N int
}

// Full reports whether messages has reached the threshold. N < 1 acts as 1.
func (p CountPolicy) Full(messages int, _ int64) bool {
	return messages >= max(p.N, 1)
}

// BytePolicy closes a batch once its payload reaches MinBytes.
type BytePolicy struct {
	MinBytes int64
}

// Full reports whether bytes has reached the threshold. MinBytes < 1 acts as 1.
func (p BytePolicy) Full(_ int, bytes int64) bool {
	return bytes >= max(p.MinBytes, 1)
}

// BatchPolicy returns the byte policy when min_batch_size_bytes is set and
// the count policy otherwise.
func (c *BenchmarkConfig) BatchPolicy() BatchPolicy {
	if c.MinBatchSizeBytes > 0 {
		return BytePolicy{MinBytes: c.MinBatchSizeBytes}
	}
	return CountPolicy{N: c.BatchNumMessages}
}

// Split groups msgs into batches in order. A trailing partial batch is kept.
func Split(msgs []*storage.Message, policy BatchPolicy) []storage.Batch {
	var (
		batches []storage.Batch
		current storage.Batch
		bytes   int64
	)

	for _, m := range msgs {
		current = append(current, m)
		bytes += int64(len(m.Data))
		if policy.Full(len(current), bytes) {
			batches = append(batches, current)
			current = nil
			bytes = 0
		}
	}

	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
