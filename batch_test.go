package bench

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/storagebench/storage"
)

func messages(sizes ...int) []*storage.Message {
	msgs := make([]*storage.Message, len(sizes))
	for i, size := range sizes {
		msgs[i] = &storage.Message{Topic: "/t", Data: make([]byte, size)}
	}
	return msgs
}

func batchSizes(batches []storage.Batch) []int {
	sizes := make([]int, len(batches))
	for i, b := range batches {
		sizes[i] = len(b)
	}
	return sizes
}

func TestSplitCount(t *testing.T) {
	tests := []struct {
		name string
		n    int
		k    int
		want []int
	}{
		{name: "partial tail", n: 3, k: 2, want: []int{2, 1}},
		{name: "exact", n: 6, k: 3, want: []int{3, 3}},
		{name: "single", n: 4, k: 10, want: []int{4}},
		{name: "empty", n: 0, k: 10, want: []int{}},
		{name: "zero threshold", n: 3, k: 0, want: []int{1, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := messages(make([]int, tt.n)...)
			batches := Split(msgs, CountPolicy{N: tt.k})
			assert.Equal(t, tt.want, batchSizes(batches))

			// floor(N/K) full batches and an N mod K tail
			if tt.k > 0 {
				full := 0
				for _, b := range batches {
					if len(b) == tt.k {
						full++
					}
				}
				assert.Equal(t, tt.n/tt.k, full)
			}
		})
	}
}

func TestSplitBytes(t *testing.T) {
	msgs := messages(400, 300, 500, 100, 100, 50)
	batches := Split(msgs, BytePolicy{MinBytes: 600})

	assert.Equal(t, []int{2, 2, 2}, batchSizes(batches))
	for _, b := range batches[:len(batches)-1] {
		assert.GreaterOrEqual(t, b.Bytes(), int64(600))
	}
	assert.Equal(t, int64(150), batches[len(batches)-1].Bytes())
}

func TestSplitPreservesOrder(t *testing.T) {
	msgs := messages(1, 2, 3, 4, 5)
	batches := Split(msgs, CountPolicy{N: 2})

	var flat []*storage.Message
	for _, b := range batches {
		require.NotEmpty(t, b)
		flat = append(flat, b...)
	}
	assert.Equal(t, msgs, flat)
}
