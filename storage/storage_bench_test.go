package storage

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func BenchmarkWrite(b *testing.B) {
	plugins := []struct {
		name   string
		id     string
		config string
	}{
		{name: "null", id: "null"},
		{name: "wal", id: "wal", config: "sync_mode: none\n"},
		{name: "wal_zstd", id: "wal", config: "sync_mode: none\ncompression: zstd\n"},
		{name: "mcap", id: "mcap"},
		{name: "mcap_nochunking", id: "mcap", config: "noCRC: true\nnoChunking: true\n"},
		{name: "sqlite", id: "sqlite3"},
	}

	for _, size := range []int{100, 10_000, 1_000_000} {
		for _, p := range plugins {
			b.Run(fmt.Sprintf("%s/%d", p.name, size), func(b *testing.B) {
				dir := b.TempDir()
				opts := Options{URI: filepath.Join(dir, "out"), StorageID: p.id}
				if p.config != "" {
					opts.StorageConfigURI = writeConfig(b, p.config)
				}

				w, err := Open(opts)
				require.NoError(b, err)
				require.NoError(b, w.CreateTopic(TopicMetadata{Name: "/bench", Type: "std_msgs/String", SerializationFormat: "cdr"}))

				batch := Batch{{Topic: "/bench", Data: bytes.Repeat([]byte{0xAB}, size)}}

				b.SetBytes(int64(size))
				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					batch[0].Timestamp = int64(i)
					if err := w.Write(batch); err != nil {
						b.Fatal(err)
					}
				}
				b.StopTimer()
				require.NoError(b, w.Close())
			})
		}
	}
}
