package wal

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMessages(t *testing.T, w *WAL, topic string, n int) {
	t.Helper()

	id, err := w.AddChannel(topic)
	require.NoError(t, err)

	entries := make([]Entry, n)
	for i := range entries {
		entries[i] = Entry{
			Channel:   id,
			Timestamp: int64(i),
			Data:      bytes.Repeat([]byte{byte(i)}, 100),
		}
	}
	require.NoError(t, w.Append(entries))
}

func TestWALIntegrity(t *testing.T) {
	walPath := filepath.Join(t.TempDir(), "test.wal")

	w, err := Open(walPath)
	require.NoError(t, err)
	writeMessages(t, w, "/large", 10)
	require.NoError(t, w.Close())

	r, err := NewReader(walPath)
	require.NoError(t, err)
	report, err := r.Verify()
	require.NoError(t, err)

	assert.True(t, report.Valid, report.Errors)
	assert.Equal(t, 11, report.TotalRecords)
	assert.Equal(t, 10, report.Messages)
	assert.Equal(t, map[uint16]string{0: "/large"}, report.Channels)
	assert.Equal(t, uint64(11), report.LastSequence)

	// Reopen continues the sequence and keeps channel ids
	w2, err := Open(walPath)
	require.NoError(t, err)
	defer w2.Close()

	assert.Equal(t, uint64(11), w2.Sequence())
	id, err := w2.AddChannel("/large")
	require.NoError(t, err)
	assert.Equal(t, uint16(0), id)
	id, err = w2.AddChannel("/small")
	require.NoError(t, err)
	assert.Equal(t, uint16(1), id)
}

func TestReadAllRecords(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		read []ReaderOption
	}{
		{name: "plain"},
		{name: "snappy", opts: []Option{WithCompression(CompressionSnappy)}},
		{name: "zstd", opts: []Option{WithCompression(CompressionZstd), WithChecksum(ChecksumXXHash)}},
		{
			name: "encrypted",
			opts: []Option{WithCompression(CompressionZstd), WithPassphrase("hunter2")},
			read: []ReaderOption{WithReadPassphrase("hunter2")},
		},
		{name: "no checksum", opts: []Option{WithChecksum(ChecksumNone), WithSyncMode(SyncImmediate)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			walPath := filepath.Join(t.TempDir(), "test.wal")

			w, err := Open(walPath, tt.opts...)
			require.NoError(t, err)
			writeMessages(t, w, "/small", 5)
			require.NoError(t, w.Close())

			r, err := NewReader(walPath, tt.read...)
			require.NoError(t, err)
			records, err := r.ReadAll()
			require.NoError(t, err)
			require.Len(t, records, 6)

			assert.True(t, records[0].IsChannel())
			assert.Equal(t, "/small", string(records[0].Data))
			for i, rec := range records[1:] {
				assert.Equal(t, uint64(i+2), rec.Sequence)
				assert.Equal(t, int64(i), rec.Timestamp)
				assert.Equal(t, bytes.Repeat([]byte{byte(i)}, 100), rec.Data)
			}
		})
	}
}

func TestEncryptedWithoutPassphrase(t *testing.T) {
	walPath := filepath.Join(t.TempDir(), "test.wal")

	w, err := Open(walPath, WithPassphrase("secret"))
	require.NoError(t, err)
	writeMessages(t, w, "/t", 1)
	require.NoError(t, w.Close())

	r, err := NewReader(walPath)
	require.NoError(t, err)
	_, err = r.ReadAll()
	assert.Error(t, err)
}

func TestSegmentRotation(t *testing.T) {
	walPath := filepath.Join(t.TempDir(), "test.wal")

	w, err := Open(walPath, WithSegmentSize(1024))
	require.NoError(t, err)
	writeMessages(t, w, "/large", 50)

	segments := w.Segments()
	require.NoError(t, w.Close())
	assert.Greater(t, len(segments), 1)
	for _, seg := range segments[:len(segments)-1] {
		assert.True(t, seg.Sealed)
		assert.Equal(t, fmt.Sprintf("test-%06d.wal", seg.Index), filepath.Base(seg.Path))
	}

	r, err := NewReader(walPath)
	require.NoError(t, err)
	report, err := r.Verify()
	require.NoError(t, err)
	assert.True(t, report.Valid, report.Errors)
	assert.Equal(t, 50, report.Messages)
	assert.Equal(t, len(segments), report.Segments)
}

func TestTornTailIgnored(t *testing.T) {
	walPath := filepath.Join(t.TempDir(), "test.wal")

	w, err := Open(walPath)
	require.NoError(t, err)
	writeMessages(t, w, "/t", 3)
	segments := w.Segments()
	require.NoError(t, w.Close())

	last := segments[len(segments)-1].Path
	info, err := os.Stat(last)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(last, info.Size()-5))

	r, err := NewReader(walPath)
	require.NoError(t, err)
	records, err := r.ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestCorruptRecordDetected(t *testing.T) {
	walPath := filepath.Join(t.TempDir(), "test.wal")

	w, err := Open(walPath)
	require.NoError(t, err)
	writeMessages(t, w, "/t", 3)
	segments := w.Segments()
	require.NoError(t, w.Close())

	path := segments[0].Path
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// flip a payload byte of the first message record
	data[segmentHeaderSize+recordOverhead+len("/t")+headerSize+prefixSize] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0600))

	r, err := NewReader(walPath)
	require.NoError(t, err)
	report, err := r.Verify()
	require.NoError(t, err)
	assert.False(t, report.Valid)
	require.NotEmpty(t, report.Errors)
	assert.Contains(t, report.Errors[0], "checksum mismatch")

	_, err = Open(walPath)
	assert.Error(t, err)
}

func TestAppendErrors(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "test.wal"))
	require.NoError(t, err)

	err = w.Append([]Entry{{Channel: 3, Data: []byte("x")}})
	assert.ErrorContains(t, err, "unknown channel")

	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Append(nil), ErrClosed)
	_, err = w.AddChannel("/t")
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, w.Close())
}

func TestParseOptions(t *testing.T) {
	mode, err := ParseSyncMode("immediate")
	require.NoError(t, err)
	assert.Equal(t, SyncImmediate, mode)
	_, err = ParseSyncMode("sometimes")
	assert.Error(t, err)

	c, err := ParseCompression("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, c)
	assert.Equal(t, "zstd", c.String())
	_, err = ParseCompression("lz4")
	assert.Error(t, err)

	sum, err := ParseChecksumType("")
	require.NoError(t, err)
	assert.Equal(t, ChecksumCRC32C, sum)
	_, err = ParseChecksumType("md5")
	assert.Error(t, err)
}
