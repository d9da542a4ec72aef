package bench

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/storagebench/memstats"
)

func TestWriteCSV(t *testing.T) {
	result := &Result{
		StorageID: "sqlite3",
		Records: []WriteRecord{
			{Sequence: 0, Bytes: 2000, Messages: 2, WriteDuration: 1500 * time.Nanosecond,
				Delta: memstats.Snapshot{Arena: 4096, InUse: 2048, Mmap: 0}},
			{Sequence: 1, Bytes: 1000, Messages: 1, WriteDuration: 700 * time.Nanosecond,
				Delta: memstats.Snapshot{Arena: 4096, InUse: -512, Mmap: 65536}},
		},
		CloseDuration: 42 * time.Microsecond,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, result))

	want := "sqc,num_bytes,num_msgs,write_ns,arena_bytes,in_use_bytes,mmap_bytes,close_ns\n" +
		"0,2000,2,1500,4096,2048,0,\n" +
		"1,1000,1,700,4096,-512,65536,\n" +
		",,,,,,,42000\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteCSVStable(t *testing.T) {
	result := &Result{Records: []WriteRecord{{Bytes: 1, Messages: 1}}}

	var a, b bytes.Buffer
	require.NoError(t, WriteCSV(&a, result))
	require.NoError(t, WriteCSV(&b, result))
	assert.Equal(t, a.String(), b.String())
}
