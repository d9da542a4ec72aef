package bench

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/willibrandon/mtlog/core"

	"github.com/willibrandon/storagebench/internal/logger"
	"github.com/willibrandon/storagebench/memstats"
	"github.com/willibrandon/storagebench/storage"
)

// recordingWriter captures every call and can fail on demand.
type recordingWriter struct {
	opts       storage.Options
	topics     []storage.TopicMetadata
	batches    []storage.Batch
	closed     int
	failTopic  error
	failWrite  error
	failAfter  int
	failClose  error
	configSeen []byte
}

func (w *recordingWriter) CreateTopic(topic storage.TopicMetadata) error {
	if w.failTopic != nil {
		return w.failTopic
	}
	w.topics = append(w.topics, topic)
	return nil
}

func (w *recordingWriter) Write(batch storage.Batch) error {
	if w.failWrite != nil && len(w.batches) >= w.failAfter {
		return w.failWrite
	}
	w.batches = append(w.batches, batch)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed++
	return w.failClose
}

func (w *recordingWriter) opener(t *testing.T) OpenFunc {
	return func(opts storage.Options) (storage.Writer, error) {
		w.opts = opts
		if opts.StorageConfigURI != "" {
			data, err := os.ReadFile(opts.StorageConfigURI)
			require.NoError(t, err)
			w.configSeen = data
		}
		return w, nil
	}
}

// stepProbe returns its snapshots in order, repeating the last one.
type stepProbe struct {
	snaps []memstats.Snapshot
	calls int
}

func (p *stepProbe) Snapshot() memstats.Snapshot {
	s := p.snaps[min(p.calls, len(p.snaps)-1)]
	p.calls++
	return s
}

func (p *stepProbe) Name() string { return "step" }

func quietLogger() core.Logger {
	return logger.New(io.Discard, core.VerboseLevel)
}

func newTestRunner(t *testing.T, opts ...Option) *Runner {
	t.Helper()
	r, err := NewRunner(append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	return r
}

func TestRunMCAPEndToEnd(t *testing.T) {
	cfg, err := DecodeConfig([]byte(`
storage_id: mcap
batch_num_messages: 2
repeat_message_count: 3
topics:
  - name: /a
    message_size: 100
`))
	require.NoError(t, err)

	dir := t.TempDir()
	result, err := newTestRunner(t).Run(cfg, dir)
	require.NoError(t, err)

	require.Len(t, result.Records, 2)
	assert.Equal(t, uint32(0), result.Records[0].Sequence)
	assert.Equal(t, 2, result.Records[0].Messages)
	assert.Equal(t, int64(200), result.Records[0].Bytes)
	assert.Equal(t, uint32(1), result.Records[1].Sequence)
	assert.Equal(t, 1, result.Records[1].Messages)
	assert.Equal(t, int64(100), result.Records[1].Bytes)

	assert.FileExists(t, filepath.Join(dir, OutputName+".mcap"))
	assert.NoFileExists(t, filepath.Join(dir, StorageConfigFile))

	var out bytes.Buffer
	require.NoError(t, WriteCSV(&out, result))
	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "sqc,num_bytes,num_msgs,write_ns,arena_bytes,in_use_bytes,mmap_bytes,close_ns", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "0,200,2,"))
	assert.True(t, strings.HasPrefix(lines[2], "1,100,1,"))
	assert.True(t, strings.HasSuffix(lines[1], ","))
	assert.True(t, strings.HasPrefix(lines[3], ",,,,,,,"))
}

func TestRunFixedCountMessages(t *testing.T) {
	w := &recordingWriter{}
	cfg := &BenchmarkConfig{
		StorageID:          "recording",
		BatchNumMessages:   4,
		RepeatMessageCount: 5,
		Topics: []TopicConfig{
			{Name: "/a", MessageSize: 10},
			{Name: "/b", MessageSize: 20},
			{Name: "/c", MessageSize: 30},
		},
	}

	r := newTestRunner(t, WithOpener(w.opener(t)))
	result, err := r.Run(cfg, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, StateDone, r.State())

	perTopic := make(map[string]int)
	total := 0
	for _, b := range w.batches {
		for _, m := range b {
			perTopic[m.Topic]++
			total++
		}
	}
	assert.Equal(t, 15, total)
	assert.Equal(t, map[string]int{"/a": 5, "/b": 5, "/c": 5}, perTopic)
	assert.Len(t, result.Records, 4)
	assert.Equal(t, 3, result.Records[3].Messages)

	require.Len(t, w.topics, 3)
	assert.Equal(t, storage.TopicMetadata{Name: "/a", Type: "std_msgs/String", SerializationFormat: "cdr"}, w.topics[0])
	assert.Equal(t, 1, w.closed)
}

func TestRunEmptyTopics(t *testing.T) {
	w := &recordingWriter{}
	cfg, err := DecodeConfig([]byte("storage_id: recording\ntopics: []\n"))
	require.NoError(t, err)

	result, err := newTestRunner(t, WithOpener(w.opener(t))).Run(cfg, t.TempDir())
	require.NoError(t, err)

	assert.Empty(t, result.Records)
	assert.Empty(t, w.batches)
	assert.Equal(t, 1, w.closed)

	var out bytes.Buffer
	require.NoError(t, WriteCSV(&out, result))
	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], ",,,,,,,"))
}

func TestRunDeltasUseFixedBaseline(t *testing.T) {
	w := &recordingWriter{}
	probe := &stepProbe{snaps: []memstats.Snapshot{
		{Arena: 100, InUse: 100, Mmap: 100}, // baseline
		{Arena: 150, InUse: 90, Mmap: 100},
		{Arena: 300, InUse: 50, Mmap: 200},
	}}
	cfg := &BenchmarkConfig{
		StorageID:          "recording",
		BatchNumMessages:   1,
		RepeatMessageCount: 2,
		Topics:             []TopicConfig{{Name: "/a", MessageSize: 1}},
	}

	result, err := newTestRunner(t, WithOpener(w.opener(t)), WithProbe(probe)).Run(cfg, t.TempDir())
	require.NoError(t, err)

	require.Len(t, result.Records, 2)
	assert.Equal(t, memstats.Snapshot{Arena: 50, InUse: -10, Mmap: 0}, result.Records[0].Delta)
	assert.Equal(t, memstats.Snapshot{Arena: 200, InUse: -50, Mmap: 100}, result.Records[1].Delta)
	assert.Equal(t, 3, probe.calls)
}

func TestRunWritesStorageConfig(t *testing.T) {
	w := &recordingWriter{}
	cfg, err := DecodeConfig([]byte("storage_id: recording\ntopics: []\nstorage_options:\n  noCRC: true\n"))
	require.NoError(t, err)

	dir := t.TempDir()
	_, err = newTestRunner(t, WithOpener(w.opener(t))).Run(cfg, dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, StorageConfigFile), w.opts.StorageConfigURI)
	assert.Equal(t, filepath.Join(dir, OutputName), w.opts.URI)
	assert.Equal(t, "recording", w.opts.StorageID)
	assert.Equal(t, "noCRC: true\n", string(w.configSeen))
}

func TestRunFailures(t *testing.T) {
	boom := errors.New("boom")
	cfg := &BenchmarkConfig{
		StorageID:          "recording",
		BatchNumMessages:   1,
		RepeatMessageCount: 3,
		Topics:             []TopicConfig{{Name: "/a", MessageSize: 1}},
	}

	tests := []struct {
		name        string
		writer      *recordingWriter
		wantBatches int
		wantClosed  int
	}{
		{name: "create topic", writer: &recordingWriter{failTopic: boom}, wantBatches: 0, wantClosed: 1},
		{name: "write", writer: &recordingWriter{failWrite: boom, failAfter: 1}, wantBatches: 1, wantClosed: 1},
		{name: "close", writer: &recordingWriter{failClose: boom}, wantBatches: 3, wantClosed: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRunner(t, WithOpener(tt.writer.opener(t)))
			result, err := r.Run(cfg, t.TempDir())

			assert.Nil(t, result)
			assert.ErrorIs(t, err, ErrWriter)
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, StateFailed, r.State())
			assert.Len(t, tt.writer.batches, tt.wantBatches)
			assert.Equal(t, tt.wantClosed, tt.writer.closed)
		})
	}
}

func TestRunOpenFailure(t *testing.T) {
	cfg := &BenchmarkConfig{StorageID: "does-not-exist"}
	r := newTestRunner(t)

	_, err := r.Run(cfg, t.TempDir())
	assert.ErrorIs(t, err, ErrWriter)
	var we *storage.WriterError
	assert.True(t, errors.As(err, &we))

	_, err = r.Run(cfg, t.TempDir())
	assert.ErrorContains(t, err, "runner already used")
}

func TestNewRunnerOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{name: "nil opener", opt: WithOpener(nil)},
		{name: "nil probe", opt: WithProbe(nil)},
		{name: "nil logger", opt: WithLogger(nil)},
		{name: "nil generator", opt: WithGenerator(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRunner(tt.opt)
			assert.Error(t, err)
		})
	}
}
