package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bench "github.com/willibrandon/storagebench"
	"github.com/willibrandon/storagebench/sweep"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := newRootCmd("test")
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))

	err := root.Execute()
	return out.String(), err
}

const smallConfig = `{storage_id: wal, repeat_message_count: 3, batch_num_messages: 2,
  topics: [{name: /a, message_size: 16}, {name: /b, message_size: 8}]}`

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "storagebench version test\n", out)
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "run", "--probe", "runtime", smallConfig, dir)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, strings.Join(bench.CSVHeader, ","), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "0,24,2,"), lines[1])
	assert.True(t, strings.HasSuffix(lines[3], ","), lines[3])
	assert.True(t, strings.HasPrefix(lines[4], ",,,,,,,"), lines[4])

	assert.FileExists(t, filepath.Join(dir, "out-000000.wal"))

	_, err = execute(t, "verify", filepath.Join(dir, "out.wal"))
	assert.NoError(t, err)
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr error
		errText string
	}{
		{name: "missing config", args: []string{"run"}, wantErr: bench.ErrMissingArguments},
		{name: "malformed config", args: []string{"run", "topics: [", t.TempDir()}, wantErr: bench.ErrConfigDecode},
		{name: "unknown plugin", args: []string{"run", "--probe", "runtime", "{storage_id: nope, repeat_message_count: 1, topics: [{name: /t, message_size: 1}]}", t.TempDir()}, wantErr: bench.ErrWriter},
		{name: "unknown probe", args: []string{"run", "--probe", "jemalloc", smallConfig}, errText: "unknown allocator probe"},
		{name: "unknown profile", args: []string{"run", "--probe", "runtime", "--profile", "block", smallConfig, t.TempDir()}, errText: "unknown profile mode"},
		{name: "too many args", args: []string{"run", smallConfig, "a", "b"}, errText: "accepts at most 2 arg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.errText != "" {
				assert.ErrorContains(t, err, tt.errText)
			}
		})
	}
}

func TestTempOutputDir(t *testing.T) {
	dir, cleanup, err := tempOutputDir(false)
	require.NoError(t, err)
	assert.DirExists(t, dir)
	cleanup()
	assert.NoDirExists(t, dir)

	dir, cleanup, err = tempOutputDir(true)
	require.NoError(t, err)
	cleanup()
	assert.DirExists(t, dir)
	require.NoError(t, os.RemoveAll(dir))
}

func TestVerifyCommandRejectsDamagedLog(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "run", "--probe", "runtime", smallConfig, dir)
	require.NoError(t, err)

	segment := filepath.Join(dir, "out-000000.wal")
	data, err := os.ReadFile(segment)
	require.NoError(t, err)
	// last payload byte, just before the record footer
	data[len(data)-13] ^= 0xFF
	require.NoError(t, os.WriteFile(segment, data, 0600))

	_, err = execute(t, "verify", filepath.Join(dir, "out.wal"))
	assert.ErrorContains(t, err, "integrity check failed")

	_, err = execute(t, "verify", filepath.Join(dir, "missing.wal"))
	assert.Error(t, err)
}

func TestSweepCommand(t *testing.T) {
	orig := newExec
	t.Cleanup(func() { newExec = orig })
	newExec = func() (sweep.ExecFunc, error) {
		return func(ctx context.Context, config []byte, outDir string) ([]byte, error) {
			var out bytes.Buffer
			err := runBenchmark(ctx, &out, []string{string(config), outDir}, runOptions{probe: "runtime"})
			return out.Bytes(), err
		}, nil
	}

	dir := t.TempDir()
	dimsPath := filepath.Join(dir, "dims.yaml")
	dims := `
- name: plugin_config
  variants:
    - name: wal_default
      config: {storage_id: wal}
    - name: sqlite_default
      config: {storage_id: sqlite3}
`
	require.NoError(t, os.WriteFile(dimsPath, []byte(dims), 0600))
	digestPath := filepath.Join(dir, "digest.csv")

	_, err := execute(t, "sweep",
		"--dimensions", dimsPath,
		"--base", "{repeat_message_count: 10, topics: [{name: /t, message_size: 32}]}",
		digestPath)
	require.NoError(t, err)

	data, err := os.ReadFile(digestPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "plugin_config,name,avg_byte_throughput,max_arena_size,max_in_use_size,max_mmap_size,close_time", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "wal_default,plugin_config=wal_default,"), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "sqlite_default,plugin_config=sqlite_default,"), lines[2])
}

func TestLoadBase(t *testing.T) {
	base, err := loadBase("{write_total_bytes: 100}")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"write_total_bytes": 100}, base)

	path := filepath.Join(t.TempDir(), "base.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage_id: mcap\n"), 0600))
	base, err = loadBase(path)
	require.NoError(t, err)
	assert.Equal(t, "mcap", base["storage_id"])

	_, err = loadBase("[unclosed")
	assert.Error(t, err)
}
