package memstats

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedProbe struct {
	name string
	snap Snapshot
}

func (f fixedProbe) Snapshot() Snapshot { return f.snap }
func (f fixedProbe) Name() string       { return f.name }

func TestDeltaIsSigned(t *testing.T) {
	baseline := Snapshot{Arena: 100, InUse: 50, Mmap: 10}
	current := Snapshot{Arena: 90, InUse: 70, Mmap: 10}

	assert.Equal(t, Snapshot{Arena: -10, InUse: 20, Mmap: 0}, Delta(baseline, current))
}

func TestDeltaAgainstFixedBaseline(t *testing.T) {
	baseline := Snapshot{Arena: 1000, InUse: 500, Mmap: 0}
	readings := []Snapshot{
		{Arena: 1100, InUse: 600, Mmap: 0},
		{Arena: 1300, InUse: 550, Mmap: 4096},
		{Arena: 900, InUse: 400, Mmap: 0},
	}
	want := []Snapshot{
		{Arena: 100, InUse: 100, Mmap: 0},
		{Arena: 300, InUse: 50, Mmap: 4096},
		{Arena: -100, InUse: -100, Mmap: 0},
	}

	for i, r := range readings {
		assert.Equal(t, want[i], Delta(baseline, r), "reading %d", i)
	}
}

func TestCombinedProbeSums(t *testing.T) {
	p := CombinedProbe{
		fixedProbe{name: "a", snap: Snapshot{Arena: 1, InUse: 2, Mmap: 3}},
		fixedProbe{name: "b", snap: Snapshot{Arena: 10, InUse: 20, Mmap: 30}},
	}

	assert.Equal(t, Snapshot{Arena: 11, InUse: 22, Mmap: 33}, p.Snapshot())
	assert.Equal(t, "a+b", p.Name())
}

func TestRuntimeProbeSeesAllocation(t *testing.T) {
	p := RuntimeProbe{}
	before := p.Snapshot()

	keep := make([][]byte, 0, 64)
	for i := 0; i < 64; i++ {
		keep = append(keep, make([]byte, 64*1024))
	}
	after := p.Snapshot()
	runtime.KeepAlive(keep)

	assert.Greater(t, after.InUse, before.InUse)
	assert.Positive(t, after.Arena)
}

func TestNew(t *testing.T) {
	p, err := New("runtime")
	require.NoError(t, err)
	assert.Equal(t, "runtime", p.Name())

	_, err = New("jemalloc")
	require.Error(t, err)

	if MallocSupported() {
		p, err = New("combined")
		require.NoError(t, err)
		assert.Equal(t, "runtime+malloc", p.Name())
	} else {
		_, err = New("malloc")
		require.ErrorIs(t, err, ErrUnsupported)
	}
}
