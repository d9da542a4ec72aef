// Package memstats captures allocator statistics around benchmark writes.
package memstats

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrUnsupported is returned when a probe cannot run on this platform.
var ErrUnsupported = errors.New("allocator probe not supported on this platform")

// Snapshot is a point-in-time allocator reading, or a signed difference of two readings.
type Snapshot struct {
	// Arena is memory the allocator has reserved for its heap.
	Arena int64
	// InUse is memory currently handed out to live allocations.
	InUse int64
	// Mmap is memory mapped outside the main heap.
	Mmap int64
}

// Delta returns current minus baseline. Fields may be negative.
func Delta(baseline, current Snapshot) Snapshot {
	return Snapshot{
		Arena: current.Arena - baseline.Arena,
		InUse: current.InUse - baseline.InUse,
		Mmap:  current.Mmap - baseline.Mmap,
	}
}

// Add returns the field-wise sum of s and o.
func (s Snapshot) Add(o Snapshot) Snapshot {
	return Snapshot{
		Arena: s.Arena + o.Arena,
		InUse: s.InUse + o.InUse,
		Mmap:  s.Mmap + o.Mmap,
	}
}

// Probe reads allocator statistics.
type Probe interface {
	Snapshot() Snapshot
	Name() string
}

// RuntimeProbe reads the Go runtime heap.
type RuntimeProbe struct{}

// Snapshot maps runtime.MemStats onto the arena/in-use/mmap triple.
func (RuntimeProbe) Snapshot() Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Snapshot{
		Arena: int64(ms.HeapSys),
		InUse: int64(ms.HeapAlloc),
		Mmap:  int64(ms.Sys) - int64(ms.HeapSys),
	}
}

// Name returns the probe name.
func (RuntimeProbe) Name() string { return "runtime" }

// CombinedProbe sums the readings of several probes.
type CombinedProbe []Probe

// Snapshot sums every member probe.
func (c CombinedProbe) Snapshot() Snapshot {
	var total Snapshot
	for _, p := range c {
		total = total.Add(p.Snapshot())
	}
	return total
}

// Name joins member names with '+'.
func (c CombinedProbe) Name() string {
	names := make([]string, len(c))
	for i, p := range c {
		names[i] = p.Name()
	}
	return strings.Join(names, "+")
}

// New returns the probe with the given name: runtime, malloc or combined.
func New(name string) (Probe, error) {
	switch name {
	case "runtime":
		return RuntimeProbe{}, nil
	case "malloc":
		if !MallocSupported() {
			return nil, ErrUnsupported
		}
		return MallocProbe{}, nil
	case "combined":
		if !MallocSupported() {
			return nil, ErrUnsupported
		}
		return CombinedProbe{RuntimeProbe{}, MallocProbe{}}, nil
	default:
		return nil, fmt.Errorf("unknown allocator probe: %s", name)
	}
}

// Default returns the combined probe where the C allocator can be read,
// falling back to the Go runtime alone.
func Default() Probe {
	if MallocSupported() {
		return CombinedProbe{RuntimeProbe{}, MallocProbe{}}
	}
	return RuntimeProbe{}
}
