//go:build !linux || !cgo

package memstats

// MallocProbe is unavailable without cgo on linux and always reads zero.
type MallocProbe struct{}

// Snapshot returns a zero snapshot.
func (MallocProbe) Snapshot() Snapshot { return Snapshot{} }

// Name returns the probe name.
func (MallocProbe) Name() string { return "malloc" }

// MallocSupported reports whether MallocProbe returns real numbers.
func MallocSupported() bool { return false }
