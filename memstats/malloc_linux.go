//go:build linux && cgo

package memstats

/*
#include <malloc.h>
*/
import "C"

// MallocProbe reads glibc's allocator through mallinfo2.
// SQLite and other cgo engines allocate here rather than on the Go heap.
type MallocProbe struct{}

// Snapshot reports arena, uordblks and hblkhd.
func (MallocProbe) Snapshot() Snapshot {
	info := C.mallinfo2()
	return Snapshot{
		Arena: int64(info.arena),
		InUse: int64(info.uordblks),
		Mmap:  int64(info.hblkhd),
	}
}

// Name returns the probe name.
func (MallocProbe) Name() string { return "malloc" }

// MallocSupported reports whether MallocProbe returns real numbers.
func MallocSupported() bool { return true }
