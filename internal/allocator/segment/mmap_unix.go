//go:build unix

package segment

import "golang.org/x/sys/unix"

// MmapProvider acquires a segment's backing storage from the OS via an
// anonymous private mapping, instead of a plain Go-heap byte slice. This
// is the segment-allocation shim spec §1 calls out as an external
// collaborator: callers that want the allocator to own real,
// page-granular memory (so e.g. a debugger or `/proc/<pid>/maps` shows
// it as a distinct mapping) use this instead of make([]byte, n).
type MmapProvider struct{}

// Acquire reserves n bytes (rounded up to the page size by the kernel)
// via mmap(MAP_PRIVATE|MAP_ANONYMOUS) and returns it as a []byte. The
// returned slice must be released with Release, not left to the
// garbage collector — munmap is the only way to give the pages back.
func (MmapProvider) Acquire(n int) ([]byte, error) {
	return unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
}

// Release unmaps a slice previously returned by Acquire.
func (MmapProvider) Release(b []byte) error {
	if b == nil {
		return nil
	}
	return unix.Munmap(b)
}
