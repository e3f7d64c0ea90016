// Package filesystem pre-allocates destination files for the Range Engine
// and checks free space ahead of time, so a download fails at preflight
// rather than partway through a long transfer. Grounded on the teacher's
// internal/filesystem/allocator.go, restructured around the two outcomes
// rangeengine.Engine.openFile distinguishes: a disk-space/truncate
// failure it can warn-and-continue past, and the FAT32 4 GiB ceiling
// (detected by the caller from the file size, not by this package).
package filesystem

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// headroomBytes is reserved on top of the requested size so a download
// never runs the volume to zero free space.
const headroomBytes = 100 * 1024 * 1024

// PreAllocator reserves disk space for a download before the first byte
// is written.
type PreAllocator struct{}

// NewAllocator returns a PreAllocator. It holds no state of its own —
// every check reads the live filesystem at call time.
func NewAllocator() *PreAllocator {
	return &PreAllocator{}
}

// AllocateFile verifies the destination volume has room for size plus a
// safety margin, then truncates path to size so later positioned writes
// land within an already-reserved extent rather than extending the file
// chunk by chunk.
func (a *PreAllocator) AllocateFile(path string, size int64) error {
	if err := a.ensureFreeSpace(path, size); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return fmt.Errorf("open %s for pre-allocation: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("pre-allocate %d bytes at %s: %w", size, path, err)
	}
	return nil
}

// FreeBytes reports the free space on the volume hosting path, for
// callers that want to surface it without attempting an allocation.
func (a *PreAllocator) FreeBytes(path string) (uint64, error) {
	usage, err := disk.Usage(filepath.Dir(path))
	if err != nil {
		return 0, fmt.Errorf("check free space at %s: %w", path, err)
	}
	return usage.Free, nil
}

func (a *PreAllocator) ensureFreeSpace(path string, required int64) error {
	free, err := a.FreeBytes(path)
	if err != nil {
		return err
	}
	if int64(free) < required+headroomBytes {
		return fmt.Errorf("insufficient disk space: need %d bytes, have %d free", required, free)
	}
	return nil
}
