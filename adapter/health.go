// Package adapter provides adapters for memblock integration with external systems.
package adapter

import (
	"fmt"

	"github.com/heptiolabs/healthcheck"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/srediag/memblock/pkg/memblock"
)

// NamedCheck is a health check registered under Name.
type NamedCheck struct {
	Name      string
	Check     healthcheck.Check
	Readiness bool // readiness only; liveness checks count for both endpoints
}

// NewHealthHandler returns an http.Handler serving /live and /ready for checks.
func NewHealthHandler(checks ...NamedCheck) healthcheck.Handler {
	h := healthcheck.NewHandler()
	for _, c := range checks {
		if c.Readiness {
			h.AddReadinessCheck(c.Name, c.Check)
		} else {
			h.AddLivenessCheck(c.Name, c.Check)
		}
	}
	return h
}

// AllocatorProbe creates a block of size bytes aligned to alignment on alloc,
// verifies a 32-bit round trip at its last word and releases it.
func AllocatorProbe(alloc memblock.Allocator, size uint32, alignment uint8) healthcheck.Check {
	return func() error {
		if size < 4 {
			return fmt.Errorf("probe size %d is below one word", size)
		}
		blk, err := memblock.NewWithOptions(size, memblock.WithAlignment(alignment), memblock.WithAllocator(alloc))
		if err != nil {
			return err
		}
		const pattern = 0x5A5AA5A5
		off := size - 4
		if err := blk.Write32(off, pattern); err != nil {
			_ = blk.Release()
			return err
		}
		v, err := blk.Read32(off)
		if err != nil {
			_ = blk.Release()
			return err
		}
		if v != pattern {
			_ = blk.Release()
			return fmt.Errorf("probe read %#x, want %#x", v, pattern)
		}
		return blk.Release()
	}
}

// FreeSpaceCheck fails while dir has less than minFree bytes free.
func FreeSpaceCheck(dir string, minFree uint64) healthcheck.Check {
	return func() error {
		usage, err := disk.Usage(dir)
		if err != nil {
			return fmt.Errorf("stat %s: %w", dir, err)
		}
		if usage.Free < minFree {
			return fmt.Errorf("%s has %d bytes free, want at least %d", dir, usage.Free, minFree)
		}
		return nil
	}
}
