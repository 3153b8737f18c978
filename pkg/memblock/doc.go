// Package memblock provides a fixed-size block of raw memory, optionally
// aligned to a byte boundary, with bounds-checked 8, 16 and 32-bit access at
// arbitrary offsets.
//
// A block owns an arena of size + alignment - 1 bytes plus a small guard
// tail. The aligned base is an index into that arena and every accessor
// computes base + offset before touching memory, so no access can leave the
// arena. Wider values use the host's native byte order.
//
// Example usage:
//
//	blk, err := memblock.New(64, 16)
//	if err != nil {
//	  // ...
//	}
//	defer blk.Release()
//	_ = blk.Write32(4, 0xDEADBEEF)
//	v, _ := blk.Read32(4)
//
// Backing storage comes from an [Allocator]: the Go heap by default,
// [HeapAllocator] for storage outside the collector, [MmapAllocator] for
// page-aligned anonymous mappings, or the shared memory allocator in pkg/shm.
package memblock
