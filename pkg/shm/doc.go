// Package shm provides a memblock allocator backed by named POSIX shared
// memory segments, so a block's storage can be shared with other processes
// by segment path.
//
// Every allocation creates its own segment under Config.Dir (by default
// /dev/shm), sized exactly to the request and zero-filled by ftruncate. Free
// unmaps and unlinks it. The allocator is instrumented with OpenTelemetry
// metrics and tracing (OTel Go SDK v1.30.0).
//
// Example usage:
//
//	cfg := shm.DefaultConfig()
//	cfg.Prefix = "regs"
//	alloc, err := shm.NewAllocator(cfg)
//	// ...
//	defer alloc.Close()
//	blk, err := memblock.NewWithOptions(4096, memblock.WithAlignment(64), memblock.WithAllocator(alloc))
//
// Platform-specific helpers are in internal/shm. Only Linux is implemented.
package shm
