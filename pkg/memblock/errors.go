package memblock

import (
	"github.com/pkg/errors"

	internalshm "github.com/srediag/memblock/internal/shm"
)

var (
	// ErrOutOfRange is returned by every accessor whose offset lies past the
	// block. It is the only error an accessor on a live block can return.
	ErrOutOfRange = errors.New("offset out of range")

	// ErrInvalidSize is returned when a block is created with size 0 or a size
	// that cannot be addressed on this platform.
	ErrInvalidSize = errors.New("invalid block size")

	// ErrInvalidAlignment is returned when a block is created with alignment 0.
	ErrInvalidAlignment = errors.New("invalid block alignment")

	// ErrReleased is returned by accessors on a block after Release.
	ErrReleased = errors.New("block released")

	// ErrNotAllocated is returned by Free for storage the allocator does not own.
	ErrNotAllocated = errors.New("memory not allocated by this allocator")

	// ErrUnsupported is returned by allocators that cannot run on this platform.
	ErrUnsupported = internalshm.ErrUnsupported
)
