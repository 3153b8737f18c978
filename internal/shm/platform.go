// Package shm contains the platform-specific mapping helpers behind the
// mmap and shared memory allocators.
package shm

import (
	"errors"
	"os"
)

// ErrUnsupported is returned on platforms without a mapping implementation.
var ErrUnsupported = errors.New("memory mapping is not supported on this platform")

// MappedRegion is a file-backed shared mapping.
type MappedRegion struct {
	Addr []byte
	Path string
	fd   int
}

// MapOptions defines options for mapping shared memory.
type MapOptions struct {
	Path string
	Size int
	// Create creates the file and sizes it to Size.
	Create bool
	// Exclusive fails with os.ErrExist when Create finds an existing file.
	Exclusive bool
	Mode      os.FileMode
}

// UnmapOptions controls what happens to the backing file on unmap.
type UnmapOptions struct {
	Unlink bool
}

// Function implementations are provided in platform-specific files.
