//go:build linux

package shm

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// PageSize returns the system page size.
func PageSize() int {
	return unix.Getpagesize()
}

// MapRegion maps or creates a shared memory region (Linux implementation).
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Size <= 0 {
		return nil, fmt.Errorf("map %s: invalid size %d", opts.Path, opts.Size)
	}
	mode := uint32(opts.Mode.Perm())
	if mode == 0 {
		mode = 0600
	}
	flags := unix.O_RDWR | unix.O_CLOEXEC
	if opts.Create {
		flags |= unix.O_CREAT
		if opts.Exclusive {
			flags |= unix.O_EXCL
		}
	}
	fd, err := unix.Open(opts.Path, flags, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Path, err)
	}
	if opts.Create {
		if err := unix.Ftruncate(fd, int64(opts.Size)); err != nil {
			_ = unix.Close(fd)
			if opts.Exclusive {
				_ = unix.Unlink(opts.Path)
			}
			return nil, fmt.Errorf("ftruncate %s: %w", opts.Path, err)
		}
	}
	addr, err := unix.Mmap(fd, 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		if opts.Create && opts.Exclusive {
			_ = unix.Unlink(opts.Path)
		}
		return nil, fmt.Errorf("mmap %s: %w", opts.Path, err)
	}
	return &MappedRegion{
		Addr: addr,
		Path: opts.Path,
		fd:   fd,
	}, nil
}

// UnmapRegion unmaps the region, closes its descriptor and optionally
// removes the backing file. All steps run; the errors are joined.
func UnmapRegion(ctx context.Context, region *MappedRegion, opts UnmapOptions) error {
	if region == nil || region.Addr == nil {
		return nil
	}
	var errs []error
	if err := unix.Munmap(region.Addr); err != nil {
		errs = append(errs, fmt.Errorf("munmap %s: %w", region.Path, err))
	}
	region.Addr = nil
	if err := unix.Close(region.fd); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", region.Path, err))
	}
	if opts.Unlink {
		if err := unix.Unlink(region.Path); err != nil && !errors.Is(err, unix.ENOENT) {
			errs = append(errs, fmt.Errorf("unlink %s: %w", region.Path, err))
		}
	}
	return errors.Join(errs...)
}

// MapAnonymous returns a private, zero-filled anonymous mapping of size bytes.
func MapAnonymous(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mmap anonymous: invalid size %d", size)
	}
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap anonymous: %w", err)
	}
	return b, nil
}

// UnmapAnonymous releases a mapping returned by MapAnonymous. b must be the
// slice MapAnonymous returned.
func UnmapAnonymous(b []byte) error {
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("munmap anonymous: %w", err)
	}
	return nil
}
