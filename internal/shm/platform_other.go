//go:build !linux

package shm

import (
	"context"
	"os"
)

func PageSize() int {
	return os.Getpagesize()
}

// TODO: implement using CreateFileMapping, MapViewOfFile on windows.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	return nil, ErrUnsupported
}

func UnmapRegion(ctx context.Context, region *MappedRegion, opts UnmapOptions) error {
	return ErrUnsupported
}

func MapAnonymous(size int) ([]byte, error) {
	return nil, ErrUnsupported
}

func UnmapAnonymous(b []byte) error {
	return ErrUnsupported
}
