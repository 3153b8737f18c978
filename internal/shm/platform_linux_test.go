//go:build linux

package shm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapRegionCreateAndUnlink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")
	ctx := context.Background()

	region, err := MapRegion(ctx, MapOptions{Path: path, Size: 4096, Create: true, Exclusive: true})
	require.NoError(t, err)
	require.Len(t, region.Addr, 4096)
	for _, b := range region.Addr {
		if b != 0 {
			t.Fatal("fresh region is not zeroed")
		}
	}

	region.Addr[0] = 0xAB
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), data[0], "shared mapping must reach the file")

	_, err = MapRegion(ctx, MapOptions{Path: path, Size: 4096, Create: true, Exclusive: true})
	assert.ErrorIs(t, err, os.ErrExist)

	require.NoError(t, UnmapRegion(ctx, region, UnmapOptions{Unlink: true}))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// second unmap is a no-op
	assert.NoError(t, UnmapRegion(ctx, region, UnmapOptions{Unlink: true}))
}

func TestMapRegionCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := MapRegion(ctx, MapOptions{Path: filepath.Join(t.TempDir(), "x"), Size: 16, Create: true})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMapAnonymous(t *testing.T) {
	b, err := MapAnonymous(PageSize())
	require.NoError(t, err)
	assert.Len(t, b, PageSize())
	b[len(b)-1] = 1
	assert.NoError(t, UnmapAnonymous(b))

	_, err = MapAnonymous(0)
	assert.Error(t, err)
}
