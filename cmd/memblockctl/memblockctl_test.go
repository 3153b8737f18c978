package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/memblock/pkg/memblock"
)

func TestParsePokes(t *testing.T) {
	pokes, err := parsePokes(map[string]string{"8": "0xdeadbeef", "0x0": "1"})
	require.NoError(t, err)
	assert.Equal(t, []poke{{0, 1}, {8, 0xDEADBEEF}}, pokes)

	_, err = parsePokes(map[string]string{"x": "1"})
	assert.Error(t, err)
	_, err = parsePokes(map[string]string{"0": "0x1ffffffff"})
	assert.Error(t, err)
}

func TestNewAllocator(t *testing.T) {
	for _, kind := range allocatorKinds {
		if kind != "go" && kind != "heap" && runtime.GOOS != "linux" {
			continue
		}
		alloc, closeAlloc, err := newAllocator(kind, t.TempDir())
		require.NoError(t, err, kind)
		blk, err := memblock.NewWithOptions(32, memblock.WithAlignment(8), memblock.WithAllocator(alloc))
		require.NoError(t, err, kind)
		require.NoError(t, blk.Release(), kind)
		require.NoError(t, closeAlloc(), kind)
	}
	_, _, err := newAllocator("nope", "")
	assert.Error(t, err)
}

func TestInspect(t *testing.T) {
	c := &inspectCommand{
		alloc:   allocatorFlags{kind: "go"},
		size:    32,
		align:   16,
		write32: map[string]string{"4": "0x01020304"},
	}
	var out bytes.Buffer
	require.NoError(t, c.run(context.Background(), &out))
	assert.Contains(t, out.String(), "alignment: 16")
	assert.Contains(t, out.String(), "memblock{size=32 align=16")

	c.write32 = map[string]string{"33": "1"}
	assert.ErrorIs(t, c.run(context.Background(), io.Discard), memblock.ErrOutOfRange)
}

func TestRunStress(t *testing.T) {
	res, err := runStress(context.Background(), stressOptions{Blocks: 64, Workers: 4, Size: 256, Align: 64}, memblock.NewGoAllocator())
	require.NoError(t, err)
	assert.Equal(t, int64(64), res.Blocks)
	assert.Zero(t, res.Failures, "%v", res.Errors)

	h := memblock.NewHeapAllocator()
	defer h.Close()
	res, err = runStress(context.Background(), stressOptions{Blocks: 16, Workers: 2, Size: 7, Align: 3}, h)
	require.NoError(t, err)
	assert.Zero(t, res.Failures, "%v", res.Errors)
	assert.Zero(t, h.Allocs(), "every block must be released")

	_, err = runStress(context.Background(), stressOptions{Blocks: 0, Workers: 1}, h)
	assert.Error(t, err)
}

func TestStressReportsFailures(t *testing.T) {
	res, err := runStress(context.Background(), stressOptions{Blocks: 3, Workers: 1, Size: 16, Align: 0}, memblock.NewGoAllocator())
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Failures)
	assert.Len(t, res.Errors, 3)
}

func TestServeHandler(t *testing.T) {
	c := &serveCommand{alloc: allocatorFlags{kind: "go"}}
	h, closeAlloc, err := c.handler()
	require.NoError(t, err)
	defer closeAlloc()

	for _, path := range []string{"/live", "/ready", "/metrics"} {
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rw.Code, path)
	}

	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rw.Body.String(), `memblock_allocations_total{allocator="go"}`)
}
