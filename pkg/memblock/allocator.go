/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package memblock

import (
	"os"
	"strconv"
	"sync"
	"unsafe"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"
	"modernc.org/memory"

	"github.com/srediag/memblock/internal/logging"
	internalshm "github.com/srediag/memblock/internal/shm"
)

var logger = logging.New("memblock", os.Stderr)

// Allocator supplies backing storage for blocks.
//
// Allocate must return zero-initialized, contiguous storage of at least n
// bytes whose address does not change until Free. Free receives a slice
// starting at the same element Allocate returned.
type Allocator interface {
	Allocate(n int) ([]byte, error)
	Free(b []byte) error
}

// DefaultAllocator is used when a Config names no allocator. It is safe to
// use from multiple goroutines.
var DefaultAllocator Allocator = NewGoAllocator()

// GoAllocator allocates from the Go heap. The collector does not move heap
// objects, so the base address computed at creation stays valid.
type GoAllocator struct{}

func NewGoAllocator() *GoAllocator { return &GoAllocator{} }

func (a *GoAllocator) Allocate(n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "allocate %d bytes", n)
	}
	return make([]byte, n), nil
}

// Free is a no-op; the storage is reclaimed once unreachable.
func (a *GoAllocator) Free(b []byte) error { return nil }

// HeapAllocator allocates outside the Go heap with modernc.org/memory. Its
// storage is invisible to the garbage collector and must be freed explicitly.
// Free only accepts storage this allocator handed out and has not yet freed.
type HeapAllocator struct {
	mu   sync.Mutex
	a    memory.Allocator
	live map[uintptr]struct{}
}

func NewHeapAllocator() *HeapAllocator {
	return &HeapAllocator{live: make(map[uintptr]struct{})}
}

func (h *HeapAllocator) Allocate(n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "allocate %d bytes", n)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	b, err := h.a.Calloc(n)
	if err != nil {
		return nil, errors.Wrapf(err, "calloc %d bytes", n)
	}
	h.live[addrOf(b)] = struct{}{}
	return b, nil
}

func (h *HeapAllocator) Free(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	p := addrOf(b)
	if _, ok := h.live[p]; !ok {
		return errors.Wrapf(ErrNotAllocated, "heap free at %x", p)
	}
	delete(h.live, p)
	return errors.Wrap(h.a.Free(b), "free")
}

// Allocs returns the number of live allocations.
func (h *HeapAllocator) Allocs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}

// Close releases every mapping the allocator holds. Storage handed out
// earlier becomes invalid and Free rejects it with ErrNotAllocated.
func (h *HeapAllocator) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.live)
	return errors.Wrap(h.a.Close(), "close heap allocator")
}

// MmapAllocator gives every allocation its own anonymous private mapping,
// which is page aligned and zero-filled by the kernel.
type MmapAllocator struct {
	mappings cmap.ConcurrentMap[string, []byte]
}

func NewMmapAllocator() *MmapAllocator {
	return &MmapAllocator{mappings: cmap.New[[]byte]()}
}

func (m *MmapAllocator) Allocate(n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "allocate %d bytes", n)
	}
	b, err := internalshm.MapAnonymous(n)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	m.mappings.Set(addrKey(b), b)
	logger.Tracef("mmap allocator: mapped %d bytes at %s", len(b), addrKey(b))
	return b, nil
}

func (m *MmapAllocator) Free(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	mapping, ok := m.mappings.Pop(addrKey(b))
	if !ok {
		return errors.Wrapf(ErrNotAllocated, "mmap free at %s", addrKey(b))
	}
	return errors.WithStack(internalshm.UnmapAnonymous(mapping))
}

// Mappings returns the number of live mappings.
func (m *MmapAllocator) Mappings() int {
	return m.mappings.Count()
}

// Close unmaps everything still mapped.
func (m *MmapAllocator) Close() error {
	var firstErr error
	for _, key := range m.mappings.Keys() {
		mapping, ok := m.mappings.Pop(key)
		if !ok {
			continue
		}
		if err := internalshm.UnmapAnonymous(mapping); err != nil {
			logger.Warnf("mmap allocator: unmap %s failed: %v", key, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return errors.WithStack(firstErr)
}

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}

func addrKey(b []byte) string {
	return strconv.FormatUint(uint64(addrOf(b)), 16)
}
