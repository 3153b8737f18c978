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
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"runtime"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/srediag/memblock/api"
)

// guardSize is the tail kept after size+alignment-1 so that an access at
// offset == size of the widest width stays inside the arena.
const guardSize = 4

// Block is a fixed-size, optionally aligned region of raw memory.
//
// Offsets are relative to the aligned base. An offset is accepted when
// offset <= Size(), so each accessor may touch up to width-1 bytes past the
// last usable byte; those bytes live in the guard tail of the arena and never
// belong to another block.
//
// A Block has no internal synchronization. It must have one owner at a time.
type Block struct {
	size      uint32
	alignment uint8
	base      int

	// backing is the arena every accessor indexes. raw is what the allocator
	// returned and what goes back to it on Release.
	backing []byte
	raw     []byte
	alloc   Allocator
}

// New creates a block of size bytes whose base address is a multiple of
// alignment. Pass 1 for an unaligned block.
func New(size uint32, alignment uint8) (*Block, error) {
	return NewWithOptions(size, WithAlignment(alignment))
}

// NewWithOptions creates a block of size bytes from DefaultConfig modified by opts.
func NewWithOptions(size uint32, opts ...Option) (*Block, error) {
	cfg := DefaultConfig()
	cfg.Size = size
	for _, opt := range opts {
		opt(cfg)
	}
	return NewFromConfig(cfg)
}

// NewFromConfig creates a block from cfg after verifying it.
func NewFromConfig(cfg *Config) (*Block, error) {
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}
	alloc := cfg.Allocator
	if alloc == nil {
		alloc = DefaultAllocator
	}

	n := uint64(cfg.Size) + uint64(cfg.Alignment) - 1 + guardSize
	if n > math.MaxInt {
		return nil, errors.Wrapf(ErrInvalidSize, "size %d is not addressable", cfg.Size)
	}
	raw, err := alloc.Allocate(int(n))
	if err != nil {
		return nil, errors.Wrapf(err, "allocate %d bytes", n)
	}
	if len(raw) < int(n) {
		_ = alloc.Free(raw)
		return nil, errors.Errorf("allocator returned %d bytes, want %d", len(raw), n)
	}

	backing := raw[:n:n]
	return &Block{
		size:      cfg.Size,
		alignment: cfg.Alignment,
		base:      padding(uintptr(unsafe.Pointer(&backing[0])), cfg.Alignment),
		backing:   backing,
		raw:       raw,
		alloc:     alloc,
	}, nil
}

// padding returns how far addr must advance to reach a multiple of alignment.
// The result is at most alignment-1.
func padding(addr uintptr, alignment uint8) int {
	rem := addr % uintptr(alignment)
	if rem == 0 {
		return 0
	}
	return int(uintptr(alignment) - rem)
}

// Size returns the usable size in bytes.
func (b *Block) Size() uint32 { return b.size }

// Alignment returns the requested alignment.
func (b *Block) Alignment() uint8 { return b.alignment }

// Base returns the index of the aligned base within the arena, the padding
// skipped to satisfy the alignment.
func (b *Block) Base() int { return b.base }

// Len returns the arena length: size + alignment - 1 plus the guard tail.
func (b *Block) Len() int { return len(b.backing) }

// Released reports whether Release has been called.
func (b *Block) Released() bool { return b.backing == nil }

// index validates an access of width bytes at offset and returns its arena index.
func (b *Block) index(offset uint32, width int) (int, error) {
	if b.backing == nil {
		return 0, ErrReleased
	}
	if offset > b.size {
		return 0, errors.Wrapf(ErrOutOfRange, "offset %d exceeds size %d", offset, b.size)
	}
	i := b.base + int(offset)
	if i+width > len(b.backing) {
		return 0, errors.Wrapf(ErrOutOfRange, "%d-byte access at offset %d exceeds arena of %d bytes",
			width, offset, len(b.backing))
	}
	return i, nil
}

// Get returns the byte at offset.
func (b *Block) Get(offset uint32) (byte, error) {
	i, err := b.index(offset, 1)
	if err != nil {
		return 0, err
	}
	return b.backing[i], nil
}

// Set stores value at offset.
func (b *Block) Set(offset uint32, value byte) error {
	i, err := b.index(offset, 1)
	if err != nil {
		return err
	}
	b.backing[i] = value
	return nil
}

// Read16 returns the native-endian uint16 starting at offset. offset needs
// no alignment of its own.
func (b *Block) Read16(offset uint32) (uint16, error) {
	i, err := b.index(offset, 2)
	if err != nil {
		return 0, err
	}
	return binary.NativeEndian.Uint16(b.backing[i:]), nil
}

// Write16 stores value in native byte order starting at offset.
func (b *Block) Write16(offset uint32, value uint16) error {
	i, err := b.index(offset, 2)
	if err != nil {
		return err
	}
	binary.NativeEndian.PutUint16(b.backing[i:], value)
	return nil
}

// Read32 returns the native-endian uint32 starting at offset.
func (b *Block) Read32(offset uint32) (uint32, error) {
	i, err := b.index(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.NativeEndian.Uint32(b.backing[i:]), nil
}

// Write32 stores value in native byte order starting at offset.
func (b *Block) Write32(offset uint32, value uint32) error {
	i, err := b.index(offset, 4)
	if err != nil {
		return err
	}
	binary.NativeEndian.PutUint32(b.backing[i:], value)
	return nil
}

// ReadAt implements io.ReaderAt over the usable region [0, Size()).
func (b *Block) ReadAt(p []byte, off int64) (int, error) {
	if b.backing == nil {
		return 0, ErrReleased
	}
	if off < 0 {
		return 0, errors.Wrapf(ErrOutOfRange, "negative offset %d", off)
	}
	if off >= int64(b.size) {
		return 0, io.EOF
	}
	n := copy(p, b.usable()[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt over the usable region [0, Size()). A write
// that does not fit is rejected whole.
func (b *Block) WriteAt(p []byte, off int64) (int, error) {
	if b.backing == nil {
		return 0, ErrReleased
	}
	if off < 0 || off > int64(b.size) || int64(len(p)) > int64(b.size)-off {
		return 0, errors.Wrapf(ErrOutOfRange, "write of %d bytes at offset %d exceeds size %d", len(p), off, b.size)
	}
	return copy(b.usable()[off:], p), nil
}

// Zero clears the whole arena, guard tail included.
func (b *Block) Zero() error {
	if b.backing == nil {
		return ErrReleased
	}
	clear(b.backing)
	return nil
}

// WithAddr calls fn with the address of the aligned base. The address is only
// valid while fn runs; it must not be retained or used to reach past the arena.
func (b *Block) WithAddr(fn func(addr uintptr) error) error {
	if b.backing == nil {
		return ErrReleased
	}
	err := fn(uintptr(unsafe.Pointer(&b.backing[b.base])))
	runtime.KeepAlive(b.backing)
	return err
}

// Release returns the backing storage to its allocator. Accessors fail with
// ErrReleased afterwards. Releasing twice is a no-op.
func (b *Block) Release() error {
	if b.backing == nil {
		return nil
	}
	raw := b.raw
	b.backing, b.raw = nil, nil
	return errors.Wrap(b.alloc.Free(raw), "free backing")
}

func (b *Block) usable() []byte {
	return b.backing[b.base : b.base+int(b.size)]
}

func (b *Block) String() string {
	if b.backing == nil {
		return fmt.Sprintf("memblock{size=%d align=%d released}", b.size, b.alignment)
	}
	return fmt.Sprintf("memblock{size=%d align=%d base=%d len=%d}", b.size, b.alignment, b.base, len(b.backing))
}

var _ api.Block = (*Block)(nil)
