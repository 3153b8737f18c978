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
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"testing"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type BlockTestSuite struct {
	suite.Suite
}

func (s *BlockTestSuite) aligned(b *Block) uintptr {
	var addr uintptr
	s.Require().NoError(b.WithAddr(func(a uintptr) error {
		addr = a
		return nil
	}))
	return addr
}

func (s *BlockTestSuite) TestCreateAlignedBase() {
	for _, size := range []uint32{1, 3, 10, 64, 4097} {
		for alignment := 1; alignment <= 255; alignment++ {
			b, err := New(size, uint8(alignment))
			s.Require().NoError(err)
			s.Zero(s.aligned(b)%uintptr(alignment), "size %d alignment %d", size, alignment)
			s.Less(b.Base(), alignment)
			s.GreaterOrEqual(b.Len(), int(size)+alignment-1)
			s.LessOrEqual(b.Base()+int(size), b.Len())
			s.Equal(size, b.Size())
			s.Equal(uint8(alignment), b.Alignment())
		}
	}
}

func (s *BlockTestSuite) TestCreateAligned4() {
	b, err := New(10, 4)
	s.Require().NoError(err)
	s.GreaterOrEqual(b.Len(), 13)
	s.Zero(s.aligned(b) % 4)
}

func (s *BlockTestSuite) TestCreateUnaligned() {
	b, err := NewWithOptions(10)
	s.Require().NoError(err)
	s.Equal(0, b.Base())
	s.Equal(uintptr(unsafe.Pointer(&b.backing[0])), s.aligned(b))
}

func (s *BlockTestSuite) TestCreateRejectsConfig() {
	_, err := New(0, 1)
	s.ErrorIs(err, ErrInvalidSize)

	_, err = New(10, 0)
	s.ErrorIs(err, ErrInvalidAlignment)
}

func (s *BlockTestSuite) TestFreshBlockIsZeroed() {
	b, err := New(32, 8)
	s.Require().NoError(err)
	for off := uint32(0); off <= b.Size(); off++ {
		v, err := b.Get(off)
		s.Require().NoError(err)
		s.Zero(v)
	}
}

func (s *BlockTestSuite) TestRoundTrip() {
	b, err := New(16, 4)
	s.Require().NoError(err)

	s.Require().NoError(b.Write32(4, 0xDEADBEEF))
	v32, err := b.Read32(4)
	s.Require().NoError(err)
	s.Equal(uint32(0xDEADBEEF), v32)

	s.Require().NoError(b.Write16(9, 0xCAFE))
	v16, err := b.Read16(9)
	s.Require().NoError(err)
	s.Equal(uint16(0xCAFE), v16)

	s.Require().NoError(b.Set(15, 0x7F))
	v8, err := b.Get(15)
	s.Require().NoError(err)
	s.Equal(byte(0x7F), v8)
}

func (s *BlockTestSuite) TestNativeByteOrder() {
	b, err := New(8, 1)
	s.Require().NoError(err)
	s.Require().NoError(b.Write32(1, 0x01020304))

	want := make([]byte, 4)
	binary.NativeEndian.PutUint32(want, 0x01020304)
	for i := range want {
		v, err := b.Get(uint32(1 + i))
		s.Require().NoError(err)
		s.Equal(want[i], v)
	}
}

func (s *BlockTestSuite) TestInclusiveBoundary() {
	b, err := New(10, 1)
	s.Require().NoError(err)

	// offset == size addresses the byte just past the logical end.
	v, err := b.Get(10)
	s.Require().NoError(err)
	s.Zero(v)
	s.Require().NoError(b.Set(10, 0x55))
	v, err = b.Get(10)
	s.Require().NoError(err)
	s.Equal(byte(0x55), v)

	_, err = b.Get(11)
	s.ErrorIs(err, ErrOutOfRange)
	s.ErrorIs(b.Set(11, 1), ErrOutOfRange)

	s.NoError(b.Write16(10, 0xFFFF))
	s.NoError(b.Write32(10, 0xFFFFFFFF))
	_, err = b.Read16(11)
	s.ErrorIs(err, ErrOutOfRange)
	s.ErrorIs(b.Write32(11, 1), ErrOutOfRange)
	_, err = b.Read32(0xFFFFFFFF)
	s.ErrorIs(err, ErrOutOfRange)
}

func (s *BlockTestSuite) TestNonInterference() {
	const size = 24
	widths := map[int]func(b *Block, off uint32) error{
		1: func(b *Block, off uint32) error { return b.Set(off, 0xFF) },
		2: func(b *Block, off uint32) error { return b.Write16(off, 0xFFFF) },
		4: func(b *Block, off uint32) error { return b.Write32(off, 0xFFFFFFFF) },
	}
	for width, write := range widths {
		for k := uint32(0); k+uint32(width) <= size; k++ {
			b, err := New(size, 8)
			s.Require().NoError(err)
			s.Require().NoError(write(b, k))
			for off := uint32(0); off <= size; off++ {
				v, err := b.Get(off)
				s.Require().NoError(err)
				if off >= k && off < k+uint32(width) {
					s.Equal(byte(0xFF), v, "width %d k %d off %d", width, k, off)
				} else {
					s.Zero(v, "width %d k %d off %d", width, k, off)
				}
			}
		}
	}
}

func (s *BlockTestSuite) TestFailedWriteDoesNotMutate() {
	b, err := New(8, 2)
	s.Require().NoError(err)
	before := append([]byte(nil), b.backing...)
	s.Error(b.Write32(9, 0xFFFFFFFF))
	s.Error(b.Write16(100, 0xFFFF))
	s.Error(b.Set(9, 0xFF))
	s.Equal(before, b.backing)
}

func (s *BlockTestSuite) TestErrorContext() {
	b, err := New(4, 1)
	s.Require().NoError(err)
	_, err = b.Read16(5)
	s.Require().Error(err)
	s.Equal(ErrOutOfRange, errors.Cause(err))
	s.Contains(err.Error(), "offset 5 exceeds size 4")
}

func (s *BlockTestSuite) TestReadAtWriteAt() {
	b, err := New(8, 4)
	s.Require().NoError(err)

	n, err := b.WriteAt([]byte{1, 2, 3}, 5)
	s.Require().NoError(err)
	s.Equal(3, n)

	_, err = b.WriteAt([]byte{1, 2, 3}, 6)
	s.ErrorIs(err, ErrOutOfRange)
	_, err = b.WriteAt([]byte{1}, -1)
	s.ErrorIs(err, ErrOutOfRange)
	_, err = b.WriteAt([]byte{1}, math.MaxInt64)
	s.ErrorIs(err, ErrOutOfRange)
	_, err = b.WriteAt(nil, 9)
	s.ErrorIs(err, ErrOutOfRange)

	p := make([]byte, 3)
	n, err = b.ReadAt(p, 5)
	s.Require().NoError(err)
	s.Equal(3, n)
	s.Equal([]byte{1, 2, 3}, p)

	p = make([]byte, 4)
	n, err = b.ReadAt(p, 6)
	s.ErrorIs(err, io.EOF)
	s.Equal(2, n)
	s.Equal([]byte{2, 3, 0, 0}, p)

	_, err = b.ReadAt(p, 8)
	s.ErrorIs(err, io.EOF)
	_, err = b.ReadAt(p, -2)
	s.ErrorIs(err, ErrOutOfRange)

	// the Get/WriteAt views agree
	v, err := b.Get(7)
	s.Require().NoError(err)
	s.Equal(byte(3), v)
}

func (s *BlockTestSuite) TestZero() {
	b, err := New(8, 1)
	s.Require().NoError(err)
	s.Require().NoError(b.Write32(2, 0x12345678))
	s.Require().NoError(b.Zero())
	v, err := b.Read32(2)
	s.Require().NoError(err)
	s.Zero(v)
}

func (s *BlockTestSuite) TestWithAddrPropagatesError() {
	b, err := New(8, 8)
	s.Require().NoError(err)
	want := errors.New("callback failed")
	s.Equal(want, b.WithAddr(func(uintptr) error { return want }))
}

func (s *BlockTestSuite) TestRelease() {
	b, err := New(8, 4)
	s.Require().NoError(err)
	s.Require().NoError(b.Release())
	s.True(b.Released())

	_, err = b.Get(0)
	s.ErrorIs(err, ErrReleased)
	s.ErrorIs(b.Write32(0, 1), ErrReleased)
	_, err = b.ReadAt(make([]byte, 1), 0)
	s.ErrorIs(err, ErrReleased)
	s.ErrorIs(b.WithAddr(func(uintptr) error { return nil }), ErrReleased)
	s.ErrorIs(b.Dump(io.Discard), ErrReleased)
	s.Contains(b.String(), "released")

	s.NoError(b.Release())
}

func (s *BlockTestSuite) TestDump() {
	b, err := New(20, 4)
	s.Require().NoError(err)
	s.Require().NoError(b.Write32(0, 0xDEADBEEF))

	var out bytes.Buffer
	s.Require().NoError(b.Dump(&out))
	s.Contains(out.String(), "memblock{size=20 align=4")
	s.Contains(out.String(), "00000000  ")
	s.Contains(out.String(), "00000010  ")
	s.NotContains(out.String(), "00000020  ")
}

func TestBlockTestSuite(t *testing.T) {
	suite.Run(t, new(BlockTestSuite))
}
