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

package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/memblock/adapter"
	"github.com/srediag/memblock/pkg/memblock"
)

type stressCommand struct {
	cmd   *kingpin.CmdClause
	alloc allocatorFlags
	opts  stressOptions
}

type stressOptions struct {
	Blocks  int
	Workers int
	Size    uint32
	Align   uint8
}

type stressResult struct {
	Blocks   int64
	Failures int64
	Elapsed  time.Duration
	Errors   []error
}

func registerStress(app *kingpin.Application) *stressCommand {
	c := &stressCommand{}
	c.cmd = app.Command("stress", "Create many blocks concurrently and verify every accessor on each.")
	c.alloc.register(c.cmd)
	c.cmd.Flag("blocks", "Number of blocks to exercise.").Default("1000").IntVar(&c.opts.Blocks)
	c.cmd.Flag("workers", "Worker pool size.").Default("8").IntVar(&c.opts.Workers)
	c.cmd.Flag("size", "Usable size of each block.").Default("4096").Envar("MEMBLOCK_SIZE").Uint32Var(&c.opts.Size)
	c.cmd.Flag("align", "Base alignment of each block.").Default("64").Envar("MEMBLOCK_ALIGN").Uint8Var(&c.opts.Align)
	return c
}

func (c *stressCommand) run(ctx context.Context, out io.Writer) error {
	inner, closeAlloc, err := newAllocator(c.alloc.kind, c.alloc.shmDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeAlloc(); err != nil {
			logger.Warnf("close %s allocator: %v", c.alloc.kind, err)
		}
	}()
	reg := prometheus.NewRegistry()
	if err := adapter.RegisterMetrics(reg); err != nil {
		return err
	}

	res, err := runStress(ctx, c.opts, adapter.NewPrometheusAllocator(inner, c.alloc.kind))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "blocks: %d failures: %d elapsed: %s\n", res.Blocks, res.Failures, res.Elapsed)
	for _, e := range res.Errors {
		fmt.Fprintf(out, "  %v\n", e)
	}
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(out, "%s: %.0f\n", f.GetName(), m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				fmt.Fprintf(out, "%s: %.0f\n", f.GetName(), m.GetGauge().GetValue())
			}
		}
	}
	if res.Failures > 0 {
		return fmt.Errorf("%d of %d blocks failed verification", res.Failures, res.Blocks)
	}
	return nil
}

const maxReportedErrors = 10

// runStress gives every task its own block, so no block is touched by two
// goroutines.
func runStress(ctx context.Context, opts stressOptions, alloc memblock.Allocator) (stressResult, error) {
	if opts.Blocks <= 0 || opts.Workers <= 0 {
		return stressResult{}, fmt.Errorf("blocks and workers must be positive")
	}
	pool, err := ants.NewPool(opts.Workers)
	if err != nil {
		return stressResult{}, err
	}
	defer pool.Release()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		done     atomic.Int64
		failures atomic.Int64
		errs     []error
	)
	start := time.Now()
	for i := 0; i < opts.Blocks; i++ {
		if ctx.Err() != nil {
			break
		}
		seed := uint32(i)
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			done.Add(1)
			if err := exercise(alloc, opts.Size, opts.Align, seed); err != nil {
				failures.Add(1)
				mu.Lock()
				if len(errs) < maxReportedErrors {
					errs = append(errs, fmt.Errorf("block %d: %w", seed, err))
				}
				mu.Unlock()
			}
		}); err != nil {
			wg.Done()
			wg.Wait()
			return stressResult{}, err
		}
	}
	wg.Wait()
	return stressResult{
		Blocks:   done.Load(),
		Failures: failures.Load(),
		Elapsed:  time.Since(start),
		Errors:   errs,
	}, ctx.Err()
}

// exercise fills a fresh block word by word, verifies it through every
// accessor width, then checks that narrow writes stay within their bytes.
func exercise(alloc memblock.Allocator, size uint32, align uint8, seed uint32) (err error) {
	blk, err := memblock.NewWithOptions(size, memblock.WithAlignment(align), memblock.WithAllocator(alloc))
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, blk.Release())
	}()

	if err := blk.WithAddr(func(addr uintptr) error {
		if addr%uintptr(align) != 0 {
			return fmt.Errorf("base %#x not aligned to %d", addr, align)
		}
		return nil
	}); err != nil {
		return err
	}

	pattern := func(off uint32) uint32 { return (seed * 2654435761) ^ off }
	for off := uint32(0); off+4 <= size; off += 4 {
		if err := blk.Write32(off, pattern(off)); err != nil {
			return err
		}
	}
	var word [4]byte
	for off := uint32(0); off+4 <= size; off += 4 {
		v, err := blk.Read32(off)
		if err != nil {
			return err
		}
		if v != pattern(off) {
			return fmt.Errorf("read32(%d) = %#x, want %#x", off, v, pattern(off))
		}
		binary.NativeEndian.PutUint32(word[:], v)
		lo, err := blk.Read16(off)
		if err != nil {
			return err
		}
		if lo != binary.NativeEndian.Uint16(word[:2]) {
			return fmt.Errorf("read16(%d) = %#x, want %#x", off, lo, binary.NativeEndian.Uint16(word[:2]))
		}
		for i := uint32(0); i < 4; i++ {
			b, err := blk.Get(off + i)
			if err != nil {
				return err
			}
			if b != word[i] {
				return fmt.Errorf("get(%d) = %#x, want %#x", off+i, b, word[i])
			}
		}
	}

	// odd-offset 16-bit write must leave its neighbours alone
	if size >= 4 {
		before, err := blk.Get(0)
		if err != nil {
			return err
		}
		after, err := blk.Get(3)
		if err != nil {
			return err
		}
		if err := blk.Write16(1, uint16(seed)); err != nil {
			return err
		}
		if v, _ := blk.Get(0); v != before {
			return fmt.Errorf("write16(1) changed byte 0")
		}
		if v, _ := blk.Get(3); v != after {
			return fmt.Errorf("write16(1) changed byte 3")
		}
		if v, _ := blk.Read16(1); v != uint16(seed) {
			return fmt.Errorf("read16(1) = %#x, want %#x", v, uint16(seed))
		}
	}

	if size < math.MaxUint32 {
		if _, err := blk.Get(size + 1); !errors.Is(err, memblock.ErrOutOfRange) {
			return fmt.Errorf("get(size+1) returned %v, want out of range", err)
		}
	}
	return nil
}
