package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/alecthomas/kingpin/v2"

	"github.com/srediag/memblock/pkg/memblock"
)

type inspectCommand struct {
	cmd     *kingpin.CmdClause
	alloc   allocatorFlags
	size    uint32
	align   uint8
	write32 map[string]string
}

func registerInspect(app *kingpin.Application) *inspectCommand {
	c := &inspectCommand{}
	c.cmd = app.Command("inspect", "Create a block, optionally poke words into it, and dump it.")
	c.alloc.register(c.cmd)
	c.cmd.Flag("size", "Usable size in bytes.").Default("64").Envar("MEMBLOCK_SIZE").Uint32Var(&c.size)
	c.cmd.Flag("align", "Base alignment in bytes, 1 for none.").Default("1").Envar("MEMBLOCK_ALIGN").Uint8Var(&c.align)
	c.cmd.Flag("write32", "offset=value word to store before dumping; repeatable.").StringMapVar(&c.write32)
	return c
}

func (c *inspectCommand) run(_ context.Context, out io.Writer) error {
	alloc, closeAlloc, err := newAllocator(c.alloc.kind, c.alloc.shmDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeAlloc(); err != nil {
			logger.Warnf("close %s allocator: %v", c.alloc.kind, err)
		}
	}()

	blk, err := memblock.NewWithOptions(c.size, memblock.WithAlignment(c.align), memblock.WithAllocator(alloc))
	if err != nil {
		return err
	}
	defer func() {
		if err := blk.Release(); err != nil {
			logger.Warnf("release block: %v", err)
		}
	}()

	pokes, err := parsePokes(c.write32)
	if err != nil {
		return err
	}
	for _, p := range pokes {
		if err := blk.Write32(p.offset, p.value); err != nil {
			return err
		}
	}
	return describe(blk, c.alloc.kind, out)
}

func describe(blk *memblock.Block, kind string, out io.Writer) error {
	err := blk.WithAddr(func(addr uintptr) error {
		_, err := fmt.Fprintf(out, "allocator: %s\nsize:      %d\nalignment: %d\nbase:      %d\narena:     %d\naddress:   %#x\n",
			kind, blk.Size(), blk.Alignment(), blk.Base(), blk.Len(), addr)
		return err
	})
	if err != nil {
		return err
	}
	return blk.Dump(out)
}

type poke struct {
	offset uint32
	value  uint32
}

// parsePokes turns offset=value pairs into pokes sorted by offset. Both
// sides accept any base strconv understands.
func parsePokes(m map[string]string) ([]poke, error) {
	pokes := make([]poke, 0, len(m))
	for k, v := range m {
		off, err := strconv.ParseUint(k, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("write32 offset %q: %w", k, err)
		}
		val, err := strconv.ParseUint(v, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("write32 value %q: %w", v, err)
		}
		pokes = append(pokes, poke{offset: uint32(off), value: uint32(val)})
	}
	sort.Slice(pokes, func(i, j int) bool { return pokes[i].offset < pokes[j].offset })
	return pokes, nil
}
