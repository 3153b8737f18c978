package main

import (
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/srediag/memblock/pkg/memblock"
	"github.com/srediag/memblock/pkg/shm"
)

var allocatorKinds = []string{"go", "heap", "mmap", "shm"}

// allocatorFlags are shared by every command that creates blocks.
type allocatorFlags struct {
	kind   string
	shmDir string
}

func (f *allocatorFlags) register(cmd *kingpin.CmdClause) {
	cmd.Flag("allocator", "Backing allocator: go, heap, mmap or shm.").
		Default("go").Envar("MEMBLOCK_ALLOCATOR").EnumVar(&f.kind, allocatorKinds...)
	cmd.Flag("shm-dir", "Directory for shm segments.").
		Default("/dev/shm").Envar("MEMBLOCK_SHM_DIR").StringVar(&f.shmDir)
}

type closer func() error

func nopCloser() error { return nil }

// newAllocator builds the allocator named by kind. The closer releases
// whatever the allocator still holds.
func newAllocator(kind, shmDir string) (memblock.Allocator, closer, error) {
	switch kind {
	case "go":
		return memblock.NewGoAllocator(), nopCloser, nil
	case "heap":
		h := memblock.NewHeapAllocator()
		return h, h.Close, nil
	case "mmap":
		m := memblock.NewMmapAllocator()
		return m, m.Close, nil
	case "shm":
		cfg := shm.DefaultConfig()
		cfg.Dir = shmDir
		cfg.Prefix = "memblockctl"
		a, err := shm.NewAllocator(cfg)
		if err != nil {
			return nil, nil, err
		}
		return a, a.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown allocator %q", kind)
}
