//go:build linux && amd64

package main

import (
	"fmt"
	"math/rand"
	"unsafe"

	"github.com/google/btree"
	"github.com/pascalmouret/journey-os/kernel/mem"
	"github.com/pascalmouret/journey-os/kernel/mem/heap"
)

// allocAlignments are the alignments requested by the heap workloads.
var allocAlignments = []uintptr{1, 8, 16, 64, 256}

// block is a live heap allocation. Its bytes are filled with tag so that
// corruption by another allocation is detected when the block is freed.
type block struct {
	addr  uintptr
	size  uintptr
	align uintptr
	tag   byte
}

func (b block) end() uintptr { return b.addr + b.size }

func (b block) bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(b.addr)), b.size)
}

func (b block) fill() {
	buf := b.bytes()
	for i := range buf {
		buf[i] = b.tag
	}
}

func (b block) verify() error {
	for i, v := range b.bytes() {
		if v != b.tag {
			return fmt.Errorf("block 0x%x+0x%x: byte %d holds 0x%x instead of tag 0x%x", b.addr, b.size, i, v, b.tag)
		}
	}
	return nil
}

// liveSet indexes live blocks by address.
type liveSet struct {
	index *btree.BTreeG[block]
	bytes uintptr
}

func newLiveSet() *liveSet {
	return &liveSet{
		index: btree.NewG[block](8, func(a, b block) bool { return a.addr < b.addr }),
	}
}

// insert adds b after checking that it does not overlap its neighbours.
func (s *liveSet) insert(b block) error {
	var err error

	s.index.DescendLessOrEqual(b, func(prev block) bool {
		if prev.end() > b.addr {
			err = fmt.Errorf("block 0x%x+0x%x overlaps live block 0x%x+0x%x", b.addr, b.size, prev.addr, prev.size)
		}
		return false
	})
	if err != nil {
		return err
	}

	s.index.AscendGreaterOrEqual(b, func(next block) bool {
		if b.end() > next.addr {
			err = fmt.Errorf("block 0x%x+0x%x overlaps live block 0x%x+0x%x", b.addr, b.size, next.addr, next.size)
		}
		return false
	})
	if err != nil {
		return err
	}

	s.index.ReplaceOrInsert(b)
	s.bytes += b.size
	return nil
}

func (s *liveSet) remove(b block) {
	if _, ok := s.index.Delete(b); ok {
		s.bytes -= b.size
	}
}

type heapReport struct {
	Operations    int             `yaml:"operations"`
	Allocations   int             `yaml:"allocations"`
	Failures      int             `yaml:"failed_allocations"`
	Frees         int             `yaml:"frees"`
	PeakLive      int             `yaml:"peak_live_blocks"`
	PeakLiveBytes uint64          `yaml:"peak_live_bytes"`
	Final         heapStatsReport `yaml:"final"`
}

// checkBlock verifies that an allocation is aligned and lies inside the heap.
func (s *Simulator) checkBlock(b block) error {
	start, limit := uintptr(s.cfg.Heap.Start), uintptr(s.cfg.Heap.Start+s.cfg.Heap.Size)

	switch {
	case !mem.IsAligned(b.addr, b.align):
		return fmt.Errorf("block 0x%x is not aligned to %d", b.addr, b.align)
	case b.addr < start || b.end() > limit:
		return fmt.Errorf("block 0x%x+0x%x lies outside the heap [0x%x, 0x%x)", b.addr, b.size, start, limit)
	}

	return nil
}

// runHeap performs ops random allocations and frees against the kernel heap,
// verifying alignment, bounds, exclusivity and content integrity of every
// block. Afterwards all blocks are freed and the whole heap must be
// allocatable as a single block again.
func runHeap(sim *Simulator, ops, maxAlloc int, seed int64) (heapReport, error) {
	var (
		h      = &sim.Core.Heap
		rng    = rand.New(rand.NewSource(seed))
		live   = newLiveSet()
		blocks []block
		report = heapReport{Operations: ops}
	)

	for op := 0; op < ops; op++ {
		if len(blocks) == 0 || rng.Intn(100) < 60 {
			b := block{
				size:  uintptr(1 + rng.Intn(maxAlloc)),
				align: allocAlignments[rng.Intn(len(allocAlignments))],
				tag:   byte(op),
			}

			if b.addr = h.Alloc(b.size, b.align); b.addr == 0 {
				report.Failures++
				continue
			}

			if err := sim.checkBlock(b); err != nil {
				return report, err
			}
			if err := live.insert(b); err != nil {
				return report, err
			}
			b.fill()

			blocks = append(blocks, b)
			report.Allocations++
			if len(blocks) > report.PeakLive {
				report.PeakLive = len(blocks)
			}
			if uint64(live.bytes) > report.PeakLiveBytes {
				report.PeakLiveBytes = uint64(live.bytes)
			}
			continue
		}

		i := rng.Intn(len(blocks))
		b := blocks[i]
		blocks[i] = blocks[len(blocks)-1]
		blocks = blocks[:len(blocks)-1]

		if err := freeBlock(h, live, b); err != nil {
			return report, err
		}
		report.Frees++
	}

	for _, b := range blocks {
		if err := freeBlock(h, live, b); err != nil {
			return report, err
		}
		report.Frees++
	}

	if err := checkHeapDrained(sim); err != nil {
		return report, err
	}

	report.Final = sim.heapStats()
	return report, nil
}

func freeBlock(h *heap.Heap, live *liveSet, b block) error {
	if err := b.verify(); err != nil {
		return err
	}

	live.remove(b)
	h.Free(b.addr, b.size, b.align)
	return nil
}

// checkHeapDrained verifies that no bytes leaked: the free list must cover the
// whole heap and coalesce back into a single block.
func checkHeapDrained(sim *Simulator) error {
	h := &sim.Core.Heap
	size := uintptr(sim.cfg.Heap.Size)

	if stats := h.Stats(); stats.FreeBytes != size {
		return fmt.Errorf("expected 0x%x free heap bytes after releasing all blocks; got 0x%x", size, stats.FreeBytes)
	}

	addr := h.Alloc(size, 8)
	if addr != uintptr(sim.cfg.Heap.Start) {
		return fmt.Errorf("expected a full-size allocation at 0x%x after releasing all blocks; got 0x%x", sim.cfg.Heap.Start, addr)
	}
	h.Free(addr, size, 8)

	return nil
}
