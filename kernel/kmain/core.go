package kmain

import (
	"github.com/pascalmouret/journey-os/kernel"
	"github.com/pascalmouret/journey-os/kernel/cpu"
	"github.com/pascalmouret/journey-os/kernel/kfmt"
	"github.com/pascalmouret/journey-os/kernel/mem"
	"github.com/pascalmouret/journey-os/kernel/mem/heap"
	"github.com/pascalmouret/journey-os/kernel/mem/pmm"
	"github.com/pascalmouret/journey-os/kernel/mem/vmm"
)

const (
	// HeapStart is the virtual address of the kernel heap.
	HeapStart = uintptr(0x4000_0000_0000)

	// HeapSize is the initial size of the kernel heap.
	HeapSize = uintptr(10 * mem.Kb)
)

var log = kfmt.Logger{Module: "kmain"}

// BootParams describes the machine the memory core is brought up on.
type BootParams struct {
	// Window is the address at which physical memory is visible.
	Window mem.PhysWindow

	// MMU performs the paging operations of the CPU.
	MMU cpu.MMU

	// Regions enumerates the firmware memory map.
	Regions pmm.RegionVisitor

	// KernelStart and KernelEnd are the physical bounds of the kernel image.
	KernelStart, KernelEnd uintptr

	// HeapStart and HeapSize place the kernel heap.
	HeapStart, HeapSize uintptr
}

// MemoryCore holds the memory services of the kernel.
type MemoryCore struct {
	Frames pmm.FrameMap
	Mapper *vmm.Mapper
	Heap   heap.Heap
}

// Init brings up the memory services in dependency order: the frame map,
// the page table mapper and its fault handlers, and finally the kernel heap
// which is backed by pages obtained through the mapper.
func (c *MemoryCore) Init(p BootParams) *kernel.Error {
	if err := c.Frames.Init(p.Window, p.Regions, p.KernelStart, p.KernelEnd); err != nil {
		return err
	}

	c.Mapper = vmm.NewMapper(&c.Frames, p.Window, p.MMU)
	if err := vmm.Init(c.Mapper); err != nil {
		return err
	}

	if err := c.Heap.Init(p.HeapStart, p.HeapSize, c.Mapper); err != nil {
		return err
	}

	stats := c.Frames.Stats()
	log.Printf("memory core online: %d/%d frames free\n", stats.Free, stats.Total)
	return nil
}
