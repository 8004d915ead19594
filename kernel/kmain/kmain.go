package kmain

import (
	"github.com/pascalmouret/journey-os/kernel"
	"github.com/pascalmouret/journey-os/kernel/cpu"
	"github.com/pascalmouret/journey-os/kernel/goruntime"
	"github.com/pascalmouret/journey-os/kernel/hal/multiboot"
	"github.com/pascalmouret/journey-os/kernel/kfmt"
	"github.com/pascalmouret/journey-os/kernel/mem"
)

var (
	core MemoryCore

	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
)

// Kmain is called by the rt0 assembly once a GDT, a 4K stack and a minimal
// g0 are in place. rt0 passes the address of the multiboot info block and
// the physical bounds of the loaded kernel image.
//
// Kmain brings the memory core online and hands the kernel heap to the Go
// runtime. It never returns; rt0 halts the CPU if it does.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	var err *kernel.Error
	if err = core.Init(BootParams{
		Window:      mem.IdentityWindow,
		MMU:         cpu.Native,
		Regions:     multiboot.VisitMemRegions,
		KernelStart: kernelStart,
		KernelEnd:   kernelEnd,
		HeapStart:   HeapStart,
		HeapSize:    HeapSize,
	}); err != nil {
		panic(err)
	} else if err = goruntime.Init(&core.Heap, core.Mapper); err != nil {
		panic(err)
	}

	// A direct call keeps kfmt.Panic in the image for the redirect table.
	kfmt.Panic(errKmainReturned)
}
