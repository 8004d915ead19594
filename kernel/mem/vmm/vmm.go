// Package vmm manages the amd64 4-level page tables: it installs mappings of
// 4K, 2M and 1G pages, translates virtual addresses and serves page faults
// for kernel memory by mapping fresh frames on demand.
package vmm

import (
	"github.com/pascalmouret/journey-os/kernel"
	"github.com/pascalmouret/journey-os/kernel/kfmt"
	"github.com/pascalmouret/journey-os/kernel/mem/pmm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	errHugePageInPath     = &kernel.Error{Module: "vmm", Message: "a huge page mapping covers the target address"}
	errInvalidFrameSize   = &kernel.Error{Module: "vmm", Message: "unsupported frame size"}
	errMisalignedTarget   = &kernel.Error{Module: "vmm", Message: "frame or target address is not aligned to the frame size"}
	errTableExists        = &kernel.Error{Module: "vmm", Message: "page table entry is already present"}
	errNoNextLevel        = &kernel.Error{Module: "vmm", Message: "level 1 tables do not reference other tables"}
	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page/gpf fault"}
	errNoFaultMapper      = &kernel.Error{Module: "vmm", Message: "no mapper supplied for demand faults"}

	log = kfmt.Logger{Module: "vmm"}
)

// FrameAllocator is implemented by physical frame allocators that can supply
// frames for page tables and demand-mapped pages. *pmm.FrameMap satisfies it.
type FrameAllocator interface {
	AllocFrame() (pmm.Frame, *kernel.Error)
	FreeFrame(frame pmm.Frame) *kernel.Error
}
