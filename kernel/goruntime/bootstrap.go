// Package goruntime connects the memory hooks of the Go runtime to the
// kernel's memory services. On the bare-metal build the runtime functions
// named in the go:redirect-from directives are patched to jump to the
// functions in this file.
package goruntime

import (
	"unsafe"

	"github.com/pascalmouret/journey-os/kernel"
	"github.com/pascalmouret/journey-os/kernel/mem"
	"github.com/pascalmouret/journey-os/kernel/sync"
)

const (
	// reserveStart and reserveEnd bound the virtual address range handed
	// out by sysReserve. The range sits above the kernel heap and is only
	// backed by frames once sysMap is called.
	reserveStart = uintptr(0x5000_0000_0000)
	reserveEnd   = uintptr(0x6000_0000_0000)
)

var (
	allocator mem.Allocator
	mapper    PageMapper

	reserveLock     sync.Spinlock
	nextReserveAddr = reserveStart

	errNoAllocator         = &kernel.Error{Module: "goruntime", Message: "no allocator or page mapper supplied"}
	errAddressSpaceExhaust = &kernel.Error{Module: "goruntime", Message: "consumed available address space"}
)

// PageMapper backs virtual pages with cleared physical frames. *vmm.Mapper
// satisfies it.
type PageMapper interface {
	MapNewPage(page mem.VirtAddr) *kernel.Error
}

// Init installs the allocator that serves runtime allocations and the mapper
// that backs reserved address space. After a call to Init the runtime can
// obtain memory for new, make and friends.
func Init(alloc mem.Allocator, pageMapper PageMapper) *kernel.Error {
	if alloc == nil || pageMapper == nil {
		return errNoAllocator
	}

	allocator = alloc
	mapper = pageMapper
	return nil
}

// sysAlloc obtains a page-aligned, cleared block from the kernel allocator.
//
// This function replaces runtime.sysAlloc.
//
//go:redirect-from runtime.sysAlloc
//go:nosplit
func sysAlloc(size uintptr, sysStat *uint64) unsafe.Pointer {
	regionSize := mem.AlignUp(size, uintptr(mem.PageSize))
	regionStartAddr := allocator.Alloc(regionSize, uintptr(mem.PageSize))
	if regionStartAddr == 0 {
		return unsafe.Pointer(uintptr(0))
	}

	mem.Memset(regionStartAddr, 0, mem.Size(regionSize))
	statInc(sysStat, regionSize)
	return unsafe.Pointer(regionStartAddr)
}

// sysFree returns a block obtained by sysAlloc to the kernel allocator.
//
// This function replaces runtime.sysFree.
//
//go:redirect-from runtime.sysFree
//go:nosplit
func sysFree(v unsafe.Pointer, size uintptr, sysStat *uint64) {
	regionSize := mem.AlignUp(size, uintptr(mem.PageSize))
	allocator.Free(uintptr(v), regionSize, uintptr(mem.PageSize))
	statDec(sysStat, regionSize)
}

// sysReserve reserves address space without allocating any memory or
// establishing any page mappings.
//
// This function replaces runtime.sysReserve and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysReserve
//go:nosplit
func sysReserve(_ unsafe.Pointer, size uintptr, reserved *bool) unsafe.Pointer {
	regionSize := mem.AlignUp(size, uintptr(mem.PageSize))

	reserveLock.Acquire()
	regionStartAddr := nextReserveAddr
	if regionSize > reserveEnd-regionStartAddr {
		reserveLock.Release()
		panic(errAddressSpaceExhaust)
	}
	nextReserveAddr += regionSize
	reserveLock.Release()

	*reserved = true
	return unsafe.Pointer(regionStartAddr)
}

// sysMap backs a memory region that has been reserved previously via a call
// to sysReserve with cleared frames.
//
// This function replaces runtime.sysMap and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysMap
//go:nosplit
func sysMap(virtAddr unsafe.Pointer, size uintptr, reserved bool, sysStat *uint64) unsafe.Pointer {
	if !reserved {
		panic("sysMap should only be called with reserved=true")
	}

	// We trust the allocator to call sysMap with an address inside a reserved region.
	regionStartAddr := mem.AlignUp(uintptr(virtAddr), uintptr(mem.PageSize))
	regionSize := mem.AlignUp(size, uintptr(mem.PageSize))

	for page := regionStartAddr; page < regionStartAddr+regionSize; page += uintptr(mem.PageSize) {
		if err := mapper.MapNewPage(mem.VirtAddr(page)); err != nil {
			return unsafe.Pointer(uintptr(0))
		}
	}

	statInc(sysStat, regionSize)
	return unsafe.Pointer(regionStartAddr)
}

func statInc(stat *uint64, n uintptr) {
	if stat != nil {
		*stat += uint64(n)
	}
}

func statDec(stat *uint64, n uintptr) {
	if stat != nil {
		*stat -= uint64(n)
	}
}
