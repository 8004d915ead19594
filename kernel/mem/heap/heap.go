// Package heap implements the kernel's first-fit heap allocator. Free regions
// are tracked by a singly linked list whose headers live inside the free
// memory they describe.
package heap

import (
	"github.com/pascalmouret/journey-os/kernel"
	"github.com/pascalmouret/journey-os/kernel/kfmt"
	"github.com/pascalmouret/journey-os/kernel/mem"
	"github.com/pascalmouret/journey-os/kernel/sync"
)

var (
	errAlreadyInitialized = &kernel.Error{Module: "heap", Message: "heap already initialized"}
	errMisalignedHeap     = &kernel.Error{Module: "heap", Message: "heap start is not aligned to the free node alignment"}
	errInvalidHeapSize    = &kernel.Error{Module: "heap", Message: "heap is too small to hold a free node"}
	errHeapWraps          = &kernel.Error{Module: "heap", Message: "heap range wraps around the address space"}
	errInitFailed         = &kernel.Error{Module: "heap", Message: "a previous heap initialization failed"}
	errRegionTooSmall     = &kernel.Error{Module: "heap", Message: "freed region too small for memory node"}
	errRegionMisaligned   = &kernel.Error{Module: "heap", Message: "freed region is not properly aligned"}
	errRegionOutOfBounds  = &kernel.Error{Module: "heap", Message: "freed region exceeds heap bounds"}

	log = kfmt.Logger{Module: "heap"}

	_ mem.Allocator = (*Heap)(nil)
)

// PageMapper backs virtual pages with physical memory. *vmm.Mapper
// satisfies it.
type PageMapper interface {
	MapNewPage(page mem.VirtAddr) *kernel.Error
}

// Stats summarizes the state of the free list.
type Stats struct {
	// Size is the total number of bytes managed by the heap.
	Size uintptr

	// FreeBytes is the sum of the sizes of all free nodes.
	FreeBytes uintptr

	// FreeNodes is the length of the free list.
	FreeNodes int

	// LargestFree is the size of the largest free node.
	LargestFree uintptr
}

// Heap is a first-fit allocator over a fixed virtual address range.
//
// Freed blocks are pushed to the front of the free list and are never merged
// eagerly. When a request cannot be served the list is coalesced once and the
// search is retried.
//
// All methods are safe for concurrent use.
type Heap struct {
	lock sync.Spinlock

	// head is a sentinel of size 0 whose next field points to the first
	// free node.
	head memoryNode

	start uintptr
	limit uintptr

	// mapFailed is set when Init could not back the heap with pages.
	mapFailed bool
}

// Init maps the pages that back [start, start+size) using mapper and turns the
// whole range into a single free node.
//
// Pages mapped before a mapper error are left in place, so a heap whose Init
// failed while mapping cannot be initialized again; later calls return
// errInitFailed.
func (h *Heap) Init(start, size uintptr, mapper PageMapper) *kernel.Error {
	h.lock.Acquire()
	defer h.lock.Release()

	switch {
	case h.limit != 0:
		return errAlreadyInitialized
	case h.mapFailed:
		return errInitFailed
	case !mem.IsAligned(start, nodeAlign):
		return errMisalignedHeap
	case size < nodeSize:
		return errInvalidHeapSize
	case start+size < start:
		return errHeapWraps
	}

	for page := mem.AlignDown(start, uintptr(mem.PageSize)); page < start+size; page += uintptr(mem.PageSize) {
		if err := mapper.MapNewPage(mem.VirtAddr(page)); err != nil {
			h.mapFailed = true
			return err
		}
	}

	h.start = start
	h.limit = start + size
	h.head = memoryNode{}
	h.freeRegion(start, size)

	log.Printf("built 0x%x byte kernel heap at 0x%x\n", size, start)
	return nil
}

// Alloc returns the address of a block of at least size bytes aligned to
// align, or 0 if the heap cannot satisfy the request. align must be a power
// of two.
func (h *Heap) Alloc(size, align uintptr) uintptr {
	if !mem.IsPowerOfTwo(align) {
		return 0
	}

	actualSize, actualAlign := actualLayout(size, align)

	h.lock.Acquire()
	defer h.lock.Release()

	if size > h.limit-h.start || actualSize > h.limit-h.start {
		return 0
	}

	r, ok := h.findRegion(actualSize, actualAlign, false)
	if !ok {
		log.Printf("out of memory: cannot allocate 0x%x bytes aligned to 0x%x\n", size, align)
		return 0
	}

	node := nodeAt(r.node)
	nodeEnd := r.node + node.size

	// Return the unused space around the block to the free list
	if r.allocStart > r.node {
		h.freeRegion(r.node, r.allocStart-r.node)
	}
	if nodeEnd > r.allocEnd {
		h.freeRegion(r.allocEnd, nodeEnd-r.allocEnd)
	}

	return r.allocStart
}

// Free returns a block obtained from Alloc to the heap. size and align must
// match the values passed to Alloc.
func (h *Heap) Free(addr, size, align uintptr) {
	if addr == 0 {
		return
	}

	actualSize, _ := actualLayout(size, align)

	h.lock.Acquire()
	defer h.lock.Release()

	h.freeRegion(addr, actualSize)
}

// FreeRegion adds [start, start+size) to the free list. The region must lie
// inside the heap, start at a node-aligned address and be large enough to
// host a node; violating any of these conditions is fatal.
func (h *Heap) FreeRegion(start, size uintptr) {
	h.lock.Acquire()
	defer h.lock.Release()

	h.freeRegion(start, size)
}

// Stats walks the free list and returns a summary of its state.
func (h *Heap) Stats() Stats {
	h.lock.Acquire()
	defer h.lock.Release()

	stats := Stats{Size: h.limit - h.start}
	for addr := h.head.next; addr != 0; addr = nodeAt(addr).next {
		node := nodeAt(addr)
		stats.FreeNodes++
		stats.FreeBytes += node.size
		if node.size > stats.LargestFree {
			stats.LargestFree = node.size
		}
	}

	return stats
}

// VisitFreeList invokes visitor for each free node in list order. The visitor
// must return true to continue or false to abort the scan. The heap lock is
// held for the duration of the scan so visitor must not call back into the
// heap.
func (h *Heap) VisitFreeList(visitor func(start, size uintptr) bool) {
	h.lock.Acquire()
	defer h.lock.Release()

	for addr := h.head.next; addr != 0; addr = nodeAt(addr).next {
		if !visitor(addr, nodeAt(addr).size) {
			return
		}
	}
}

// actualLayout returns the size and alignment that are actually reserved for
// a request so that the block can host a node once it is freed.
func actualLayout(size, align uintptr) (uintptr, uintptr) {
	if align < nodeAlign {
		align = nodeAlign
	}

	size = mem.AlignUp(size, align)
	if size < nodeSize {
		size = nodeSize
	}

	return size, align
}

func (h *Heap) freeRegion(start, size uintptr) {
	var err *kernel.Error
	switch {
	case size < nodeSize:
		err = errRegionTooSmall
	case !mem.IsAligned(start, nodeAlign):
		err = errRegionMisaligned
	case start < h.start || start+size > h.limit || start+size < start:
		err = errRegionOutOfBounds
	}

	if err != nil {
		log.Printf("cannot free region at 0x%16x with size 0x%x (heap: [0x%16x - 0x%16x])\n", start, size, h.start, h.limit)
		panic(err)
	}

	node := nodeAt(start)
	node.size = size
	node.next = h.head.next
	h.head.next = start
}
