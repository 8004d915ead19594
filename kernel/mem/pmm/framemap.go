package pmm

import (
	"math/bits"
	"unsafe"

	"github.com/pascalmouret/journey-os/kernel"
	"github.com/pascalmouret/journey-os/kernel/hal/multiboot"
	"github.com/pascalmouret/journey-os/kernel/kfmt"
	"github.com/pascalmouret/journey-os/kernel/mem"
	"github.com/pascalmouret/journey-os/kernel/sync"
)

// Bitmap polarity: a set bit marks a used (or unusable) frame and a clear bit
// marks a free frame. Bit i of byte j tracks frame (j*8 + i).
const usedByte = 0xff

var (
	// ErrOutOfMemory is returned by AllocFrame when no free frame is left.
	ErrOutOfMemory = &kernel.Error{Module: "frames", Message: "out of physical memory"}

	errAlreadyInitialized = &kernel.Error{Module: "frames", Message: "frame map already initialized"}
	errNoUsableMemory     = &kernel.Error{Module: "frames", Message: "memory map does not contain usable memory"}
	errFrameOutOfRange    = &kernel.Error{Module: "frames", Message: "frame is outside the tracked physical memory"}
	errFrameNotAllocated  = &kernel.Error{Module: "frames", Message: "attempted to free a frame that is not in use"}
	errFrameInUse         = &kernel.Error{Module: "frames", Message: "attempted to reserve a frame that is already in use"}
	errFrameSize          = &kernel.Error{Module: "frames", Message: "frame map only tracks 4K frames"}

	log = kfmt.Logger{Module: "frames"}
)

// RegionVisitor enumerates the firmware memory map. multiboot.VisitMemRegions
// satisfies it.
type RegionVisitor func(visitor multiboot.MemRegionVisitor)

// FrameStats summarizes the state of a FrameMap.
type FrameStats struct {
	// Total is the number of frames tracked by the map.
	Total uint64

	// Free is the number of frames currently available for allocation.
	Free uint64
}

// FrameMap is a bitmap based physical frame allocator. It keeps one bit per
// 4K frame for all physical memory up to the end of the highest usable
// region. The bitmap itself lives in physical memory right after the kernel
// image and is accessed through a mem.PhysWindow.
//
// All methods are safe for concurrent use.
type FrameMap struct {
	lock sync.Spinlock

	initialized bool

	// bitmapStart is the physical address of the first bitmap byte.
	bitmapStart mem.PhysAddr
	bitmap      []byte

	totalFrames uintptr
	freeFrames  uintptr
}

// Init scans the memory map produced by visit and builds the frame bitmap.
//
// The bitmap is placed at the first frame boundary at or after kernelEnd. All
// frames start out as used; the frames that lie entirely inside a usable
// region are then released, except for the ones overlapping the kernel image
// or the bitmap.
func (m *FrameMap) Init(window mem.PhysWindow, visit RegionVisitor, kernelStart, kernelEnd uintptr) *kernel.Error {
	m.lock.Acquire()
	defer m.lock.Release()

	if m.initialized {
		return errAlreadyInitialized
	}

	var highestUsable uint64
	visit(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type == multiboot.MemAvailable && region.PhysAddress+region.Length > highestUsable {
			highestUsable = region.PhysAddress + region.Length
		}
		return true
	})

	if highestUsable == 0 {
		return errNoUsableMemory
	}

	m.totalFrames = uintptr((highestUsable + uint64(mem.PageSize) - 1) >> mem.PageShift)
	bitmapBytes := (m.totalFrames + 7) >> 3

	m.bitmapStart = mem.PhysAddr(mem.AlignUp(kernelEnd, uintptr(mem.PageSize)))
	m.bitmap = unsafe.Slice((*byte)(unsafe.Pointer(window.Addr(m.bitmapStart))), bitmapBytes)
	mem.Memset(window.Addr(m.bitmapStart), usedByte, mem.Size(bitmapBytes))

	visit(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type != multiboot.MemAvailable {
			return true
		}

		// Reported addresses may not be page-aligned; round up to get
		// the first frame and round down to get the end frame.
		first := uintptr(mem.AlignUp(uintptr(region.PhysAddress), uintptr(mem.PageSize)) >> mem.PageShift)
		end := uintptr(mem.AlignDown(uintptr(region.PhysAddress+region.Length), uintptr(mem.PageSize)) >> mem.PageShift)
		m.setRange(first, end, false)
		return true
	})

	bitmapEnd := uintptr(m.bitmapStart) + bitmapBytes
	m.setRange(
		mem.AlignDown(kernelStart, uintptr(mem.PageSize))>>mem.PageShift,
		mem.AlignUp(bitmapEnd, uintptr(mem.PageSize))>>mem.PageShift,
		true,
	)

	m.freeFrames = 0
	for index := uintptr(0); index < m.totalFrames; index++ {
		if !m.isUsed(index) {
			m.freeFrames++
		}
	}

	m.initialized = true

	log.Printf("kernel image: [0x%16x - 0x%16x]\n", kernelStart, kernelEnd)
	log.Printf("bitmap: [0x%16x - 0x%16x] (%d bytes)\n", uintptr(m.bitmapStart), bitmapEnd, bitmapBytes)
	log.Printf("tracking %d frames, %d free (%d Kb)\n", m.totalFrames, m.freeFrames, m.freeFrames*uintptr(mem.PageSize/mem.Kb))

	return nil
}

// AllocFrame reserves the lowest-addressed free 4K frame. It returns
// ErrOutOfMemory if all frames are in use.
func (m *FrameMap) AllocFrame() (Frame, *kernel.Error) {
	m.lock.Acquire()
	defer m.lock.Release()

	for byteIndex, b := range m.bitmap {
		if b == usedByte {
			continue
		}

		index := uintptr(byteIndex)<<3 + uintptr(bits.TrailingZeros8(^b))
		m.bitmap[byteIndex] = b | 1<<(index&7)
		m.freeFrames--

		return Frame{Address: mem.PhysAddr(index << mem.PageShift), Size: mem.SmallFrame}, nil
	}

	return Frame{}, ErrOutOfMemory
}

// ForAddress returns the 4K frame containing addr and whether that frame is
// currently free. Addresses beyond the tracked memory are reported as not
// free.
func (m *FrameMap) ForAddress(addr mem.PhysAddr) (Frame, bool) {
	m.lock.Acquire()
	defer m.lock.Release()

	frame := FrameFromAddress(addr)
	if frame.Index() >= m.totalFrames {
		return frame, false
	}

	return frame, !m.isUsed(frame.Index())
}

// FreeFrame returns a frame obtained by AllocFrame to the pool.
func (m *FrameMap) FreeFrame(frame Frame) *kernel.Error {
	return m.flip(frame, false)
}

// ReserveFrame marks a free frame as used so that AllocFrame never hands it
// out.
func (m *FrameMap) ReserveFrame(frame Frame) *kernel.Error {
	return m.flip(frame, true)
}

func (m *FrameMap) flip(frame Frame, used bool) *kernel.Error {
	if frame.Size != mem.SmallFrame {
		return errFrameSize
	}

	m.lock.Acquire()
	defer m.lock.Release()

	index := frame.Index()
	switch {
	case index >= m.totalFrames:
		return errFrameOutOfRange
	case used && m.isUsed(index):
		return errFrameInUse
	case !used && !m.isUsed(index):
		return errFrameNotAllocated
	}

	m.setRange(index, index+1, used)
	if used {
		m.freeFrames--
	} else {
		m.freeFrames++
	}

	return nil
}

// Stats returns the number of tracked and free frames.
func (m *FrameMap) Stats() FrameStats {
	m.lock.Acquire()
	defer m.lock.Release()

	return FrameStats{Total: uint64(m.totalFrames), Free: uint64(m.freeFrames)}
}

// BitmapAddress returns the physical address and size of the bitmap.
func (m *FrameMap) BitmapAddress() (mem.PhysAddr, mem.Size) {
	return m.bitmapStart, mem.Size(len(m.bitmap))
}

// VisitBitmap invokes visitor for each tracked frame index in ascending
// order. The visitor must return true to continue or false to abort the scan.
// The map lock is held for the duration of the scan so visitor must not call
// back into the map.
func (m *FrameMap) VisitBitmap(visitor func(index uintptr, used bool) bool) {
	m.lock.Acquire()
	defer m.lock.Release()

	for index := uintptr(0); index < m.totalFrames; index++ {
		if !visitor(index, m.isUsed(index)) {
			return
		}
	}
}

func (m *FrameMap) isUsed(index uintptr) bool {
	return m.bitmap[index>>3]&(1<<(index&7)) != 0
}

// setRange updates the bits for frames [first, end). Indices beyond the
// tracked frame count are ignored.
func (m *FrameMap) setRange(first, end uintptr, used bool) {
	if end > m.totalFrames {
		end = m.totalFrames
	}

	for index := first; index < end; index++ {
		if used {
			m.bitmap[index>>3] |= 1 << (index & 7)
		} else {
			m.bitmap[index>>3] &^= 1 << (index & 7)
		}
	}
}
