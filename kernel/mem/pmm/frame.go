// Package pmm contains code that manages physical memory frame allocations.
package pmm

import "github.com/pascalmouret/journey-os/kernel/mem"

// Frame describes a physical memory frame: a naturally aligned block of
// physical memory of one of the supported frame sizes.
type Frame struct {
	// Address is the physical address of the first byte of the frame.
	Address mem.PhysAddr

	// Size is the frame's size class.
	Size mem.FrameSize
}

// FrameFromAddress returns the 4K frame that contains the physical address.
func FrameFromAddress(addr mem.PhysAddr) Frame {
	return Frame{
		Address: mem.PhysAddr(mem.AlignDown(uintptr(addr), uintptr(mem.PageSize))),
		Size:    mem.SmallFrame,
	}
}

// Index returns the position of the frame in a map of 4K frames.
func (f Frame) Index() uintptr {
	return uintptr(f.Address) >> mem.PageShift
}

// End returns the physical address right after the last byte of the frame.
func (f Frame) End() mem.PhysAddr {
	return f.Address + mem.PhysAddr(f.Size)
}
