package mem

// PhysAddr is an address in physical memory. It can only be dereferenced
// through a PhysWindow.
type PhysAddr uintptr

// VirtAddr is an address in a virtual address space. Besides alignment
// checks, the only meaningful operations on it are the table index
// accessors used to walk the paging hierarchy.
type VirtAddr uintptr

// P4Index returns the index into the level 4 (root) table.
func (v VirtAddr) P4Index() uintptr { return (uintptr(v) >> p4Shift) & pageIndexMask }

// P3Index returns the index into the level 3 table.
func (v VirtAddr) P3Index() uintptr { return (uintptr(v) >> p3Shift) & pageIndexMask }

// P2Index returns the index into the level 2 table.
func (v VirtAddr) P2Index() uintptr { return (uintptr(v) >> p2Shift) & pageIndexMask }

// P1Index returns the index into the level 1 table.
func (v VirtAddr) P1Index() uintptr { return (uintptr(v) >> p1Shift) & pageIndexMask }

// PageOffset returns the offset of v inside a page of the given size.
func (v VirtAddr) PageOffset(size FrameSize) uintptr {
	return uintptr(v) & (uintptr(size) - 1)
}

// PageFromAddress returns the address of the 4K page that contains v.
func PageFromAddress(v uintptr) VirtAddr {
	return VirtAddr(AlignDown(v, uintptr(PageSize)))
}

// PhysWindow is the virtual address at which physical address 0 is visible to
// the running code. The kernel runs with physical memory identity-mapped so
// its window is IdentityWindow; host programs and tests place simulated
// physical memory at an arbitrary address and use that address as window.
type PhysWindow uintptr

// IdentityWindow describes identity-mapped physical memory.
const IdentityWindow = PhysWindow(0)

// Addr returns the address through which the physical address phys can be
// accessed.
func (w PhysWindow) Addr(phys PhysAddr) uintptr {
	return uintptr(w) + uintptr(phys)
}
