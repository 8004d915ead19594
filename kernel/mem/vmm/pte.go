package vmm

import "github.com/pascalmouret/journey-os/kernel/mem"

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uintptr

// pageTableEntry describes a page table entry. These entries encode
// a physical frame address and a set of flags. The actual format
// of the entry and flags is architecture-dependent.
type pageTableEntry uintptr

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) | uintptr(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) &^ uintptr(flags))
}

// Frame returns the physical address that this page table entry points to.
func (pte pageTableEntry) Frame() mem.PhysAddr {
	return mem.PhysAddr(uintptr(pte) & ptePhysPageMask)
}

// SetFrame updates the page table entry to point the the given physical
// address. Address bits outside the architecture's physical address mask are
// discarded.
func (pte *pageTableEntry) SetFrame(addr mem.PhysAddr) {
	*pte = (pageTableEntry)((uintptr(*pte) &^ ptePhysPageMask) | (uintptr(addr) & ptePhysPageMask))
}

// isPage returns true if the entry maps a page instead of pointing to the
// table of the next level. Entries at level 1 always map pages.
func (pte pageTableEntry) isPage(level Level) bool {
	return level == Level1 || pte.HasFlags(FlagHugePage)
}
