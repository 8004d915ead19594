package vmm

import (
	"unsafe"

	"github.com/pascalmouret/journey-os/kernel"
	"github.com/pascalmouret/journey-os/kernel/mem"
)

// Table is a view of a page-aligned physical frame interpreted as the 512
// entries of a page table at a particular level. Tables are accessed through
// the physical memory window so that any table can be edited regardless of
// the address space that is currently active.
type Table struct {
	level  Level
	phys   mem.PhysAddr
	window mem.PhysWindow
}

// tableAt returns a view of the table stored in the frame at phys.
func tableAt(window mem.PhysWindow, phys mem.PhysAddr, level Level) Table {
	return Table{level: level, phys: phys, window: window}
}

// Level returns the paging level of the table.
func (t Table) Level() Level { return t.level }

// Address returns the physical address of the table.
func (t Table) Address() mem.PhysAddr { return t.phys }

// entry returns a pointer to the entry at index.
func (t Table) entry(index uintptr) *pageTableEntry {
	return (*pageTableEntry)(unsafe.Pointer(t.window.Addr(t.phys) + index<<mem.PointerShift))
}

// next returns the table referenced by the entry at index. It returns false
// if the entry is not present or maps a page.
func (t Table) next(index uintptr) (Table, bool) {
	pte := *t.entry(index)
	if !pte.HasFlags(FlagPresent) || pte.isPage(t.level) {
		return Table{}, false
	}

	return tableAt(t.window, pte.Frame(), t.level.Next()), true
}

// createNext allocates and clears a frame for the next level table and
// installs it at index as a present, writable entry. The entry must not be
// present; overwriting a live entry would leak the table it references.
func (t Table) createNext(index uintptr, frames FrameAllocator) (Table, *kernel.Error) {
	if !t.level.Hierarchical() {
		panic(errNoNextLevel)
	}

	pte := t.entry(index)
	if pte.HasFlags(FlagPresent) {
		log.Printf("%s table at 0x%16x already has a present entry at index %d (0x%16x)\n",
			t.level.String(), uintptr(t.phys), index, uintptr(*pte))
		panic(errTableExists)
	}

	frame, err := frames.AllocFrame()
	if err != nil {
		return Table{}, err
	}
	mem.Memset(t.window.Addr(frame.Address), 0, mem.PageSize)

	*pte = 0
	pte.SetFrame(frame.Address)
	pte.SetFlags(FlagPresent | FlagRW)

	return tableAt(t.window, frame.Address, t.level.Next()), nil
}

// nextOrCreate returns the table referenced by the entry at index, creating
// it if the entry is not present. It returns errHugePageInPath if the entry
// maps a 2M or 1G page.
func (t Table) nextOrCreate(index uintptr, frames FrameAllocator) (Table, *kernel.Error) {
	if next, ok := t.next(index); ok {
		return next, nil
	}

	if t.entry(index).HasFlags(FlagPresent) {
		return Table{}, errHugePageInPath
	}

	return t.createNext(index, frames)
}
