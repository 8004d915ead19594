package vmm

import (
	"github.com/pascalmouret/journey-os/kernel"
	"github.com/pascalmouret/journey-os/kernel/mem"
)

// Translate returns the physical address that corresponds to the supplied
// virtual address in the address space rooted at root or ErrInvalidMapping if
// the virtual address does not correspond to a mapped physical address.
func (m *Mapper) Translate(virtAddr mem.VirtAddr, root Table) (mem.PhysAddr, *kernel.Error) {
	m.lock.Acquire()
	defer m.lock.Release()

	for table := root; ; {
		pte := *table.entry(table.level.indexOf(virtAddr))
		if !pte.HasFlags(FlagPresent) {
			return 0, ErrInvalidMapping
		}

		if pte.isPage(table.level) {
			// Append the offset inside the page to the frame address
			return pte.Frame() + mem.PhysAddr(virtAddr.PageOffset(table.level.pageSize())), nil
		}

		table = tableAt(table.window, pte.Frame(), table.level.Next())
	}
}
