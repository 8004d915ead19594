package vmm

import (
	"github.com/pascalmouret/journey-os/kernel"
	"github.com/pascalmouret/journey-os/kernel/cpu"
	"github.com/pascalmouret/journey-os/kernel/mem"
	"github.com/pascalmouret/journey-os/kernel/mem/pmm"
	"github.com/pascalmouret/journey-os/kernel/sync"
)

// Mapper edits page tables. It allocates the frames for missing tables from
// a FrameAllocator, reaches table contents through a physical memory window
// and keeps the TLB coherent through an MMU.
//
// All methods are safe for concurrent use.
type Mapper struct {
	lock sync.Spinlock

	frames FrameAllocator
	window mem.PhysWindow
	mmu    cpu.MMU
}

// NewMapper returns a Mapper that uses the supplied frame allocator, physical
// memory window and MMU.
func NewMapper(frames FrameAllocator, window mem.PhysWindow, mmu cpu.MMU) *Mapper {
	return &Mapper{frames: frames, window: window, mmu: mmu}
}

// LoadCurrent returns the root table of the active address space.
func (m *Mapper) LoadCurrent() Table {
	return tableAt(m.window, mem.PhysAddr(m.mmu.ActivePDT()&ptePhysPageMask), Level4)
}

// NewAddressSpace allocates and clears a root table for a new address space.
func (m *Mapper) NewAddressSpace() (Table, *kernel.Error) {
	frame, err := m.frames.AllocFrame()
	if err != nil {
		return Table{}, err
	}

	mem.Memset(m.window.Addr(frame.Address), 0, mem.PageSize)
	return tableAt(m.window, frame.Address, Level4), nil
}

// Activate makes root the active address space. Loading a new root flushes
// all non-global TLB entries.
func (m *Mapper) Activate(root Table) {
	m.mmu.SwitchPDT(uintptr(root.Address()))
}

// MapFrame maps frame at the virtual address target in the address space
// rooted at root. Missing intermediate tables are allocated and cleared. 1G
// frames are installed in a level 3 entry, 2M frames in a level 2 entry and
// 4K frames in a level 1 entry; the TLB entry for target is invalidated
// afterwards.
//
// Both target and the frame address must be aligned to the frame size.
// Mapping a target that is already mapped is not detected.
func (m *Mapper) MapFrame(frame pmm.Frame, target mem.VirtAddr, root Table) *kernel.Error {
	m.lock.Acquire()
	defer m.lock.Release()

	return m.mapFrame(frame, target, root)
}

func (m *Mapper) mapFrame(frame pmm.Frame, target mem.VirtAddr, root Table) *kernel.Error {
	pageLevel, ok := levelForSize(frame.Size)
	if !ok {
		return errInvalidFrameSize
	}

	if !mem.IsAligned(uintptr(target), uintptr(frame.Size)) || !mem.IsAligned(uintptr(frame.Address), uintptr(frame.Size)) {
		log.Printf("cannot map %s frame 0x%16x at 0x%16x: misaligned\n",
			frame.Size.String(), uintptr(frame.Address), uintptr(target))
		panic(errMisalignedTarget)
	}

	var (
		table = root
		err   *kernel.Error
	)
	for table.level != pageLevel {
		if table, err = table.nextOrCreate(table.level.indexOf(target), m.frames); err != nil {
			return err
		}
	}

	pte := table.entry(table.level.indexOf(target))
	*pte = 0
	pte.SetFrame(frame.Address)
	pte.SetFlags(FlagPresent | FlagRW)
	if pageLevel != Level1 {
		pte.SetFlags(FlagHugePage)
	}

	m.mmu.FlushTLBEntry(uintptr(target))
	return nil
}

// MapNewPage allocates a frame, clears it and maps it at page in the active
// address space. If the mapping cannot be installed the frame is returned to
// the allocator.
func (m *Mapper) MapNewPage(page mem.VirtAddr) *kernel.Error {
	m.lock.Acquire()
	defer m.lock.Release()

	frame, err := m.frames.AllocFrame()
	if err != nil {
		return err
	}

	mem.Memset(m.window.Addr(frame.Address), 0, mem.PageSize)
	if err = m.mapFrame(frame, page, m.LoadCurrent()); err != nil {
		_ = m.frames.FreeFrame(frame)
		return err
	}

	return nil
}
