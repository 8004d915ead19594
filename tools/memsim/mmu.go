//go:build linux && amd64

package main

import (
	"fmt"
	"sort"
	"sync"
	"unsafe"

	"github.com/pascalmouret/journey-os/kernel/mem"
	"github.com/pascalmouret/journey-os/kernel/mem/vmm"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// pteAddrMask extracts the frame address from a page table entry.
const pteAddrMask = 0x000ffffffffff000

// hostMapping is a translation that has been loaded into the host address
// space.
type hostMapping struct {
	frame mem.PhysAddr
	size  mem.FrameSize
}

// simMMU implements cpu.MMU on top of the host's virtual memory. Loading a
// translation into the "TLB" means mapping the backing frame of the simulated
// physical memory at the same virtual address in the host process, so code
// that dereferences a mapped kernel address reads and writes the frame.
type simMMU struct {
	phys *physMemory
	log  *logrus.Entry

	mu      sync.Mutex
	root    uintptr
	cr2     uint64
	loaded  map[uintptr]hostMapping
	flushes int
	err     error
}

func newSimMMU(phys *physMemory, root uintptr, log *logrus.Entry) *simMMU {
	return &simMMU{
		phys:   phys,
		log:    log,
		root:   root,
		loaded: make(map[uintptr]hostMapping),
	}
}

// ActivePDT implements cpu.MMU.
func (m *simMMU) ActivePDT() uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.root
}

// SwitchPDT implements cpu.MMU. Like a CR3 write it drops every loaded
// translation.
func (m *simMMU) SwitchPDT(pdtPhysAddr uintptr) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.root = pdtPhysAddr
	m.unloadAll()
}

// FlushTLBEntry implements cpu.MMU. The translation for virtAddr is looked up
// in the active tables and the host mapping is replaced or removed to match.
func (m *simMMU) FlushTLBEntry(virtAddr uintptr) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flushes++
	frame, size, ok := m.walk(mem.VirtAddr(virtAddr))
	page := mem.AlignDown(virtAddr, uintptr(size))

	if !ok {
		m.unload(mem.AlignDown(virtAddr, uintptr(mem.PageSize)))
		return
	}

	if err := m.load(page, hostMapping{frame: frame, size: size}); err != nil {
		m.log.WithError(err).Errorf("cannot load translation for 0x%x", virtAddr)
		if m.err == nil {
			m.err = err
		}
	}
}

// ReadCR2 implements cpu.MMU.
func (m *simMMU) ReadCR2() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cr2
}

func (m *simMMU) setCR2(addr uintptr) {
	m.mu.Lock()
	m.cr2 = uint64(addr)
	m.mu.Unlock()
}

// Err returns the first error encountered while loading a translation.
func (m *simMMU) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// stats returns the number of TLB flushes and loaded translations.
func (m *simMMU) stats() (flushes, loaded int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes, len(m.loaded)
}

// walk resolves virtAddr through the active tables the way the CPU's page
// walker does. It returns the frame backing the page that contains virtAddr
// and the page size.
func (m *simMMU) walk(virtAddr mem.VirtAddr) (mem.PhysAddr, mem.FrameSize, bool) {
	levels := []struct {
		index    uintptr
		pageSize mem.FrameSize
	}{
		{virtAddr.P4Index(), 0},
		{virtAddr.P3Index(), mem.HugeFrame},
		{virtAddr.P2Index(), mem.LargeFrame},
		{virtAddr.P1Index(), mem.SmallFrame},
	}

	table := mem.PhysAddr(m.root)
	for i, level := range levels {
		entryAddr := table + mem.PhysAddr(level.index<<mem.PointerShift)
		if !m.phys.contains(entryAddr, 8) {
			return 0, mem.SmallFrame, false
		}

		entry := m.phys.readUint64(entryAddr)
		if entry&uint64(vmm.FlagPresent) == 0 {
			return 0, mem.SmallFrame, false
		}

		next := mem.PhysAddr(entry & pteAddrMask)
		isPage := i == len(levels)-1 || (level.pageSize != 0 && entry&uint64(vmm.FlagHugePage) != 0)
		if isPage {
			return next, level.pageSize, true
		}
		table = next
	}

	return 0, mem.SmallFrame, false
}

func (m *simMMU) load(page uintptr, mapping hostMapping) error {
	if !m.phys.contains(mapping.frame, uint64(mapping.size)) {
		return fmt.Errorf("frame 0x%x is outside physical memory", uintptr(mapping.frame))
	}

	// Refuse to clobber host memory that the simulator did not map itself.
	flags := unix.MAP_SHARED | unix.MAP_FIXED_NOREPLACE
	if _, ok := m.loaded[page]; ok {
		flags = unix.MAP_SHARED | unix.MAP_FIXED
	}

	_, err := unix.MmapPtr(m.phys.fd, int64(mapping.frame), unsafe.Pointer(page), uintptr(mapping.size), unix.PROT_READ|unix.PROT_WRITE, flags)
	if err != nil {
		return fmt.Errorf("mapping frame 0x%x at 0x%x: %w", uintptr(mapping.frame), page, err)
	}

	m.loaded[page] = mapping
	m.log.Debugf("loaded %s translation 0x%x -> 0x%x", mapping.size.String(), page, uintptr(mapping.frame))
	return nil
}

func (m *simMMU) unload(page uintptr) {
	mapping, ok := m.loaded[page]
	if !ok {
		return
	}

	if err := unix.MunmapPtr(unsafe.Pointer(page), uintptr(mapping.size)); err != nil {
		m.log.WithError(err).Warnf("cannot unload translation for 0x%x", page)
	}
	delete(m.loaded, page)
}

func (m *simMMU) unloadAll() {
	for page := range m.loaded {
		m.unload(page)
	}
}

// loadedPages returns the host addresses that currently back a simulated
// translation in ascending order.
func (m *simMMU) loadedPages() []uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()

	pages := make([]uintptr, 0, len(m.loaded))
	for page := range m.loaded {
		pages = append(pages, page)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })
	return pages
}

// Close removes all host mappings.
func (m *simMMU) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unloadAll()
}
