//go:build linux && amd64

package main

import (
	"fmt"

	"github.com/pascalmouret/journey-os/kernel/mem"
)

// faultCodeProtection flags a fault caused by a protection violation on a
// present page.
const faultCodeProtection = 1 << 0

type faultReport struct {
	Base       hexAddr `yaml:"base"`
	Pages      int     `yaml:"pages"`
	Verified   int     `yaml:"verified"`
	FramesUsed uint64  `yaml:"frames_used"`
	Loaded     int     `yaml:"loaded_translations"`
	Refused    string  `yaml:"refused_fault"`
}

// runFaults touches pages consecutive pages starting at base. None of them
// is mapped so every first access is served by the kernel's page fault
// handler. Even pages are first read (and must read as zero), odd pages are
// first written. The written value must then be visible in the physical
// frame that the kernel mapped. Finally a protection fault is raised which
// the kernel must refuse.
func runFaults(sim *Simulator, base uintptr, pages int) (faultReport, error) {
	var (
		mapper = sim.Core.Mapper
		report = faultReport{Base: hexAddr(base), Pages: pages}
		before = sim.Core.Frames.Stats().Free
	)

	for i := 0; i < pages; i++ {
		addr := base + uintptr(i)<<mem.PageShift + uintptr(i*64)%uintptr(mem.PageSize)
		pattern := byte(i) ^ 0x5a

		if i%2 == 0 {
			value, err := sim.LoadByte(addr)
			if err != nil {
				return report, err
			}
			if value != 0 {
				return report, fmt.Errorf("demand-mapped page at 0x%x was not cleared: read 0x%x", addr, value)
			}
		}

		if err := sim.StoreByte(addr, pattern); err != nil {
			return report, err
		}

		phys, kerr := mapper.Translate(mem.VirtAddr(addr), mapper.LoadCurrent())
		if kerr != nil {
			return report, fmt.Errorf("translating 0x%x: %w", addr, kerr)
		}

		if got := sim.phys.bytes(phys, 1)[0]; got != pattern {
			return report, fmt.Errorf("physical address 0x%x backing 0x%x holds 0x%x; expected 0x%x", uintptr(phys), addr, got, pattern)
		}
		report.Verified++
	}

	report.FramesUsed = before - sim.Core.Frames.Stats().Free
	if report.FramesUsed < uint64(pages) {
		return report, fmt.Errorf("expected at least %d frames to be consumed; got %d", pages, report.FramesUsed)
	}
	_, report.Loaded = sim.mmu.stats()

	err := sim.RaisePageFault(base, faultCodeProtection|faultCodeWrite)
	if err == nil {
		return report, fmt.Errorf("expected the protection fault at 0x%x to be refused", base)
	}
	report.Refused = err.Error()

	return report, nil
}
