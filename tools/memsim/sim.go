//go:build linux && amd64

package main

import (
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"unsafe"

	"github.com/pascalmouret/journey-os/kernel"
	"github.com/pascalmouret/journey-os/kernel/hal/multiboot"
	"github.com/pascalmouret/journey-os/kernel/irq"
	"github.com/pascalmouret/journey-os/kernel/kfmt"
	"github.com/pascalmouret/journey-os/kernel/kmain"
	"github.com/pascalmouret/journey-os/kernel/mem"
	ksync "github.com/pascalmouret/journey-os/kernel/sync"
	"github.com/sirupsen/logrus"
)

// Page fault error codes raised by the simulator. Faults are always reported
// as kernel-mode accesses to non-present pages.
const (
	faultCodeRead  = 0
	faultCodeWrite = 1 << 1
)

var errUnresolvedFault = errors.New("access faulted after the page fault was served")

// Simulator runs the kernel memory core inside the host process.
type Simulator struct {
	cfg  *Config
	log  *logrus.Entry
	phys *physMemory
	mmu  *simMMU
	sink *kernelLogSink

	// info holds the multiboot information block handed to the kernel.
	info []byte

	Core kmain.MemoryCore
}

// NewSimulator allocates the simulated physical memory described by cfg.
func NewSimulator(cfg *Config, logger *logrus.Logger) (*Simulator, error) {
	phys, err := newPhysMemory(cfg.MemorySize(), cfg.Fill)
	if err != nil {
		return nil, err
	}

	log := logger.WithField("component", "memsim")
	return &Simulator{
		cfg:  cfg,
		log:  log,
		phys: phys,
		mmu:  newSimMMU(phys, uintptr(cfg.Kernel.Start), log.WithField("component", "mmu")),
		sink: newKernelLogSink(logger.WithField("component", "kernel")),
	}, nil
}

// Boot performs the work of the boot loader and the kernel's rt0 code and then
// brings up the memory core.
func (s *Simulator) Boot() error {
	// The boot code leaves an empty root table in the first frame of the
	// kernel image.
	mem.Memset(s.phys.window.Addr(mem.PhysAddr(s.cfg.Kernel.Start)), 0, mem.PageSize)

	s.info = multiboot.EncodeMemoryMap(s.cfg.memoryMap())
	multiboot.SetInfoPtr(uintptr(unsafe.Pointer(&s.info[0])))

	kfmt.SetOutputSink(s.sink)
	ksync.SetYieldFunc(runtime.Gosched)

	err := s.Core.Init(kmain.BootParams{
		Window:      s.phys.window,
		MMU:         s.mmu,
		Regions:     multiboot.VisitMemRegions,
		KernelStart: uintptr(s.cfg.Kernel.Start),
		KernelEnd:   uintptr(s.cfg.Kernel.End),
		HeapStart:   uintptr(s.cfg.Heap.Start),
		HeapSize:    uintptr(s.cfg.Heap.Size),
	})
	if err != nil {
		return fmt.Errorf("booting memory core: %w", err)
	}

	if err := s.mmu.Err(); err != nil {
		return fmt.Errorf("booting memory core: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"memory": s.phys.size(),
		"heap":   fmt.Sprintf("0x%x", s.cfg.Heap.Start),
	}).Debug("memory core online")
	return nil
}

// StoreByte stores value at the virtual address addr. Accessing an unmapped
// address raises a page fault that is served by the kernel's handler.
func (s *Simulator) StoreByte(addr uintptr, value byte) error {
	return s.access(addr, faultCodeWrite, func() {
		*(*byte)(unsafe.Pointer(addr)) = value
	})
}

// LoadByte loads the byte at the virtual address addr, serving page faults
// like StoreByte.
func (s *Simulator) LoadByte(addr uintptr) (byte, error) {
	var value byte
	err := s.access(addr, faultCodeRead, func() {
		value = *(*byte)(unsafe.Pointer(addr))
	})

	return value, err
}

// RaisePageFault dispatches a page fault for addr with the supplied error
// code and reports whether the kernel recovered from it.
func (s *Simulator) RaisePageFault(addr uintptr, errorCode uint64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			kerr, ok := r.(*kernel.Error)
			if !ok {
				panic(r)
			}
			err = fmt.Errorf("page fault at 0x%x (code 0x%x): [%s] %w", addr, errorCode, kerr.Module, kerr)
		}
	}()

	s.mmu.setCR2(addr)
	irq.DispatchExceptionWithCode(irq.PageFaultException, errorCode, &irq.Frame{RIP: uint64(addr)}, &irq.Regs{})

	return s.mmu.Err()
}

func (s *Simulator) access(addr uintptr, errorCode uint64, op func()) error {
	faultAddr, faulted := tryAccess(op)
	if !faulted {
		return nil
	}

	if err := s.RaisePageFault(faultAddr, errorCode); err != nil {
		return err
	}

	if _, faulted = tryAccess(op); faulted {
		return fmt.Errorf("0x%x: %w", addr, errUnresolvedFault)
	}

	return nil
}

// tryAccess runs op and reports the address of the memory fault it caused,
// if any.
func tryAccess(op func()) (faultAddr uintptr, faulted bool) {
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer func() {
		r := recover()
		if r == nil {
			return
		}

		fault, ok := r.(interface{ Addr() uintptr })
		if !ok {
			panic(r)
		}
		faultAddr, faulted = fault.Addr(), true
	}()

	op()
	return 0, false
}

// KernelLog returns the lines printed by the kernel so far.
func (s *Simulator) KernelLog() []string {
	return s.sink.Lines()
}

// Close tears down all host mappings and releases the simulated memory.
func (s *Simulator) Close() error {
	kfmt.SetOutputSink(nil)
	multiboot.SetInfoPtr(0)

	s.mmu.Close()
	return s.phys.Close()
}
