package vmm

import (
	"github.com/pascalmouret/journey-os/kernel"
	"github.com/pascalmouret/journey-os/kernel/irq"
	"github.com/pascalmouret/journey-os/kernel/kfmt"
	"github.com/pascalmouret/journey-os/kernel/mem"
)

// Page fault error code bits pushed by the CPU.
const (
	faultProtection  = 1 << 0 // set: protection violation; clear: non-present page
	faultWrite       = 1 << 1
	faultUser        = 1 << 2
	faultReservedBit = 1 << 3
	faultInstrFetch  = 1 << 4
)

var (
	// faultMapper serves demand faults. It is set by Init.
	faultMapper *Mapper

	// the following function is mocked by tests and is automatically
	// inlined by the compiler.
	handleExceptionWithCodeFn = irq.HandleExceptionWithCode
)

// Init installs the paging-related exception handlers. Page faults caused by
// kernel-mode accesses to non-present pages are served by mapping a new,
// cleared page through m; all other page faults and general protection
// faults are fatal. Init returns errNoFaultMapper and installs nothing if m is
// nil.
func Init(m *Mapper) *kernel.Error {
	if m == nil {
		return errNoFaultMapper
	}
	faultMapper = m

	handleExceptionWithCodeFn(irq.PageFaultException, pageFaultHandler)
	handleExceptionWithCodeFn(irq.GPFException, generalProtectionFaultHandler)
	return nil
}

func pageFaultHandler(errorCode uint64, frame *irq.Frame, regs *irq.Regs) {
	faultAddress := uintptr(faultMapper.mmu.ReadCR2())

	// Only kernel-mode reads and writes of non-present pages are served
	if errorCode&^faultWrite != 0 {
		nonRecoverablePageFault(faultAddress, errorCode, frame, regs, nil)
	}

	if err := faultMapper.MapNewPage(mem.PageFromAddress(faultAddress)); err != nil {
		nonRecoverablePageFault(faultAddress, errorCode, frame, regs, err)
	}

	// Fault recovered; retry the instruction that caused the fault
}

func nonRecoverablePageFault(faultAddress uintptr, errorCode uint64, frame *irq.Frame, regs *irq.Regs, err *kernel.Error) {
	kfmt.Printf("\nPage fault while accessing address: 0x%16x\nReason: ", faultAddress)
	switch {
	case errorCode == 0:
		kfmt.Printf("read from non-present page")
	case errorCode == faultProtection:
		kfmt.Printf("page protection violation (read)")
	case errorCode == faultWrite:
		kfmt.Printf("write to non-present page")
	case errorCode == faultProtection|faultWrite:
		kfmt.Printf("page protection violation (write)")
	case errorCode&faultUser != 0:
		kfmt.Printf("page-fault in user-mode")
	case errorCode&faultReservedBit != 0:
		kfmt.Printf("page table has reserved bit set")
	case errorCode&faultInstrFetch != 0:
		kfmt.Printf("instruction fetch")
	default:
		kfmt.Printf("unknown")
	}

	if err != nil {
		kfmt.Printf("\nCould not map page: %s", err.Message)
	}

	kfmt.Printf("\n\nRegisters:\n")
	regs.Print()
	frame.Print()

	panic(errUnrecoverableFault)
}

// generalProtectionFaultHandler is invoked for various reasons:
// - segment errors (privilege, type or limit violations)
// - executing privileged instructions outside ring-0
// - attempts to access reserved or unimplemented CPU registers
func generalProtectionFaultHandler(_ uint64, frame *irq.Frame, regs *irq.Regs) {
	kfmt.Printf("\nGeneral protection fault while accessing address: 0x%x\n", faultMapper.mmu.ReadCR2())
	kfmt.Printf("Registers:\n")
	regs.Print()
	frame.Print()

	panic(errUnrecoverableFault)
}
