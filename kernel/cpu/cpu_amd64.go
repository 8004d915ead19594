// Package cpu exposes the privileged amd64 instructions used by the kernel.
// The functions without a body are implemented in cpu_amd64.s; calling them
// from user-mode (e.g. a test binary) raises a fault.
package cpu

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution.
func Halt()

// FlushTLBEntry invalidates the TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT loads the physical address of a top-level page table into CR3.
// Writing CR3 flushes all non-global TLB entries.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the active top-level page table.
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register, i.e. the linear
// address that triggered the last page fault.
func ReadCR2() uint64

// MMU groups the paging-related CPU operations needed by the memory manager.
// Memory services receive an MMU instead of calling the instructions above
// directly so that they can also run on top of a simulated CPU.
type MMU interface {
	// ActivePDT returns the physical address of the active root table.
	ActivePDT() uintptr

	// SwitchPDT activates the root table at the given physical address.
	SwitchPDT(pdtPhysAddr uintptr)

	// FlushTLBEntry drops any cached translation for virtAddr.
	FlushTLBEntry(virtAddr uintptr)

	// ReadCR2 returns the address that caused the most recent page fault.
	ReadCR2() uint64
}

// Native is the MMU implementation backed by the running CPU.
var Native MMU = nativeMMU{}

type nativeMMU struct{}

func (nativeMMU) ActivePDT() uintptr             { return ActivePDT() }
func (nativeMMU) SwitchPDT(pdtPhysAddr uintptr)  { SwitchPDT(pdtPhysAddr) }
func (nativeMMU) FlushTLBEntry(virtAddr uintptr) { FlushTLBEntry(virtAddr) }
func (nativeMMU) ReadCR2() uint64                { return ReadCR2() }
