package irq

import "github.com/pascalmouret/journey-os/kernel/kfmt"

// Regs contains a snapshot of the general purpose registers at the time an
// exception was raised.
type Regs struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64
}

// Frame is the exception frame pushed by the CPU before control reaches a
// handler.
type Frame struct {
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// dumpField is a labelled register value. Labels are padded to three
// characters so that the dump lines up in two columns.
type dumpField struct {
	label string
	value uint64
}

// printFields writes fields two per line.
func printFields(fields []dumpField) {
	for i, f := range fields {
		if i%2 == 1 {
			kfmt.Printf(" ")
		}
		kfmt.Printf("%s = %16x", f.label, f.value)
		if i%2 == 1 || i == len(fields)-1 {
			kfmt.Printf("\n")
		}
	}
}

// Print dumps the register snapshot to the kernel console.
func (r *Regs) Print() {
	fields := [...]dumpField{
		{"RAX", r.RAX}, {"RBX", r.RBX},
		{"RCX", r.RCX}, {"RDX", r.RDX},
		{"RSI", r.RSI}, {"RDI", r.RDI},
		{"RBP", r.RBP}, {"R8 ", r.R8},
		{"R9 ", r.R9}, {"R10", r.R10},
		{"R11", r.R11}, {"R12", r.R12},
		{"R13", r.R13}, {"R14", r.R14},
		{"R15", r.R15},
	}
	printFields(fields[:])
}

// Print dumps the exception frame to the kernel console.
func (f *Frame) Print() {
	fields := [...]dumpField{
		{"RIP", f.RIP}, {"CS ", f.CS},
		{"RSP", f.RSP}, {"SS ", f.SS},
		{"RFL", f.RFlags},
	}
	printFields(fields[:])
}
