package kfmt

import (
	"github.com/pascalmouret/journey-os/kernel"
	"github.com/pascalmouret/journey-os/kernel/cpu"
)

const panicBanner = "\n-----------------------------------\n"

var (
	// cpuHaltFn is replaced by tests.
	cpuHaltFn = cpu.Halt

	// errRuntimePanic carries the message of panics whose value is not a
	// *kernel.Error.
	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}

	// panicking is set while a panic report is being printed. A panic
	// raised by the report itself halts without printing.
	panicking bool
)

// Panic prints a report for the supplied value and halts the CPU. It never
// returns. Panic replaces runtime.gopanic in the kernel image, so a plain
// panic(*kernel.Error) in kernel code ends up here.
//
// Supported values are *kernel.Error, error, string and nil.
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	if panicking {
		cpuHaltFn()
		return
	}
	panicking = true
	defer func() { panicking = false }()

	var err *kernel.Error
	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	}

	Printf(panicBanner)
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***")
	Printf(panicBanner)

	cpuHaltFn()
}

// panicString replaces runtime.throw, which reports fatal runtime errors as
// plain strings.
//
//go:redirect-from runtime.throw
func panicString(msg string) {
	Panic(msg)
}
