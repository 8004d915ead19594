// Package irq routes CPU exceptions to the kernel code that handles them.
package irq

import (
	"github.com/pascalmouret/journey-os/kernel"
	"github.com/pascalmouret/journey-os/kernel/kfmt"
)

// ExceptionNum defines an exception number that can be
// passed to the HandleException and HandleExceptionWithCode
// functions.
type ExceptionNum uint8

const (
	// DoubleFault occurs when an exception is unhandled
	// or when an exception occurs while the CPU is
	// trying to call an exception handler.
	DoubleFault = ExceptionNum(8)

	// GPFException is raised when a general protection fault occurs.
	GPFException = ExceptionNum(13)

	// PageFaultException is raised when a PDT or
	// PDT-entry is not present or when a privilege
	// and/or RW protection check fails.
	PageFaultException = ExceptionNum(14)

	// numExceptions is the number of exception vectors reserved by the CPU.
	numExceptions = 32
)

// ExceptionHandler is a function that handles an exception that does not push
// an error code to the stack. If the handler returns, any modifications to the
// supplied Frame and/or Regs pointers will be propagated back to the location
// where the exception occurred.
type ExceptionHandler func(*Frame, *Regs)

// ExceptionHandlerWithCode is a function that handles an exception that pushes
// an error code to the stack. If the handler returns, any modifications to the
// supplied Frame and/or Regs pointers will be propagated back to the location
// where the exception occurred.
type ExceptionHandlerWithCode func(uint64, *Frame, *Regs)

var (
	handlers         [numExceptions]ExceptionHandler
	handlersWithCode [numExceptions]ExceptionHandlerWithCode

	errUnhandledException = &kernel.Error{Module: "irq", Message: "unhandled exception"}
	errInvalidException   = &kernel.Error{Module: "irq", Message: "exception number out of range"}
)

// HandleException registers an exception handler (without an error code) for
// the given interrupt number. Registering a handler replaces any previously
// registered one; passing nil removes it.
func HandleException(exceptionNum ExceptionNum, handler ExceptionHandler) {
	if exceptionNum >= numExceptions {
		panic(errInvalidException)
	}
	handlers[exceptionNum] = handler
}

// HandleExceptionWithCode registers an exception handler (with an error code)
// for the given interrupt number.
func HandleExceptionWithCode(exceptionNum ExceptionNum, handler ExceptionHandlerWithCode) {
	if exceptionNum >= numExceptions {
		panic(errInvalidException)
	}
	handlersWithCode[exceptionNum] = handler
}

// DispatchException is invoked by the trap entry stubs for exceptions that do
// not push an error code.
func DispatchException(exceptionNum ExceptionNum, frame *Frame, regs *Regs) {
	if exceptionNum < numExceptions {
		if handler := handlers[exceptionNum]; handler != nil {
			handler(frame, regs)
			return
		}
	}

	unhandledException(exceptionNum, 0, frame, regs)
}

// DispatchExceptionWithCode is invoked by the trap entry stubs for exceptions
// that push an error code.
func DispatchExceptionWithCode(exceptionNum ExceptionNum, errorCode uint64, frame *Frame, regs *Regs) {
	if exceptionNum < numExceptions {
		if handler := handlersWithCode[exceptionNum]; handler != nil {
			handler(errorCode, frame, regs)
			return
		}
	}

	unhandledException(exceptionNum, errorCode, frame, regs)
}

func unhandledException(exceptionNum ExceptionNum, errorCode uint64, frame *Frame, regs *Regs) {
	kfmt.Printf("\nUnhandled exception %d (error code: 0x%x)\n", uint8(exceptionNum), errorCode)
	kfmt.Printf("Registers:\n")
	regs.Print()
	frame.Print()

	panic(errUnhandledException)
}
