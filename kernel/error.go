// Package kernel contains types shared by every kernel subsystem.
package kernel

// Error describes a kernel error. Errors are declared as package-level
// pointers so they can be returned before any allocator is online and so that
// callers can compare them by identity.
type Error struct {
	// Module names the subsystem that raised the error (e.g. "frames").
	Module string

	// Message describes what failed.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
