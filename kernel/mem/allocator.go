package mem

// Allocator is the dynamic memory allocation interface that the memory core
// exposes to the rest of the kernel.
type Allocator interface {
	// Alloc reserves size bytes aligned to align (a power of two) and
	// returns the block address or 0 if the request cannot be satisfied.
	Alloc(size, align uintptr) uintptr

	// Free returns a block obtained from Alloc. size and align must match
	// the values passed to Alloc.
	Free(addr, size, align uintptr)
}
