package heap

import "unsafe"

// memoryNode is the header written in place at the start of every free heap
// region. Links are stored as plain addresses; a zero next marks the end of
// the free list.
type memoryNode struct {
	size uintptr
	next uintptr
}

const (
	nodeSize  = unsafe.Sizeof(memoryNode{})
	nodeAlign = unsafe.Alignof(memoryNode{})
)

// nodeAt returns the header stored at addr.
func nodeAt(addr uintptr) *memoryNode {
	return (*memoryNode)(unsafe.Pointer(addr))
}

// region describes a free node that was selected to serve an allocation.
type region struct {
	// node is the address of the (already unlinked) free node.
	node uintptr

	// allocStart and allocEnd delimit the part of the node handed out to
	// the caller. Any space in front of allocStart or after allocEnd is
	// either empty or large enough to host a header.
	allocStart uintptr
	allocEnd   uintptr
}
