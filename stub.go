package main

import "github.com/pascalmouret/journey-os/kernel/kmain"

// multibootInfoPtr is a variable rather than a constant so the call below
// cannot be folded away.
var multibootInfoPtr uintptr

// main is never executed. The boot assembly jumps straight into kmain.Kmain;
// this call only keeps Kmain and everything it references in the linked
// object.
func main() {
	kmain.Kmain(multibootInfoPtr, 0, 0)
}
