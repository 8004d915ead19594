package mem

import "unsafe"

// Memset sets size bytes at the given address to the supplied value. Instead
// of a byte-by-byte loop it seeds the first byte and then doubles the
// initialized prefix with log2(size) copy calls.
func Memset(addr uintptr, value byte, size Size) {
	if size == 0 {
		return
	}

	target := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))
	target[0] = value
	for filled := 1; filled < len(target); filled *= 2 {
		copy(target[filled:], target[:filled])
	}
}

// Memcopy copies size bytes from src to dst. The regions must not overlap.
func Memcopy(src, dst uintptr, size Size) {
	if size == 0 {
		return
	}

	copy(
		unsafe.Slice((*byte)(unsafe.Pointer(dst)), int(size)),
		unsafe.Slice((*byte)(unsafe.Pointer(src)), int(size)),
	)
}
