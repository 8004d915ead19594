package mem

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

// Pages returns the number of PageSize pages required to hold s bytes.
func (s Size) Pages() uint64 {
	return uint64((s + PageSize - 1) >> PageShift)
}

// FrameSize is the size class of a physical frame or virtual page.
type FrameSize Size

// The size classes supported by 4-level amd64 paging.
const (
	// SmallFrame pages are mapped by a level 1 table entry.
	SmallFrame = FrameSize(4 * Kb)

	// LargeFrame pages are mapped by a level 2 table entry.
	LargeFrame = FrameSize(2 * Mb)

	// HugeFrame pages are mapped by a level 3 table entry.
	HugeFrame = FrameSize(1 * Gb)
)

// String implements fmt.Stringer for FrameSize.
func (s FrameSize) String() string {
	switch s {
	case SmallFrame:
		return "4K"
	case LargeFrame:
		return "2M"
	case HugeFrame:
		return "1G"
	default:
		return "invalid"
	}
}

// AlignUp rounds addr up to the next multiple of align. align must be a
// power of two.
func AlignUp(addr, align uintptr) uintptr {
	return (addr + align - 1) &^ (align - 1)
}

// AlignDown rounds addr down to a multiple of align. align must be a power
// of two.
func AlignDown(addr, align uintptr) uintptr {
	return addr &^ (align - 1)
}

// IsAligned returns true if addr is a multiple of align.
func IsAligned(addr, align uintptr) bool {
	return addr&(align-1) == 0
}

// IsPowerOfTwo returns true if v is a non-zero power of two.
func IsPowerOfTwo(v uintptr) bool {
	return v != 0 && v&(v-1) == 0
}
