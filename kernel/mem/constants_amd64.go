package mem

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for this architecture is defined as (1 << PointerShift).
	PointerShift = 3

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = Size(1 << PageShift)

	// pageIndexBits is the number of virtual address bits consumed by each
	// level of the page table hierarchy (512 entries per table).
	pageIndexBits = 9

	// pageIndexMask extracts one table index from a shifted virtual address.
	pageIndexMask = (1 << pageIndexBits) - 1

	// Bit offsets of the table indices inside a virtual address.
	p4Shift = 39
	p3Shift = 30
	p2Shift = 21
	p1Shift = 12
)
