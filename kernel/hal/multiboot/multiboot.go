// Package multiboot reads the memory map that a multiboot2-compliant boot
// loader passes to the kernel.
package multiboot

import "unsafe"

type tagType uint32

// Tag types used by this package. The remaining multiboot2 tags are skipped.
const (
	tagMbSectionEnd tagType = 0
	tagMemoryMap    tagType = 6
)

// infoHeaderSize is the size of the fixed header (total size and a reserved
// dword) that precedes the first tag.
const infoHeaderSize = 8

// tagHeader precedes every tag. Tags start at 8-byte aligned addresses.
type tagHeader struct {
	tagType tagType

	// size covers the header and the payload but not the alignment padding.
	size uint32
}

// mmapHeader starts the payload of the memory map tag.
type mmapHeader struct {
	entrySize    uint32
	entryVersion uint32
}

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// MemBad indicates a memory region that is occupied by defective RAM.
	MemBad

	// memUnknown and every type above it are reported as MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemAcpiReclaimable:
		return "ACPI"
	case MemNvs:
		return "NVS"
	case MemBad:
		return "bad"
	default:
		return "reserved"
	}
}

// MemoryMapEntry is a single region of the firmware memory map.
type MemoryMapEntry struct {
	PhysAddress uint64
	Length      uint64
	Type        MemoryEntryType

	// Always zero; pads the entry to 24 bytes.
	reserved uint32
}

var (
	// infoData holds the address of the multiboot info block.
	infoData uintptr

	// visitEntry holds the copy handed to MemRegionVisitor. A package-level
	// copy keeps VisitMemRegions free of heap allocations.
	visitEntry MemoryMapEntry
)

// MemRegionVisitor is invoked by VisitMemRegions for each memory map entry.
// Returning false stops the scan.
type MemRegionVisitor func(entry *MemoryMapEntry) bool

// SetInfoPtr records the address of the multiboot info block handed over by
// the boot loader. It must be called before VisitMemRegions.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
}

// VisitMemRegions invokes visitor for each entry of the boot loader memory
// map in the order the boot loader listed them. The visitor receives a copy
// of the entry with unknown types normalized to MemReserved; the boot loader
// data is left untouched. The pointer is only valid during the call.
func VisitMemRegions(visitor MemRegionVisitor) {
	payload, size := findTag(tagMemoryMap)
	if size < uint32(unsafe.Sizeof(mmapHeader{})) {
		return
	}

	hdr := (*mmapHeader)(unsafe.Pointer(payload))
	if hdr.entrySize < uint32(unsafe.Sizeof(MemoryMapEntry{})) {
		return
	}

	end := payload + uintptr(size)
	for cur := payload + unsafe.Sizeof(mmapHeader{}); cur+uintptr(hdr.entrySize) <= end; cur += uintptr(hdr.entrySize) {
		visitEntry = *(*MemoryMapEntry)(unsafe.Pointer(cur))
		if visitEntry.Type == 0 || visitEntry.Type >= memUnknown {
			visitEntry.Type = MemReserved
		}

		if !visitor(&visitEntry) {
			return
		}
	}
}

// findTag returns the payload address and payload size of the first tag with
// the requested type, or (0, 0) if the info block does not contain one.
func findTag(want tagType) (uintptr, uint32) {
	if infoData == 0 {
		return 0, 0
	}

	cur := infoData + infoHeaderSize
	for {
		hdr := (*tagHeader)(unsafe.Pointer(cur))
		switch {
		case hdr.tagType == tagMbSectionEnd, hdr.size < uint32(unsafe.Sizeof(tagHeader{})):
			return 0, 0
		case hdr.tagType == want:
			return cur + unsafe.Sizeof(tagHeader{}), hdr.size - uint32(unsafe.Sizeof(tagHeader{}))
		}

		cur += uintptr((hdr.size + 7) &^ 7)
	}
}
