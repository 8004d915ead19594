package multiboot

import (
	"encoding/binary"
	"unsafe"
)

// EncodeMemoryMap serializes entries into a multiboot2 info block that holds
// a single memory map tag followed by the end tag. The returned buffer is laid
// out exactly as a boot loader would leave it in memory so host programs and
// tests can point SetInfoPtr at it.
func EncodeMemoryMap(entries []MemoryMapEntry) []byte {
	var (
		entrySize = uint32(unsafe.Sizeof(MemoryMapEntry{}))
		tagSize   = 8 + 8 + entrySize*uint32(len(entries))
		// info header + mmap tag (padded to 8 bytes) + end tag
		totalSize = 8 + ((tagSize + 7) &^ 7) + 8
	)

	// Back the block with uint64s so it starts at an 8-byte aligned address.
	backing := make([]uint64, totalSize/8)
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&backing[0])), totalSize)

	le := binary.LittleEndian
	le.PutUint32(buf[0:], totalSize)

	off := uint32(8)
	le.PutUint32(buf[off:], uint32(tagMemoryMap))
	le.PutUint32(buf[off+4:], tagSize)
	le.PutUint32(buf[off+8:], entrySize)
	off += 16
	for _, entry := range entries {
		le.PutUint64(buf[off:], entry.PhysAddress)
		le.PutUint64(buf[off+8:], entry.Length)
		le.PutUint32(buf[off+16:], uint32(entry.Type))
		off += entrySize
	}

	off = (off + 7) &^ 7
	le.PutUint32(buf[off:], uint32(tagMbSectionEnd))
	le.PutUint32(buf[off+4:], 8)

	return buf
}
