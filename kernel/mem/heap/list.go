package heap

import "github.com/pascalmouret/journey-os/kernel/mem"

// findRegion unlinks and returns the first free node that can hold size bytes
// aligned to align. If no node fits and merged is false, the free list is
// coalesced and the search is retried once.
func (h *Heap) findRegion(size, align uintptr, merged bool) (region, bool) {
	for prev, addr := &h.head, h.head.next; addr != 0; prev, addr = nodeAt(addr), nodeAt(addr).next {
		if allocStart, allocEnd, ok := regionFromNode(addr, size, align); ok {
			prev.next = nodeAt(addr).next
			return region{node: addr, allocStart: allocStart, allocEnd: allocEnd}, true
		}
	}

	if !merged {
		h.mergeList()
		return h.findRegion(size, align, true)
	}

	return region{}, false
}

// regionFromNode checks whether the node at addr can serve the request and
// returns the bounds of the block inside it. Both the space in front of the
// block and the remainder after it must be either empty or large enough to
// host a node.
func regionFromNode(addr, size, align uintptr) (uintptr, uintptr, bool) {
	nodeEnd := addr + nodeAt(addr).size

	allocStart := mem.AlignUp(addr, align)
	if gap := allocStart - addr; gap != 0 && gap < nodeSize {
		allocStart = mem.AlignUp(addr+nodeSize, align)
	}
	allocEnd := mem.AlignUp(allocStart+size, nodeAlign)

	if allocStart < addr || allocEnd < allocStart || allocEnd > nodeEnd {
		return 0, 0, false
	}

	if remainder := nodeEnd - allocEnd; remainder != 0 && remainder < nodeSize {
		return 0, 0, false
	}

	return allocStart, allocEnd, true
}

// mergeList coalesces free nodes that are adjacent or separated by less than
// a node's worth of padding. Merged pairs are replaced by a node spanning
// their union and the scan restarts until a full pass finds nothing to merge.
// It returns the number of merges performed.
func (h *Heap) mergeList() int {
	var merges int
	for {
		a, b, ok := h.findAdjacentPair()
		if !ok {
			break
		}

		start, end := a, a+nodeAt(a).size
		if b < start {
			start = b
		}
		if bEnd := b + nodeAt(b).size; bEnd > end {
			end = bEnd
		}

		h.unlink(a)
		h.unlink(b)
		h.freeRegion(start, end-start)
		merges++
	}

	if merges != 0 {
		log.Printf("coalesced %d free regions\n", merges)
	}

	return merges
}

// findAdjacentPair returns the first pair of free nodes that can be merged.
func (h *Heap) findAdjacentPair() (uintptr, uintptr, bool) {
	for a := h.head.next; a != 0; a = nodeAt(a).next {
		aEnd := a + nodeAt(a).size
		for b := h.head.next; b != 0; b = nodeAt(b).next {
			if b == a {
				continue
			}

			bEnd := b + nodeAt(b).size
			if (b >= aEnd && b-aEnd < nodeSize) || (bEnd <= a && a-bEnd < nodeSize) {
				return a, b, true
			}
		}
	}

	return 0, 0, false
}

// unlink removes the node at addr from the free list.
func (h *Heap) unlink(addr uintptr) {
	for prev := &h.head; prev.next != 0; prev = nodeAt(prev.next) {
		if prev.next == addr {
			prev.next = nodeAt(addr).next
			return
		}
	}
}
