package vmm

import "github.com/pascalmouret/journey-os/kernel/mem"

// Level identifies a table in the 4-level amd64 paging hierarchy. Level4 is
// the root table whose physical address is loaded into CR3.
type Level uint8

const (
	levelInvalid Level = iota

	// Level1 tables map 4K pages.
	Level1

	// Level2 tables point to level 1 tables or map 2M pages.
	Level2

	// Level3 tables point to level 2 tables or map 1G pages.
	Level3

	// Level4 is the root of the hierarchy.
	Level4
)

// Next returns the level of the tables referenced by entries at level l.
// Level1 has no next level; calling Next on it returns an invalid level.
func (l Level) Next() Level {
	if !l.Hierarchical() {
		return levelInvalid
	}
	return l - 1
}

// Hierarchical returns true if entries of this level can point to a table of
// a lower level.
func (l Level) Hierarchical() bool {
	return l > Level1 && l <= Level4
}

// indexOf returns the index of the entry in a table of this level that is
// used when translating addr.
func (l Level) indexOf(addr mem.VirtAddr) uintptr {
	switch l {
	case Level4:
		return addr.P4Index()
	case Level3:
		return addr.P3Index()
	case Level2:
		return addr.P2Index()
	default:
		return addr.P1Index()
	}
}

// pageSize returns the size of the page mapped by an entry of this level
// that has FlagHugePage set (or any entry in the case of Level1).
func (l Level) pageSize() mem.FrameSize {
	switch l {
	case Level3:
		return mem.HugeFrame
	case Level2:
		return mem.LargeFrame
	default:
		return mem.SmallFrame
	}
}

// levelForSize returns the level at which a page of the given size is
// installed.
func levelForSize(size mem.FrameSize) (Level, bool) {
	switch size {
	case mem.SmallFrame:
		return Level1, true
	case mem.LargeFrame:
		return Level2, true
	case mem.HugeFrame:
		return Level3, true
	default:
		return levelInvalid, false
	}
}

// String implements fmt.Stringer for Level.
func (l Level) String() string {
	switch l {
	case Level1:
		return "L1"
	case Level2:
		return "L2"
	case Level3:
		return "L3"
	case Level4:
		return "L4"
	default:
		return "invalid"
	}
}
