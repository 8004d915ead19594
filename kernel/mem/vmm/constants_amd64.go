package vmm

// ptePhysPageMask selects bits 12-51 of an entry, which hold the physical
// address of the mapped frame or of the next level table.
const ptePhysPageMask = uintptr(0x000ffffffffff000)

// Entry flag bits defined by the amd64 4-level paging format.
const (
	// FlagPresent marks an entry as valid. The CPU ignores every other bit
	// of an entry that does not have it set.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW allows writes through the entry.
	FlagRW

	// FlagUserAccessible allows ring 3 access through the entry.
	FlagUserAccessible

	// FlagWriteThroughCaching selects write-through instead of write-back
	// caching.
	FlagWriteThroughCaching

	// FlagDoNotCache disables caching for the mapped page.
	FlagDoNotCache

	// FlagAccessed is set by the CPU on the first access through the entry.
	FlagAccessed

	// FlagDirty is set by the CPU on the first write to the mapped page.
	FlagDirty

	// FlagHugePage marks a level 3 or level 2 entry that maps a 1G or 2M
	// page directly.
	FlagHugePage

	// FlagGlobal keeps the translation cached across CR3 reloads.
	FlagGlobal

	// FlagNoExecute forbids instruction fetches from the mapped page.
	FlagNoExecute = 1 << 63
)
