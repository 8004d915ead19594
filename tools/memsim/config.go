//go:build linux && amd64

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pascalmouret/journey-os/kernel/hal/multiboot"
	"github.com/pascalmouret/journey-os/kernel/kmain"
	"github.com/pascalmouret/journey-os/kernel/mem"
)

// defaultConfig describes the machine that is simulated when no -config flag
// is given: 64M of RAM with the usual legacy holes below 1M and an ACPI
// table area at the top of memory.
var defaultConfig = fmt.Sprintf(`
fill = 0xa5

[kernel]
start = 0x100000
end   = 0x180000

[[region]]
base   = 0x0
length = 0x9fc00
kind   = "available"

[[region]]
base   = 0x9fc00
length = 0x400
kind   = "reserved"

[[region]]
base   = 0xf0000
length = 0x10000
kind   = "reserved"

[[region]]
base   = 0x100000
length = 0x3ef0000
kind   = "available"

[[region]]
base   = 0x3ff0000
length = 0x10000
kind   = "acpi"

[heap]
start = 0x%x
size  = 0x%x

[workload]
frames      = 1024
allocations = 4096
max_alloc   = 512
workers     = 8
seed        = 1
fault_base  = 0x410000000000
fault_pages = 64
`, kmain.HeapStart, kmain.HeapSize)

// maxHostAddr bounds the virtual addresses that the simulator can back with
// host mappings (the lower half of the 47-bit user address space).
const maxHostAddr = 0x7000_0000_0000

// Config describes the simulated machine and the workloads run on it.
type Config struct {
	// Fill is the byte value that physical memory holds at power on.
	Fill uint8 `toml:"fill"`

	Kernel   KernelConfig   `toml:"kernel"`
	Regions  []RegionConfig `toml:"region"`
	Heap     HeapConfig     `toml:"heap"`
	Workload WorkloadConfig `toml:"workload"`
}

// KernelConfig holds the physical bounds of the kernel image. The first frame
// of the image holds the root page table set up by the boot code.
type KernelConfig struct {
	Start uint64 `toml:"start"`
	End   uint64 `toml:"end"`
}

// RegionConfig is one entry of the firmware memory map.
type RegionConfig struct {
	Base   uint64 `toml:"base"`
	Length uint64 `toml:"length"`
	Kind   string `toml:"kind"`
}

// HeapConfig places the kernel heap.
type HeapConfig struct {
	Start uint64 `toml:"start"`
	Size  uint64 `toml:"size"`
}

// WorkloadConfig holds the defaults for the workload subcommands.
type WorkloadConfig struct {
	Frames      int    `toml:"frames"`
	Allocations int    `toml:"allocations"`
	MaxAlloc    int    `toml:"max_alloc"`
	Workers     int    `toml:"workers"`
	Seed        int64  `toml:"seed"`
	FaultBase   uint64 `toml:"fault_base"`
	FaultPages  int    `toml:"fault_pages"`
}

// loadConfig decodes the TOML machine description at path or the built-in
// description if path is empty.
func loadConfig(path string) (*Config, error) {
	var (
		cfg Config
		md  toml.MetaData
		err error
	)

	if path == "" {
		md, err = toml.Decode(defaultConfig, &cfg)
	} else {
		md, err = toml.DecodeFile(path, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	pageSize := uint64(mem.PageSize)

	switch {
	case len(c.Regions) == 0:
		return errors.New("config: the memory map is empty")
	case c.Kernel.End <= c.Kernel.Start:
		return fmt.Errorf("config: invalid kernel image bounds [0x%x, 0x%x)", c.Kernel.Start, c.Kernel.End)
	case c.Kernel.Start%pageSize != 0:
		return fmt.Errorf("config: kernel image start 0x%x is not page aligned", c.Kernel.Start)
	case c.Kernel.End > c.MemorySize():
		return fmt.Errorf("config: kernel image ends beyond physical memory at 0x%x", c.MemorySize())
	case c.Heap.Size == 0 || c.Heap.Size%16 != 0:
		return fmt.Errorf("config: heap size 0x%x must be a positive multiple of 16", c.Heap.Size)
	case c.Heap.Start == 0 || c.Heap.Start%pageSize != 0:
		return fmt.Errorf("config: heap start 0x%x must be a non-zero page aligned address", c.Heap.Start)
	case c.Heap.Start+c.Heap.Size > maxHostAddr:
		return fmt.Errorf("config: heap must end below 0x%x", uint64(maxHostAddr))
	case c.Workload.FaultBase%pageSize != 0:
		return fmt.Errorf("config: fault base 0x%x is not page aligned", c.Workload.FaultBase)
	case c.Workload.FaultBase+uint64(c.Workload.FaultPages)*pageSize > maxHostAddr:
		return fmt.Errorf("config: fault region must end below 0x%x", uint64(maxHostAddr))
	case c.Workload.Workers < 1:
		return errors.New("config: at least one stress worker is required")
	case c.Workload.MaxAlloc < 1:
		return errors.New("config: max_alloc must be positive")
	}

	var usable bool
	for i, region := range c.Regions {
		kind, err := parseRegionKind(region.Kind)
		if err != nil {
			return fmt.Errorf("config: region %d: %w", i, err)
		}
		usable = usable || (kind == multiboot.MemAvailable && region.Length != 0)
	}
	if !usable {
		return errors.New("config: the memory map contains no available region")
	}

	return nil
}

// MemorySize returns the size of simulated physical memory: the end of the
// highest memory map entry rounded up to a page.
func (c *Config) MemorySize() uint64 {
	var end uint64
	for _, region := range c.Regions {
		if regionEnd := region.Base + region.Length; regionEnd > end {
			end = regionEnd
		}
	}

	return uint64(mem.AlignUp(uintptr(end), uintptr(mem.PageSize)))
}

// memoryMap converts the configured regions into multiboot memory map
// entries. It must only be called on a validated config.
func (c *Config) memoryMap() []multiboot.MemoryMapEntry {
	entries := make([]multiboot.MemoryMapEntry, len(c.Regions))
	for i, region := range c.Regions {
		kind, _ := parseRegionKind(region.Kind)
		entries[i] = multiboot.MemoryMapEntry{
			PhysAddress: region.Base,
			Length:      region.Length,
			Type:        kind,
		}
	}

	return entries
}

// parseRegionKind maps a region kind name (as printed by
// MemoryEntryType.String) to its memory map entry type.
func parseRegionKind(kind string) (multiboot.MemoryEntryType, error) {
	for _, t := range []multiboot.MemoryEntryType{
		multiboot.MemAvailable,
		multiboot.MemReserved,
		multiboot.MemAcpiReclaimable,
		multiboot.MemNvs,
		multiboot.MemBad,
	} {
		if strings.EqualFold(kind, t.String()) {
			return t, nil
		}
	}

	return 0, fmt.Errorf("unknown region kind %q", kind)
}
