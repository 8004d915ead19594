//go:build linux && amd64

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pascalmouret/journey-os/kernel/hal/multiboot"
	"github.com/pascalmouret/journey-os/kernel/kmain"
)

func TestLoadDefaultConfig(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}

	if exp := uint64(64 << 20); cfg.MemorySize() != exp {
		t.Errorf("expected memory size 0x%x; got 0x%x", exp, cfg.MemorySize())
	}

	if cfg.Heap.Start != uint64(kmain.HeapStart) || cfg.Heap.Size != uint64(kmain.HeapSize) {
		t.Errorf("expected the kernel heap layout; got start 0x%x size 0x%x", cfg.Heap.Start, cfg.Heap.Size)
	}

	expMap := []multiboot.MemoryMapEntry{
		{PhysAddress: 0x0, Length: 0x9fc00, Type: multiboot.MemAvailable},
		{PhysAddress: 0x9fc00, Length: 0x400, Type: multiboot.MemReserved},
		{PhysAddress: 0xf0000, Length: 0x10000, Type: multiboot.MemReserved},
		{PhysAddress: 0x100000, Length: 0x3ef0000, Type: multiboot.MemAvailable},
		{PhysAddress: 0x3ff0000, Length: 0x10000, Type: multiboot.MemAcpiReclaimable},
	}
	if diff := cmp.Diff(expMap, cfg.memoryMap(), cmp.AllowUnexported(multiboot.MemoryMapEntry{})); diff != "" {
		t.Fatalf("memory map mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	const valid = `
[kernel]
start = 0x100000
end = 0x110000

[[region]]
base = 0x0
length = 0x400000
kind = "available"

[heap]
start = 0x400000000000
size = 0x2800

[workload]
workers = 1
max_alloc = 64
`

	specs := []struct {
		name   string
		config string
		expErr string
	}{
		{"valid", valid, ""},
		{"unknown key", valid + "\n[extra]\nkey = 1\n", "unknown config keys: extra"},
		{"bad kind", strings.Replace(valid, `"available"`, `"rom"`, 1), `unknown region kind "rom"`},
		{"no available memory", strings.Replace(valid, `"available"`, `"reserved"`, 1), "no available region"},
		{"kernel bounds", strings.Replace(valid, "end = 0x110000", "end = 0x100000", 1), "invalid kernel image bounds"},
		{"unaligned heap", strings.Replace(valid, "start = 0x400000000000", "start = 0x400000000008", 1), "page aligned"},
		{"heap size", strings.Replace(valid, "size = 0x2800", "size = 0x2801", 1), "multiple of 16"},
		{"malformed", "[kernel", "decoding config"},
	}

	dir := t.TempDir()
	for specIndex, spec := range specs {
		path := filepath.Join(dir, "machine.toml")
		if err := os.WriteFile(path, []byte(spec.config), 0o644); err != nil {
			t.Fatal(err)
		}

		_, err := loadConfig(path)
		switch {
		case spec.expErr == "" && err != nil:
			t.Errorf("[spec %d] %s: unexpected error: %v", specIndex, spec.name, err)
		case spec.expErr != "" && (err == nil || !strings.Contains(err.Error(), spec.expErr)):
			t.Errorf("[spec %d] %s: expected error containing %q; got %v", specIndex, spec.name, spec.expErr, err)
		}
	}
}

func TestParseRegionKind(t *testing.T) {
	specs := []struct {
		kind string
		exp  multiboot.MemoryEntryType
	}{
		{"available", multiboot.MemAvailable},
		{"Reserved", multiboot.MemReserved},
		{"acpi", multiboot.MemAcpiReclaimable},
		{"NVS", multiboot.MemNvs},
		{"bad", multiboot.MemBad},
	}

	for specIndex, spec := range specs {
		got, err := parseRegionKind(spec.kind)
		if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}

		if got != spec.exp {
			t.Errorf("[spec %d] expected %q to map to %s; got %s", specIndex, spec.kind, spec.exp, got)
		}
	}
}
