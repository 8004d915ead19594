//go:build linux && amd64

package main

import (
	"fmt"
	"unsafe"

	"github.com/pascalmouret/journey-os/kernel/mem"
	"golang.org/x/sys/unix"
)

// physMemory is the simulated RAM: a memfd that is mapped once as the
// physical memory window and again, page by page, wherever the simulated MMU
// installs a translation.
type physMemory struct {
	fd     int
	buf    []byte
	window mem.PhysWindow
}

func newPhysMemory(size uint64, fill byte) (*physMemory, error) {
	fd, err := unix.MemfdCreate("memsim-phys", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("creating physical memory: %w", err)
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("sizing physical memory to 0x%x bytes: %w", size, err)
	}

	buf, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mapping physical memory window: %w", err)
	}

	p := &physMemory{
		fd:     fd,
		buf:    buf,
		window: mem.PhysWindow(uintptr(unsafe.Pointer(&buf[0]))),
	}
	mem.Memset(p.window.Addr(0), fill, mem.Size(size))

	return p, nil
}

// size returns the amount of simulated RAM in bytes.
func (p *physMemory) size() uint64 {
	return uint64(len(p.buf))
}

// contains returns true if [addr, addr+length) lies inside simulated RAM.
func (p *physMemory) contains(addr mem.PhysAddr, length uint64) bool {
	return uint64(addr) <= p.size() && length <= p.size()-uint64(addr)
}

// bytes returns the contents of the physical range [addr, addr+length).
func (p *physMemory) bytes(addr mem.PhysAddr, length uint64) []byte {
	return p.buf[addr : uint64(addr)+length]
}

// readUint64 loads the 8-byte value at the physical address addr.
func (p *physMemory) readUint64(addr mem.PhysAddr) uint64 {
	return *(*uint64)(unsafe.Pointer(p.window.Addr(addr)))
}

func (p *physMemory) Close() error {
	if err := unix.Munmap(p.buf); err != nil {
		return fmt.Errorf("unmapping physical memory window: %w", err)
	}
	p.buf = nil

	return unix.Close(p.fd)
}
