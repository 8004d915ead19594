package vmm

import (
	"bytes"
	"testing"
	"unsafe"

	"github.com/pascalmouret/journey-os/kernel"
	"github.com/pascalmouret/journey-os/kernel/hal/multiboot"
	"github.com/pascalmouret/journey-os/kernel/kfmt"
	"github.com/pascalmouret/journey-os/kernel/mem"
	"github.com/pascalmouret/journey-os/kernel/mem/pmm"
)

// fakeMMU records the MMU operations issued by a Mapper.
type fakeMMU struct {
	root    uintptr
	cr2     uint64
	flushed []uintptr
}

func (m *fakeMMU) ActivePDT() uintptr             { return m.root }
func (m *fakeMMU) SwitchPDT(pdtPhysAddr uintptr)  { m.root = pdtPhysAddr }
func (m *fakeMMU) FlushTLBEntry(virtAddr uintptr) { m.flushed = append(m.flushed, virtAddr) }
func (m *fakeMMU) ReadCR2() uint64                { return m.cr2 }

type testEnv struct {
	arena  []uint64
	window mem.PhysWindow
	frames *pmm.FrameMap
	mmu    *fakeMMU
	mapper *Mapper
	root   Table
}

// newTestEnv sets up physSize bytes of junk-filled physical memory, a frame
// map that tracks it and a mapper whose active address space is empty. The
// first two frames hold the "kernel image" and the frame bitmap; the root
// table lives in frame 2.
func newTestEnv(t *testing.T, physSize uintptr) *testEnv {
	env := &testEnv{
		arena:  make([]uint64, physSize>>mem.PointerShift),
		frames: new(pmm.FrameMap),
		mmu:    &fakeMMU{},
	}
	for i := range env.arena {
		env.arena[i] = 0xa5a5a5a5a5a5a5a5
	}
	env.window = mem.PhysWindow(uintptr(unsafe.Pointer(&env.arena[0])))

	visit := func(visitor multiboot.MemRegionVisitor) {
		visitor(&multiboot.MemoryMapEntry{PhysAddress: 0, Length: uint64(physSize), Type: multiboot.MemAvailable})
	}
	if err := env.frames.Init(env.window, visit, 0, 0x1000); err != nil {
		t.Fatal(err)
	}

	env.mapper = NewMapper(env.frames, env.window, env.mmu)

	var err *kernel.Error
	if env.root, err = env.mapper.NewAddressSpace(); err != nil {
		t.Fatal(err)
	}
	env.mapper.Activate(env.root)

	return env
}

// physBytes returns the contents of the physical memory range [addr, addr+size).
func (env *testEnv) physBytes(addr mem.PhysAddr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(env.window.Addr(addr))), size)
}

func recoverKernelError(fn func()) (err *kernel.Error) {
	defer func() {
		err, _ = recover().(*kernel.Error)
	}()

	fn()
	return nil
}

func mockSink() *bytes.Buffer {
	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	// drop any output replayed from the early ring buffer
	buf.Reset()
	return &buf
}
