package vmm

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pascalmouret/journey-os/kernel/kfmt"
	"github.com/pascalmouret/journey-os/kernel/mem"
	"github.com/pascalmouret/journey-os/kernel/mem/pmm"
)

func TestNewAddressSpace(t *testing.T) {
	env := newTestEnv(t, 256*uintptr(mem.Kb))

	if exp, got := mem.PhysAddr(0x2000), env.root.Address(); got != exp {
		t.Fatalf("expected root table at 0x%x; got 0x%x", exp, got)
	}

	if env.root.Level() != Level4 {
		t.Fatalf("expected root table level to be %s; got %s", Level4, env.root.Level())
	}

	for i, b := range env.physBytes(env.root.Address(), uintptr(mem.PageSize)) {
		if b != 0 {
			t.Fatalf("expected root table to be cleared; byte %d is 0x%x", i, b)
		}
	}

	// The active root may carry cache control bits in the low 12 bits.
	env.mmu.root |= 0x18
	if got := env.mapper.LoadCurrent(); got != env.root {
		t.Fatalf("expected LoadCurrent to return the root table at 0x%x; got 0x%x", env.root.Address(), got.Address())
	}
}

func TestMapFrameSmall(t *testing.T) {
	env := newTestEnv(t, 256*uintptr(mem.Kb))

	frame, err := env.frames.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}
	freeBefore := env.frames.Stats().Free

	// This address breaks down to the table indices 1, 2, 3, 4
	target := mem.VirtAddr(0x8080604000)
	if err := env.mapper.MapFrame(frame, target, env.root); err != nil {
		t.Fatal(err)
	}

	if exp, got := freeBefore-3, env.frames.Stats().Free; got != exp {
		t.Errorf("expected MapFrame to allocate 3 tables; free frames went from %d to %d", freeBefore, got)
	}

	if diff := cmp.Diff([]uintptr{uintptr(target)}, env.mmu.flushed); diff != "" {
		t.Errorf("flushed TLB entries mismatch (-want +got):\n%s", diff)
	}

	table := env.root
	for _, level := range []Level{Level4, Level3, Level2} {
		next, ok := table.next(level.indexOf(target))
		if !ok {
			t.Fatalf("expected %s entry to reference a table", level)
		}
		if next.Level() != level.Next() {
			t.Fatalf("expected %s table; got %s", level.Next(), next.Level())
		}
		if pte := *table.entry(level.indexOf(target)); !pte.HasFlags(FlagPresent|FlagRW) || pte.HasFlags(FlagHugePage) {
			t.Fatalf("expected %s entry to be a present, writable table entry; got 0x%x", level, uintptr(pte))
		}
		table = next
	}

	pte := *table.entry(4)
	if !pte.HasFlags(FlagPresent|FlagRW) || pte.HasFlags(FlagHugePage) {
		t.Fatalf("expected L1 entry to be a present, writable 4K entry; got 0x%x", uintptr(pte))
	}
	if pte.Frame() != frame.Address {
		t.Fatalf("expected L1 entry to point to 0x%x; got 0x%x", frame.Address, pte.Frame())
	}

	if got, err := env.mapper.Translate(target+0x123, env.root); err != nil || got != frame.Address+0x123 {
		t.Fatalf("expected Translate to return 0x%x; got 0x%x, %v", frame.Address+0x123, got, err)
	}

	// A second page in the same 2M region reuses the existing tables
	frame2, _ := env.frames.AllocFrame()
	freeBefore = env.frames.Stats().Free
	if err := env.mapper.MapFrame(frame2, target+0x1000, env.root); err != nil {
		t.Fatal(err)
	}
	if got := env.frames.Stats().Free; got != freeBefore {
		t.Fatalf("expected no table allocations; free frames went from %d to %d", freeBefore, got)
	}
}

func TestMapFrameLargeAndHuge(t *testing.T) {
	env := newTestEnv(t, 256*uintptr(mem.Kb))

	specs := []struct {
		frame     pmm.Frame
		target    mem.VirtAddr
		expTables uint64
		expLevel  Level
	}{
		{pmm.Frame{Address: 0x200000, Size: mem.LargeFrame}, 0x40000000, 2, Level2},
		{pmm.Frame{Address: 0x40000000, Size: mem.HugeFrame}, 0x8000000000, 1, Level3},
		// shares the level 3 table with the previous entry
		{pmm.Frame{Address: 0x80000000, Size: mem.HugeFrame}, 0x8040000000, 0, Level3},
	}

	for specIndex, spec := range specs {
		freeBefore := env.frames.Stats().Free
		if err := env.mapper.MapFrame(spec.frame, spec.target, env.root); err != nil {
			t.Fatalf("[spec %d] unexpected error: %v", specIndex, err)
		}

		if got := freeBefore - env.frames.Stats().Free; got != spec.expTables {
			t.Errorf("[spec %d] expected %d table allocations; got %d", specIndex, spec.expTables, got)
		}

		table := env.root
		for table.Level() != spec.expLevel {
			var ok bool
			if table, ok = table.next(table.Level().indexOf(spec.target)); !ok {
				t.Fatalf("[spec %d] missing %s table", specIndex, table.Level().Next())
			}
		}

		if pte := *table.entry(spec.expLevel.indexOf(spec.target)); !pte.HasFlags(FlagPresent | FlagRW | FlagHugePage) {
			t.Errorf("[spec %d] expected %s entry to have FlagHugePage set; got 0x%x", specIndex, spec.expLevel, uintptr(pte))
		}

		offset := mem.VirtAddr(uintptr(spec.frame.Size) - 0x10)
		if got, err := env.mapper.Translate(spec.target+offset, env.root); err != nil || got != spec.frame.Address+mem.PhysAddr(offset) {
			t.Errorf("[spec %d] expected Translate to return 0x%x; got 0x%x, %v", specIndex, spec.frame.Address+mem.PhysAddr(offset), got, err)
		}
	}
}

func TestMapFrameHugePageInPath(t *testing.T) {
	env := newTestEnv(t, 256*uintptr(mem.Kb))

	large := pmm.Frame{Address: 0x200000, Size: mem.LargeFrame}
	if err := env.mapper.MapFrame(large, 0x40000000, env.root); err != nil {
		t.Fatal(err)
	}

	small := pmm.FrameFromAddress(0x3000)
	if err := env.mapper.MapFrame(small, 0x40001000, env.root); err != errHugePageInPath {
		t.Fatalf("expected errHugePageInPath; got %v", err)
	}

	if got, err := env.mapper.Translate(0x40001000, env.root); err != nil || got != 0x201000 {
		t.Fatalf("expected large mapping to be left untouched; got 0x%x, %v", got, err)
	}
}

func TestMapNewPageReleasesFrameOnFailure(t *testing.T) {
	env := newTestEnv(t, 256*uintptr(mem.Kb))

	large := pmm.Frame{Address: 0x200000, Size: mem.LargeFrame}
	if err := env.mapper.MapFrame(large, 0x40000000, env.root); err != nil {
		t.Fatal(err)
	}

	freeBefore := env.frames.Stats().Free
	if err := env.mapper.MapNewPage(0x40001000); err != errHugePageInPath {
		t.Fatalf("expected errHugePageInPath; got %v", err)
	}

	if got := env.frames.Stats().Free; got != freeBefore {
		t.Fatalf("expected a failed MapNewPage to release its frame; free frames went from %d to %d", freeBefore, got)
	}

	// The released frame is handed out again by the next allocation.
	if err := env.mapper.MapNewPage(0x400000000000); err != nil {
		t.Fatal(err)
	}
}

func TestMapFrameErrors(t *testing.T) {
	env := newTestEnv(t, 256*uintptr(mem.Kb))
	defer kfmt.SetOutputSink(nil)

	misaligned := []struct {
		frame  pmm.Frame
		target mem.VirtAddr
	}{
		{pmm.FrameFromAddress(0x3000), 0x1001},
		{pmm.Frame{Address: 0x200000, Size: mem.LargeFrame}, 0x201000},
		{pmm.Frame{Address: 0x201000, Size: mem.LargeFrame}, 0x200000},
		{pmm.Frame{Address: 0x40000000, Size: mem.HugeFrame}, 0x200000},
	}

	for specIndex, spec := range misaligned {
		buf := mockSink()
		err := recoverKernelError(func() {
			_ = env.mapper.MapFrame(spec.frame, spec.target, env.root)
		})

		if err != errMisalignedTarget {
			t.Errorf("[spec %d] expected MapFrame to panic with errMisalignedTarget; got %v", specIndex, err)
		}

		if buf.Len() == 0 {
			t.Errorf("[spec %d] expected a diagnostic to be printed", specIndex)
		}
	}

	// The mapper must still be usable after a contract violation.
	if err := env.mapper.MapFrame(pmm.FrameFromAddress(0x3000), 0x1000, env.root); err != nil {
		t.Fatal(err)
	}

	if err := env.mapper.MapFrame(pmm.Frame{Size: mem.FrameSize(8192)}, 0x2000, env.root); err != errInvalidFrameSize {
		t.Fatalf("expected errInvalidFrameSize; got %v", err)
	}
}

func TestMapFrameOutOfMemory(t *testing.T) {
	// frames 0-1 hold the kernel and the bitmap, frame 2 the root table;
	// only two frames are left for the three tables MapFrame needs.
	env := newTestEnv(t, 0x5000)

	err := env.mapper.MapFrame(pmm.FrameFromAddress(0), 0x8080604000, env.root)
	if err != pmm.ErrOutOfMemory {
		t.Fatalf("expected pmm.ErrOutOfMemory; got %v", err)
	}

	if len(env.mmu.flushed) != 0 {
		t.Fatal("expected no TLB flushes for a failed mapping")
	}
}

func TestTranslateUnmapped(t *testing.T) {
	env := newTestEnv(t, 256*uintptr(mem.Kb))

	if err := env.mapper.MapFrame(pmm.FrameFromAddress(0x3000), 0x8080604000, env.root); err != nil {
		t.Fatal(err)
	}

	for specIndex, addr := range []mem.VirtAddr{0, 0x8080605000, 0x8080800000, 0x80c0000000, 0xffff800000000000} {
		if _, err := env.mapper.Translate(addr, env.root); err != ErrInvalidMapping {
			t.Errorf("[spec %d] expected Translate(0x%x) to return ErrInvalidMapping; got %v", specIndex, addr, err)
		}
	}
}

func TestCreateNextContractViolations(t *testing.T) {
	env := newTestEnv(t, 256*uintptr(mem.Kb))
	defer kfmt.SetOutputSink(nil)

	l3, err := env.root.createNext(5, env.frames)
	if err != nil {
		t.Fatal(err)
	}

	if err := recoverKernelError(func() { _, _ = env.root.createNext(5, env.frames) }); err != errTableExists {
		t.Fatalf("expected createNext on a present entry to panic with errTableExists; got %v", err)
	}

	l2, _ := l3.createNext(0, env.frames)
	l1, _ := l2.createNext(0, env.frames)
	if err := recoverKernelError(func() { _, _ = l1.createNext(0, env.frames) }); err != errNoNextLevel {
		t.Fatalf("expected createNext on a level 1 table to panic with errNoNextLevel; got %v", err)
	}

	if next, err := env.root.nextOrCreate(5, env.frames); err != nil || next != l3 {
		t.Fatalf("expected nextOrCreate to return the existing table; got 0x%x, %v", next.Address(), err)
	}
}

func TestMapNewPage(t *testing.T) {
	env := newTestEnv(t, 256*uintptr(mem.Kb))

	page := mem.VirtAddr(0x400000000000)
	if err := env.mapper.MapNewPage(page); err != nil {
		t.Fatal(err)
	}

	phys, err := env.mapper.Translate(page, env.mapper.LoadCurrent())
	if err != nil {
		t.Fatal(err)
	}

	for i, b := range env.physBytes(phys, uintptr(mem.PageSize)) {
		if b != 0 {
			t.Fatalf("expected new page to be cleared; byte %d is 0x%x", i, b)
		}
	}

	if _, free := env.frames.ForAddress(phys); free {
		t.Fatal("expected the frame backing the new page to be marked as used")
	}
}
