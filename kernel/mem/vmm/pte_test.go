package vmm

import (
	"testing"

	"github.com/pascalmouret/journey-os/kernel/mem"
)

func TestPageTableEntryFlags(t *testing.T) {
	var (
		pte   pageTableEntry
		flag1 = PageTableEntryFlag(1 << 10)
		flag2 = PageTableEntryFlag(1 << 21)
	)

	if pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return false")
	}

	pte.SetFlags(flag1 | flag2)

	if !pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return true")
	}

	if !pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return true")
	}

	pte.ClearFlags(flag1)

	if !pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return true")
	}

	if pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return false")
	}

	pte.ClearFlags(flag1 | flag2)

	if pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return false")
	}
}

func TestPageTableEntryFrameEncoding(t *testing.T) {
	var pte pageTableEntry
	pte.SetFlags(FlagPresent | FlagRW | FlagNoExecute)

	addr := mem.PhysAddr(0x7b000)
	pte.SetFrame(addr)
	if got := pte.Frame(); got != addr {
		t.Fatalf("expected pte.Frame() to return 0x%x; got 0x%x", addr, got)
	}

	if !pte.HasFlags(FlagPresent | FlagRW | FlagNoExecute) {
		t.Fatal("expected SetFrame to preserve the entry flags")
	}

	// bits outside the address mask are discarded
	pte.SetFrame(0xfff0_0000_0000_1fff)
	if exp, got := mem.PhysAddr(0x1000), pte.Frame(); got != exp {
		t.Fatalf("expected pte.Frame() to return 0x%x; got 0x%x", exp, got)
	}
}

func TestPageTableEntryIsPage(t *testing.T) {
	specs := []struct {
		flags  PageTableEntryFlag
		level  Level
		expRes bool
	}{
		{FlagPresent, Level1, true},
		{FlagPresent, Level2, false},
		{FlagPresent | FlagHugePage, Level2, true},
		{FlagPresent | FlagHugePage, Level3, true},
		{FlagPresent, Level4, false},
	}

	for specIndex, spec := range specs {
		pte := pageTableEntry(spec.flags)
		if got := pte.isPage(spec.level); got != spec.expRes {
			t.Errorf("[spec %d] expected isPage to return %t; got %t", specIndex, spec.expRes, got)
		}
	}
}

func TestLevel(t *testing.T) {
	chain := []Level{Level4, Level3, Level2, Level1, levelInvalid}
	for i := 0; i < len(chain)-1; i++ {
		if got := chain[i].Next(); got != chain[i+1] {
			t.Errorf("expected %s.Next() to return %s; got %s", chain[i], chain[i+1], got)
		}

		if exp, got := chain[i] != Level1, chain[i].Hierarchical(); got != exp {
			t.Errorf("expected %s.Hierarchical() to return %t; got %t", chain[i], exp, got)
		}
	}

	if levelInvalid.Hierarchical() || levelInvalid.String() != "invalid" {
		t.Error("expected levelInvalid to be neither hierarchical nor printable")
	}

	addr := mem.VirtAddr(0x8080604400)
	for level, exp := range map[Level]uintptr{Level4: 1, Level3: 2, Level2: 3, Level1: 4} {
		if got := level.indexOf(addr); got != exp {
			t.Errorf("expected %s index of 0x%x to be %d; got %d", level, addr, exp, got)
		}
	}

	for size, exp := range map[mem.FrameSize]Level{mem.SmallFrame: Level1, mem.LargeFrame: Level2, mem.HugeFrame: Level3} {
		got, ok := levelForSize(size)
		if !ok || got != exp {
			t.Errorf("expected %s pages to be installed at %s; got %s", size, exp, got)
		}

		if got.pageSize() != size {
			t.Errorf("expected %s page size to be %s; got %s", got, size, got.pageSize())
		}
	}

	if _, ok := levelForSize(mem.FrameSize(8192)); ok {
		t.Error("expected levelForSize to reject an unsupported size")
	}
}
