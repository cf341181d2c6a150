package swap

import (
	"testing"

	"ucgo/addrspace"
	"ucgo/frame"
	"ucgo/ptable"
)

func newTestRig(t *testing.T, n int, maxSlot uint32) (*ptable.Manager, *frame.Pool, *Manager, *addrspace.AddressSpace) {
	t.Helper()
	pool := frame.NewPool(n, 0, &frame.FirstFit{})
	pool.InitRegion(0, n)
	pt := ptable.New(pool)
	boot, ok := pt.NewDirectory()
	if !ok {
		t.Fatal("boot NewDirectory failed")
	}
	as, err := addrspace.Create(pt, boot)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sm := New(pool, pt, NewMemDevice(), maxSlot, NewClockFIFO(pool))
	sm.InitMM(as)
	return pt, pool, sm, as
}

func TestMakeEntryRoundTrip(t *testing.T) {
	e := MakeEntry(42)
	if !IsSwapEntry(e) {
		t.Fatal("expected MakeEntry result to read back as a swap entry")
	}
	if SlotOf(e) != 42 {
		t.Fatalf("SlotOf = %d, want 42", SlotOf(e))
	}
	if e&ptable.P != 0 {
		t.Fatal("expected swap entry to never carry the Present bit")
	}
}

func TestSlotAllocatorNeverHandsOutZero(t *testing.T) {
	a := NewSlotAllocator(4)
	seen := map[uint32]bool{}
	for i := 0; i < 4; i++ {
		s, ok := a.Alloc()
		if !ok {
			t.Fatalf("alloc %d failed", i)
		}
		if s == 0 {
			t.Fatal("slot 0 must never be allocated")
		}
		seen[s] = true
	}
	if _, ok := a.Alloc(); ok {
		t.Fatal("expected exhaustion after handing out every slot")
	}
	a.Free(1)
	if a.NrFree() != 1 {
		t.Fatalf("NrFree = %d, want 1", a.NrFree())
	}
}

func TestSlotAllocatorFreeUnallocatedPanics(t *testing.T) {
	a := NewSlotAllocator(4)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic freeing an unallocated slot")
		}
	}()
	a.Free(1)
}

func TestSwapOutThenSwapInRoundTrips(t *testing.T) {
	pt, pool, sm, as := newTestRig(t, 32, 8)
	va := uint32(0x20000)
	as.MapArea(va, frame.PageSize, addrspace.R|addrspace.W)

	f, ok := pool.Alloc(1)
	if !ok {
		t.Fatal("alloc failed")
	}
	pt.Map(as.Dir, va, f, ptable.W|ptable.U)
	pt.PageBytes(f)[0] = 0x5A
	sm.MapSwappable(as, va, f, false)

	done, err := sm.SwapOut(as, 1, false)
	if err != nil {
		t.Fatalf("SwapOut: %v", err)
	}
	if done != 1 {
		t.Fatalf("SwapOut evicted %d frames, want 1", done)
	}
	pte := pt.GetPTE(as.Dir, va, false)
	if !IsSwapEntry(*pte) {
		t.Fatal("expected PTE to become a swap entry after SwapOut")
	}

	nf, err := sm.SwapIn(as, va)
	if err != nil {
		t.Fatalf("SwapIn: %v", err)
	}
	if pt.PageBytes(nf)[0] != 0x5A {
		t.Fatal("expected swapped-in page to retain its original contents")
	}
}

func TestClockFIFOGivesSecondChanceToAccessedFrames(t *testing.T) {
	pool := frame.NewPool(8, 0, &frame.FirstFit{})
	pool.InitRegion(0, 8)
	c := NewClockFIFO(pool)

	a, _ := pool.Alloc(1)
	b, _ := pool.Alloc(1)
	c.MapSwappable(nil, 0x1000, a, false)
	c.MapSwappable(nil, 0x2000, b, false)
	// MapSwappable marks every registered frame Accessed; clear b's bit
	// so that only a has been referenced since it was mapped.
	pool.At(b).Accessed = false

	// a starts Accessed; the first victim scan should give it a second
	// chance (moving it to the tail) and evict b instead.
	victim, ok := c.SwapOutVictim()
	if !ok {
		t.Fatal("expected a victim")
	}
	if victim != b {
		t.Fatalf("victim = %d, want %d (b) after a's second chance", victim, b)
	}
}

func TestSwapOutExhaustsSlots(t *testing.T) {
	pt, pool, sm, as := newTestRig(t, 32, 1)
	for i := 0; i < 2; i++ {
		va := uint32(0x30000 + i*frame.PageSize)
		as.MapArea(va, frame.PageSize, addrspace.R|addrspace.W)
		f, _ := pool.Alloc(1)
		pt.Map(as.Dir, va, f, ptable.W|ptable.U)
		sm.MapSwappable(as, va, f, false)
	}
	done, err := sm.SwapOut(as, 2, false)
	if done != 1 || err == nil {
		t.Fatalf("SwapOut(2) with 1 slot = (%d, %v), want (1, non-nil)", done, err)
	}
}
