package ptable

import (
	"testing"

	"ucgo/frame"
)

func newTestManager(n int) (*Manager, *frame.Pool) {
	pool := frame.NewPool(n, 0, &frame.FirstFit{})
	pool.InitRegion(0, n)
	return New(pool), pool
}

func TestMapThenGetPTERoundTrip(t *testing.T) {
	m, _ := newTestManager(64)
	dir, ok := m.NewDirectory()
	if !ok {
		t.Fatal("NewDirectory failed")
	}
	data, ok := m.pool.Alloc(1)
	if !ok {
		t.Fatal("alloc failed")
	}
	va := uint32(0x1000)
	if err := m.Map(dir, va, data, W|U); err != nil {
		t.Fatalf("Map: %v", err)
	}
	pte := m.GetPTE(dir, va, false)
	if pte == nil || *pte&P == 0 {
		t.Fatal("expected present PTE after Map")
	}
	if frameOf(*pte) != data {
		t.Fatalf("frameOf(pte) = %d, want %d", frameOf(*pte), data)
	}
	if m.pool.At(data).Ref != 1 {
		t.Fatalf("Ref = %d, want 1", m.pool.At(data).Ref)
	}
}

func TestUnmapDropsRefcountAndFreesFrame(t *testing.T) {
	m, pool := newTestManager(64)
	dir, _ := m.NewDirectory()
	data, _ := pool.Alloc(1)
	va := uint32(0x2000)
	m.Map(dir, va, data, W)
	m.Unmap(dir, va)
	if pool.At(data).Ref != 0 {
		t.Fatalf("Ref after Unmap = %d, want 0", pool.At(data).Ref)
	}
	if pte := m.GetPTE(dir, va, false); pte != nil && *pte&P != 0 {
		t.Fatal("expected absent PTE after Unmap")
	}
}

func TestRemapDropsOldFrameRef(t *testing.T) {
	m, pool := newTestManager(64)
	dir, _ := m.NewDirectory()
	a, _ := pool.Alloc(1)
	b, _ := pool.Alloc(1)
	va := uint32(0x3000)
	m.Map(dir, va, a, W)
	m.Map(dir, va, b, W)
	if pool.At(a).Ref != 0 {
		t.Fatalf("old frame Ref = %d, want 0 after remap", pool.At(a).Ref)
	}
	if pool.At(b).Ref != 1 {
		t.Fatalf("new frame Ref = %d, want 1", pool.At(b).Ref)
	}
}

func TestExitRangeFreesEmptyPageTable(t *testing.T) {
	m, pool := newTestManager(64)
	dir, _ := m.NewDirectory()
	data, _ := pool.Alloc(1)
	va := uint32(0x4000)
	m.Map(dir, va, data, W)
	tableFrame := frameOf(m.Directory(dir)[PDX(va)])

	m.UnmapRange(dir, va, va+frame.PageSize)
	m.ExitRange(dir, va, va+frame.PageSize)

	if m.Directory(dir)[PDX(va)]&P != 0 {
		t.Fatal("expected PDE cleared after ExitRange emptied its table")
	}
	if pool.At(tableFrame).Ref != 0 {
		t.Fatalf("page-table frame Ref = %d, want 0", pool.At(tableFrame).Ref)
	}
}

func TestDupRangeCopiesPagesAndPermissions(t *testing.T) {
	m, pool := newTestManager(64)
	src, _ := m.NewDirectory()
	dst, _ := m.NewDirectory()
	data, _ := pool.Alloc(1)
	va := uint32(0x5000)
	m.Map(src, va, data, W|U)
	m.PageBytes(data)[0] = 0xAB

	if err := m.DupRange(dst, src, va, va+frame.PageSize); err != nil {
		t.Fatalf("DupRange: %v", err)
	}
	dpte := m.GetPTE(dst, va, false)
	if dpte == nil || *dpte&P == 0 {
		t.Fatal("expected present PTE in destination after DupRange")
	}
	if *dpte&W == 0 || *dpte&U == 0 {
		t.Fatal("expected W|U carried into destination PTE")
	}
	dframe := frameOf(*dpte)
	if dframe == data {
		t.Fatal("expected a distinct destination frame, not an alias of src")
	}
	if m.PageBytes(dframe)[0] != 0xAB {
		t.Fatal("expected destination page contents to match source")
	}
}

func TestFreeDirectoryReleasesSelfMapReference(t *testing.T) {
	m, pool := newTestManager(64)
	dir, _ := m.NewDirectory()
	if pool.At(dir).Ref != 1 {
		t.Fatalf("fresh directory Ref = %d, want 1 (self-map)", pool.At(dir).Ref)
	}
	m.FreeDirectory(dir)
	if pool.At(dir).Ref != 0 {
		t.Fatalf("Ref after FreeDirectory = %d, want 0", pool.At(dir).Ref)
	}
}

func TestSetSwapEntryReplacesPresentMapping(t *testing.T) {
	m, pool := newTestManager(64)
	dir, _ := m.NewDirectory()
	data, _ := pool.Alloc(1)
	va := uint32(0x6000)
	m.Map(dir, va, data, W)

	old := m.SetSwapEntry(dir, va, Entry(7<<8))
	if old != data {
		t.Fatalf("SetSwapEntry returned %d, want %d", old, data)
	}
	pte := m.GetPTE(dir, va, false)
	if *pte&P != 0 {
		t.Fatal("expected non-present entry after SetSwapEntry")
	}
	m.Release(old)
	if pool.At(data).Ref != 0 {
		t.Fatalf("Ref after Release = %d, want 0", pool.At(data).Ref)
	}
}
