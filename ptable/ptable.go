// Package ptable implements the two-level (32-bit x86) page-table
// manager described in spec §4.2: a virtual address splits into
// {PDX:10, PTX:10, offset:12}, and the manager walks, installs, and
// tears down mappings over a PageDirectory, maintaining the frame
// refcount invariant (I1: a frame's refcount equals the number of
// PTEs across all address spaces that reference it, including a page
// directory's own self-map entry).
//
// Grounded on the teacher's page-table walker (biscuit/src/mem/dmap.go:
// pgbits/mkpg/caddr) and biscuit/src/vm/as.go's Page_insert/Page_remove,
// adapted from amd64's four-level PML4/PDPT/PD/PT walk down to the
// 32-bit two-level PDE/PTE walk this kernel targets, and from the
// teacher's direct-map-backed access to physical memory (Dmaplen) to an
// explicit frame.Pool lookup, since this kernel has no direct map.
package ptable

import (
	"unsafe"

	"ucgo/frame"
	"ucgo/kerrors"
)

// Entry bit layout, same constants the teacher defines in mem/mem.go
// (PTE_P, PTE_W, PTE_U, ...), trimmed to the flags a 32-bit two-level
// table actually uses.
type Entry uint32

const (
	P Entry = 1 << 0 // present
	W Entry = 1 << 1 // writable
	U Entry = 1 << 2 // user-accessible
	A Entry = 1 << 5 // accessed
	D Entry = 1 << 6 // dirty
)

const (
	addrShift = 12
	addrMask  Entry = 0xFFFFF000
	slotMask  uint32 = 0x3FF
)

// PDX extracts the page-directory index (bits 31:22) of a virtual
// address.
func PDX(va uint32) uint32 { return (va >> 22) & slotMask }

// PTX extracts the page-table index (bits 21:12) of a virtual
// address.
func PTX(va uint32) uint32 { return (va >> 12) & slotMask }

// Offset extracts the low 12 offset bits of a virtual address.
func Offset(va uint32) uint32 { return va & 0xFFF }

// frameOf returns the frame number an entry points at.
func frameOf(e Entry) frame.Number { return frame.Number(uint32(e&addrMask) >> addrShift) }

func mkEntry(f frame.Number, flags Entry) Entry {
	return Entry(uint32(f)<<addrShift) | (flags &^ addrMask)
}

// PageTable is a 1024-entry second-level table.
type PageTable [1024]Entry

// PageDirectory is the 1024-entry top-level table. Slot SelfMapSlot
// is reserved for the self-map (VPT) entry (spec §3: "one PDE is a
// self-map so that the current PT is reachable at a fixed virtual
// address"), mirroring the teacher's VREC recursive-mapping slot
// (mem/dmap.go) collapsed from a 4-level to a 2-level scheme.
type PageDirectory [1024]Entry

// SelfMapSlot is the reserved PDE index used for the recursive
// self-map. User and kernel code must never install a mapping at
// this slot directly; only Manager.selfMap does.
const SelfMapSlot = 0x3FE

// Manager owns the frame pool backing page tables and the currently
// loaded directory (the one that receives TLB invalidations). A
// single Manager suffices since the spec's Non-goals exclude SMP.
type Manager struct {
	pool    *frame.Pool
	current frame.Number // frame holding the loaded PageDirectory, or frame.NoFrame
}

// New returns a Manager allocating page-table frames from pool.
func New(pool *frame.Pool) *Manager { return &Manager{pool: pool, current: frame.NoFrame} }

// dirAt maps a frame holding a PageDirectory into a usable pointer.
// In the teacher this is the direct map (mem.Dmaplen); this kernel has
// no direct map, so page-table frames are backed by ordinary Go
// memory the Manager keeps alongside the frame table (see backing.go).
func (m *Manager) dirAt(f frame.Number) *PageDirectory { return dirBacking(f) }
func (m *Manager) tableAt(f frame.Number) *PageTable   { return tableBacking(f) }

// Directory exposes the raw PageDirectory backing frame f. Used by the
// addrspace package to copy the boot template's kernel-half PDEs into
// a freshly created directory (spec §3: "a kernel's boot directory
// maps the high half identically across all address spaces").
func (m *Manager) Directory(f frame.Number) *PageDirectory { return m.dirAt(f) }

// LoadDirectory marks dir as the one that receives TLB invalidations,
// i.e. the currently running address space's directory.
func (m *Manager) LoadDirectory(dir frame.Number) { m.current = dir }

// selfMap installs the self-map PDE: slot SelfMapSlot of dir points
// at dir itself with P|W, so the directory's own frame is reachable
// as a page table at a fixed virtual window. Bumps the directory
// frame's refcount for this extra reference, per I1.
func (m *Manager) selfMap(dir frame.Number) {
	d := m.dirAt(dir)
	d[SelfMapSlot] = mkEntry(dir, P|W)
	m.pool.At(dir).Ref++
}

// NewDirectory allocates and zeroes a fresh page directory, installs
// its self-map slot, and returns its frame number. Kernel-half PDEs
// (those from the user/kernel split upward, other than the self-map
// slot) are left to the caller to copy in from a boot template,
// per spec §3's "boot directory maps the high half identically".
func (m *Manager) NewDirectory() (frame.Number, bool) {
	f, ok := m.pool.Alloc(1)
	if !ok {
		return 0, false
	}
	d := m.dirAt(f)
	for i := range d {
		d[i] = 0
	}
	m.selfMap(f)
	return f, true
}

// GetPTE walks dir to the PTE for va. If the PDE is absent and create
// is true, it allocates a frame for a new zeroed page table, installs
// the PDE with {P,W,U}, and bumps the new table frame's refcount to 1
// (spec §4.2). Returns nil if absent and create is false, or on
// allocation failure.
func (m *Manager) GetPTE(dir frame.Number, va uint32, create bool) *Entry {
	d := m.dirAt(dir)
	pdx := PDX(va)
	pde := &d[pdx]
	if *pde&P == 0 {
		if !create {
			return nil
		}
		tf, ok := m.pool.Alloc(1)
		if !ok {
			return nil
		}
		t := m.tableAt(tf)
		for i := range t {
			t[i] = 0
		}
		*pde = mkEntry(tf, P|W|U)
		m.pool.At(tf).Ref = 1
	}
	table := m.tableAt(frameOf(*pde))
	return &table[PTX(va)]
}

// Map ensures the PTE for va exists, remapping it to f with perm. If
// the PTE already pointed at a different frame, that frame's refcount
// is decremented (and the frame freed if it reaches zero) before the
// new mapping is installed, then f's refcount is incremented. Issues
// a TLB invalidation for va iff dir is the currently loaded directory.
func (m *Manager) Map(dir frame.Number, va uint32, f frame.Number, perm Entry) error {
	pte := m.GetPTE(dir, va, true)
	if pte == nil {
		return kerrors.NoMemory
	}
	if *pte&P != 0 {
		old := frameOf(*pte)
		if old != f {
			m.decRef(old)
		}
	}
	*pte = mkEntry(f, perm|P)
	m.pool.At(f).Ref++
	m.invalidate(dir, va)
	return nil
}

// Unmap clears the PTE for va if present, decrementing (and possibly
// freeing) the previously mapped frame, then invalidates the TLB.
func (m *Manager) Unmap(dir frame.Number, va uint32) {
	pte := m.GetPTE(dir, va, false)
	if pte == nil || *pte&P == 0 {
		return
	}
	old := frameOf(*pte)
	*pte = 0
	m.decRef(old)
	m.invalidate(dir, va)
}

// UnmapRange clears every PTE in [start, end) page by page.
func (m *Manager) UnmapRange(dir frame.Number, start, end uint32) {
	for va := start; va < end; va += frame.PageSize {
		m.Unmap(dir, va)
	}
}

// ExitRange is called after UnmapRange has cleared every PTE in
// [start, end): it also frees any now-empty page table covering the
// range and zeroes its PDE, per spec I3 ("no user-allocated page table
// remains").
func (m *Manager) ExitRange(dir frame.Number, start, end uint32) {
	d := m.dirAt(dir)
	firstPDX, lastPDX := PDX(start), PDX(end-1)
	if end == start {
		return
	}
	for pdx := firstPDX; pdx <= lastPDX; pdx++ {
		pde := &d[pdx]
		if *pde&P == 0 {
			continue
		}
		tf := frameOf(*pde)
		t := m.tableAt(tf)
		empty := true
		for _, e := range t {
			if e&P != 0 {
				empty = false
				break
			}
		}
		if empty {
			*pde = 0
			m.decRef(tf)
		}
	}
}

// DupRange copies every present mapping in [start, end) from src into
// dst: for each present source PTE it allocates a destination frame,
// copies the page's contents, and maps it into dst with the source's
// user-visible permission bits. This is an eager copy, not
// copy-on-write; see the COW extension point noted in pgfault.
func (m *Manager) DupRange(dst, src frame.Number, start, end uint32) error {
	for va := start; va < end; va += frame.PageSize {
		spte := m.GetPTE(src, va, false)
		if spte == nil || *spte&P == 0 {
			continue
		}
		srcFrame := frameOf(*spte)
		dstFrame, ok := m.pool.Alloc(1)
		if !ok {
			return kerrors.NoMemory
		}
		copy(m.tableAt(dstFrame)[:], m.tableAt(srcFrame)[:])
		perm := (*spte &^ addrMask) & (W | U) // carry only the W/U permission bits; Map sets P itself
		if err := m.Map(dst, va, dstFrame, perm); err != nil {
			m.pool.Free(dstFrame, 1)
			return err
		}
	}
	return nil
}

// PageBytes returns the raw page-sized byte view of frame f's backing
// storage, used by swap to read/write whole-page contents to the
// backing device and by callers that treat a frame as an undifferentiated
// data page rather than a structured table.
func (m *Manager) PageBytes(f frame.Number) []byte {
	t := m.tableAt(f)
	return (*(*[frame.PageSize]byte)(unsafe.Pointer(t)))[:]
}

// SetSwapEntry overwrites the PTE for va in dir with entry (a
// non-present swap entry whose bit layout is owned by the swap
// package, not ptable) and invalidates the TLB. It returns the frame
// that had been mapped there, or frame.NoFrame if none was. The
// caller (swap.Manager) is responsible for dropping that frame's
// refcount via Release once its contents have been written out —
// ptable does not do so itself here, since the frame is still live
// (in the swap cache) rather than actually freed.
func (m *Manager) SetSwapEntry(dir frame.Number, va uint32, entry Entry) frame.Number {
	pte := m.GetPTE(dir, va, false)
	if pte == nil || *pte&P == 0 {
		return frame.NoFrame
	}
	old := frameOf(*pte)
	*pte = entry &^ P
	m.invalidate(dir, va)
	return old
}

// Release drops f's refcount by one, freeing it back to the pool if
// it reaches zero. Exposed so swap.Manager can release a frame's last
// PTE reference once SetSwapEntry has replaced the mapping that
// reference was counting.
func (m *Manager) Release(f frame.Number) { m.decRef(f) }

// FreeDirectory releases the self-map's reference to dir (the one
// reference the directory always holds on itself, per I1) and frees
// its backing frame once that drops the refcount to zero. Callers
// must have already torn down every VMA's mappings and page tables
// first (addrspace.Teardown's UnmapRange/ExitRange pass).
func (m *Manager) FreeDirectory(dir frame.Number) {
	m.decRef(dir)
	releaseBacking(dir)
}

// decRef drops f's refcount, freeing it back to the pool when it
// reaches zero (I1/I2).
func (m *Manager) decRef(f frame.Number) {
	fr := m.pool.At(f)
	fr.Ref--
	if fr.Ref == 0 {
		m.pool.Free(f, 1)
	}
}

// invalidate issues a TLB invalidation for va, but only when dir is
// the address space currently loaded on this (single, non-SMP) CPU —
// invalidating a directory nobody has loaded would be a correctness
// no-op but is worth gating explicitly since it mirrors the hardware
// INVLPG precondition.
func (m *Manager) invalidate(dir frame.Number, va uint32) {
	if dir != m.current {
		return
	}
	invlpg(va)
}
