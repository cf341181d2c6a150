// Package swap implements the backing-store swap subsystem of spec
// §4.4: a slot allocator over a page-sized-slot device, a pluggable
// eviction Policy, and the swap_out/swap_in primitives that move frame
// contents to and from that device.
//
// Grounded on the original lab sources' kern/mm/swap.c and
// kern/mm/swap_fifo.c (the default "enhanced clock" FIFO policy this
// package's ClockFIFO implements) and adapted from the teacher's
// circbuf.Circbuf_t (biscuit/src/circbuf/circbuf.go) for the
// circular-list bookkeeping style applied here to a list of swappable
// frames rather than a byte ring.
package swap

import (
	"sync"

	"ucgo/addrspace"
	"ucgo/frame"
	"ucgo/kerrors"
	"ucgo/klist"
	"ucgo/ptable"
)

// slotShift places the 24-bit slot number above the 7 reserved bits
// and the Present bit, matching spec §4.4's packing: {slot:24,
// reserved:7, P=0}.
const slotShift = 8

// MakeEntry packs slot into a swap PTE. The Present bit is always 0,
// per the spec's disambiguation rule (P=1 ⇒ frame pointer, P=0 ∧
// nonzero ⇒ swap entry).
func MakeEntry(slot uint32) ptable.Entry { return ptable.Entry(slot << slotShift) }

// SlotOf extracts the slot number from a swap PTE.
func SlotOf(e ptable.Entry) uint32 { return uint32(e) >> slotShift }

// IsSwapEntry reports whether e is a nonzero, non-present PTE, i.e. a
// swap entry rather than an empty mapping.
func IsSwapEntry(e ptable.Entry) bool { return e != 0 && e&ptable.P == 0 }

// Device is the backing store: a byte-addressable device exposing
// page-sized slots numbered 1..MaxSlot (slot 0 is the reserved "no
// slot" sentinel, never allocated). Out of scope for this core is any
// real driver (spec §1 names the sector-at-a-time IDE driver as an
// external collaborator); Device is the seam a real driver plugs into.
type Device interface {
	ReadSlot(slot uint32, buf []byte) error
	WriteSlot(slot uint32, buf []byte) error
}

// MemDevice is an in-memory Device, standing in for the real swap
// disk in tests and in configurations without one.
type MemDevice struct {
	mu    sync.Mutex
	slots map[uint32]*[frame.PageSize]byte
}

// NewMemDevice returns an empty in-memory swap device.
func NewMemDevice() *MemDevice {
	return &MemDevice{slots: make(map[uint32]*[frame.PageSize]byte)}
}

// WriteSlot stores buf (truncated/zero-padded to a page) under slot.
func (d *MemDevice) WriteSlot(slot uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	page := new([frame.PageSize]byte)
	copy(page[:], buf)
	d.slots[slot] = page
	return nil
}

// ReadSlot copies the page stored at slot into buf.
func (d *MemDevice) ReadSlot(slot uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	page, ok := d.slots[slot]
	if !ok {
		return kerrors.IOErr
	}
	copy(buf, page[:])
	return nil
}

// SlotAllocator manages the free set of backing-store slots. Slot 0
// is never handed out (spec §4.4 sentinel).
type SlotAllocator struct {
	mu   sync.Mutex
	used []bool // index 0 unused (sentinel)
	free int
}

// NewSlotAllocator returns an allocator over slots 1..maxSlot.
func NewSlotAllocator(maxSlot uint32) *SlotAllocator {
	return &SlotAllocator{used: make([]bool, maxSlot+1), free: int(maxSlot)}
}

// Alloc returns a free slot, or (0, false) on exhaustion.
func (a *SlotAllocator) Alloc() (uint32, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for s := uint32(1); s < uint32(len(a.used)); s++ {
		if !a.used[s] {
			a.used[s] = true
			a.free--
			return s, true
		}
	}
	return 0, false
}

// Free returns slot to the pool. It is a fatal assertion to free slot
// 0 or a slot that is not currently allocated.
func (a *SlotAllocator) Free(slot uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if slot == 0 || int(slot) >= len(a.used) || !a.used[slot] {
		panic("swap: free of unallocated slot")
	}
	a.used[slot] = false
	a.free++
}

// NrFree reports the number of unallocated slots.
func (a *SlotAllocator) NrFree() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.free
}

// Policy is the pluggable eviction strategy of spec §4.4.
type Policy interface {
	Init()
	InitMM(as *addrspace.AddressSpace)
	MapSwappable(as *addrspace.AddressSpace, va uint32, f frame.Number, inTick bool)
	SetUnswappable(as *addrspace.AddressSpace, va uint32)
	SwapOutVictim() (frame.Number, bool)
	TickEvent(as *addrspace.AddressSpace)
}

// ClockFIFO is the default policy: an enhanced-clock-like FIFO over a
// circular list of swappable frames. A frame at the head of the list
// is evicted immediately unless its Accessed bit is set, in which case
// it is given a second chance (Accessed cleared, moved to the tail)
// before being reconsidered — grounded on swap_fifo.c's behavior where
// the "enhanced" variant differs from plain FIFO only in this second
// chance.
type ClockFIFO struct {
	pool *frame.Pool
	list klist.List[frame.Frame]
}

var _ Policy = (*ClockFIFO)(nil)

// NewClockFIFO returns a ClockFIFO policy drawing frame numbers from pool.
func NewClockFIFO(pool *frame.Pool) *ClockFIFO {
	c := &ClockFIFO{pool: pool}
	c.list.Init()
	return c
}

func (c *ClockFIFO) Init() {}

// InitMM records c as as's swap policy handle. A single ClockFIFO
// instance backs every address space registered with it; the per-AS
// circular list the spec describes is realized here as one shared
// list ordered by insertion (the teaching-kernel scale this core
// targets has one runnable address space actively faulting at a
// time). The list does not record which address space a frame belongs
// to: SetUnswappable matches on VAddr alone, and SwapOutVictim returns
// frames in list order whichever address space mapped them.
func (c *ClockFIFO) InitMM(as *addrspace.AddressSpace) { as.SwapSlot = c }

// MapSwappable registers f (mapped at va in as) as eligible for
// eviction.
func (c *ClockFIFO) MapSwappable(as *addrspace.AddressSpace, va uint32, f frame.Number, inTick bool) {
	fr := c.pool.At(f)
	fr.VAddr = uintptr(va)
	fr.Accessed = true
	c.list.PushBack(&fr.SwapLink)
}

// SetUnswappable removes the frame mapped at va in as from eviction
// consideration, e.g. because it was unmapped or pinned.
func (c *ClockFIFO) SetUnswappable(as *addrspace.AddressSpace, va uint32) {
	for n := c.list.Front(); n != nil; {
		next := c.list.Next(n)
		if n.Owner().VAddr == uintptr(va) {
			c.list.Remove(n)
			return
		}
		n = next
	}
}

// SwapOutVictim scans the clock list for the next evictable frame.
func (c *ClockFIFO) SwapOutVictim() (frame.Number, bool) {
	for {
		n := c.list.Front()
		if n == nil {
			return 0, false
		}
		fr := n.Owner()
		if fr.Accessed {
			fr.Accessed = false
			c.list.Remove(n)
			c.list.PushBack(n)
			continue
		}
		c.list.Remove(n)
		return c.pool.NumberOf(fr), true
	}
}

// TickEvent is a no-op for plain FIFO; a clock-hand-advance policy
// variant would use this hook to age Accessed bits periodically
// instead of only on eviction.
func (c *ClockFIFO) TickEvent(as *addrspace.AddressSpace) {}

// Manager wires a frame pool, page-table manager, slot allocator and
// Device together behind the swap_out/swap_in primitives of spec §4.4.
type Manager struct {
	pool   *frame.Pool
	pt     *ptable.Manager
	dev    Device
	slots  *SlotAllocator
	policy Policy
}

// New returns a swap Manager. policy.Init is called once here.
func New(pool *frame.Pool, pt *ptable.Manager, dev Device, maxSlot uint32, policy Policy) *Manager {
	policy.Init()
	return &Manager{pool: pool, pt: pt, dev: dev, slots: NewSlotAllocator(maxSlot), policy: policy}
}

// InitMM registers as with the swap policy.
func (m *Manager) InitMM(as *addrspace.AddressSpace) { m.policy.InitMM(as) }

// MapSwappable registers f, mapped at va in as, as swap-eligible.
func (m *Manager) MapSwappable(as *addrspace.AddressSpace, va uint32, f frame.Number, inTick bool) {
	m.policy.MapSwappable(as, va, f, inTick)
}

// SetUnswappable removes va's mapping in as from swap eligibility.
func (m *Manager) SetUnswappable(as *addrspace.AddressSpace, va uint32) {
	m.policy.SetUnswappable(as, va)
}

// TickEvent forwards a periodic tick to the policy for as.
func (m *Manager) TickEvent(as *addrspace.AddressSpace) { m.policy.TickEvent(as) }

// SlotsFree reports the number of unallocated backing-store slots.
func (m *Manager) SlotsFree() int { return m.slots.NrFree() }

// SwapOut repeatedly asks the policy for a victim frame, writes its
// contents to a freshly allocated slot, and replaces its PTE in as
// with the corresponding swap entry, stopping after n successes or
// when the policy runs dry or a slot can't be allocated.
func (m *Manager) SwapOut(as *addrspace.AddressSpace, n int, inTick bool) (int, error) {
	done := 0
	for done < n {
		f, ok := m.policy.SwapOutVictim()
		if !ok {
			break
		}
		fr := m.pool.At(f)
		va := uint32(fr.VAddr)
		slot, ok := m.slots.Alloc()
		if !ok {
			return done, kerrors.Exhausted
		}
		if err := m.dev.WriteSlot(slot, m.pt.PageBytes(f)); err != nil {
			m.slots.Free(slot)
			return done, kerrors.IOErr
		}
		m.pt.SetSwapEntry(as.Dir, va, MakeEntry(slot))
		m.pt.Release(f)
		done++
	}
	return done, nil
}

// SwapIn allocates a fresh frame, reads the page for va's current
// swap-entry PTE into it, frees the slot, and returns the frame. The
// caller (pgfault) installs the PTE and re-registers the frame as
// swappable.
func (m *Manager) SwapIn(as *addrspace.AddressSpace, va uint32) (frame.Number, error) {
	pte := m.pt.GetPTE(as.Dir, va, false)
	if pte == nil {
		return 0, kerrors.Invalid
	}
	slot := SlotOf(*pte)
	f, ok := m.pool.Alloc(1)
	if !ok {
		return 0, kerrors.NoMemory
	}
	if err := m.dev.ReadSlot(slot, m.pt.PageBytes(f)); err != nil {
		m.pool.Free(f, 1)
		return 0, kerrors.IOErr
	}
	m.slots.Free(slot)
	return f, nil
}
