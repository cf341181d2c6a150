// Package pgfault implements the page-fault handler of spec §4.5: it
// classifies a hardware fault using the {P,W,U} error bits, then
// either installs a fresh zeroed frame or swaps one in through the
// swap package, bridging addrspace and swap exactly the way the
// original do_pgfault bridges mm_struct and the swap manager.
//
// Grounded on original_source/.../kern/mm/vmm.c:do_pgfault's classification
// table and biscuit/src/vm/as.go:Sys_pgfault's VMA-lookup-then-install shape.
package pgfault

import (
	"sync/atomic"

	"ucgo/addrspace"
	"ucgo/frame"
	"ucgo/kerrors"
	"ucgo/ptable"
	"ucgo/swap"
)

// ErrCode mirrors the three hardware error-code bits delivered with a
// page-fault trap.
type ErrCode uint8

const (
	P ErrCode = 1 << 0 // present (0: fault was on an absent mapping)
	W ErrCode = 1 << 1 // write (0: the access was a read)
	U ErrCode = 1 << 2 // user mode (unused by the classification table,
	// carried for parity with the hardware error code's bit layout)
)

// Handler connects the frame pool, page-table manager, and swap
// manager that cooperate to repair a fault.
type Handler struct {
	pool  *frame.Pool
	pt    *ptable.Manager
	swap  *swap.Manager
	count uint64
}

// New returns a Handler.
func New(pool *frame.Pool, pt *ptable.Manager, sw *swap.Manager) *Handler {
	return &Handler{pool: pool, pt: pt, swap: sw}
}

// Count reports the number of fault entries handled so far (spec §4.5:
// "a global counter increments on every entry, for tests").
func (h *Handler) Count() uint64 { return atomic.LoadUint64(&h.count) }

// Handle classifies and repairs a fault at addr in as, given the
// hardware error code. A nil return restarts the faulting instruction;
// a non-nil kerrors.Code escalates to process termination at the trap
// dispatcher (spec §6).
func (h *Handler) Handle(as *addrspace.AddressSpace, errCode ErrCode, addr uint32) error {
	atomic.AddUint64(&h.count, 1)

	vma := as.FindVMA(addr)
	if vma == nil {
		return kerrors.Fault
	}

	write := errCode&W != 0
	present := errCode&P != 0

	switch {
	case write && present:
		// Write to a present PTE: currently fatal pending a
		// copy-on-write implementation (spec §9's acknowledged
		// extension point). A real COW path would check whether
		// the mapped frame is shared and, if so, copy it here
		// instead of panicking.
		panic("pgfault: non-writable pte")
	case !write && present:
		// Read of a present page that still faulted: an
		// access-rights violation (e.g. NX or supervisor-only).
		return kerrors.Fault
	case write && !present:
		if vma.Flags&addrspace.W == 0 {
			return kerrors.Fault
		}
	case !write && !present:
		if vma.Flags&(addrspace.R|addrspace.X) == 0 {
			return kerrors.Fault
		}
	}

	va := addr &^ (frame.PageSize - 1)
	perm := ptable.U
	if vma.Flags&addrspace.W != 0 {
		perm |= ptable.W
	}

	pte := h.pt.GetPTE(as.Dir, va, true)
	if pte == nil {
		return kerrors.NoMemory
	}

	var f frame.Number
	switch {
	case *pte == 0:
		nf, ok := h.pool.Alloc(1)
		if !ok {
			return kerrors.NoMemory
		}
		clear(h.pt.PageBytes(nf))
		f = nf
	case swap.IsSwapEntry(*pte):
		nf, err := h.swap.SwapIn(as, va)
		if err != nil {
			return err
		}
		f = nf
	default:
		// Present-but-not-caught-above: unreachable given the
		// classification above, which handles every (W,P) pair.
		return kerrors.Fault
	}

	if err := h.pt.Map(as.Dir, va, f, perm); err != nil {
		return err
	}
	h.swap.MapSwappable(as, va, f, false)
	return nil
}
