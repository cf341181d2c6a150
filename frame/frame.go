// Package frame implements the physical page-frame allocator (spec
// §4.1): a pool of fixed-size frames tracked by reference count, with
// allocation policy pluggable behind the Policy interface. The default
// policy is FirstFit, a first-fit free list with address-order
// coalescing on free, grounded on the refcounted free-list design of
// the teacher's mem/mem.go (Physmem_t/_phys_new/_phys_put) — adapted
// from biscuit's four-level-paging, multi-CPU layout down to the
// single-CPU, two-level-paging world this kernel targets (spec's
// Non-goals rule out SMP, so the teacher's per-CPU free lists
// (pcpuphys_t) are dropped rather than carried forward unused).
package frame

import (
	"fmt"
	"unsafe"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"ucgo/klist"
)

// Number identifies a physical frame by index (not by byte address);
// callers scale by PageSize to get a physical address when needed.
type Number uint32

// NoFrame is the distinguished "no frame" value, e.g. for an empty PTE.
const NoFrame Number = ^Number(0)

// PageSize is the size in bytes of one frame.
const PageSize = 4096

// Flags records frame-level attributes from the spec's data model.
type Flags uint8

const (
	// Reserved marks a frame that must never be allocated (kernel
	// image, frame-table metadata, BIOS-excluded ranges).
	Reserved Flags = 1 << iota
	// Property marks a frame as the head of a free-list run.
	Property
)

// Frame is the per-physical-page bookkeeping record described in
// spec §3: a reference count, flags, free-list linkage, and the swap
// bookkeeping consulted by the eviction policy and page-fault handler.
//
// Invariant (I1 in §4.2): Ref equals the number of PTEs, across every
// address space, that currently point at this frame (a page
// directory's self-map PTE counts as one). Ref == 0 iff the frame is
// in the free pool or awaiting eviction in the swap cache.
type Frame struct {
	Ref   int32
	Flags Flags

	// VAddr is the virtual address this frame was last mapped at;
	// the eviction policy uses it to locate the owning PTE when it
	// picks this frame as a swap-out victim.
	VAddr uintptr
	// SwapLink threads this frame onto a policy-private swappable
	// list (see swap.Clock); unused while the frame is free or
	// unswappable.
	SwapLink klist.Node[Frame]
	Accessed bool
	Dirty    bool

	// free-list bookkeeping, touched only by a Policy implementation.
	inFreeList bool
	freeNext   Number
	runHead    Number
	runLen     int
}

// Policy is the pluggable allocation strategy behind the frame pool,
// per spec §4.1 ("policy is pluggable ... other policies (best-fit,
// buddy) can be substituted at boot").
type Policy interface {
	init(frames []Frame, base Number)
	InitRegion(base Number, n int)
	Alloc(n int) (Number, bool)
	Free(base Number, n int)
	NrFree() int
	Check() error
}

// Pool owns the frame table and delegates allocation to a Policy.
type Pool struct {
	Frames []Frame
	base   Number
	policy Policy
}

// NewPool allocates a frame table of totalFrames entries, numbered
// starting at base, managed by policy.
func NewPool(totalFrames int, base Number, policy Policy) *Pool {
	p := &Pool{
		Frames: make([]Frame, totalFrames),
		base:   base,
		policy: policy,
	}
	for i := range p.Frames {
		p.Frames[i].Flags = Reserved
		p.Frames[i].SwapLink.Bind(&p.Frames[i])
	}
	policy.init(p.Frames, base)
	return p
}

// At returns the bookkeeping record for frame n.
func (p *Pool) At(n Number) *Frame {
	return &p.Frames[int(n-p.base)]
}

// NumberOf returns the frame Number backing f, the inverse of At. Used
// by eviction policies that hold a *Frame (via klist.Node.Owner) and
// need to recover its Number to call back into the frame/ptable APIs.
func (p *Pool) NumberOf(f *Frame) Number {
	base := uintptr(unsafe.Pointer(&p.Frames[0]))
	cur := uintptr(unsafe.Pointer(f))
	idx := (cur - base) / unsafe.Sizeof(p.Frames[0])
	return p.base + Number(idx)
}

// InitRegion marks n contiguous frames starting at base as free,
// per spec §4.1.
func (p *Pool) InitRegion(base Number, n int) { p.policy.InitRegion(base, n) }

// Alloc returns the base of a run of n contiguous free frames, or
// (0, false) on exhaustion. alloc(0) is a programmer error (spec §8
// boundary behavior), not an allocator failure.
func (p *Pool) Alloc(n int) (Number, bool) {
	if n <= 0 {
		panic("frame: Alloc(0) disallowed")
	}
	return p.policy.Alloc(n)
}

// Free returns n contiguous frames starting at base to the pool.
// It is a fatal assertion (panic) to free a frame with nonzero
// refcount or the Reserved flag set — these indicate a kernel bug,
// not a recoverable user-facing error (spec §7).
func (p *Pool) Free(base Number, n int) { p.policy.Free(base, n) }

// NrFree reports the number of free frames.
func (p *Pool) NrFree() int { return p.policy.NrFree() }

// Check runs the policy's internal consistency check; used by tests.
func (p *Pool) Check() error { return p.policy.Check() }

// Stats renders free and total frame counts with locale-aware grouping,
// in the spirit of the teacher's boot-time report
// ("Reserved %v pages (%vMB)" in mem.Phys_init) but using the x/text
// printer the teacher's go.mod already carries.
func (p *Pool) Stats() string {
	pr := message.NewPrinter(language.English)
	free := p.NrFree()
	total := len(p.Frames)
	return pr.Sprintf("%d free / %d total frames (%d MB free)", free, total, free*PageSize/(1<<20))
}

// LowMemory is sent on LowMemCh when an allocation request cannot be
// satisfied immediately; a daemon can listen on this channel and kick
// off swap-out or OOM handling. Adapted from the teacher's
// oommsg.OomCh/Oommsg_t, folded into the frame package itself since
// the allocator is the only producer of "we're out of frames" events.
type LowMemory struct {
	Need   int
	Resume chan bool
}

// LowMemCh is notified by AllocOrNotify when a pool is exhausted.
var LowMemCh = make(chan LowMemory, 1)

// AllocOrNotify behaves like Alloc, but on exhaustion it makes a
// best-effort, non-blocking notification on LowMemCh before reporting
// failure, so a swap daemon elsewhere in the kernel can react.
func (p *Pool) AllocOrNotify(n int) (Number, bool) {
	if base, ok := p.Alloc(n); ok {
		return base, true
	}
	select {
	case LowMemCh <- LowMemory{Need: n, Resume: nil}:
	default:
	}
	return 0, false
}

func fmtRange(base Number, n int) string {
	return fmt.Sprintf("[%d,%d)", base, int(base)+n)
}
