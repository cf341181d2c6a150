// Package sched implements the task scheduler of spec §4.6: a
// SchedClass interface over a RunQueue, the default stride policy
// backed by a skew heap (with a linear-list fallback retained for
// teaching), and the schedule()/wakeup_proc() entry points the rest of
// the kernel calls into.
//
// Grounded on original_source/.../kern/schedule/default_sched.c
// (BigStride, proc_stride_comp_f, the skew-heap-backed run queue) and
// sched.c (the schedule()/wakeup_proc() shapes), with per-thread
// accounting fields adapted from biscuit/src/accnt/accnt.go's
// per-CPU-to-per-thread single-core accounting style.
package sched

import (
	"fmt"
	"io"
	"sync"

	"github.com/google/pprof/profile"

	"ucgo/addrspace"
	"ucgo/klist"
	"ucgo/skewheap"
)

// State is a TCB's scheduling state (spec §3).
type State uint8

const (
	Uninit State = iota
	Sleeping
	Runnable
	Zombie
)

// BigStride is the stride-advance numerator: each pick advances the
// chosen TCB's stride by BigStride/Priority (spec §4.6).
const BigStride uint32 = 0x7FFFFFFF

// TCB is the task control block fields relevant to this core (spec
// §3/§6): scheduling state, stride/priority, remaining time slice, the
// owning address space, and linkage into exactly one run-queue
// ordering structure at a time.
type TCB struct {
	State       State
	WaitReason  uint32
	Priority    uint32
	Stride      uint32
	TimeSlice   int
	NeedResched bool
	Runs        uint64
	MM          *addrspace.AddressSpace

	rq       *RunQueue
	listLink klist.Node[TCB]
	heapLink skewheap.Node[TCB]
}

// NewTCB returns a TCB ready for its first Enqueue, with the given
// static priority (BigStride/priority governs its stride advance; a
// zero priority means "advance by the full BigStride each pick").
func NewTCB(priority uint32) *TCB {
	t := &TCB{Priority: priority, State: Uninit}
	t.listLink.Bind(t)
	t.heapLink.Bind(t)
	return t
}

func strideStep(priority uint32) uint32 {
	if priority == 0 {
		return BigStride
	}
	return BigStride / priority
}

// strideLess orders by signed-subtraction comparison so stride
// wrap-around is tolerated within half the counter range (spec §4.6).
func strideLess(a, b *TCB) bool { return int32(a.Stride-b.Stride) < 0 }

// SchedClass is the pluggable run-queue policy of spec §4.6. Exactly
// one implementation is installed per RunQueue, at construction.
type SchedClass interface {
	Init(rq *RunQueue)
	Enqueue(rq *RunQueue, t *TCB)
	Dequeue(rq *RunQueue, t *TCB)
	PickNext(rq *RunQueue) *TCB
	ProcTick(rq *RunQueue, t *TCB)
}

// RunQueue holds the runnable set, the time-slice cap new entries are
// (re)assigned, and the installed class's private ordering structure
// (a skew heap or a list, never both, stashed in priv). Matches
// spec §3's RunQueue: "a set of runnable TCBs, maximum time-slice, and
// a policy-private ordering structure".
type RunQueue struct {
	MaxTimeSlice int
	Class        SchedClass
	ProcNum      int

	priv any
}

// NewRunQueue returns a RunQueue governed by class, with new entries'
// time slices capped at maxTimeSlice.
func NewRunQueue(maxTimeSlice int, class SchedClass) *RunQueue {
	rq := &RunQueue{MaxTimeSlice: maxTimeSlice, Class: class}
	class.Init(rq)
	return rq
}

// each calls f with every TCB currently queued in rq, in no particular
// order, regardless of which SchedClass backs it.
func (rq *RunQueue) each(f func(*TCB)) {
	switch priv := rq.priv.(type) {
	case *skewheap.Heap[TCB]:
		priv.Each(f)
	case *klist.List[TCB]:
		priv.Each(f)
	}
}

// WriteProfile snapshots rq's queued TCBs as a pprof profile, one
// sample per TCB with its accumulated run count as the sample value
// and its stride/priority as labels, so stride-fairness regressions
// (runaway or starved threads) can be inspected with the standard
// pprof tool the way the teacher inspects kernel CPU profiles.
func (rq *RunQueue) WriteProfile(w io.Writer) error {
	fn := &profile.Function{ID: 1, Name: "runqueue"}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn}}}
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "runs", Unit: "count"}},
		Function:   []*profile.Function{fn},
		Location:   []*profile.Location{loc},
	}

	rq.each(func(t *TCB) {
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(t.Runs)},
			Label: map[string][]string{
				"stride":   {fmt.Sprintf("%d", t.Stride)},
				"priority": {fmt.Sprintf("%d", t.Priority)},
				"state":    {fmt.Sprintf("%d", t.State)},
			},
		})
	})

	if err := p.CheckValid(); err != nil {
		return err
	}
	return p.Write(w)
}

// Stride is the default SchedClass: pick_next always returns the
// minimum-stride TCB, backed by a skew heap for amortized O(log n)
// insert/remove/peek (spec §4.6).
type Stride struct{}

var _ SchedClass = (*Stride)(nil)

// NewStride returns the skew-heap-backed stride policy.
func NewStride() *Stride { return &Stride{} }

func (s *Stride) heap(rq *RunQueue) *skewheap.Heap[TCB] { return rq.priv.(*skewheap.Heap[TCB]) }

func (s *Stride) Init(rq *RunQueue) { rq.priv = skewheap.New[TCB](strideLess) }

func (s *Stride) Enqueue(rq *RunQueue, t *TCB) {
	if t.TimeSlice == 0 || t.TimeSlice > rq.MaxTimeSlice {
		t.TimeSlice = rq.MaxTimeSlice
	}
	t.rq = rq
	s.heap(rq).Insert(&t.heapLink)
	rq.ProcNum++
}

func (s *Stride) Dequeue(rq *RunQueue, t *TCB) {
	s.heap(rq).Remove(&t.heapLink)
	rq.ProcNum--
}

// PickNext peeks the minimum-stride TCB (it is removed from the heap
// by a subsequent Dequeue call, mirroring the original pick/dequeue
// split) and advances its stride.
func (s *Stride) PickNext(rq *RunQueue) *TCB {
	n := s.heap(rq).Peek()
	if n == nil {
		return nil
	}
	t := n.Owner()
	t.Stride += strideStep(t.Priority)
	return t
}

func (s *Stride) ProcTick(rq *RunQueue, t *TCB) {
	t.TimeSlice--
	if t.TimeSlice <= 0 {
		t.NeedResched = true
	}
}

// StrideList is the fallback linear-scan backing for the stride
// policy, retained for teaching (spec §4.6: "a fallback linear-scan
// list implementation is retained behind a compile-time switch for
// teaching"). Since SchedClass is already a runtime-pluggable
// interface in this port, the "switch" is choosing NewStrideList over
// NewStride at RunQueue construction rather than a build tag — the
// same substitution point, expressed the idiomatic-Go way.
type StrideList struct{}

var _ SchedClass = (*StrideList)(nil)

// NewStrideList returns the O(n)-pick_next stride policy.
func NewStrideList() *StrideList { return &StrideList{} }

func (s *StrideList) list(rq *RunQueue) *klist.List[TCB] { return rq.priv.(*klist.List[TCB]) }

func (s *StrideList) Init(rq *RunQueue) { rq.priv = klist.New[TCB]() }

func (s *StrideList) Enqueue(rq *RunQueue, t *TCB) {
	if t.TimeSlice == 0 || t.TimeSlice > rq.MaxTimeSlice {
		t.TimeSlice = rq.MaxTimeSlice
	}
	t.rq = rq
	s.list(rq).PushBack(&t.listLink)
	rq.ProcNum++
}

func (s *StrideList) Dequeue(rq *RunQueue, t *TCB) {
	s.list(rq).Remove(&t.listLink)
	rq.ProcNum--
}

func (s *StrideList) PickNext(rq *RunQueue) *TCB {
	var min *TCB
	s.list(rq).Each(func(t *TCB) {
		if min == nil || strideLess(t, min) {
			min = t
		}
	})
	if min == nil {
		return nil
	}
	min.Stride += strideStep(min.Priority)
	return min
}

func (s *StrideList) ProcTick(rq *RunQueue, t *TCB) {
	t.TimeSlice--
	if t.TimeSlice <= 0 {
		t.NeedResched = true
	}
}

// Scheduler is the top-level schedule()/wakeup_proc() entry point of
// spec §4.6, holding the currently running TCB and the idle fallback.
// A single instance suffices: the spec's Non-goals exclude SMP. mu
// serializes Schedule/WakeupProc the way masking interrupts would on
// real hardware; this port's callers are real goroutines rather than
// one interrupted thread of control, so the mutex is what actually
// provides that exclusion here.
type Scheduler struct {
	RQ      *RunQueue
	Current *TCB
	Idle    *TCB

	mu sync.Mutex
}

// NewScheduler returns a Scheduler whose current thread is idle.
func NewScheduler(rq *RunQueue, idle *TCB) *Scheduler {
	idle.State = Runnable
	return &Scheduler{RQ: rq, Current: idle, Idle: idle}
}

// Schedule implements spec §4.6's top-level entry point: clears
// Current.NeedResched, re-enqueues Current if it is still Runnable
// (Idle is never enqueued), picks and dequeues the next TCB (falling
// back to Idle if the run-queue is empty), bumps its run count, and reports whether a
// context switch is needed. Interrupt masking and the actual
// register/stack switch are the caller's and the architecture's
// responsibility respectively (spec §4.6, §9) — this models only the
// run-queue bookkeeping.
func (s *Scheduler) Schedule() (next *TCB, switched bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Current.NeedResched = false
	if s.Current.State == Runnable && s.Current != s.Idle {
		s.RQ.Class.Enqueue(s.RQ, s.Current)
	}
	next = s.RQ.Class.PickNext(s.RQ)
	if next != nil {
		s.RQ.Class.Dequeue(s.RQ, next)
	} else {
		next = s.Idle
	}
	next.Runs++
	switched = next != s.Current
	s.Current = next
	return next, switched
}

// WakeupProc transitions t from any non-Runnable state to Runnable and
// enqueues it (unless it is already Current), per spec §4.6. It is a
// fatal assertion for t to be a Zombie.
func (s *Scheduler) WakeupProc(t *TCB) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.State == Zombie {
		panic("sched: wakeup of zombie TCB")
	}
	if t.State != Runnable {
		t.State = Runnable
		t.WaitReason = 0
		if t != s.Current {
			s.RQ.Class.Enqueue(s.RQ, t)
		}
	}
}
