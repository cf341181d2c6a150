// Package tick implements spec §4.8's timer-tick dispatch: the periodic
// hardware tick handler that advances the current TCB's time slice, a
// sorted sleep list that wakes expired sleepers, and the
// return-to-user glue that calls schedule() when need_resched is set.
//
// Grounded on original_source/.../kern/schedule/sched.c's timer-vector
// shape (proc_tick then conditional schedule on return-to-user) and
// adapted from biscuit/src/accnt/accnt.go's nanosecond counters, here
// simplified to a plain tick count since this kernel has no
// wall-clock-backed accounting (spec's Non-goals exclude a real RTC).
package tick

import (
	"sort"

	"ucgo/ksync"
	"ucgo/sched"
	"ucgo/swap"
)

// Clock drives the periodic timer-tick dispatch of spec §4.8.
type Clock struct {
	sc     *sched.Scheduler
	swap   *swap.Manager
	ticks  uint64
	sleeps []sleeper
}

// sleeper is one entry of the sorted-by-remaining-ticks sleep list
// (spec §4.8: "a sorted list of (remaining_ticks, TCB)"). This port
// keeps the list as a plain slice re-sorted on insert rather than the
// delta-encoded linked list a kernel would use to make each tick O(1)
// regardless of sleeper count — sleeper counts in this teaching kernel
// are small enough that the simplification is invisible, and it avoids
// a second intrusive-list type for a single caller.
type sleeper struct {
	remaining int
	t         *sched.TCB
	wq        *ksync.WaitQueue
	node      *ksync.WaitNode
}

// NewClock returns a Clock dispatching through sc. sw may be nil for
// configurations without a swap subsystem (e.g. unit tests of sched
// alone); Dispatch skips the swap tick event in that case.
func NewClock(sc *sched.Scheduler, sw *swap.Manager) *Clock {
	return &Clock{sc: sc, swap: sw}
}

// Ticks reports the number of timer ticks dispatched so far.
func (c *Clock) Ticks() uint64 { return c.ticks }

// Sleep puts the scheduler's current thread to sleep on q for n ticks,
// per spec §4.8's do_sleep: it marks the thread Sleeping, adds it to
// the sleep list, calls Schedule, and returns. It does not park the
// calling goroutine; Dispatch wakes the thread once n ticks have
// elapsed. n <= 0 returns immediately without registering anything.
func (c *Clock) Sleep(q *ksync.WaitQueue, n int) {
	if n <= 0 {
		return
	}
	cur := c.sc.Current
	node := ksync.WaitCurrent(q, cur, 0)
	c.sleeps = append(c.sleeps, sleeper{remaining: n, t: cur, wq: q, node: node})
	sort.Slice(c.sleeps, func(i, j int) bool { return c.sleeps[i].remaining < c.sleeps[j].remaining })
	c.sc.Schedule()
}

// Dispatch implements the timer vector of spec §4.8/§9: advance
// current's time slice via the scheduler's installed class, age the
// sleep list and wake any sleeper whose remaining count reaches zero,
// and report whether the trap-return path must call Schedule.
func (c *Clock) Dispatch() (needResched bool) {
	c.ticks++

	cur := c.sc.Current
	if cur == c.sc.Idle {
		cur.NeedResched = true
	} else {
		c.sc.RQ.Class.ProcTick(c.sc.RQ, cur)
	}

	if c.swap != nil && cur.MM != nil {
		c.swap.TickEvent(cur.MM)
	}

	c.ageSleepers()

	return cur.NeedResched
}

// ageSleepers decrements every pending sleeper's remaining count, not
// just the head: c.sleeps holds absolute remaining-tick counts (set
// once at Sleep time and never rewritten relative to each other), so
// only the soonest-to-wake sleeper sharing the head's deadline would
// ever reach zero if aging stopped at index 0 — every sleeper behind
// it would be delayed by the sum of every earlier sleeper's duration.
// A delta-encoded list would let aging touch only the head; this one
// doesn't, so it must age the whole list.
func (c *Clock) ageSleepers() {
	for i := range c.sleeps {
		c.sleeps[i].remaining--
	}
	for len(c.sleeps) > 0 && c.sleeps[0].remaining <= 0 {
		s := c.sleeps[0]
		c.sleeps = c.sleeps[1:]
		ksync.Remove(s.wq, s.node)
		c.sc.WakeupProc(s.t)
	}
}

// ReturnToUser implements the trap-return half of spec §4.8/§9's
// timer interface: call Schedule iff the current thread's
// need_resched flag is set.
func (c *Clock) ReturnToUser() (next *sched.TCB, switched bool) {
	if !c.sc.Current.NeedResched {
		return c.sc.Current, false
	}
	return c.sc.Schedule()
}
