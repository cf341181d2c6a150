package ksync

// Dining philosophers is one of the supplemented features pulled from
// original_source/ (check_sync.c's monitor demo). Two independent
// scenarios exercise the two blocking primitives under real concurrent
// contention: forks-as-semaphores exercises the Down/Up FIFO wakeup
// path with the classic asymmetric fork order avoiding circular-wait
// deadlock, and the monitor-based variant below exercises the Hoare
// baton discipline per spec §8 scenario 5 ("five dining philosophers
// implemented with the monitor ... no two adjacent philosophers
// simultaneously in EATING state at any observation point").

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ucgo/sched"
)

func newTestSchedulerForSync() *sched.Scheduler {
	rq := sched.NewRunQueue(10, sched.NewStride())
	return sched.NewScheduler(rq, sched.NewTCB(0))
}

func TestDiningPhilosophersNoDeadlockOrDoubleEating(t *testing.T) {
	const philosophers = 5
	const meals = 50

	sc := newTestSchedulerForSync()
	forks := make([]*Semaphore, philosophers)
	for i := range forks {
		forks[i] = NewSemaphore(1)
	}

	var holders [philosophers]int32 // indexed by fork id: how many philosophers currently hold it
	var violations int32
	var wg sync.WaitGroup
	wg.Add(philosophers)

	for i := 0; i < philosophers; i++ {
		left, right := i, (i+1)%philosophers
		// The last philosopher picks up their right fork first,
		// breaking the symmetric circular-wait that would otherwise
		// deadlock all five at once.
		if i == philosophers-1 {
			left, right = right, left
		}
		go func() {
			defer wg.Done()
			for m := 0; m < meals; m++ {
				forks[left].Down(sc)
				if atomic.AddInt32(&holders[left], 1) > 1 {
					atomic.AddInt32(&violations, 1)
				}
				forks[right].Down(sc)
				if atomic.AddInt32(&holders[right], 1) > 1 {
					atomic.AddInt32(&violations, 1)
				}

				atomic.AddInt32(&holders[right], -1)
				forks[right].Up(sc)
				atomic.AddInt32(&holders[left], -1)
				forks[left].Up(sc)
			}
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("dining philosophers deadlocked")
	}

	if violations != 0 {
		t.Fatalf("%d mutual-exclusion violations on a shared fork", violations)
	}
}

// diningState is a philosopher's state in the classic monitor
// solution (check_sync.c's phi_state_e): THINKING, HUNGRY (wants to
// eat, waiting on neighbors), or EATING.
type diningState int

const (
	thinking diningState = iota
	hungry
	eating
)

// diningMonitor is the monitor-based dining-philosophers solution:
// one condition variable per philosopher, guarded by a single entry
// mutex, with eligibility to eat decided entirely inside the monitor
// so two neighbors can never observe each other EATING.
type diningMonitor struct {
	m          *Monitor
	n          int
	state      []diningState
	violations int32 // atomic: adjacent-eating observations
}

func newDiningMonitor(n int) *diningMonitor {
	return &diningMonitor{m: NewMonitor(n), n: n, state: make([]diningState, n)}
}

func (d *diningMonitor) left(i int) int  { return (i + d.n - 1) % d.n }
func (d *diningMonitor) right(i int) int { return (i + 1) % d.n }

// test implements check_sync.c's phi_test: i may eat iff it is hungry
// and neither neighbor is currently eating; if so, it becomes EATING
// and its waiter (if parked in pickup) is signalled.
func (d *diningMonitor) test(sc *sched.Scheduler, i int) {
	if d.state[i] != hungry {
		return
	}
	if d.state[d.left(i)] == eating || d.state[d.right(i)] == eating {
		return
	}
	d.state[i] = eating
	if d.state[d.left(i)] == eating || d.state[d.right(i)] == eating {
		atomic.AddInt32(&d.violations, 1)
	}
	d.m.CV(i).Signal(sc)
}

// pickup implements phi_take_forks: mark hungry, try to become
// eligible immediately, and wait on the monitor otherwise — the
// baton-passing CondVar.Wait releases the monitor while blocked and
// is handed it back by whichever test() call later signals i.
func (d *diningMonitor) pickup(sc *sched.Scheduler, i int) {
	d.m.Enter(sc)
	d.state[i] = hungry
	d.test(sc, i)
	if d.state[i] != eating {
		d.m.CV(i).Wait(sc)
	}
	d.m.Exit(sc)
}

// putdown implements phi_put_forks: go back to THINKING and let each
// neighbor retry, entirely inside the monitor (spec §9's note that the
// baton idiom must be used uniformly at every monitor exit, not just
// some copies of it).
func (d *diningMonitor) putdown(sc *sched.Scheduler, i int) {
	d.m.Enter(sc)
	d.state[i] = thinking
	d.test(sc, d.left(i))
	d.test(sc, d.right(i))
	d.m.Exit(sc)
}

// TestDiningPhilosophersWithMonitorNoAdjacentEating reproduces spec §8
// scenario 5 verbatim: five philosophers run TIMES=4 iterations each
// through the monitor-guarded pickup/putdown pair; d.test's own
// re-check right after committing EATING (above) would flag any
// adjacent-eating observation as it happens, not just after the fact.
func TestDiningPhilosophersWithMonitorNoAdjacentEating(t *testing.T) {
	const philosophers = 5
	const times = 4

	sc := newTestSchedulerForSync()
	d := newDiningMonitor(philosophers)

	var wg sync.WaitGroup
	wg.Add(philosophers)
	for i := 0; i < philosophers; i++ {
		i := i
		go func() {
			defer wg.Done()
			for iter := 0; iter < times; iter++ {
				d.pickup(sc, i)
				d.putdown(sc, i)
			}
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("monitor-based dining philosophers deadlocked")
	}

	if v := atomic.LoadInt32(&d.violations); v != 0 {
		t.Fatalf("%d adjacent-eating observations", v)
	}
}
