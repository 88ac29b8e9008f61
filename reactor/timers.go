package reactor

import (
	"container/heap"
	"time"

	"github.com/joeycumines/reactor/deferred"
)

// timerEntry is one scheduled callback, ordered by when it should fire.
type timerEntry struct {
	when     time.Time
	fn       func()
	index    int
	canceled bool
}

// timerHeap is a container/heap.Interface min-heap over timerEntry.when.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	return h[i].when.Before(h[j].when)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	entry := x.(*timerEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

// DelayedCall is the public handle returned by Reactor.CallLater, mirroring
// twisted.internet.base.DelayedCall.
type DelayedCall struct {
	entry *timerEntry
	r     *Reactor
}

// Cancel prevents this call from running, if it has not already fired.
func (dc *DelayedCall) Cancel() {
	dc.r.mu.Lock()
	defer dc.r.mu.Unlock()
	dc.entry.canceled = true
}

// Active reports whether the call is still pending.
func (dc *DelayedCall) Active() bool {
	dc.r.mu.Lock()
	defer dc.r.mu.Unlock()
	return !dc.entry.canceled && dc.entry.index >= 0
}

// GetTime returns the absolute time the call is scheduled to run.
func (dc *DelayedCall) GetTime() time.Time {
	return dc.entry.when
}

// Delay reschedules the call to run extraSeconds later than currently
// planned.
func (dc *DelayedCall) Delay(extraSeconds float64) {
	dc.r.mu.Lock()
	defer dc.r.mu.Unlock()
	dc.entry.when = dc.entry.when.Add(time.Duration(extraSeconds * float64(time.Second)))
	heap.Fix(&dc.r.timers, dc.entry.index)
}

// Reset reschedules the call to run secondsFromNow seconds from now.
func (dc *DelayedCall) Reset(secondsFromNow float64) {
	dc.r.mu.Lock()
	defer dc.r.mu.Unlock()
	dc.entry.when = time.Now().Add(time.Duration(secondsFromNow * float64(time.Second)))
	heap.Fix(&dc.r.timers, dc.entry.index)
}

// CallLater schedules fn to run on the reactor goroutine delaySeconds from
// now, returning a handle that can cancel or reschedule it.
func (r *Reactor) CallLater(delaySeconds float64, fn func()) *DelayedCall {
	r.mu.Lock()
	entry := &timerEntry{
		when: time.Now().Add(time.Duration(delaySeconds * float64(time.Second))),
		fn:   fn,
	}
	heap.Push(&r.timers, entry)
	r.mu.Unlock()
	r.wake()
	return &DelayedCall{entry: entry, r: r}
}

// reactorCanceller adapts a *DelayedCall to deferred.Canceller.
type reactorCanceller struct {
	dc *DelayedCall
}

func (c reactorCanceller) Cancel() { c.dc.Cancel() }

// ScheduleOnce implements deferred.Scheduler, letting a *deferred.Deferred
// created with deferred.NewWithScheduler(reactor) use SetTimeout without
// the deferred package importing reactor (which would be circular).
func (r *Reactor) ScheduleOnce(delaySeconds float64, fn func()) deferred.Canceller {
	dc := r.CallLater(delaySeconds, fn)
	return reactorCanceller{dc: dc}
}

// runExpiredTimers pops and runs every timer whose deadline has passed,
// returning the duration until the next pending timer (or -1 if none
// remain). Callers must hold no lock; it takes r.mu internally per-pop so
// a long-running callback cannot stall timer bookkeeping for others.
func (r *Reactor) runExpiredTimers() time.Duration {
	for {
		r.mu.Lock()
		if r.timers.Len() == 0 {
			r.mu.Unlock()
			return -1
		}
		next := r.timers[0]
		now := time.Now()
		if next.when.After(now) {
			wait := next.when.Sub(now)
			r.mu.Unlock()
			return wait
		}
		heap.Pop(&r.timers)
		canceled := next.canceled
		r.mu.Unlock()

		if canceled {
			continue
		}
		r.safeExecute(next.fn)
	}
}
