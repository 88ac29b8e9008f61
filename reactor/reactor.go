// Package reactor implements the single-threaded event loop underpinning
// this module's networking stack: one goroutine multiplexes timers,
// submitted tasks, and registered file descriptors, driving every
// Deferred-based callback on a single, predictable thread, following
// Twisted's reactor contract (Run/Stop/CallLater/CallFromThread/system
// events).
package reactor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/joeycumines/logiface"
	logifaceslog "github.com/joeycumines/logiface-slog"
	"github.com/joeycumines/reactor/deferred"
)

// Reactor is the event loop. The zero value is not usable; construct one
// with New.
type Reactor struct {
	opts *reactorOptions

	state *fastState

	mu     sync.Mutex
	timers timerHeap

	external taskQueue
	internal taskQueue
	micro    microtaskRing

	events systemEvents

	poller      poller
	userFDCount int

	pool *threadPool

	logger  *logiface.Logger[*logifaceslog.Event]
	latency *latencyMetrics

	queueStats queueMetrics

	wakeupCh chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	runGoroutine uint64
	runGoSet     bool
}

// New constructs a Reactor. It does not start running until Run is called.
func New(opts ...ReactorOption) (*Reactor, error) {
	o := resolveOptions(opts)

	p, err := newPoller()
	if err != nil {
		return nil, fmt.Errorf("reactor: creating poller: %w", err)
	}

	r := &Reactor{
		opts:     o,
		state:    newFastState(),
		poller:   p,
		pool:     newThreadPool(o.threadPoolSize),
		logger:   o.logger,
		latency:  newLatencyMetrics(),
		wakeupCh: make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
	}
	return r, nil
}

// Run drives the event loop until ctx is canceled or Stop is called. It
// blocks the calling goroutine, which becomes "the reactor goroutine":
// Submit/CallFromThread are the only safe way for other goroutines to run
// code against reactor-owned state while it is running.
func (r *Reactor) Run(ctx context.Context) error {
	if !r.state.TryTransition(StateAwake, StateRunning) {
		return ErrAlreadyRunning
	}
	r.runGoroutine = currentGoroutineID()
	r.runGoSet = true

	defer close(r.doneCh)
	defer r.poller.Close()

	for {
		if ctx.Err() != nil {
			r.state.Store(StateTerminated)
			return ctx.Err()
		}
		if r.state.Load() == StateTerminating {
			r.drainFinal()
			r.state.Store(StateTerminated)
			return nil
		}

		start := time.Now()
		r.tick(ctx)
		if r.opts.metricsEnabled {
			r.latency.Record(time.Since(start))
		}
	}
}

// tick runs one iteration: expired timers, queued tasks, microtasks, then
// blocks in the poller until the next timer or an external wakeup.
func (r *Reactor) tick(ctx context.Context) {
	wait := r.runExpiredTimers()

	r.runQueue(&r.internal)
	r.runQueue(&r.external)
	r.micro.drainAll(r.safeExecute)

	if r.opts.metricsEnabled {
		r.queueStats.UpdateInternal(r.internal.len())
		r.queueStats.UpdateExternal(r.external.len())
	}

	if r.internal.len() > 0 || r.external.len() > 0 {
		return
	}

	timeout := r.calculateTimeout(wait)
	if !r.state.TryTransition(StateRunning, StateSleeping) {
		return
	}
	if err := r.poller.Poll(timeout); err != nil {
		r.logger.Err().Err(err).Log("reactor: poll error")
	}
	r.state.TransitionAny([]ReactorState{StateSleeping}, StateRunning)
}

func (r *Reactor) calculateTimeout(nextTimer time.Duration) time.Duration {
	const maxIdle = 5 * time.Second
	if nextTimer < 0 {
		return maxIdle
	}
	if nextTimer > maxIdle {
		return maxIdle
	}
	return nextTimer
}

func (r *Reactor) runQueue(q *taskQueue) {
	batch := q.drain()
	for _, fn := range batch {
		r.safeExecute(fn)
	}
}

func (r *Reactor) drainFinal() {
	for i := 0; i < 3; i++ {
		before := r.internal.len() + r.external.len()
		r.runQueue(&r.internal)
		r.runQueue(&r.external)
		r.micro.drainAll(r.safeExecute)
		if before == 0 {
			break
		}
	}
}

// safeExecute runs fn, recovering and logging any panic rather than
// letting it crash the reactor goroutine.
func (r *Reactor) safeExecute(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Err().Interface("panic", rec).Log("reactor: recovered panic in callback")
		}
	}()
	fn()
}

// Submit enqueues fn to run on the reactor goroutine as soon as it next
// processes the external queue. Safe to call from any goroutine, including
// the reactor goroutine itself.
func (r *Reactor) Submit(fn func()) error {
	if !r.state.CanAcceptWork() {
		return ErrNotRunning
	}
	r.external.push(fn)
	r.wake()
	return nil
}

// CallFromThread is an alias for Submit, named to mirror Twisted's
// reactor.callFromThread: the idiom of handing work back to the reactor
// goroutine from a worker thread (see CallInThread).
func (r *Reactor) CallFromThread(fn func()) error {
	return r.Submit(fn)
}

// QueueMicrotask schedules fn to run before the reactor next polls for
// I/O, after the current queue pass completes. Nothing inside this module
// queues microtasks (Deferred resumption runs synchronously); it is exposed
// for callers that want JS-microtask-like ordering guarantees.
func (r *Reactor) QueueMicrotask(fn func()) {
	r.micro.push(fn)
	r.wake()
}

func (r *Reactor) wake() {
	select {
	case r.wakeupCh <- struct{}{}:
	default:
	}
	if r.poller != nil {
		r.poller.Wake()
	}
}

// Stop requests the reactor to shut down: it fires the "shutdown" system
// event (before/during/after), drains remaining queued work, then returns
// once Run has exited or ctx is canceled, whichever comes first.
func (r *Reactor) Stop(ctx context.Context) error {
	var stopErr error
	r.stopOnce.Do(func() {
		shutdown := r.FireSystemEvent("shutdown")
		done := make(chan struct{})
		shutdown.AddBoth(func(any) any {
			close(done)
			return nil
		})

		select {
		case <-done:
		case <-ctx.Done():
			stopErr = ctx.Err()
		}

		r.state.TransitionAny([]ReactorState{StateAwake, StateRunning, StateSleeping}, StateTerminating)
		r.wake()
	})
	if stopErr != nil {
		return stopErr
	}
	select {
	case <-r.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Crash moves the reactor to Terminating without running shutdown
// triggers, mirroring reactor.crash(); Run then drains already-queued work
// and sets Terminated. Intended for tests and emergency shutdown paths only.
func (r *Reactor) Crash() {
	r.state.Store(StateTerminating)
	r.wake()
}

// State returns the reactor's current lifecycle state.
func (r *Reactor) State() ReactorState {
	return r.state.Load()
}

// RegisterFD registers fd for the given readiness events; cb runs on the
// reactor goroutine whenever fd becomes ready.
func (r *Reactor) RegisterFD(fd int, events IOEvent, cb IOCallback) error {
	r.mu.Lock()
	r.userFDCount++
	r.mu.Unlock()
	return r.poller.RegisterFD(fd, events, cb)
}

// ModifyFD changes the registered readiness events for fd.
func (r *Reactor) ModifyFD(fd int, events IOEvent) error {
	return r.poller.ModifyFD(fd, events)
}

// UnregisterFD removes fd from the poller.
func (r *Reactor) UnregisterFD(fd int) error {
	r.mu.Lock()
	if r.userFDCount > 0 {
		r.userFDCount--
	}
	r.mu.Unlock()
	return r.poller.UnregisterFD(fd)
}

// IsReactorGoroutine reports whether the calling goroutine is the one
// running Run. Callers can use it to assert they are not being invoked off
// the reactor goroutine by mistake; no package in this module calls it.
func (r *Reactor) IsReactorGoroutine() bool {
	return r.runGoSet && currentGoroutineID() == r.runGoroutine
}

// currentGoroutineID parses the calling goroutine's ID out of a runtime
// stack trace, since Go has no public goroutine-ID API.
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	const prefix = "goroutine "
	if n <= len(prefix) {
		return 0
	}
	var id uint64
	// Stack traces start with "goroutine <id> [...]"
	for _, b := range buf[len(prefix):n] {
		if b < '0' || b > '9' {
			break
		}
		id = id*10 + uint64(b-'0')
	}
	return id
}

var _ deferred.Scheduler = (*Reactor)(nil)
