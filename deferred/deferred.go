package deferred

import (
	"fmt"
	"sync"
)

// Canceller is returned by Scheduler.ScheduleOnce; calling Cancel before the
// scheduled function runs prevents it from running.
type Canceller interface {
	Cancel()
}

// Scheduler is the minimal surface a Deferred needs from a reactor in order
// to support SetTimeout. Any reactor implementation that exposes a
// ScheduleOnce method of this shape satisfies it structurally; deferred
// never imports the reactor package, which would otherwise create a cycle.
type Scheduler interface {
	ScheduleOnce(delaySeconds float64, fn func()) Canceller
}

type callbackPair struct {
	callback func(result any) any
	errback  func(result any) any
}

// Deferred is a single-fire placeholder for a result that is not yet
// available. Callbacks and errbacks are queued with AddCallbacks and run in
// registration order once the Deferred fires, exactly once, with either a
// plain result or a *FailureValue. It mirrors twisted.internet.defer.Deferred.
type Deferred struct {
	mu        sync.Mutex
	callbacks []callbackPair
	fired     bool
	result    any
	hasResult bool
	paused    int
	running   bool

	scheduler Scheduler
	timeout   Canceller
}

// New returns a fresh, unfired Deferred.
func New() *Deferred {
	return &Deferred{}
}

// NewWithScheduler is like New but attaches a Scheduler so SetTimeout can be
// used on the returned Deferred.
func NewWithScheduler(s Scheduler) *Deferred {
	return &Deferred{scheduler: s}
}

// AddCallbacks registers a callback for the success path and an errback for
// the failure path. Either may be nil, in which case the corresponding
// result passes through unchanged to the next pair in the chain.
func (d *Deferred) AddCallbacks(callback, errback func(result any) any) *Deferred {
	d.mu.Lock()
	d.callbacks = append(d.callbacks, callbackPair{callback: callback, errback: errback})
	shouldRun := d.fired && !d.running && d.paused == 0
	d.mu.Unlock()
	if shouldRun {
		d.run()
	}
	return d
}

// AddCallback registers a success-path callback only.
func (d *Deferred) AddCallback(callback func(result any) any) *Deferred {
	return d.AddCallbacks(callback, nil)
}

// AddErrback registers a failure-path errback only.
func (d *Deferred) AddErrback(errback func(result any) any) *Deferred {
	return d.AddCallbacks(nil, errback)
}

// AddBoth registers the same function for both the success and failure
// paths.
func (d *Deferred) AddBoth(both func(result any) any) *Deferred {
	return d.AddCallbacks(both, both)
}

// Callback fires the Deferred with a successful result. It panics if the
// Deferred has already fired.
func (d *Deferred) Callback(result any) {
	d.fire(result)
}

// Errback fires the Deferred with a failure. If failure is not already a
// *FailureValue, it is wrapped in one with KindUserError.
func (d *Deferred) Errback(failure any) {
	switch v := failure.(type) {
	case *FailureValue:
		d.fire(v)
	case error:
		d.fire(NewFailureValue(v, KindUserError))
	default:
		d.fire(NewFailureValue(fmt.Errorf("%v", v), KindUserError))
	}
}

func (d *Deferred) fire(result any) {
	d.mu.Lock()
	if d.fired {
		d.mu.Unlock()
		panic("deferred: Deferred already fired")
	}
	d.fired = true
	d.result = result
	d.hasResult = true
	d.cancelTimeoutLocked()
	paused := d.paused
	d.mu.Unlock()
	if paused == 0 {
		d.run()
	}
}

// run drains the callback chain starting at the first unprocessed pair,
// stopping if a nested *Deferred pauses the chain or the queue is
// exhausted. It mirrors Deferred._runCallbacks.
func (d *Deferred) run() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	for {
		d.mu.Lock()
		if d.paused != 0 || len(d.callbacks) == 0 || !d.hasResult {
			d.running = false
			d.mu.Unlock()
			return
		}
		pair := d.callbacks[0]
		d.callbacks = d.callbacks[1:]
		current := d.result
		_, isFailure := current.(*FailureValue)
		d.mu.Unlock()

		var fn func(result any) any
		if isFailure {
			fn = pair.errback
		} else {
			fn = pair.callback
		}
		if fn == nil {
			continue
		}

		next := d.invoke(fn, current)

		if nested, ok := next.(*Deferred); ok {
			d.mu.Lock()
			d.paused++
			d.running = false
			d.mu.Unlock()
			nested.AddBoth(func(nestedResult any) any {
				d.mu.Lock()
				d.result = nestedResult
				d.paused--
				shouldRun := d.paused == 0 && !d.running
				d.mu.Unlock()
				if shouldRun {
					d.run()
				}
				return nestedResult
			})
			return
		}

		d.mu.Lock()
		d.result = next
		d.mu.Unlock()
	}
}

func (d *Deferred) invoke(fn func(result any) any, arg any) (result any) {
	defer func() {
		if r := recover(); r != nil {
			result = CaptureFailure(r)
		}
	}()
	return fn(arg)
}

// Pause suspends callback processing until a matching Unpause. It is used
// internally when a callback returns a nested *Deferred, and is exported so
// callers can implement the same pattern manually.
func (d *Deferred) Pause() {
	d.mu.Lock()
	d.paused++
	d.mu.Unlock()
}

// Unpause resumes callback processing suspended by Pause, re-running the
// chain if the Deferred has already fired and has queued work.
func (d *Deferred) Unpause() {
	d.mu.Lock()
	if d.paused > 0 {
		d.paused--
	}
	shouldRun := d.paused == 0 && d.fired && !d.running
	d.mu.Unlock()
	if shouldRun {
		d.run()
	}
}

// ChainDeferred arms other so that when d fires, its result (success or
// failure) becomes other's callback/errback input. It returns d for
// chaining convenience.
func (d *Deferred) ChainDeferred(other *Deferred) *Deferred {
	return d.AddBoth(func(result any) any {
		if f, ok := result.(*FailureValue); ok {
			other.Errback(f)
		} else {
			other.Callback(result)
		}
		return result
	})
}

// SetTimeout arms a timer via the attached Scheduler that errbacks the
// Deferred with a KindTimeout failure if it has not already fired after
// delaySeconds. It is a no-op (and returns an error) if no Scheduler was
// attached via NewWithScheduler.
func (d *Deferred) SetTimeout(delaySeconds float64, message string) error {
	if d.scheduler == nil {
		return fmt.Errorf("deferred: SetTimeout requires a Scheduler, none attached")
	}
	d.mu.Lock()
	if d.fired {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	d.timeout = d.scheduler.ScheduleOnce(delaySeconds, func() {
		d.mu.Lock()
		if d.fired {
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()
		if message == "" {
			message = "deferred: timed out"
		}
		d.Errback(NewFailureFromString(message, KindTimeout))
	})
	return nil
}

func (d *Deferred) cancelTimeoutLocked() {
	if d.timeout != nil {
		d.timeout.Cancel()
		d.timeout = nil
	}
}

// Close cancels any outstanding timeout registration without firing the
// Deferred. Per this module's decision on destroying an unfired Deferred
// with a live timer (see DESIGN.md), callers that drop a Deferred without
// calling Close leak the timer; Close itself does not log, since it has no
// logger to log through — callers that care should log at the call site.
func (d *Deferred) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelTimeoutLocked()
}

// Fired reports whether the Deferred has already been given a result.
func (d *Deferred) Fired() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fired
}

// Result returns the current result and whether one has been set. The
// result may still be subject to further callback processing if the chain
// is paused.
func (d *Deferred) Result() (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.result, d.hasResult
}
