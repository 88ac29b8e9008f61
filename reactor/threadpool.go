package reactor

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"

	"github.com/joeycumines/reactor/deferred"
)

// threadPool runs blocking work (synchronous DNS, disk I/O, anything a
// caller can't afford to run on the reactor goroutine) off the event loop,
// bounded by a weighted semaphore so a burst of CallInThread calls can't
// spawn unbounded goroutines.
type threadPool struct {
	sem *semaphore.Weighted
}

// SuggestThreadPoolSize returns a reasonable default worker count: twice
// the number of logical CPUs, since CallInThread work is expected to be
// I/O-bound rather than CPU-bound.
func SuggestThreadPoolSize() int {
	n := runtime.NumCPU() * 2
	if n < 4 {
		n = 4
	}
	return n
}

func newThreadPool(size int) *threadPool {
	if size <= 0 {
		size = SuggestThreadPoolSize()
	}
	return &threadPool{sem: semaphore.NewWeighted(int64(size))}
}

// CallInThread runs fn on a pooled goroutine and delivers its result back
// onto the reactor goroutine via CallFromThread, so the returned
// Deferred's callbacks always run on the reactor thread like every other
// Deferred in this module.
func (r *Reactor) CallInThread(fn func() (any, error)) *deferred.Deferred {
	result := deferred.NewWithScheduler(r)

	if err := r.pool.sem.Acquire(context.Background(), 1); err != nil {
		result.Errback(err)
		return result
	}

	go func() {
		defer r.pool.sem.Release(1)

		var value any
		var err error
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					err = wrapPanic(rec)
				}
			}()
			value, err = fn()
		}()

		r.CallFromThread(func() {
			if err != nil {
				result.Errback(err)
				return
			}
			result.Callback(value)
		})
	}()

	return result
}
