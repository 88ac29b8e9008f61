package deferred

import "sync"

// DLResult is one slot of a DeferredList's aggregated result: Success
// reports whether the corresponding Deferred fired via its callback path,
// and Value holds either the success result or the *FailureValue.
type DLResult struct {
	Success bool
	Value   any
}

// DeferredListOptions configures DeferredList's aggregation semantics, as
// twisted.internet.defer.DeferredList's constructor flags do.
type DeferredListOptions struct {
	// FireOnOneCallback fires the list's Deferred as soon as any one input
	// Deferred succeeds, with that single result (not the full slice).
	FireOnOneCallback bool
	// FireOnOneErrback fires the list's Deferred as soon as any one input
	// Deferred fails, with that single failure (not the full slice).
	FireOnOneErrback bool
	// ConsumeErrors, when true, prevents "Unhandled error in Deferred"
	// style propagation past the list for errored inputs whose failure was
	// already captured into the aggregated result.
	ConsumeErrors bool
}

// DeferredList aggregates the results of several Deferreds into a single
// Deferred. With the default options it fires only once every input has
// fired, with a []DLResult in input order (gatherResults' semantics when
// fireOnOneErrback is also set, per original_source/twisted/internet/defer.py).
func DeferredList(ds []*Deferred, opts DeferredListOptions) *Deferred {
	result := New()

	if len(ds) == 0 {
		result.Callback([]DLResult{})
		return result
	}

	var mu sync.Mutex
	results := make([]DLResult, len(ds))
	remaining := len(ds)
	done := false

	fireOnce := func(value any) {
		mu.Lock()
		if done {
			mu.Unlock()
			return
		}
		done = true
		mu.Unlock()
		result.Callback(value)
	}

	for i, d := range ds {
		idx := i
		d.AddBoth(func(r any) any {
			if f, isFailure := r.(*FailureValue); isFailure {
				mu.Lock()
				results[idx] = DLResult{Success: false, Value: f}
				remaining--
				left := remaining
				mu.Unlock()

				if opts.FireOnOneErrback {
					fireOnce(f)
				} else if left == 0 {
					fireOnce(append([]DLResult(nil), results...))
				}
				if opts.ConsumeErrors {
					return nil
				}
				return r
			}

			mu.Lock()
			results[idx] = DLResult{Success: true, Value: r}
			remaining--
			left := remaining
			mu.Unlock()

			if opts.FireOnOneCallback {
				fireOnce(r)
			} else if left == 0 {
				fireOnce(append([]DLResult(nil), results...))
			}
			return r
		})
	}

	return result
}

// GatherResults is the common case of DeferredList: wait for every input to
// succeed and return a slice of their plain results, or fail fast with the
// first failure encountered. It mirrors
// twisted.internet.defer.gatherResults.
func GatherResults(ds []*Deferred) *Deferred {
	list := DeferredList(ds, DeferredListOptions{FireOnOneErrback: true, ConsumeErrors: true})
	out := New()
	list.AddCallbacks(func(r any) any {
		switch v := r.(type) {
		case []DLResult:
			values := make([]any, len(v))
			for i, entry := range v {
				values[i] = entry.Value
			}
			out.Callback(values)
		default:
			out.Callback(r)
		}
		return r
	}, func(r any) any {
		out.Errback(r)
		return r
	})
	return out
}
