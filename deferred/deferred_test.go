package deferred

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCallbackChainOrder covers invariant 1: callbacks run in registration
// order, exactly once.
func TestCallbackChainOrder(t *testing.T) {
	d := New()
	var order []int
	d.AddCallback(func(r any) any {
		order = append(order, 1)
		return r
	})
	d.AddCallback(func(r any) any {
		order = append(order, 2)
		return r
	})
	d.Callback("go")
	assert.Equal(t, []int{1, 2}, order)
}

// TestErrbackSkipsCallbacks covers invariant 2: once a FailureValue enters
// the chain, only errbacks run until one recovers by returning a
// non-failure value.
func TestErrbackSkipsCallbacks(t *testing.T) {
	d := New()
	var ran []string
	d.AddCallbacks(func(r any) any {
		ran = append(ran, "callback1")
		return r
	}, func(r any) any {
		ran = append(ran, "errback1")
		return r
	})
	d.AddCallbacks(func(r any) any {
		ran = append(ran, "callback2")
		return r
	}, func(r any) any {
		ran = append(ran, "errback2")
		return "recovered"
	})
	d.AddCallback(func(r any) any {
		ran = append(ran, "callback3")
		assert.Equal(t, "recovered", r)
		return r
	})

	d.Errback(errors.New("fail"))

	assert.Equal(t, []string{"errback1", "errback2", "callback3"}, ran)
}

func TestFireTwicePanics(t *testing.T) {
	d := New()
	d.Callback(1)
	assert.Panics(t, func() {
		d.Callback(2)
	})
}

// TestAddCallbacksAfterFireRunsImmediately covers the case where a consumer
// attaches handlers after the Deferred has already fired.
func TestAddCallbacksAfterFireRunsImmediately(t *testing.T) {
	d := New()
	d.Callback("already done")
	var got any
	d.AddCallback(func(r any) any {
		got = r
		return r
	})
	assert.Equal(t, "already done", got)
}

// TestNestedDeferredPausesChain covers the pause/resume behavior when a
// callback returns another *Deferred.
func TestNestedDeferredPausesChain(t *testing.T) {
	d := New()
	inner := New()

	var final any
	d.AddCallback(func(r any) any {
		return inner
	})
	d.AddCallback(func(r any) any {
		final = r
		return r
	})

	d.Callback("start")
	assert.Nil(t, final, "chain should be paused until inner fires")

	inner.Callback("inner result")
	assert.Equal(t, "inner result", final)
}

func TestPanicInCallbackBecomesFailure(t *testing.T) {
	d := New()
	var errback any
	d.AddCallback(func(r any) any {
		panic("blew up")
	})
	d.AddErrback(func(r any) any {
		errback = r
		return r
	})
	d.Callback("go")
	require.NotNil(t, errback)
	f, ok := errback.(*FailureValue)
	require.True(t, ok)
	assert.Contains(t, f.Error(), "blew up")
}

func TestChainDeferred(t *testing.T) {
	d := New()
	other := New()
	d.ChainDeferred(other)

	var got any
	other.AddCallback(func(r any) any {
		got = r
		return r
	})

	d.Callback("chained")
	assert.Equal(t, "chained", got)
}

type fakeScheduler struct {
	fn        func()
	cancelled *bool
}

type fakeCanceller struct {
	cancelled *bool
}

func (c fakeCanceller) Cancel() {
	*c.cancelled = true
}

func (s *fakeScheduler) ScheduleOnce(delaySeconds float64, fn func()) Canceller {
	s.fn = fn
	cancelled := false
	s.cancelled = &cancelled
	return fakeCanceller{cancelled: &cancelled}
}

func TestSetTimeoutFiresErrback(t *testing.T) {
	sched := &fakeScheduler{}
	d := NewWithScheduler(sched)
	require.NoError(t, d.SetTimeout(1, "took too long"))

	var got any
	d.AddErrback(func(r any) any {
		got = r
		return r
	})

	require.NotNil(t, sched.fn)
	sched.fn()

	f, ok := got.(*FailureValue)
	require.True(t, ok)
	assert.Equal(t, KindTimeout, f.Kind())
}

func TestSetTimeoutNoSchedulerErrors(t *testing.T) {
	d := New()
	err := d.SetTimeout(1, "n/a")
	assert.Error(t, err)
}

func TestCloseCancelsTimeout(t *testing.T) {
	sched := &fakeScheduler{}
	d := NewWithScheduler(sched)
	require.NoError(t, d.SetTimeout(5, "n/a"))
	d.Close()
	require.NotNil(t, sched.cancelled)
	assert.True(t, *sched.cancelled)
	// Firing after Close should not error and the timeout func, if ever
	// invoked spuriously, must be a no-op because d already fired.
	d.Callback("done")
	sched.fn()
	result, ok := d.Result()
	assert.True(t, ok)
	assert.Equal(t, "done", result)
}

func TestDeferredResultBeforeFire(t *testing.T) {
	d := New()
	_, ok := d.Result()
	assert.False(t, ok)
	assert.False(t, d.Fired())
}

func TestConcurrentAddCallbackDuringFire(t *testing.T) {
	// Smoke-test that AddCallbacks/Callback can race without data races
	// under -race; correctness of ordering is covered above.
	d := New()
	done := make(chan struct{})
	go func() {
		time.Sleep(time.Millisecond)
		d.Callback("x")
		close(done)
	}()
	d.AddCallback(func(r any) any { return r })
	<-done
}
