package reactor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/reactor/deferred"
)

func newTestReactor(t *testing.T) *Reactor {
	t.Helper()
	r, err := New()
	require.NoError(t, err)
	return r
}

func runReactor(t *testing.T, r *Reactor) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestReactorRunAndSubmit(t *testing.T) {
	r := newTestReactor(t)
	stop := runReactor(t, r)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	var ran bool
	err := r.Submit(func() {
		ran = true
		wg.Done()
	})
	require.NoError(t, err)

	waitTimeout(t, &wg, time.Second)
	assert.True(t, ran)
}

func TestReactorCallLater(t *testing.T) {
	r := newTestReactor(t)
	stop := runReactor(t, r)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	start := time.Now()
	var fired time.Time
	r.CallLater(0.05, func() {
		fired = time.Now()
		wg.Done()
	})
	waitTimeout(t, &wg, time.Second)
	assert.True(t, fired.Sub(start) >= 40*time.Millisecond)
}

func TestReactorCallLaterCancel(t *testing.T) {
	r := newTestReactor(t)
	stop := runReactor(t, r)
	defer stop()

	ran := false
	dc := r.CallLater(0.05, func() { ran = true })
	dc.Cancel()
	assert.False(t, dc.Active())

	time.Sleep(100 * time.Millisecond)
	assert.False(t, ran)
}

func TestReactorSubmitAfterStopFails(t *testing.T) {
	r := newTestReactor(t)
	stop := runReactor(t, r)
	stop()

	// give Run a moment to fully settle into Terminated
	time.Sleep(10 * time.Millisecond)
	err := r.Submit(func() {})
	assert.Error(t, err)
}

func TestReactorCallInThread(t *testing.T) {
	r := newTestReactor(t)
	stop := runReactor(t, r)
	defer stop()

	resultCh := make(chan any, 1)
	d := r.CallInThread(func() (any, error) {
		return 42, nil
	})
	d.AddCallback(func(res any) any {
		resultCh <- res
		return res
	})

	select {
	case v := <-resultCh:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for CallInThread result")
	}
}

func TestReactorSystemEvents(t *testing.T) {
	r := newTestReactor(t)

	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	r.AddSystemEventTrigger(PhaseBefore, "test", func(args ...any) *deferred.Deferred {
		record("before")
		return deferred.Succeed(nil)
	})
	r.AddSystemEventTrigger(PhaseDuring, "test", func(args ...any) *deferred.Deferred {
		record("during")
		return nil
	})
	r.AddSystemEventTrigger(PhaseAfter, "test", func(args ...any) *deferred.Deferred {
		record("after")
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	r.FireSystemEvent("test").AddBoth(func(any) any {
		wg.Done()
		return nil
	})
	waitTimeout(t, &wg, time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"before", "during", "after"}, order)
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for goroutine")
	}
}
