package deferred

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeferredListWaitsForAll(t *testing.T) {
	a, b, c := New(), New(), New()
	list := DeferredList([]*Deferred{a, b, c}, DeferredListOptions{})

	var got []DLResult
	list.AddCallback(func(r any) any {
		got = r.([]DLResult)
		return r
	})

	b.Callback("b")
	assert.Nil(t, got)
	a.Callback("a")
	assert.Nil(t, got)
	c.Errback(errors.New("c failed"))

	require.Len(t, got, 3)
	assert.Equal(t, DLResult{Success: true, Value: "a"}, got[0])
	assert.Equal(t, DLResult{Success: true, Value: "b"}, got[1])
	assert.False(t, got[2].Success)
}

func TestDeferredListFireOnOneCallback(t *testing.T) {
	a, b := New(), New()
	list := DeferredList([]*Deferred{a, b}, DeferredListOptions{FireOnOneCallback: true})

	var got any
	list.AddCallback(func(r any) any {
		got = r
		return r
	})

	a.Callback("first")
	assert.Equal(t, "first", got)

	// second firing must not panic the list Deferred even though it
	// already fired; b firing afterwards should be harmless to observers.
	b.Callback("second")
}

func TestDeferredListFireOnOneErrback(t *testing.T) {
	a, b := New(), New()
	list := DeferredList([]*Deferred{a, b}, DeferredListOptions{FireOnOneErrback: true})

	var got any
	list.AddErrback(func(r any) any {
		got = r
		return r
	})

	a.Errback(errors.New("boom"))
	require.NotNil(t, got)
	f, ok := got.(*FailureValue)
	require.True(t, ok)
	assert.Contains(t, f.Error(), "boom")

	b.Callback("late")
}

func TestDeferredListEmpty(t *testing.T) {
	list := DeferredList(nil, DeferredListOptions{})
	result, ok := list.Result()
	require.True(t, ok)
	assert.Equal(t, []DLResult{}, result)
}

func TestGatherResultsSuccess(t *testing.T) {
	a, b := New(), New()
	g := GatherResults([]*Deferred{a, b})

	var got any
	g.AddCallback(func(r any) any {
		got = r
		return r
	})

	a.Callback(1)
	b.Callback(2)

	require.NotNil(t, got)
	assert.Equal(t, []any{1, 2}, got)
}

func TestGatherResultsFailFast(t *testing.T) {
	a, b := New(), New()
	g := GatherResults([]*Deferred{a, b})

	var got any
	g.AddErrback(func(r any) any {
		got = r
		return r
	})

	a.Errback(errors.New("nope"))
	require.NotNil(t, got)

	b.Callback("ignored")
}
