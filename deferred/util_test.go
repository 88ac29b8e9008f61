package deferred

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSucceedFail(t *testing.T) {
	d := Succeed(42)
	result, ok := d.Result()
	require.True(t, ok)
	assert.Equal(t, 42, result)

	f := Fail(errors.New("bad"))
	result, ok = f.Result()
	require.True(t, ok)
	fv, ok := result.(*FailureValue)
	require.True(t, ok)
	assert.Equal(t, KindUserError, fv.Kind())
}

func TestMaybeDeferredPlainValue(t *testing.T) {
	d := MaybeDeferred(func() (any, error) {
		return "ok", nil
	})
	result, ok := d.Result()
	require.True(t, ok)
	assert.Equal(t, "ok", result)
}

func TestMaybeDeferredError(t *testing.T) {
	d := MaybeDeferred(func() (any, error) {
		return nil, errors.New("failed")
	})
	result, ok := d.Result()
	require.True(t, ok)
	_, isFailure := result.(*FailureValue)
	assert.True(t, isFailure)
}

func TestMaybeDeferredPanic(t *testing.T) {
	d := MaybeDeferred(func() (any, error) {
		panic("oh no")
	})
	result, ok := d.Result()
	require.True(t, ok)
	f, isFailure := result.(*FailureValue)
	require.True(t, isFailure)
	assert.Contains(t, f.Error(), "oh no")
}

func TestMaybeDeferredChainsNested(t *testing.T) {
	inner := New()
	d := MaybeDeferred(func() (any, error) {
		return inner, nil
	})

	var got any
	d.AddCallback(func(r any) any {
		got = r
		return r
	})

	inner.Callback("nested result")
	assert.Equal(t, "nested result", got)
}
