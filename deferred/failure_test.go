package deferred

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFailureValueNilErr(t *testing.T) {
	assert.Nil(t, NewFailureValue(nil, KindTimeout))
}

func TestFailureValueCheckTrap(t *testing.T) {
	sentinel := errors.New("boom")
	f := NewFailureValue(sentinel, KindConnectionRefused)
	require.NotNil(t, f)

	assert.Equal(t, sentinel, f.Check(sentinel))
	assert.Nil(t, f.Check(errors.New("other")))

	assert.Nil(t, f.Trap(sentinel))

	other := errors.New("different")
	trapped := f.Trap(other)
	assert.Same(t, f, trapped)
}

func TestFailureValueCleanFailure(t *testing.T) {
	f := NewFailureValue(errors.New("leaky"), KindUserError)
	require.NotNil(t, f)
	before := f.Error()
	f.CleanFailure()
	assert.Equal(t, before, f.Error())
	// idempotent
	f.CleanFailure()
	assert.Equal(t, before, f.Error())
}

func TestCaptureFailureFromPanic(t *testing.T) {
	var captured *FailureValue
	func() {
		defer func() {
			captured = CaptureFailure(recover())
		}()
		panic("kaboom")
	}()
	require.NotNil(t, captured)
	assert.Contains(t, captured.Error(), "kaboom")
}

func TestFailureValuePrintForms(t *testing.T) {
	f := NewFailureValue(errors.New("oops"), KindProtocolViolation)
	require.NotNil(t, f)
	assert.Contains(t, f.PrintBrief(), "protocol-violation")
	assert.Contains(t, f.PrintTraceback(), "oops")
	assert.Equal(t, f.PrintTraceback(), f.PrintDetailed())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "timeout", KindTimeout.String())
	assert.Equal(t, "unspecified", KindUnspecified.String())
}
