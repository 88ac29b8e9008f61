package deferred

// Succeed returns a Deferred already fired with a successful result.
func Succeed(result any) *Deferred {
	d := New()
	d.Callback(result)
	return d
}

// Fail returns a Deferred already fired with the given failure. err is
// wrapped in a *FailureValue with KindUserError if it isn't one already.
func Fail(err error) *Deferred {
	d := New()
	d.Errback(err)
	return d
}

// MaybeDeferred calls fn and normalizes whatever it produces into a
// Deferred: a panic becomes a failure, a returned error becomes a failure,
// a returned *Deferred is chained through directly, and anything else
// becomes a successful result. It mirrors
// twisted.internet.defer.maybeDeferred.
func MaybeDeferred(fn func() (any, error)) (result *Deferred) {
	result = New()
	defer func() {
		if r := recover(); r != nil {
			result.Errback(CaptureFailure(r))
		}
	}()

	value, err := fn()
	if err != nil {
		result.Errback(err)
		return result
	}
	if nested, ok := value.(*Deferred); ok {
		nested.ChainDeferred(result)
		return result
	}
	result.Callback(value)
	return result
}
