package box

import "github.com/joeycumines/reactor/deferred"

// Reserved keys that structure call/response boxes, per spec §4.8.
const (
	KeyCommand = "_command"
	KeyAsk     = "_ask"
	KeyAnswer  = "_answer"
	KeyError   = "_error"
	KeyErrorCode = "_error_code"
	KeyErrorDescription = "_error_description"
)

// ErrorCode identifies a known, typed remote failure a command's error
// mapping can translate back into a specific deferred.Kind, mirroring
// amp.py's AMP_CODE / errorToFailure machinery.
type ErrorCode string

const (
	// ErrorCodeUnhandled is sent back when no responder is registered
	// for the command name in the request box.
	ErrorCodeUnhandled ErrorCode = "UNHANDLED"
	// ErrorCodeUnknown is used for a remote error whose code this
	// command's ErrorMap doesn't recognize.
	ErrorCodeUnknown ErrorCode = "UNKNOWN"
)

// ErrorMap translates a command's known ErrorCodes back into
// deferred.Kind tags, so a failed remote call can Check/Trap on the
// same Kind a local failure of that shape would carry.
type ErrorMap map[ErrorCode]deferred.Kind

// KindFor resolves code using m, falling back to KindRemoteError for any
// code m does not know about.
func (m ErrorMap) KindFor(code ErrorCode) deferred.Kind {
	if kind, ok := m[code]; ok {
		return kind
	}
	return deferred.KindRemoteError
}

// DefaultErrorMap maps amp.py's baseline UNHANDLED error code to
// KindUnhandledResponder; individual Commands may extend this with
// their own codes via Command.Errors.
var DefaultErrorMap = ErrorMap{
	ErrorCodeUnhandled: deferred.KindUnhandledResponder,
}
