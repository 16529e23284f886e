package bridge

import (
	"errors"
	"fmt"
)

// Errors returned by Start that are not tied to a session attempt.
var (
	// ErrAlreadyActive is returned when Start is called while a session is
	// connecting or connected.
	ErrAlreadyActive = errors.New("a voice session is already active")
	// ErrStopped is returned by Start when Stop ended the attempt before the
	// session connected.
	ErrStopped = errors.New("voice session stopped before it connected")
	// ErrClosed is returned after the bridge has been torn down.
	ErrClosed = errors.New("voice bridge is closed")
)

// Kind classifies session failures.
type Kind int

const (
	// KindLoadFailed means the engine runtime could not be loaded.
	KindLoadFailed Kind = iota + 1
	// KindPermissionDenied means microphone access was refused.
	KindPermissionDenied
	// KindConnectFailed means the engine rejected or dropped the session
	// before it was established.
	KindConnectFailed
	// KindAbnormalDisconnect means an established session closed with a
	// non-normal code. It is reported as a warning.
	KindAbnormalDisconnect
	// KindTerminateFailed means ending a session failed. It is only logged.
	KindTerminateFailed
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindLoadFailed:
		return "load_failed"
	case KindPermissionDenied:
		return "permission_denied"
	case KindConnectFailed:
		return "connect_failed"
	case KindAbnormalDisconnect:
		return "abnormal_disconnect"
	case KindTerminateFailed:
		return "terminate_failed"
	default:
		return "unknown"
	}
}

// Sentinels matching every *Error of the corresponding kind via errors.Is.
var (
	ErrLoadFailed         = &Error{Kind: KindLoadFailed}
	ErrPermissionDenied   = &Error{Kind: KindPermissionDenied}
	ErrConnectFailed      = &Error{Kind: KindConnectFailed}
	ErrAbnormalDisconnect = &Error{Kind: KindAbnormalDisconnect}
	ErrTerminateFailed    = &Error{Kind: KindTerminateFailed}
)

// Error is a session failure scoped to one bridge.
type Error struct {
	Kind   Kind
	Reason string
	Code   int // close code, when the engine reported one
	Err    error
}

func newError(kind Kind, err error) *Error {
	e := &Error{Kind: kind, Err: err}
	if err != nil {
		e.Reason = err.Error()
	}
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Is matches errors of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Message returns text suitable for showing to a user.
func (e *Error) Message() string {
	switch e.Kind {
	case KindLoadFailed:
		return "The voice engine could not be loaded. Check your connection and audio output, then try again."
	case KindPermissionDenied:
		return "Microphone access is required. Check that your microphone is connected and that access is allowed."
	case KindConnectFailed:
		msg := "Voice Bridge Error: " + e.reason()
		if e.Code != 0 {
			msg = fmt.Sprintf("Connection failed: the server closed the connection (code %d). %s", e.Code, e.reason())
		}
		return msg + "\n\nNote: ensure the agent is set to public and your microphone is enabled."
	case KindAbnormalDisconnect:
		if e.Code != 0 {
			return fmt.Sprintf("Bridge closed with code: %d. Reason: %s", e.Code, e.reason())
		}
		return "Bridge closed unexpectedly: " + e.reason()
	case KindTerminateFailed:
		return "The session could not be ended cleanly."
	default:
		return e.Error()
	}
}

func (e *Error) reason() string {
	if e.Reason == "" {
		return "No reason provided"
	}
	return e.Reason
}

// KindOf returns the kind of err, or zero if err is not a session failure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
