package errors

import (
	"errors"
	"fmt"
)

// Kind identifies the session-level category of a failure as reported to callers.
type Kind int

const (
	// KindUnknown is returned by KindOf for errors that carry no session kind
	KindUnknown Kind = iota
	// KindValidation marks caller input problems (missing subject, payload, template)
	KindValidation
	// KindConnection marks an unreachable broker or a lost connection
	KindConnection
	// KindTimeout marks a request that exceeded its deadline
	KindTimeout
	// KindRecovery marks a key that failed to restart after a reconnect
	KindRecovery
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConnection:
		return "connection"
	case KindTimeout:
		return "timeout"
	case KindRecovery:
		return "recovery"
	default:
		return "unknown"
	}
}

// Class maps a session kind onto the general error classification.
func (k Kind) Class() ErrorClass {
	switch k {
	case KindValidation:
		return ErrorInvalid
	default:
		return ErrorTransient
	}
}

// SessionError is the error type returned by session operations.
type SessionError struct {
	Kind Kind
	Op   string
	Key  string
	Err  error
}

// Error implements the error interface
func (e *SessionError) Error() string {
	msg := fmt.Sprintf("%s error in %s", e.Kind, e.Op)
	if e.Key != "" {
		msg += fmt.Sprintf(" (key %s)", e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *SessionError) Unwrap() error {
	return e.Err
}

// Validation returns a validation error for op.
func Validation(op string, err error) error {
	return &SessionError{Kind: KindValidation, Op: op, Err: err}
}

// Subject returns the validation error for an empty subject.
func Subject(op string) error {
	return Validation(op, ErrSubjectRequired)
}

// Connection returns a connection error for op.
func Connection(op string, err error) error {
	if err == nil {
		err = ErrNoConnection
	}
	return &SessionError{Kind: KindConnection, Op: op, Err: err}
}

// Timeout returns a timeout error for op.
func Timeout(op string, err error) error {
	if err == nil {
		err = ErrRequestTimeout
	}
	return &SessionError{Kind: KindTimeout, Op: op, Err: err}
}

// Recovery returns a recovery error for the given key.
func Recovery(op, key string, err error) error {
	return &SessionError{Kind: KindRecovery, Op: op, Key: key, Err: err}
}

// KindOf returns the session kind carried by err, or KindUnknown.
// For joined errors the first session error found wins.
func KindOf(err error) Kind {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsSubject reports whether err is the empty subject validation error.
func IsSubject(err error) bool { return IsValidation(err) && errors.Is(err, ErrSubjectRequired) }

// IsConnection reports whether err is a connection error.
func IsConnection(err error) bool { return KindOf(err) == KindConnection }

// IsTimeout reports whether err is a timeout error.
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }

// IsRecovery reports whether err is, or contains, a recovery error.
func IsRecovery(err error) bool { return KindOf(err) == KindRecovery }

// RecoveryKeys returns the keys of every recovery error contained in err,
// including errors combined with errors.Join.
func RecoveryKeys(err error) []string {
	var keys []string
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if se, ok := e.(*SessionError); ok && se.Kind == KindRecovery {
			keys = append(keys, se.Key)
			return
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return keys
}
