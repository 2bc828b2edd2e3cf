// Package errors provides standardized error handling for natspad.
//
// # Classification
//
// Errors fall into three classes: Transient (may succeed later), Invalid (bad
// input, never retried) and Fatal. IsTransient, IsInvalid and IsFatal inspect
// explicit classification first and fall back to sentinel matching.
//
// # Session kinds
//
// Session operations return *SessionError values with a Kind that callers use
// to decide what to display:
//
//	KindValidation  missing subject, payload or template (surfaced verbatim)
//	KindConnection  broker unreachable or connection lost
//	KindTimeout     request exceeded its deadline (never retried here)
//	KindRecovery    a key failed to restart after a reconnect
//
// Example:
//
//	block, err := sess.SendRequest(ctx, server, subject, payload, opts, nil)
//	switch {
//	case errors.IsTimeout(err):
//	    // tell the user, they can re-run the request
//	case errors.IsConnection(err):
//	    // offer a reconnect
//	}
//
// # Wrapping
//
// Wrap follows the pattern "component.method: action failed: %w" and the
// WrapTransient, WrapInvalid and WrapFatal variants attach a class.
package errors
