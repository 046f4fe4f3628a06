package asyncmc

import "github.com/pkg/errors"

// Error kinds. Errors from commands and the connection lifecycle wrap
// exactly one of these sentinels; test with errors.Is. A caller's own
// cancelled or expired context is reported as the context's error, and
// configuration and circuit-breaker errors are returned as they are.
// Wrapped errors carry a message, the underlying cause where one exists,
// and a stack trace (print with %+v).
var (
	// ErrConnectionShutdown reports that the connection is not running or
	// has terminated. All submissions after a fatal error or Close fail
	// with this kind.
	ErrConnectionShutdown = errors.New("asyncmc: connection shutdown")

	// ErrProtocol reports a wire violation: malformed response, unknown
	// flag byte, a return code that makes no sense for the operation, or
	// a payload the requested value type could not decode.
	ErrProtocol = errors.New("asyncmc: protocol error")

	// ErrKeyNotFound reports that the operation required an existing key.
	ErrKeyNotFound = errors.New("asyncmc: key not found")

	// ErrKeyExists reports that an add hit an existing key.
	ErrKeyExists = errors.New("asyncmc: key already exists")
)

// shutdownError wraps ErrConnectionShutdown with a message and an optional
// cause.
func shutdownError(cause error, msg string) error {
	if cause == nil {
		return errors.Wrap(ErrConnectionShutdown, msg)
	}
	return errors.Wrapf(ErrConnectionShutdown, "%s: %v", msg, cause)
}

// protocolError wraps ErrProtocol with a formatted message.
func protocolError(format string, args ...any) error {
	return errors.Wrapf(ErrProtocol, format, args...)
}

// unexpectedStatus is the catch-all for return codes an operation does not
// know how to interpret.
func unexpectedStatus(op string, status any) error {
	return errors.Wrapf(ErrProtocol, "unexpected status %v for %s", status, op)
}
