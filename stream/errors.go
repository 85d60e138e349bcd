package stream

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by blocking operations when the client or queue
// has been stopped. It signals shutdown, not a stream fault.
var ErrStopped = errors.New("stream: stopped")

// Code classifies a stream error for the reconnect decision.
type Code int

const (
	// CodeProtocolViolation covers malformed headers (unknown version or
	// frame type, zero body length) and malformed batch or entry framing.
	// Never recovered by reconnecting.
	CodeProtocolViolation Code = iota + 1

	// CodeAuthRefused is raised when the server sends an explicit error
	// frame. The refusal is authoritative, so there is no auto-retry.
	CodeAuthRefused

	// CodeDecompressionMismatch is raised when a compressed batch does not
	// decode to exactly the advertised byte counts.
	CodeDecompressionMismatch

	// CodeRecordParseFailure is raised when the record deserializer rejects
	// an entry and ignore_unknown_record_types is off.
	CodeRecordParseFailure

	// CodeTransportFailure covers idle timeouts, peer closes and I/O
	// errors. Always answered with a reconnect, never surfaced as data.
	CodeTransportFailure

	// CodeReconnectExhausted is raised when max_reconnect_attempts
	// consecutive attempts failed without a completed handshake.
	CodeReconnectExhausted
)

func (c Code) String() string {
	switch c {
	case CodeProtocolViolation:
		return "protocol_violation"
	case CodeAuthRefused:
		return "auth_refused"
	case CodeDecompressionMismatch:
		return "decompression_mismatch"
	case CodeRecordParseFailure:
		return "record_parse_failure"
	case CodeTransportFailure:
		return "transport_failure"
	case CodeReconnectExhausted:
		return "reconnect_exhausted"
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error is a classified stream failure. Retryable decides whether the
// client schedules a reconnect or stops and surfaces the error.
type Error struct {
	Code      Code
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether err should be answered with a reconnect.
// Unclassified errors count as transport faults and are retryable.
func Retryable(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Retryable
	}
	return true
}

// ErrorCode extracts the classification code, or zero for foreign errors.
func ErrorCode(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

func protocolErr(format string, args ...any) *Error {
	return &Error{Code: CodeProtocolViolation, Message: fmt.Sprintf(format, args...)}
}

func authErr(code int32, message string) *Error {
	return &Error{Code: CodeAuthRefused, Message: fmt.Sprintf("server refused connection: code=%d %s", code, message)}
}

func decompressErr(format string, args ...any) *Error {
	return &Error{Code: CodeDecompressionMismatch, Message: fmt.Sprintf(format, args...), Retryable: true}
}

func parseErr(cause error, format string, args ...any) *Error {
	return &Error{Code: CodeRecordParseFailure, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func transportErr(cause error, format string, args ...any) *Error {
	return &Error{Code: CodeTransportFailure, Message: fmt.Sprintf(format, args...), Retryable: true, Cause: cause}
}

func exhaustedErr(attempts int, last error) *Error {
	return &Error{Code: CodeReconnectExhausted, Message: fmt.Sprintf("gave up after %d reconnect attempts", attempts), Cause: last}
}
