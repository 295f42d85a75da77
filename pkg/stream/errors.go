package stream

import "fmt"

// Code classifies stream failures.
type Code int

const (
	// CodeTransportFault marks an unrecoverable failure of the underlying transport
	CodeTransportFault Code = iota + 1
	// CodeEndOfStream marks a read that asked for more bytes than remain
	CodeEndOfStream
)

// String returns the string representation of the Code
func (c Code) String() string {
	switch c {
	case CodeTransportFault:
		return "TransportFault"
	case CodeEndOfStream:
		return "EndOfStream"
	default:
		return "Unknown"
	}
}

var (
	// ErrTransportFault matches any error produced by a failing sink or source
	ErrTransportFault = &Error{Code: CodeTransportFault}
	// ErrEndOfStream matches any short read
	ErrEndOfStream = &Error{Code: CodeEndOfStream}
)

// Error is a stream failure with the byte offset at which it happened.
type Error struct {
	Code   Code
	Op     string // "write" or "read"
	Offset int64  // stream offset of the failed call
	Want   int    // bytes requested
	Cause  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("stream: %s", e.Code)
	switch {
	case e.Op != "" && e.Want > 0:
		msg = fmt.Sprintf("%s during %s of %d bytes at offset %d", msg, e.Op, e.Want, e.Offset)
	case e.Op != "":
		msg = fmt.Sprintf("%s during %s", msg, e.Op)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func transportFault(op string, offset int64, want int, cause error) error {
	return &Error{Code: CodeTransportFault, Op: op, Offset: offset, Want: want, Cause: cause}
}

func endOfStream(offset int64, want int, cause error) error {
	return &Error{Code: CodeEndOfStream, Op: "read", Offset: offset, Want: want, Cause: cause}
}
