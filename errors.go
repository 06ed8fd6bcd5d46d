package ptpfilter

import (
	"errors"
	"fmt"
)

// Error is a structured filter error carrying the category a caller needs
// to decide whether to retry, bypass, or surface the failure to the user.
type Error struct {
	Op    string    // Operation that failed (e.g. "attach", "produce_frame")
	Code  ErrorCode // High-level error category
	Msg   string    // Human-readable message
	Inner error     // Wrapped error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		return fmt.Sprintf("ptpfilter: %s: %s", e.Op, msg)
	}
	return fmt.Sprintf("ptpfilter: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is comparison by error category.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// ErrorCode is a high-level error category, per the filter's own
// failure taxonomy: a malformed wire PDU, a frame-buffer allocation
// failure, a device-reported error, a protocol-level inconsistency
// (unexpected state for the observed event), or a bad client request.
type ErrorCode string

const (
	ErrCodeMalformedPDU      ErrorCode = "malformed pdu"
	ErrCodeAllocationFailed  ErrorCode = "frame buffer allocation failed"
	ErrCodeDeviceError       ErrorCode = "device error"
	ErrCodeProtocolError     ErrorCode = "protocol error"
	ErrCodeClientError       ErrorCode = "client error"
	ErrCodeUnsupportedDevice ErrorCode = "unsupported device"
)

// NewError creates a structured error with no wrapped cause.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// WrapError wraps inner with filter context, preserving inner's category
// if it is already a *Error.
func WrapError(op string, code ErrorCode, inner error) *Error {
	if inner == nil {
		return nil
	}
	if fe, ok := inner.(*Error); ok {
		return &Error{Op: op, Code: fe.Code, Msg: fe.Msg, Inner: fe}
	}
	return &Error{Op: op, Code: code, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is a *Error with the given category.
func IsCode(err error, code ErrorCode) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}
