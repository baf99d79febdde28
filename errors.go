package shrike

import (
	"errors"
	"fmt"
	"net"
	"os"
)

// Code is the outcome of a filter call. Values follow the sysexits
// convention so they can be used directly as process exit codes.
type Code int

const (
	CodeOK      Code = 0
	CodeNotSpam Code = 0
	CodeIsSpam  Code = 1

	CodeUsage       Code = 64
	CodeDataErr     Code = 65 // malformed batched-SMTP transcript
	CodeNoHost      Code = 68
	CodeUnavailable Code = 69
	CodeSoftware    Code = 70
	CodeOSErr       Code = 71
	CodeIOErr       Code = 74
	CodeTempFail    Code = 75
	CodeProtocol    Code = 76
	CodeNoPerm      Code = 77

	// Out-of-band codes, above the sysexits range.
	CodeTooBig        Code = 744
	CodeOutputMessage Code = 745
)

// String returns the symbolic name of the code.
func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeIsSpam:
		return "ISSPAM"
	case CodeUsage:
		return "USAGE"
	case CodeDataErr:
		return "DATAERR"
	case CodeNoHost:
		return "NOHOST"
	case CodeUnavailable:
		return "UNAVAILABLE"
	case CodeSoftware:
		return "SOFTWARE"
	case CodeOSErr:
		return "OSERR"
	case CodeIOErr:
		return "IOERR"
	case CodeTempFail:
		return "TEMPFAIL"
	case CodeProtocol:
		return "PROTOCOL"
	case CodeNoPerm:
		return "NOPERM"
	case CodeTooBig:
		return "TOOBIG"
	case CodeOutputMessage:
		return "OUTPUTMESSAGE"
	default:
		return fmt.Sprintf("CODE(%d)", int(c))
	}
}

// ExitCode maps an outcome onto a process exit status. The out-of-band
// codes collapse to zero: a message was produced, the call succeeded.
func (c Code) ExitCode() int {
	if c == CodeTooBig || c == CodeOutputMessage {
		return 0
	}
	return int(c)
}

// StatusError is an error carrying an outcome classification.
type StatusError struct {
	Code  Code
	Msg   string
	Cause error
}

func (e *StatusError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("spamc: %s: %s: %v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("spamc: %s: %s", e.Code, e.Msg)
}

func (e *StatusError) Unwrap() error {
	return e.Cause
}

func statusErr(code Code, format string, args ...any) *StatusError {
	return &StatusError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func wrapErr(code Code, cause error, format string, args ...any) *StatusError {
	return &StatusError{Code: code, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf classifies an arbitrary error into the outcome taxonomy.
// Deadline expiry counts as an I/O failure, never as success.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}

	if errors.Is(err, os.ErrDeadlineExceeded) {
		return CodeIOErr
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return CodeIOErr
	}

	return CodeSoftware
}
