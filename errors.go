package ldap

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a client Error independently of the LDAP result
// code catalogue, for failures that never reach the wire.
type ErrorKind int

const (
	// KindResult means the server returned a non-success LDAP result code;
	// Error.ResultCode carries the code.
	KindResult ErrorKind = iota
	KindConnection
	KindConnectionTimeout
	KindProtocol
	KindTimeout
	KindAbandoned
)

func (k ErrorKind) String() string {
	switch k {
	case KindResult:
		return "ResultError"
	case KindConnection:
		return "ConnectionError"
	case KindConnectionTimeout:
		return "ConnectionTimeout"
	case KindProtocol:
		return "ProtocolError"
	case KindTimeout:
		return "TimeoutError"
	case KindAbandoned:
		return "AbandonedError"
	default:
		return "Error"
	}
}

// Error is the single error type returned by every operation in this
// package. Callers distinguish failure modes with errors.As and either
// Kind or ResultCode, mirroring the *ldap.Error / ResultCode idiom used
// by callers of the wider go-ldap ecosystem.
type Error struct {
	Kind       ErrorKind
	ResultCode ResultCode // meaningful only when Kind == KindResult
	Message    string
	DN         string // optional: the DN implicated by the failure
	Err        error  // wrapped cause, if any
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Kind == KindResult && msg == "" {
		msg = e.ResultCode.String()
	}
	if e.DN != "" {
		return fmt.Sprintf("ldap: %s: %s (dn=%q)", e.Kind, msg, e.DN)
	}
	if e.Err != nil {
		return fmt.Sprintf("ldap: %s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("ldap: %s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// IsResultCode reports whether err is a *Error carrying the given LDAP
// result code.
func IsResultCode(err error, code ResultCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindResult && e.ResultCode == code
	}
	return false
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func newResultError(code ResultCode, dn string) *Error {
	return &Error{Kind: KindResult, ResultCode: code, DN: dn}
}

func newConnectionError(msg string, cause error) *Error {
	return &Error{Kind: KindConnection, Message: msg, Err: cause}
}

func newConnectionTimeoutError(msg string) *Error {
	return &Error{Kind: KindConnectionTimeout, Message: msg}
}

func newProtocolError(msg string, cause error) *Error {
	return &Error{Kind: KindProtocol, Message: msg, Err: cause}
}

func newTimeoutError(msg string) *Error {
	return &Error{Kind: KindTimeout, Message: msg}
}

func newAbandonedError() *Error {
	return &Error{Kind: KindAbandoned, Message: "request abandoned"}
}

// ErrQueueUnavailable is returned by a request submitted while the
// client is disconnected and its request queue cannot take it: the
// queue is frozen (QueueDisable set) or already holds QueueSize entries.
var ErrQueueUnavailable = &Error{Kind: KindConnection, Message: "request queue unavailable"}

// ErrDestroyed is returned by any operation submitted after Destroy has
// been called.
var ErrDestroyed = &Error{Kind: KindConnection, Message: "client destroyed"}
