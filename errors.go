package xrail

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument  = errors.New("xrail: invalid argument")
	ErrDuplicateHandler = errors.New("xrail: handler already registered for group")
	ErrReservedGroup    = errors.New("xrail: group is reserved for control messages")
	ErrHaltTimeout      = errors.New("xrail: worker did not stop within grace period")
	ErrWorkerRunning    = errors.New("xrail: worker already running")
	ErrUnknownVerb      = errors.New("xrail: unknown control verb")
	ErrSendBufferFull   = errors.New("xrail: endpoint send buffer full")
	ErrEndpointClosed   = errors.New("xrail: endpoint closed")
	ErrNoHandlers       = errors.New("xrail: no handlers configured")
	ErrNotNamedPipe     = errors.New("xrail: control path exists and is not a named pipe")
)

var ErrObserverPoolShutdownTimeout = errors.New("xrail: observer pool shutdown timeout")

// ErrorCode classifies a ClientError on the wire.
type ErrorCode string

const (
	CodeUnknownGroup     ErrorCode = "UNKNOWN_GROUP"
	CodeUnknownMessage   ErrorCode = "UNKNOWN_MESSAGE"
	CodeMalformedPayload ErrorCode = "MALFORMED_PAYLOAD"
	CodeInvalidData      ErrorCode = "INVALID_DATA"
	CodeNotAllowed       ErrorCode = "NOT_ALLOWED"
	CodeLocked           ErrorCode = "LOCKED"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDatabaseError    ErrorCode = "DATABASE_ERROR"
)

// ClientError is a recoverable failure caused by what a client sent.
// It is answered to the originating endpoint only.
type ClientError struct {
	Code   ErrorCode
	Reason string
}

// NewClientError formats a ClientError.
func NewClientError(code ErrorCode, format string, args ...any) *ClientError {
	return &ClientError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

func (e *ClientError) Error() string { return string(e.Code) + ": " + e.Reason }

// DatabaseError wraps a persistence failure. It is connection-level: the
// originating endpoint is told, the generation keeps running.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string { return "database " + e.Op + ": " + e.Err.Error() }

func (e *DatabaseError) Unwrap() error { return e.Err }

// ErrorReply is the payload of KindClientError.
type ErrorReply struct {
	Code   ErrorCode `json:"code"`
	Reason string    `json:"reason"`
	Kind   string    `json:"kind,omitempty"`
}

// classify reports whether err is recoverable and, if so, the reply to send.
func classify(err error) (ErrorReply, bool) {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ErrorReply{Code: ce.Code, Reason: ce.Reason}, true
	}
	var de *DatabaseError
	if errors.As(err, &de) {
		return ErrorReply{Code: CodeDatabaseError, Reason: de.Error()}, true
	}
	return ErrorReply{}, false
}
