package response

import (
	"fmt"

	"github.com/AnalytiksAI/cql-io/frame"
)

// ErrorCode is the server's own error taxonomy, spec.md §7 "Server" kinds.
type ErrorCode int32

const (
	ErrServerError     ErrorCode = 0x0000
	ErrProtocolError   ErrorCode = 0x000A
	ErrAuthentication  ErrorCode = 0x0100
	ErrUnavailable     ErrorCode = 0x1000
	ErrOverloaded      ErrorCode = 0x1001
	ErrBootstrapping   ErrorCode = 0x1002
	ErrTruncateError   ErrorCode = 0x1003
	ErrWriteTimeout    ErrorCode = 0x1100
	ErrReadTimeout     ErrorCode = 0x1200
	ErrReadFailure     ErrorCode = 0x1300
	ErrFunctionFailure ErrorCode = 0x1400
	ErrWriteFailure    ErrorCode = 0x1500
	ErrSyntaxError     ErrorCode = 0x2000
	ErrUnauthorized    ErrorCode = 0x2100
	ErrInvalid         ErrorCode = 0x2200
	ErrConfigError     ErrorCode = 0x2300
	ErrAlreadyExists   ErrorCode = 0x2400
	ErrUnprepared      ErrorCode = 0x2500
)

var _ frame.Response = (*Error)(nil)
var _ frame.CodedError = (*Error)(nil)

// Error spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L555
type Error struct {
	ErrorCode ErrorCode
	Message   string
	// UnpreparedID carries the stale QueryId on ErrUnprepared, the key the
	// dispatcher uses to look up the original query text for re-prepare.
	UnpreparedID []byte
}

func (*Error) OpCode() frame.OpCode { return frame.OpError }
func (e *Error) Code() int32        { return int32(e.ErrorCode) }

func (e *Error) Error() string {
	return fmt.Sprintf("cql-io: server error 0x%04x: %s", uint32(e.ErrorCode), e.Message)
}

// Retryable reports whether the retry engine should engage the retry
// policy for this error, per spec.md §4.10 point 6.
func (e *Error) Retryable() bool {
	switch e.ErrorCode {
	case ErrReadTimeout, ErrWriteTimeout, ErrOverloaded, ErrUnavailable, ErrServerError:
		return true
	default:
		return false
	}
}

func ParseError(buf *frame.Buffer) *Error {
	e := &Error{
		ErrorCode: ErrorCode(buf.ReadInt()),
		Message:   buf.ReadString(),
	}
	if e.ErrorCode == ErrUnprepared {
		e.UnpreparedID = buf.ReadShortBytes()
	}
	return e
}
