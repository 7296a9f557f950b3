package transport

import "fmt"

// Error kinds from spec.md §7. Each is a distinct struct type rather than
// a sentinel so callers can recover structured fields (address, mechanism)
// with errors.As, matching the teacher's responseAsError/CodedError split
// in transport/error.go between "one of our kinds" and "an opaque server
// response". All Error() strings carry the "cql-io: " prefix spec.md §6
// requires for diagnostic traceability.

// UnsupportedCompressionError reports that the server's SUPPORTED options
// don't include the configured compression algorithm.
type UnsupportedCompressionError struct {
	Algorithm string
}

func (e *UnsupportedCompressionError) Error() string {
	return fmt.Sprintf("cql-io: server does not support compression algorithm %q", e.Algorithm)
}

// InvalidCacheSizeError reports a non-positive prepared-query cache size.
type InvalidCacheSizeError struct {
	Size int
}

func (e *InvalidCacheSizeError) Error() string {
	return fmt.Sprintf("cql-io: invalid prepared query cache size %d", e.Size)
}

// ConnectionClosedError reports use of a connection after close(conn).
type ConnectionClosedError struct {
	Addr string
}

func (e *ConnectionClosedError) Error() string {
	return fmt.Sprintf("cql-io: connection closed: %s", e.Addr)
}

// ConnectTimeoutError reports a failed socket connect: DialSocket returns
// it for any dial error, not only an exceeded connect deadline.
type ConnectTimeoutError struct {
	Addr string
}

func (e *ConnectTimeoutError) Error() string {
	return fmt.Sprintf("cql-io: connect timeout: %s", e.Addr)
}

// ResponseTimeoutError reports a request awaiting a stream slot too long.
// It is also used to kill the slot so any other observer is released, per
// spec.md §5 Cancellation.
type ResponseTimeoutError struct {
	Addr string
}

func (e *ResponseTimeoutError) Error() string {
	return fmt.Sprintf("cql-io: response timeout: %s", e.Addr)
}

// NoHostAvailableError reports that the policy had no host to offer.
type NoHostAvailableError struct{}

func (e *NoHostAvailableError) Error() string { return "cql-io: no host available" }

// HostsBusyError reports that every host the policy offered was exhausted
// (pool full, wait queue timeout) before a connection could be acquired.
type HostsBusyError struct{}

func (e *HostsBusyError) Error() string { return "cql-io: all hosts busy" }

// ParseErrorKind reports a malformed frame.
type ParseErrorKind struct {
	Reason string
}

func (e *ParseErrorKind) Error() string {
	return fmt.Sprintf("cql-io: parse error: %s", e.Reason)
}

// UnexpectedResponseError reports a response opcode the caller didn't
// expect for the request it sent (e.g. a RESULT where READY was expected).
type UnexpectedResponseError struct {
	Host     string
	Response any
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("cql-io: unexpected response from %s: %+v", e.Host, e.Response)
}

// InternalErrorKind reports a driver bug (e.g. a stream slot filled twice).
type InternalErrorKind struct {
	Reason string
}

func (e *InternalErrorKind) Error() string {
	return fmt.Sprintf("cql-io: internal error: %s", e.Reason)
}

// AuthenticationRequiredError reports an AUTHENTICATE challenge with no
// authenticator configured.
type AuthenticationRequiredError struct {
	Mechanism string
}

func (e *AuthenticationRequiredError) Error() string {
	return fmt.Sprintf("cql-io: authentication required: %s", e.Mechanism)
}

// AuthenticationMechanismUnsupportedError reports a configured
// authenticator that doesn't support the server's mechanism.
type AuthenticationMechanismUnsupportedError struct {
	Mechanism string
}

func (e *AuthenticationMechanismUnsupportedError) Error() string {
	return fmt.Sprintf("cql-io: authentication mechanism unsupported: %s", e.Mechanism)
}

// UnexpectedAuthenticationChallengeError reports an AUTH_CHALLENGE arriving
// after the authenticator believed it had finished.
type UnexpectedAuthenticationChallengeError struct {
	Mechanism string
}

func (e *UnexpectedAuthenticationChallengeError) Error() string {
	return fmt.Sprintf("cql-io: unexpected authentication challenge: %s", e.Mechanism)
}

// HashCollisionError is raised fatally when two distinct prepared query
// texts hash to the same PrepQuery key, per spec.md §4.6.
type HashCollisionError struct {
	Key string
}

func (e *HashCollisionError) Error() string {
	return fmt.Sprintf("cql-io: hash collision on prepared query key %s", e.Key)
}
