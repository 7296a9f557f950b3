package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// Socket is a uniform stream-oriented byte pipe over TCP or TLS, per
// spec.md §4.1. It is the thin collaborator Connection builds its reader
// and writer loops on top of; TLS primitives themselves are out of scope
// (spec.md §1) and assumed supplied via tls.Config.
type Socket struct {
	conn net.Conn
}

// DialSocket opens a TCP connection to addr, optionally upgrading to TLS
// when tlsConfig is non-nil, bounded by connectTimeout.
func DialSocket(addr string, connectTimeout time.Duration, tlsConfig *tls.Config) (*Socket, error) {
	dialer := net.Dialer{Timeout: connectTimeout}

	var conn net.Conn
	var err error
	if tlsConfig != nil {
		conn, err = tls.DialWithDialer(&dialer, "tcp", addr, tlsConfig)
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return nil, &ConnectTimeoutError{Addr: addr}
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	return &Socket{conn: conn}, nil
}

// Read satisfies io.Reader so Socket can back a bufio.Reader the way the
// teacher's connReader wraps net.Conn.
func (s *Socket) Read(p []byte) (int, error) { return s.conn.Read(p) }

// Write satisfies io.Writer.
func (s *Socket) Write(p []byte) (int, error) { return s.conn.Write(p) }

// RecvToLength reads exactly n bytes into buf, which must have length n.
func (s *Socket) RecvToLength(buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := s.conn.Read(buf[total:])
		total += n
		if err != nil {
			return fmt.Errorf("recv: %w", err)
		}
	}
	return nil
}

// Shutdown attempts a graceful TCP shutdown of the write half before the
// caller closes the socket, matching the uninterruptible-then-interruptible
// split of Connection cleanup in spec.md §4.1.
func (s *Socket) Shutdown() error {
	if tcpConn, ok := s.conn.(*net.TCPConn); ok {
		return tcpConn.CloseWrite()
	}
	return nil
}

// Close unconditionally closes the underlying connection.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// RemoteAddr returns the string form of the peer address.
func (s *Socket) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// setWriteDeadline bounds the next Write call, backing Connection's
// per-request send-timeout.
func (s *Socket) setWriteDeadline(t time.Time) error {
	return s.conn.SetWriteDeadline(t)
}
