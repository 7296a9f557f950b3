package transport

import (
	"crypto/tls"
	"time"

	"github.com/AnalytiksAI/cql-io/frame"
)

// ProtoVersion selects the CQL native protocol version, spec.md §6.
type ProtoVersion int

const (
	ProtoV3 ProtoVersion = 3
	ProtoV4 ProtoVersion = 4
)

// maxStreamsForVersion caps maxStreams to the protocol's stream-id space,
// resolving the Open Question in spec.md §9: v3 has a 128-id space (the
// high bit of the signed 16-bit stream id is reserved), v4 widens it to
// the full signed 16-bit range below the server/client direction bit.
func maxStreamsForVersion(v ProtoVersion) int {
	if v == ProtoV3 {
		return 128
	}
	return 32768
}

// ConnConfig is the per-connection configuration surface of spec.md §6.
type ConnConfig struct {
	// ConnectTimeout bounds the initial TCP/TLS dial. Default: 5s.
	ConnectTimeout time.Duration
	// SendTimeout bounds writing a single framed request. Default: 3s.
	SendTimeout time.Duration
	// ResponseTimeout bounds waiting for a matching response frame.
	// Default: 10s.
	ResponseTimeout time.Duration
	// MaxStreams is the size of the per-connection ticket pool, clamped to
	// the protocol version's stream-id space by maxStreamsForVersion.
	// Default: 128 (the clamp is 128 for v3, 32768 for v4).
	MaxStreams int
	// MaxRecvBuffer bounds a single frame body the reader will allocate
	// for, guarding against a corrupt length field exhausting memory.
	// Default: 256 MiB.
	MaxRecvBuffer int
	// Compression selects the negotiated wire compression algorithm.
	// Default: nil (no compression).
	Compression Compressor
	// TLSConfig upgrades the socket to TLS when non-nil. Default: nil.
	TLSConfig *tls.Config
	// DefaultKeyspace is USEd once the connection is ready. Default: "".
	DefaultKeyspace string
	// Authenticator answers AUTHENTICATE challenges. Default: nil.
	Authenticator Authenticator
	// ProtoVersion selects the native protocol version. Default: ProtoV4.
	ProtoVersion ProtoVersion
}

// DefaultConnConfig returns a ConnConfig with the defaults spec.md §6
// enumerates, USEing keyspace if non-empty — mirroring the teacher's
// DefaultConnConfig(keyspace) constructor in session.go.
func DefaultConnConfig(keyspace string) ConnConfig {
	return ConnConfig{
		ConnectTimeout:  5 * time.Second,
		SendTimeout:     3 * time.Second,
		ResponseTimeout: 10 * time.Second,
		MaxStreams:      128,
		MaxRecvBuffer:   256 << 20,
		DefaultKeyspace: keyspace,
		ProtoVersion:    ProtoV4,
	}
}

func (c ConnConfig) resolvedMaxStreams() int {
	ceiling := maxStreamsForVersion(c.ProtoVersion)
	if c.MaxStreams <= 0 || c.MaxStreams > ceiling {
		return ceiling
	}
	return c.MaxStreams
}

func (c ConnConfig) protoVersion() frame.Version {
	if c.ProtoVersion == ProtoV3 {
		return frame.CQLv3
	}
	return frame.CQLv4
}

// PoolSettings configures a per-host ConnPool, spec.md §6.
type PoolSettings struct {
	// MaxConnections bounds the in-use count per host. Default: 2.
	MaxConnections int
	// IdleTimeout closes idle connections held longer than this. Default: 5m.
	IdleTimeout time.Duration
	// WaitQueueTimeout bounds Acquire when the pool is saturated. Default: 3s.
	WaitQueueTimeout time.Duration
}

func DefaultPoolSettings() PoolSettings {
	return PoolSettings{
		MaxConnections:   2,
		IdleTimeout:      5 * time.Minute,
		WaitQueueTimeout: 3 * time.Second,
	}
}

// RetrySettings configures the dispatcher's retry engine, spec.md §4.10/§6.
type RetrySettings struct {
	// RetryPolicy decides whether/how to retry a given error.
	RetryPolicy RetryPolicy
	// SendTimeoutChange shifts SendTimeout on attempts i>=1.
	SendTimeoutChange time.Duration
	// RecvTimeoutChange shifts ResponseTimeout on attempts i>=1.
	RecvTimeoutChange time.Duration
	// ReducedConsistency, if set, rewrites Query/Execute/Batch consistency
	// on attempts i>=1.
	ReducedConsistency *frame.Consistency
}

func DefaultRetrySettings() RetrySettings {
	return RetrySettings{
		RetryPolicy: ExponentialBackoffRetryPolicy{
			MaxAttempts: 3,
			Base:        50 * time.Millisecond,
			Cap:         5 * time.Second,
		},
	}
}

// PrepareStrategy selects how execute() populates the prepared-query
// cache on a miss, spec.md §4.10.
type PrepareStrategy int

const (
	LazyPrepare PrepareStrategy = iota
	EagerPrepare
)

// PolicyMaker builds a fresh Policy for a ClusterConfig, spec.md §6.
type PolicyMaker func() Policy

// ClusterConfig is the top-level configuration surface of spec.md §6.
type ClusterConfig struct {
	Contacts      []string
	Port          int
	ConnSettings  ConnConfig
	PoolSettings  PoolSettings
	RetrySettings RetrySettings
	PrepStrategy  PrepareStrategy
	PolicyMaker   PolicyMaker
	Events        []string
	Logger        Logger
}

func DefaultClusterConfig(keyspace string, contacts ...string) ClusterConfig {
	return ClusterConfig{
		Contacts:      contacts,
		Port:          9042,
		ConnSettings:  DefaultConnConfig(keyspace),
		PoolSettings:  DefaultPoolSettings(),
		RetrySettings: DefaultRetrySettings(),
		PrepStrategy:  LazyPrepare,
		PolicyMaker:   func() Policy { return NewRoundRobinPolicy() },
		Logger:        DefaultLogger{},
	}
}
