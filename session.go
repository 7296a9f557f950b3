// Package cqlio is a CQL native-protocol (v3/v4) client for Cassandra and
// Scylla clusters. Session wraps the cluster controller and request
// dispatcher of the transport package behind a small query-building API,
// the way the teacher's own root scylla package wraps transport.Cluster.
package cqlio

import (
	"fmt"

	"github.com/AnalytiksAI/cql-io/frame"
	"github.com/AnalytiksAI/cql-io/frame/request"
	"github.com/AnalytiksAI/cql-io/transport"
)

// EventType names a REGISTER-able event class as its wire string, for
// callers who only import the root package.
type EventType = string

const (
	TopologyChange EventType = "TOPOLOGY_CHANGE"
	StatusChange   EventType = "STATUS_CHANGE"
	SchemaChange   EventType = "SCHEMA_CHANGE"
)

// Consistency re-exports frame.Consistency for callers of SessionConfig.
type Consistency = frame.Consistency

const (
	ANY         = frame.ANY
	ONE         = frame.ONE
	TWO         = frame.TWO
	THREE       = frame.THREE
	QUORUM      = frame.QUORUM
	ALL         = frame.ALL
	LOCALQUORUM = frame.LOCALQUORUM
	EACHQUORUM  = frame.EACHQUORUM
	SERIAL      = frame.SERIAL
	LOCALSERIAL = frame.LOCALSERIAL
	LOCALONE    = frame.LOCALONE
)

var ErrNoHosts = fmt.Errorf("cql-io: error in session config: no contact points given")

// SessionConfig is the user-facing configuration surface, composing the
// transport package's ClusterConfig the way the teacher's SessionConfig
// embeds transport.ConnConfig.
type SessionConfig struct {
	Hosts              []string
	Port               int
	Events             []EventType
	DefaultConsistency Consistency
	transport.ConnConfig
	PoolSettings  transport.PoolSettings
	RetrySettings transport.RetrySettings
	PrepStrategy  transport.PrepareStrategy
	PolicyMaker   transport.PolicyMaker
	Logger        transport.Logger
}

// DefaultSessionConfig mirrors the teacher's DefaultSessionConfig(keyspace,
// hosts...) constructor.
func DefaultSessionConfig(keyspace string, hosts ...string) SessionConfig {
	return SessionConfig{
		Hosts:              hosts,
		Port:               9042,
		DefaultConsistency: QUORUM,
		ConnConfig:         transport.DefaultConnConfig(keyspace),
		PoolSettings:       transport.DefaultPoolSettings(),
		RetrySettings:      transport.DefaultRetrySettings(),
		PrepStrategy:       transport.LazyPrepare,
		PolicyMaker:        func() transport.Policy { return transport.NewRoundRobinPolicy() },
		Logger:             transport.DefaultLogger{},
	}
}

func (cfg SessionConfig) clusterConfig() transport.ClusterConfig {
	return transport.ClusterConfig{
		Contacts:      cfg.Hosts,
		Port:          cfg.Port,
		ConnSettings:  cfg.ConnConfig,
		PoolSettings:  cfg.PoolSettings,
		RetrySettings: cfg.RetrySettings,
		PrepStrategy:  cfg.PrepStrategy,
		PolicyMaker:   cfg.PolicyMaker,
		Events:        cfg.Events,
		Logger:        cfg.Logger,
	}
}

// Session is a live connection to a cluster: a control connection plus a
// pool per discovered host, driven by the request dispatcher.
type Session struct {
	cfg        SessionConfig
	cluster    *transport.Cluster
	dispatcher *transport.Dispatcher
}

// NewSession establishes the control connection, discovers the cluster,
// and is ready to dispatch requests on return.
func NewSession(cfg SessionConfig) (*Session, error) {
	if len(cfg.Hosts) == 0 {
		return nil, ErrNoHosts
	}
	if cfg.PolicyMaker == nil {
		cfg.PolicyMaker = func() transport.Policy { return transport.NewRoundRobinPolicy() }
	}
	if cfg.Logger == nil {
		cfg.Logger = transport.DefaultLogger{}
	}

	cluster, err := transport.NewCluster(cfg.clusterConfig())
	if err != nil {
		return nil, err
	}

	return &Session{
		cfg:        cfg,
		cluster:    cluster,
		dispatcher: transport.NewDispatcher(cluster),
	}, nil
}

// Query builds an unprepared statement against content.
func (s *Session) Query(content string) *Query {
	return &Query{
		session: s,
		content: content,
		params:  request.QueryParams{Consistency: s.cfg.DefaultConsistency, PageSize: 5000},
	}
}

// Prepare builds a statement that will PREPARE content (lazily, on first
// Exec, per the session's PrepStrategy) and EXECUTE by QueryId thereafter.
func (s *Session) Prepare(content string) *Query {
	q := s.Query(content)
	q.prepared = true
	return q
}

// Hosts snapshots every host currently known to the cluster controller.
func (s *Session) Hosts() []transport.Host { return s.cluster.Hosts() }

// Close runs the cluster controller's shutdown sequence.
func (s *Session) Close() {
	s.cfg.Logger.Printf("cql-io: session: close")
	s.cluster.Close()
}
