package transport

import (
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AnalytiksAI/cql-io/frame"
	"github.com/AnalytiksAI/cql-io/frame/request"
)

// TestNewClusterFallsBackToSecondContact checks that NewCluster tries every
// configured contact in order and succeeds on the first reachable one, per
// spec.md §4.9 Initialization.
func TestNewClusterFallsBackToSecondContact(t *testing.T) {
	srv := startFakeServer(t, controlHandshakeHandler(nil, nil))

	cfg := DefaultClusterConfig("")
	cfg.Contacts = []string{"127.0.0.1:1", srv.addr}
	cfg.ConnSettings.ConnectTimeout = 500 * time.Millisecond
	cfg.ConnSettings.SendTimeout = time.Second
	cfg.ConnSettings.ResponseTimeout = 2 * time.Second

	cluster, err := NewCluster(cfg)
	if err != nil {
		t.Fatalf("NewCluster: %v", err)
	}
	defer cluster.Close()

	if got := cluster.HostCount(); got != 1 {
		t.Fatalf("HostCount() = %d, want 1", got)
	}
	if cluster.controlAddr.String() != srv.addr {
		t.Errorf("controlAddr = %s, want %s (the reachable contact)", cluster.controlAddr, srv.addr)
	}
}

// TestStatusChangeDownRemovesHostFromPolicy drives an unsolicited
// STATUS_CHANGE/DOWN event through the control connection and checks the
// load-balancing policy drops the affected host, per spec.md §4.9.
func TestStatusChangeDownRemovesHostFromPolicy(t *testing.T) {
	var (
		mu         sync.Mutex
		peerRows   [][]frame.Bytes
		controlCon net.Conn
	)

	local := startFakeServer(t, func(conn net.Conn, hdr frame.Header, body []byte) {
		switch hdr.OpCode {
		case frame.OpQuery:
			content := decodeLongString(body)
			switch {
			case strings.Contains(content, "system.local"):
				writeFrameRaw(conn, hdr.StreamID, frame.OpResult,
					rowsResultBody(2, [][]frame.Bytes{{frame.Bytes("dc1"), frame.Bytes("rack1")}}))
			case strings.Contains(content, "system.peers"):
				mu.Lock()
				rows := peerRows
				mu.Unlock()
				writeFrameRaw(conn, hdr.StreamID, frame.OpResult, rowsResultBody(4, rows))
			}
		case frame.OpRegister:
			mu.Lock()
			controlCon = conn
			mu.Unlock()
			writeFrameRaw(conn, hdr.StreamID, frame.OpReady, nil)
		}
	})

	_, port, err := net.SplitHostPort(local.addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	const peerIP = "127.0.0.3"
	peerAddr := net.JoinHostPort(peerIP, port)
	startFakeServerAt(t, peerAddr, nil)

	mu.Lock()
	peerRows = [][]frame.Bytes{{frame.Bytes(peerIP), frame.Bytes(peerIP), frame.Bytes("dc1"), frame.Bytes("rack1")}}
	mu.Unlock()

	cluster := newTestCluster(t, local.addr, nil)
	if got := cluster.HostCount(); got != 2 {
		t.Fatalf("HostCount() = %d, want 2 (local + peer) before the DOWN event", got)
	}

	peerInetAddr, err := ParseInetAddr(peerAddr, 0)
	if err != nil {
		t.Fatalf("ParseInetAddr: %v", err)
	}

	mu.Lock()
	conn := controlCon
	mu.Unlock()
	if conn == nil {
		t.Fatalf("control connection never completed REGISTER")
	}

	ip := net.ParseIP(peerIP).To4()
	body := statusChangeEventBody("DOWN", ip, int32(peerInetAddr.Port))
	if err := pushEvent(conn, body); err != nil {
		t.Fatalf("pushEvent: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return cluster.HostCount() == 1
	})
}

// TestPoolAfterCloseFailsFast checks that Pool fails with
// ConnectionClosedError once the cluster has shut down, both for a host
// that already had a pool and one that never did, per spec.md §5: no
// request issued after shutdown is allowed to succeed.
func TestPoolAfterCloseFailsFast(t *testing.T) {
	srv := startFakeServer(t, controlHandshakeHandler(nil, nil))
	cluster := newTestCluster(t, srv.addr, nil)

	controlAddr := cluster.controlAddr
	neverPooled := InetAddr{IP: "10.255.255.1", Port: 9042}

	cluster.Close()

	if _, err := cluster.Pool(controlAddr); err == nil {
		t.Fatalf("Pool on an already-pooled host succeeded after Close")
	} else if _, ok := err.(*ConnectionClosedError); !ok {
		t.Fatalf("Pool error = %T, want *ConnectionClosedError", err)
	}

	if _, err := cluster.Pool(neverPooled); err == nil {
		t.Fatalf("Pool on a never-pooled host succeeded after Close")
	} else if _, ok := err.(*ConnectionClosedError); !ok {
		t.Fatalf("Pool error = %T, want *ConnectionClosedError", err)
	}
}

// TestDispatcherRequestAfterCloseFails is TestPoolAfterCloseFailsFast's
// end-to-end counterpart through Dispatcher.Do, confirming the closed
// check actually stops a live request path rather than just the
// lower-level accessor.
func TestDispatcherRequestAfterCloseFails(t *testing.T) {
	srv := startFakeServer(t, controlHandshakeHandler(nil, nil))
	cluster := newTestCluster(t, srv.addr, nil)
	d := NewDispatcher(cluster)

	cluster.Close()

	_, err := d.Do(&request.Query{
		Content: "SELECT 1",
		Params:  request.QueryParams{Consistency: frame.ONE},
	})
	if err == nil {
		t.Fatalf("Do succeeded after Close")
	}
	if _, ok := err.(*ConnectionClosedError); !ok {
		t.Fatalf("Do error = %T, want *ConnectionClosedError", err)
	}
}

// TestReconnectControlLoopGivesUpAndDisconnects drives the control
// connection's failure-recovery loop against a host that has stopped
// accepting connections and checks it eventually gives up rather than
// retrying forever, per spec.md §4.9's "if no host is reachable,
// transition to Disconnected and log fatal."
func TestReconnectControlLoopGivesUpAndDisconnects(t *testing.T) {
	srv := startFakeServer(t, controlHandshakeHandler(nil, nil))
	cluster := newTestCluster(t, srv.addr, nil)

	srv.ln.Close()
	srv.mu.Lock()
	for _, c := range srv.conns {
		c.Close()
	}
	srv.mu.Unlock()

	cluster.OnConnectionError(cluster.controlAddr, &ConnectionClosedError{Addr: cluster.controlAddr.String()})

	waitFor(t, 8*time.Second, func() bool {
		cluster.controlMu.Lock()
		defer cluster.controlMu.Unlock()
		return cluster.controlState == Disconnected
	})
}
