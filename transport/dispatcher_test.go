package transport

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/AnalytiksAI/cql-io/frame"
	"github.com/AnalytiksAI/cql-io/frame/request"
	"github.com/AnalytiksAI/cql-io/frame/response"
)

// TestDispatcherRetryRewritesConsistency drives a retryable
// server error through Dispatcher.Do and checks that the second attempt's
// consistency is rewritten to the configured ReducedConsistency, per
// spec.md §4.10 point 3.
func TestDispatcherRetryRewritesConsistency(t *testing.T) {
	var mu sync.Mutex
	var consistencies []frame.Consistency

	extra := func(conn net.Conn, hdr frame.Header, body []byte) {
		if hdr.OpCode != frame.OpQuery {
			return
		}
		mu.Lock()
		consistencies = append(consistencies, decodeQueryConsistency(body))
		n := len(consistencies)
		mu.Unlock()

		if n == 1 {
			writeFrameRaw(conn, hdr.StreamID, frame.OpError, errorBody(response.ErrOverloaded, "overloaded", nil))
			return
		}
		writeFrameRaw(conn, hdr.StreamID, frame.OpResult, voidResultBody())
	}

	srv := startFakeServer(t, controlHandshakeHandler(nil, extra))
	reduced := frame.ONE
	cluster := newTestCluster(t, srv.addr, func(cfg *ClusterConfig) {
		cfg.RetrySettings = RetrySettings{
			RetryPolicy:        ExponentialBackoffRetryPolicy{MaxAttempts: 3, Base: time.Millisecond, Cap: time.Millisecond},
			ReducedConsistency: &reduced,
		}
	})

	d := NewDispatcher(cluster)
	resp, err := d.Do(&request.Query{
		Content: "SELECT * FROM t",
		Params:  request.QueryParams{Consistency: frame.QUORUM},
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if _, isErr := resp.AsError(); isErr {
		t.Fatalf("expected a success response, got error: %+v", resp.Body)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(consistencies) != 2 {
		t.Fatalf("expected 2 attempts reaching the server, got %d", len(consistencies))
	}
	if consistencies[0] != frame.QUORUM {
		t.Errorf("attempt 0 consistency = %v, want QUORUM (unchanged)", consistencies[0])
	}
	if consistencies[1] != frame.ONE {
		t.Errorf("attempt 1 consistency = %v, want ONE (reducedConsistency applied)", consistencies[1])
	}
}

// TestDispatcherDoExhaustsRetriesWithoutEscapingError checks that a
// consistently retryable server error is handed back wrapped in a
// Response, not a Go error, once the retry policy gives up, per
// spec.md §4.10 point 7.
func TestDispatcherDoExhaustsRetriesWithoutEscapingError(t *testing.T) {
	extra := func(conn net.Conn, hdr frame.Header, body []byte) {
		if hdr.OpCode != frame.OpQuery {
			return
		}
		writeFrameRaw(conn, hdr.StreamID, frame.OpError, errorBody(response.ErrUnavailable, "unavailable", nil))
	}

	srv := startFakeServer(t, controlHandshakeHandler(nil, extra))
	cluster := newTestCluster(t, srv.addr, func(cfg *ClusterConfig) {
		cfg.RetrySettings = RetrySettings{
			RetryPolicy: ExponentialBackoffRetryPolicy{MaxAttempts: 2, Base: time.Millisecond, Cap: time.Millisecond},
		}
	})

	d := NewDispatcher(cluster)
	resp, err := d.Do(&request.Query{
		Content: "SELECT * FROM t",
		Params:  request.QueryParams{Consistency: frame.QUORUM},
	})
	if err != nil {
		t.Fatalf("Do returned a Go error instead of a wrapped server error: %v", err)
	}
	e, ok := resp.AsError()
	if !ok {
		t.Fatalf("expected a server error response, got %+v", resp.Body)
	}
	if e.ErrorCode != response.ErrUnavailable {
		t.Errorf("ErrorCode = %v, want ErrUnavailable", e.ErrorCode)
	}
}

// TestDispatcherExecuteReprepareSameHost drives an Unprepared(id) response
// from the host an EXECUTE actually landed on and checks that both the
// re-PREPARE and the retried EXECUTE target that same host, per
// spec.md §4.10's "re-prepared against the same host" and §8's
// round-trip law.
func TestDispatcherExecuteReprepareSameHost(t *testing.T) {
	const queryText = "SELECT * FROM t WHERE k = ?"
	prepID1 := []byte("prep-id-1")
	prepID2 := []byte("prep-id-2")

	var peerRows [][]frame.Bytes

	// Handler closures run on background goroutines spawned by the fake
	// server's accept loop, which may still be blocked in a read after the
	// test function returns; record complaints here instead of calling
	// t.Errorf directly from them, and assert once back on the main
	// goroutine after Execute has returned.
	var mu sync.Mutex
	var faults []string
	fault := func(format string, args ...any) {
		mu.Lock()
		faults = append(faults, fmt.Sprintf(format, args...))
		mu.Unlock()
	}

	localExtra := func(conn net.Conn, hdr frame.Header, body []byte) {
		if hdr.OpCode == frame.OpPrepare {
			writeFrameRaw(conn, hdr.StreamID, frame.OpResult, preparedResultBody(prepID1))
		} else if hdr.OpCode == frame.OpExecute {
			fault("EXECUTE reached the local host; the prepared-query path should only PREPARE here")
		}
	}
	local := startFakeServer(t, controlHandshakeHandler(func() [][]frame.Bytes { return peerRows }, localExtra))

	_, port, err := net.SplitHostPort(local.addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	peerAddr := net.JoinHostPort("127.0.0.2", port)

	var executeCount int
	var preparedOnPeer bool
	peerExtra := func(conn net.Conn, hdr frame.Header, body []byte) {
		switch hdr.OpCode {
		case frame.OpExecute:
			mu.Lock()
			executeCount++
			n := executeCount
			mu.Unlock()

			id := decodeExecuteID(body)
			if n == 1 {
				if string(id) != string(prepID1) {
					fault("first EXECUTE used id %q, want %q", id, prepID1)
				}
				writeFrameRaw(conn, hdr.StreamID, frame.OpError, errorBody(response.ErrUnprepared, "unprepared", prepID1))
				return
			}
			if string(id) != string(prepID2) {
				fault("retried EXECUTE used id %q, want %q", id, prepID2)
			}
			writeFrameRaw(conn, hdr.StreamID, frame.OpResult, voidResultBody())
		case frame.OpPrepare:
			mu.Lock()
			preparedOnPeer = true
			mu.Unlock()
			writeFrameRaw(conn, hdr.StreamID, frame.OpResult, preparedResultBody(prepID2))
		}
	}
	startFakeServerAt(t, peerAddr, peerExtra)

	peerRows = [][]frame.Bytes{{frame.Bytes("127.0.0.2"), frame.Bytes("127.0.0.2"), frame.Bytes("dc1"), frame.Bytes("rack1")}}

	cluster := newTestCluster(t, local.addr, nil)
	if got := cluster.HostCount(); got != 2 {
		t.Fatalf("HostCount() = %d, want 2 (local + peer)", got)
	}

	d := NewDispatcher(cluster)
	resp, err := d.Execute(queryText, request.QueryParams{Consistency: frame.ONE})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, isErr := resp.AsError(); isErr {
		t.Fatalf("expected success after re-prepare, got error: %+v", resp.Body)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, f := range faults {
		t.Error(f)
	}
	if executeCount != 2 {
		t.Errorf("EXECUTE reached the peer %d times, want 2 (original + retry)", executeCount)
	}
	if !preparedOnPeer {
		t.Errorf("re-PREPARE never reached the peer that raised Unprepared")
	}
}
