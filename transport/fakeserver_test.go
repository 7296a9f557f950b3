package transport

import (
	"encoding/binary"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AnalytiksAI/cql-io/frame"
	"github.com/AnalytiksAI/cql-io/frame/response"
)

// fakeServer is a minimal CQL server backed by a real TCP listener, used to
// exercise Cluster/Dispatcher end to end: Connect always dials via
// DialSocket, which has no pluggable-dialer seam, so net.Pipe (as used by
// newTestConnection) can't stand in here. Every accepted connection
// completes the STARTUP handshake automatically; frames after that are
// handed to a test-supplied handler.
type fakeServer struct {
	ln   net.Listener
	addr string

	mu    sync.Mutex
	conns []net.Conn
}

type frameHandlerFunc func(conn net.Conn, hdr frame.Header, body []byte)

func startFakeServer(t *testing.T, handle frameHandlerFunc) *fakeServer {
	t.Helper()
	return startFakeServerAt(t, "127.0.0.1:0", handle)
}

// startFakeServerAt binds an explicit address, used when a test needs two
// fake hosts to share a port number (system.peers rows inherit the control
// connection's port, per control.go's queryPeers) while differing by IP.
func startFakeServerAt(t *testing.T, addr string, handle frameHandlerFunc) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("listen on %s: %v", addr, err)
	}
	s := &fakeServer{ln: ln, addr: ln.Addr().String()}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns = append(s.conns, conn)
			s.mu.Unlock()
			go s.serve(conn, handle)
		}
	}()

	t.Cleanup(func() {
		ln.Close()
		s.mu.Lock()
		for _, c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
	})
	return s
}

func (s *fakeServer) serve(conn net.Conn, handle frameHandlerFunc) {
	hdr, _, err := readFrameRaw(conn)
	if err != nil || hdr.OpCode != frame.OpOptions {
		return
	}
	if writeFrameRaw(conn, hdr.StreamID, frame.OpSupported, emptySupportedBody()) != nil {
		return
	}

	hdr, _, err = readFrameRaw(conn)
	if err != nil || hdr.OpCode != frame.OpStartup {
		return
	}
	if writeFrameRaw(conn, hdr.StreamID, frame.OpReady, nil) != nil {
		return
	}

	for {
		hdr, body, err := readFrameRaw(conn)
		if err != nil {
			return
		}
		handle(conn, hdr, body)
	}
}

// pushEvent writes an unsolicited EVENT frame on conn, the way a real
// server pushes STATUS_CHANGE/TOPOLOGY_CHANGE notifications after REGISTER.
func pushEvent(conn net.Conn, body []byte) error {
	return writeFrameRaw(conn, frame.EventStreamID, frame.OpEvent, body)
}

func readFrameRaw(conn net.Conn) (frame.Header, []byte, error) {
	var hb [frame.HeaderSize]byte
	if _, err := ioReadFull(conn, hb[:]); err != nil {
		return frame.Header{}, nil, err
	}
	var buf frame.Buffer
	buf.Write(hb[:])
	h := frame.ParseHeader(&buf)
	body := make([]byte, h.Length)
	if h.Length > 0 {
		if _, err := ioReadFull(conn, body); err != nil {
			return frame.Header{}, nil, err
		}
	}
	return h, body, nil
}

func writeFrameRaw(conn net.Conn, id frame.StreamID, op frame.OpCode, body []byte) error {
	var out [frame.HeaderSize]byte
	out[0] = byte(frame.CQLv4) | 0x80
	out[1] = 0
	binary.BigEndian.PutUint16(out[2:4], uint16(id))
	out[4] = byte(op)
	binary.BigEndian.PutUint32(out[5:9], uint32(len(body)))
	if _, err := conn.Write(out[:]); err != nil {
		return err
	}
	if len(body) > 0 {
		_, err := conn.Write(body)
		return err
	}
	return nil
}

// --- response body builders, mirroring frame/response's Parse* layouts ---

const fakeFlagNoMetadata = 0x0004

func emptySupportedBody() []byte {
	var buf frame.Buffer
	buf.WriteShort(0)
	return buf.Bytes()
}

func voidResultBody() []byte {
	var buf frame.Buffer
	buf.WriteInt(frame.Int(response.ResultVoid))
	return buf.Bytes()
}

// rowsResultBody encodes a Rows result with flagNoMetadata set, so callers
// don't need to also hand-encode per-column type specs the tests never
// inspect.
func rowsResultBody(columnCount int, rows [][]frame.Bytes) []byte {
	var buf frame.Buffer
	buf.WriteInt(frame.Int(response.ResultRows))
	buf.WriteInt(frame.Int(fakeFlagNoMetadata))
	buf.WriteInt(frame.Int(columnCount))
	buf.WriteInt(frame.Int(len(rows)))
	for _, row := range rows {
		for _, col := range row {
			buf.WriteBytes(col)
		}
	}
	return buf.Bytes()
}

func preparedResultBody(id []byte) []byte {
	var buf frame.Buffer
	buf.WriteInt(frame.Int(response.ResultPrepared))
	buf.WriteShortBytes(id)
	buf.WriteInt(frame.Int(fakeFlagNoMetadata))
	buf.WriteInt(0)
	return buf.Bytes()
}

func errorBody(code response.ErrorCode, msg string, unpreparedID []byte) []byte {
	var buf frame.Buffer
	buf.WriteInt(frame.Int(code))
	buf.WriteString(msg)
	if code == response.ErrUnprepared {
		buf.WriteShortBytes(unpreparedID)
	}
	return buf.Bytes()
}

func statusChangeEventBody(changeType string, ip net.IP, port int32) []byte {
	var buf frame.Buffer
	buf.WriteString(string(response.StatusChange))
	buf.WriteString(changeType)
	buf.WriteInet(ip, port)
	return buf.Bytes()
}

// --- request body decoders, mirroring frame/request's WriteTo layouts ---

// decodeLongString reads the leading [long string] of a QUERY's Content or
// a PREPARE's Query field.
func decodeLongString(body []byte) string {
	var buf frame.Buffer
	buf.Write(body)
	return buf.ReadLongString()
}

// decodeQueryConsistency reads past the QUERY's Content to the Consistency
// field of its trailing QueryParams, the value the retry engine rewrites on
// attempts i>=1 when ReducedConsistency is configured.
func decodeQueryConsistency(body []byte) frame.Consistency {
	var buf frame.Buffer
	buf.Write(body)
	_ = buf.ReadLongString()
	return buf.ReadConsistency()
}

// decodeExecuteID reads the leading [short bytes] QueryId of an EXECUTE.
func decodeExecuteID(body []byte) []byte {
	var buf frame.Buffer
	buf.Write(body)
	return buf.ReadShortBytes()
}

// controlHandshakeHandler answers the system.local/system.peers queries and
// REGISTER request issued by Cluster initialisation/reconnection, handing
// every other frame to extra. peerRows is read each time system.peers is
// queried, so a test can populate it after the server has already started
// (e.g. once a second fake host's address is known).
func controlHandshakeHandler(peerRows func() [][]frame.Bytes, extra frameHandlerFunc) frameHandlerFunc {
	return func(conn net.Conn, hdr frame.Header, body []byte) {
		switch hdr.OpCode {
		case frame.OpQuery:
			content := decodeLongString(body)
			switch {
			case strings.Contains(content, "system.local"):
				writeFrameRaw(conn, hdr.StreamID, frame.OpResult,
					rowsResultBody(2, [][]frame.Bytes{{frame.Bytes("dc1"), frame.Bytes("rack1")}}))
				return
			case strings.Contains(content, "system.peers"):
				var rows [][]frame.Bytes
				if peerRows != nil {
					rows = peerRows()
				}
				writeFrameRaw(conn, hdr.StreamID, frame.OpResult, rowsResultBody(4, rows))
				return
			}
		case frame.OpRegister:
			writeFrameRaw(conn, hdr.StreamID, frame.OpReady, nil)
			return
		}
		if extra != nil {
			extra(conn, hdr, body)
		}
	}
}

// newTestCluster builds a Cluster against contactAddr with short timeouts
// suited to a local fake server, applying mutate (if non-nil) to the
// config before NewCluster runs. The cluster is closed on test cleanup.
func newTestCluster(t *testing.T, contactAddr string, mutate func(*ClusterConfig)) *Cluster {
	t.Helper()
	cfg := DefaultClusterConfig("")
	cfg.Contacts = []string{contactAddr}
	cfg.ConnSettings.ConnectTimeout = time.Second
	cfg.ConnSettings.SendTimeout = time.Second
	cfg.ConnSettings.ResponseTimeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	cluster, err := NewCluster(cfg)
	if err != nil {
		t.Fatalf("NewCluster: %v", err)
	}
	t.Cleanup(cluster.Close)
	return cluster
}

// waitFor polls cond until it returns true or timeout elapses, failing the
// test otherwise. Used for assertions on state mutated by the connection's
// background reader goroutine (event handling, reconnection).
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
