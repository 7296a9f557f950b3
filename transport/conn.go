package transport

import (
	"bufio"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/AnalytiksAI/cql-io/frame"
	"github.com/AnalytiksAI/cql-io/frame/request"
	"github.com/AnalytiksAI/cql-io/frame/response"

	"go.uber.org/atomic"
)

// ConnId uniquely identifies a Connection for equality, per spec.md §3.
type ConnId uint64

var nextConnID atomic.Uint64

func newConnID() ConnId { return ConnId(nextConnID.Inc()) }

// Response pairs a parsed frame body with the header it arrived on, the
// unit Connection.Request hands back to callers per spec.md §4.1.
type Response struct {
	Header frame.Header
	Body   frame.Response
}

// AsError recovers a server error response, the "return it to the caller
// wrapped in the Response" path of spec.md §4.10 point 6.
func (r *Response) AsError() (*response.Error, bool) {
	e, ok := r.Body.(*response.Error)
	return e, ok
}

type streamResult struct {
	header frame.Header
	body   frame.Response
	err    error
}

// Connection owns one Socket, multiplexing many in-flight requests across
// a bounded pool of stream ids, per spec.md §3/§4.1. At most one request
// is outstanding per stream id; a single reader task owns the socket's
// read half; sending is serialized by a write lock.
type Connection struct {
	id       ConnId
	host     string
	version  frame.Version
	settings ConnConfig
	logger   Logger
	tmgr     *TimeoutManager

	socket *Socket
	r      *bufio.Reader

	writeMu sync.Mutex
	open    atomic.Bool

	tickets *TicketPool

	slotsMu sync.Mutex
	slots   map[frame.StreamID]*SyncSlot[streamResult]

	events Signal[*response.Event]

	closeOnce sync.Once
	readerWg  sync.WaitGroup
}

// Connect opens a socket (TCP or TLS), spawns the reader task, performs
// STARTUP (optionally authenticating), optionally USEs the default
// keyspace, and validates the server's advertised compression includes
// the configured algorithm, per spec.md §4.1. On any failure after the
// socket opens, the connection is closed before the error is returned.
func Connect(settings ConnConfig, tmgr *TimeoutManager, logger Logger, host string) (*Connection, error) {
	socket, err := DialSocket(host, settings.ConnectTimeout, settings.TLSConfig)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		id:       newConnID(),
		host:     host,
		version:  settings.protoVersion(),
		settings: settings,
		logger:   logger,
		tmgr:     tmgr,
		socket:   socket,
		r:        bufio.NewReaderSize(socket, 8192),
		tickets:  NewTicketPool(settings.resolvedMaxStreams()),
		slots:    make(map[frame.StreamID]*SyncSlot[streamResult]),
	}
	c.open.Store(true)

	c.readerWg.Add(1)
	go c.readLoop()

	if err := c.handshake(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Connection) handshake() error {
	optsResp, err := c.Request(&request.Options{})
	if err != nil {
		return fmt.Errorf("options: %w", err)
	}
	supported, ok := optsResp.Body.(*response.Supported)
	if !ok {
		return &UnexpectedResponseError{Host: c.host, Response: optsResp.Body}
	}

	options := frame.StartupOptions{"CQL_VERSION": "3.0.0"}
	if c.settings.Compression != nil {
		name := c.settings.Compression.Name()
		if !stringListContains(supported.Options["COMPRESSION"], name) {
			return &UnsupportedCompressionError{Algorithm: name}
		}
		options["COMPRESSION"] = name
	}

	startResp, err := c.Request(&request.Startup{Options: options})
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	switch body := startResp.Body.(type) {
	case *response.Ready:
		if c.settings.Authenticator != nil {
			// Authenticators configured but not required: warn, don't fail
			// per spec.md §9 Open Questions.
			c.logger.Printf("cql-io: authenticator configured but server did not request authentication")
		}
	case *response.Authenticate:
		if err := c.authenticate(body); err != nil {
			return err
		}
	default:
		return &UnexpectedResponseError{Host: c.host, Response: startResp.Body}
	}

	if c.settings.DefaultKeyspace != "" {
		if err := c.useKeyspace(c.settings.DefaultKeyspace); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) authenticate(a *response.Authenticate) error {
	auth := c.settings.Authenticator
	if auth == nil {
		return &AuthenticationRequiredError{Mechanism: a.Authenticator}
	}
	if auth.Mechanism() != a.Authenticator {
		return &AuthenticationMechanismUnsupportedError{Mechanism: a.Authenticator}
	}

	token := auth.InitialResponse()
	for {
		resp, err := c.Request(&request.AuthResponse{Token: token})
		if err != nil {
			return fmt.Errorf("auth response: %w", err)
		}
		switch body := resp.Body.(type) {
		case *response.AuthSuccess:
			return nil
		case *response.AuthChallenge:
			token, err = auth.EvaluateChallenge(body.Token)
			if err != nil {
				return err
			}
		default:
			return &UnexpectedResponseError{Host: c.host, Response: resp.Body}
		}
	}
}

// useKeyspace issues `USE "<keyspace>"` with embedded double-quotes
// escaped by doubling, per spec.md §6.
func (c *Connection) useKeyspace(keyspace string) error {
	escaped := strings.ReplaceAll(keyspace, `"`, `""`)
	q := &request.Query{Content: fmt.Sprintf(`USE "%s"`, escaped)}
	resp, err := c.Request(q)
	if err != nil {
		return fmt.Errorf("use keyspace: %w", err)
	}
	if e, ok := resp.AsError(); ok {
		return e
	}
	return nil
}

func stringListContains(l frame.StringList, s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// HostAddr reports the remote address this connection is bound to.
func (c *Connection) HostAddr() string { return c.host }

// ID returns the connection's identity for equality comparisons.
func (c *Connection) ID() ConnId { return c.id }

// IsOpen reports whether the connection is still usable.
func (c *Connection) IsOpen() bool { return c.open.Load() }

// compress reports whether req's body should be compressed. STARTUP and
// OPTIONS are always sent uncompressed regardless of negotiation, per
// spec.md §6.
func (c *Connection) compress(req frame.Request) bool {
	if c.settings.Compression == nil {
		return false
	}
	switch req.OpCode() {
	case frame.OpStartup, frame.OpOptions:
		return false
	default:
		return true
	}
}

// Request serializes req with a fresh stream id, sends it under a
// send-timeout, awaits a matching response under a response-timeout, and
// returns the parsed Response, per spec.md §4.1.
func (c *Connection) Request(req frame.Request) (*Response, error) {
	return c.RequestWithTimeouts(req, c.settings.SendTimeout, c.settings.ResponseTimeout)
}

// RequestWithTimeout is Request with an explicit response-timeout
// override; the configured SendTimeout is kept.
func (c *Connection) RequestWithTimeout(req frame.Request, responseTimeout time.Duration) (*Response, error) {
	return c.RequestWithTimeouts(req, c.settings.SendTimeout, responseTimeout)
}

// RequestWithTimeouts is Request with explicit send- and response-timeout
// overrides, used by the dispatcher's retry-iteration timeout shift of
// spec.md §4.10 point 3, which shifts both deltas on attempts i>=1.
func (c *Connection) RequestWithTimeouts(req frame.Request, sendTimeout, responseTimeout time.Duration) (*Response, error) {
	if !c.open.Load() {
		return nil, &ConnectionClosedError{Addr: c.host}
	}

	streamID, err := c.tickets.Get()
	if err != nil {
		return nil, err
	}
	id := frame.StreamID(streamID)

	slot := NewSyncSlot[streamResult]()
	c.slotsMu.Lock()
	c.slots[id] = slot
	c.slotsMu.Unlock()

	if err := c.send(id, req, sendTimeout); err != nil {
		c.slotsMu.Lock()
		delete(c.slots, id)
		c.slotsMu.Unlock()
		c.tickets.MarkAvailable(int(id))
		c.Close()
		return nil, err
	}

	ticket := c.tmgr.After(responseTimeout, func() {
		slot.Kill(&ResponseTimeoutError{Addr: c.host})
	})

	result, slotErr := slot.Get()
	c.tmgr.Cancel(ticket)

	if slotErr != nil {
		// Slot stays registered: the reader reclaims the stream id if the
		// server's response eventually arrives late, per spec.md §4.1.
		return nil, slotErr
	}

	c.slotsMu.Lock()
	delete(c.slots, id)
	c.slotsMu.Unlock()
	c.tickets.MarkAvailable(int(id))

	if result.err != nil {
		return nil, result.err
	}
	return &Response{Header: result.header, Body: result.body}, nil
}

// Register issues a REGISTER for eventTypes and subscribes handler to the
// connection's event signal. Duplicate handlers are allowed, per
// spec.md §4.1.
func (c *Connection) Register(eventTypes frame.StringList, handler func(*response.Event)) error {
	resp, err := c.Request(&request.Register{EventTypes: eventTypes})
	if err != nil {
		return err
	}
	if _, ok := resp.Body.(*response.Ready); !ok {
		if e, ok := resp.AsError(); ok {
			return e
		}
		return &UnexpectedResponseError{Host: c.host, Response: resp.Body}
	}
	c.events.Subscribe(handler)
	return nil
}

func (c *Connection) send(id frame.StreamID, req frame.Request, sendTimeout time.Duration) error {
	var buf frame.Buffer
	body := &frame.Buffer{}
	req.WriteTo(body)
	bodyBytes := body.Bytes()

	flags := frame.Flag(0)
	if c.compress(req) {
		compressed, err := c.settings.Compression.Compress(bodyBytes)
		if err != nil {
			return fmt.Errorf("compress: %w", err)
		}
		bodyBytes = compressed
		flags |= frame.FlagCompression
	}

	h := frame.Header{
		Version:  c.version,
		Flags:    flags,
		StreamID: id,
		OpCode:   req.OpCode(),
		Length:   uint32(len(bodyBytes)),
	}
	h.WriteTo(&buf)
	buf.Write(bodyBytes)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if !c.open.Load() {
		return &ConnectionClosedError{Addr: c.host}
	}

	if err := c.socket.setWriteDeadline(time.Now().Add(sendTimeout)); err != nil {
		return err
	}
	if _, err := frame.CopyBuffer(&buf, c.socket); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (c *Connection) readLoop() {
	defer c.readerWg.Done()
	for {
		res, err := c.recv()
		if err != nil {
			c.Close()
			return
		}

		if res.header.StreamID == frame.EventStreamID {
			if ev, ok := res.body.(*response.Event); ok {
				c.events.Emit(ev)
			}
			continue
		}

		c.slotsMu.Lock()
		slot := c.slots[res.header.StreamID]
		c.slotsMu.Unlock()

		if slot == nil {
			continue
		}
		if !slot.Put(res) {
			// Slot already closed by a response timeout: the requester
			// gave up without reclaiming the id, so the reader does it
			// here, per spec.md §4.1.
			c.slotsMu.Lock()
			delete(c.slots, res.header.StreamID)
			c.slotsMu.Unlock()
			c.tickets.MarkAvailable(int(res.header.StreamID))
		}
	}
}

func (c *Connection) recv() (streamResult, error) {
	var hb [frame.HeaderSize]byte
	if _, err := readFull(c.r, hb[:]); err != nil {
		return streamResult{}, fmt.Errorf("read header: %w", err)
	}
	var hbuf frame.Buffer
	hbuf.Write(hb[:])
	header := frame.ParseHeader(&hbuf)

	if int(header.Length) > c.settings.MaxRecvBuffer {
		return streamResult{}, fmt.Errorf("cql-io: frame body %d exceeds MaxRecvBuffer", header.Length)
	}

	body := make([]byte, header.Length)
	if _, err := readFull(c.r, body); err != nil {
		return streamResult{}, fmt.Errorf("read body: %w", err)
	}

	if header.Flags&frame.FlagCompression != 0 {
		if c.settings.Compression == nil {
			return streamResult{}, &ParseErrorKind{Reason: "compressed frame received with no compressor configured"}
		}
		decompressed, err := c.settings.Compression.Decompress(body)
		if err != nil {
			return streamResult{}, fmt.Errorf("decompress: %w", err)
		}
		body = decompressed
	}

	var bodyBuf frame.Buffer
	bodyBuf.Write(body)
	parsed := parseBody(header.OpCode, &bodyBuf)
	if err := bodyBuf.Error(); err != nil {
		return streamResult{}, fmt.Errorf("parse body: %w", err)
	}
	return streamResult{header: header, body: parsed}, nil
}

func parseBody(op frame.OpCode, buf *frame.Buffer) frame.Response {
	switch op {
	case frame.OpError:
		return response.ParseError(buf)
	case frame.OpReady:
		return response.ParseReady(buf)
	case frame.OpAuthenticate:
		return response.ParseAuthenticate(buf)
	case frame.OpAuthChallenge:
		return response.ParseAuthChallenge(buf)
	case frame.OpAuthSuccess:
		return response.ParseAuthSuccess(buf)
	case frame.OpSupported:
		return response.ParseSupported(buf)
	case frame.OpResult:
		return response.ParseResult(buf)
	case frame.OpEvent:
		return response.ParseEvent(buf)
	default:
		buf.Fail(fmt.Errorf("unsupported opcode %d", op))
		return nil
	}
}

// Close cancels the reader task and runs cleanup exactly once, per
// spec.md §4.1: close idempotence means repeated calls are safe and
// subsequent requests fail with ConnectionClosedError.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		if !c.open.CompareAndSwap(true, false) {
			return
		}
		c.tickets.Close(&ConnectionClosedError{Addr: c.host})

		c.slotsMu.Lock()
		slots := make([]*SyncSlot[streamResult], 0, len(c.slots))
		for _, s := range c.slots {
			slots = append(slots, s)
		}
		c.slots = make(map[frame.StreamID]*SyncSlot[streamResult])
		c.slotsMu.Unlock()

		for _, s := range slots {
			s.Close(&ConnectionClosedError{Addr: c.host})
		}

		go func() {
			_ = c.socket.Shutdown()
			c.writeMu.Lock()
			_ = c.socket.Close()
			c.writeMu.Unlock()
		}()
	})
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
