package transport

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AnalytiksAI/cql-io/frame"
	"github.com/AnalytiksAI/cql-io/frame/request"
	"github.com/AnalytiksAI/cql-io/frame/response"
)

// ControlState is one of {Disconnected, Connected, Reconnecting}, per
// spec.md §3's Control tuple.
type ControlState int

const (
	Disconnected ControlState = iota
	Connected
	Reconnecting
)

var controlJobAddr = InetAddr{IP: "<control>", Port: 0}

// Cluster is the cluster controller of spec.md §4.9 plus the root
// ClientState of spec.md §3: it owns the control connection, the host
// registry and per-host pools, the load-balancing policy, the prepared
// query cache, and the jobs registry, matching the teacher's
// transport.Cluster / NewCluster(cfg, policy, events, hosts...) shape in
// session.go.
type Cluster struct {
	connSettings  ConnConfig
	poolSettings  PoolSettings
	retrySettings RetrySettings
	prepStrategy  PrepareStrategy
	logger        Logger
	tmgr          *TimeoutManager

	policy     Policy
	prepared   *PreparedQueries
	jobs       *JobsRegistry
	hostEvents Signal[HostEvent]

	mu    sync.Mutex
	hosts map[InetAddr]Host
	pools map[InetAddr]*ConnPool

	controlMu    sync.Mutex
	controlState ControlState
	controlConn  *Connection
	controlAddr  InetAddr

	closed bool
}

// NewCluster tries each contact address in order; the surviving connection
// becomes the control connection, per spec.md §4.9 Initialization. It then
// discovers peers and subscribes to topology/status/schema events.
func NewCluster(cfg ClusterConfig) (*Cluster, error) {
	if len(cfg.Contacts) == 0 {
		return nil, &NoHostAvailableError{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = DefaultLogger{}
	}

	c := &Cluster{
		connSettings:  cfg.ConnSettings,
		poolSettings:  cfg.PoolSettings,
		retrySettings: cfg.RetrySettings,
		prepStrategy:  cfg.PrepStrategy,
		logger:        logger,
		tmgr:          NewTimeoutManager(),
		policy:        cfg.PolicyMaker(),
		prepared:      NewPreparedQueries(),
		jobs:          NewJobsRegistry(),
		hosts:         make(map[InetAddr]Host),
		pools:         make(map[InetAddr]*ConnPool),
	}

	var lastErr error
	var conn *Connection
	var addr InetAddr
	for _, contact := range cfg.Contacts {
		a, err := resolveContact(contact, cfg.Port)
		if err != nil {
			lastErr = err
			continue
		}
		conn, err = Connect(c.connSettings, c.tmgr, logger, a.String())
		if err != nil {
			lastErr = err
			continue
		}
		addr = a
		break
	}
	if conn == nil {
		c.tmgr.Destroy()
		if lastErr == nil {
			lastErr = &NoHostAvailableError{}
		}
		return nil, lastErr
	}

	c.controlConn = conn
	c.controlAddr = addr
	c.controlState = Connected

	if err := c.discover(conn, addr); err != nil {
		conn.Close()
		c.tmgr.Destroy()
		return nil, err
	}
	if err := c.subscribeEvents(conn, cfg.Events); err != nil {
		conn.Close()
		c.tmgr.Destroy()
		return nil, err
	}
	return c, nil
}

func resolveContact(contact string, port int) (InetAddr, error) {
	if strings.Contains(contact, ":") {
		return ParseInetAddr(contact, port)
	}
	return InetAddr{IP: contact, Port: port}, nil
}

// discover runs system.local/system.peers over conn and, for each
// accepted host, pings it and creates its pool, per spec.md §4.9.
func (c *Cluster) discover(conn *Connection, controlAddr InetAddr) error {
	localDC, localRack, err := c.queryLocal(conn)
	if err != nil {
		return err
	}
	c.addHost(Host{Addr: controlAddr, Datacenter: localDC, Rack: localRack}, true)

	peers, err := c.queryPeers(conn)
	if err != nil {
		return err
	}

	var ups, downs []Host
	for _, h := range peers {
		if h.Addr == controlAddr {
			continue
		}
		if !c.policy.Acceptable(h) {
			continue
		}
		c.setHost(h)
		if err := Ping(h.Addr.String(), c.connSettings, c.tmgr, c.logger); err == nil {
			if _, err := c.ensurePool(h.Addr); err != nil {
				return err
			}
			ups = append(ups, h)
		} else {
			if _, err := c.ensurePool(h.Addr); err != nil {
				return err
			}
			downs = append(downs, h)
			c.scheduleMonitor(h.Addr)
		}
	}

	local := c.hosts[controlAddr]
	ups = append([]Host{local}, ups...)
	if _, err := c.ensurePool(controlAddr); err != nil {
		return err
	}
	c.policy.Setup(ups, downs)
	return nil
}

func (c *Cluster) addHost(h Host, up bool) {
	c.setHost(h)
	if up {
		c.policy.OnEvent(NewHostEvent(h))
	}
}

func (c *Cluster) setHost(h Host) {
	c.mu.Lock()
	c.hosts[h.Addr] = h
	c.mu.Unlock()
}

// ensurePool returns the pool for addr, creating one if missing,
// race-safe under the host-map critical section, per spec.md §4.10
// point 5. It fails with ConnectionClosedError once the cluster has been
// shut down, so a request racing Close cannot dial a fresh connection to
// a host that never had a pool, per spec.md §5: no request issued after
// shutdown is allowed to succeed.
func (c *Cluster) ensurePool(addr InetAddr) (*ConnPool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, &ConnectionClosedError{Addr: addr.String()}
	}
	if p, ok := c.pools[addr]; ok {
		return p, nil
	}
	p := NewConnPool(addr.String(), c.connSettings, c.poolSettings, c.tmgr, c.logger)
	c.pools[addr] = p
	return p, nil
}

// Pool returns the pool for addr, creating one if missing, or
// ConnectionClosedError if the cluster has already shut down.
func (c *Cluster) Pool(addr InetAddr) (*ConnPool, error) {
	return c.ensurePool(addr)
}

func (c *Cluster) scheduleMonitor(addr InetAddr) {
	c.jobs.Add(addr, true, func(ctx context.Context) {
		Monitor(ctx, addr, 0, 60*time.Second, func() error {
			return Ping(addr.String(), c.connSettings, c.tmgr, c.logger)
		}, func() {
			c.markUp(addr)
		})
	})
}

func (c *Cluster) markUp(addr InetAddr) {
	c.policy.OnEvent(UpHostEvent(addr))
	c.prepareAllOn(addr)
}

// prepareAllOn re-prepares every cached prepared query text against addr,
// the "schedule prepareAll" step of spec.md §4.9. A failure for one text
// is logged and does not stop the rest.
func (c *Cluster) prepareAllOn(addr InetAddr) {
	texts := c.prepared.Texts()
	if len(texts) == 0 {
		return
	}
	pool, err := c.ensurePool(addr)
	if err != nil {
		return
	}
	_ = With(pool, func(conn *Connection) error {
		for _, text := range texts {
			resp, err := conn.Request(&request.Prepare{Query: text})
			if err != nil {
				c.logger.Printf("cql-io: prepareAll against %s failed for %q: %v", addr, text, err)
				continue
			}
			res, ok := resp.Body.(*response.Result)
			if !ok || res.Kind != response.ResultPrepared {
				continue
			}
			if err := c.prepared.Insert(text, res.PreparedID); err != nil {
				c.logger.Printf("cql-io: prepareAll against %s: %v", addr, err)
			}
		}
		return nil
	})
}

func (c *Cluster) queryLocal(conn *Connection) (dc, rack string, err error) {
	resp, err := conn.Request(&request.Query{
		Content: "SELECT data_center, rack FROM system.local",
		Params:  request.QueryParams{Consistency: frame.ONE},
	})
	if err != nil {
		return "", "", err
	}
	res, ok := resp.Body.(*response.Result)
	if !ok || res.Kind != response.ResultRows || len(res.Rows) == 0 {
		return "", "", &UnexpectedResponseError{Host: conn.HostAddr(), Response: resp.Body}
	}
	row := res.Rows[0]
	if len(row) >= 2 {
		dc, rack = string(row[0]), string(row[1])
	}
	return dc, rack, nil
}

func (c *Cluster) queryPeers(conn *Connection) ([]Host, error) {
	resp, err := conn.Request(&request.Query{
		Content: "SELECT peer, rpc_address, data_center, rack FROM system.peers",
		Params:  request.QueryParams{Consistency: frame.ONE},
	})
	if err != nil {
		return nil, err
	}
	res, ok := resp.Body.(*response.Result)
	if !ok || res.Kind != response.ResultRows {
		return nil, &UnexpectedResponseError{Host: conn.HostAddr(), Response: resp.Body}
	}

	var hosts []Host
	for _, row := range res.Rows {
		if len(row) < 4 {
			continue
		}
		ip := string(row[1])
		if ip == "" {
			ip = string(row[0])
		}
		hosts = append(hosts, Host{
			Addr:       InetAddr{IP: ip, Port: c.controlAddr.Port},
			Datacenter: string(row[2]),
			Rack:       string(row[3]),
		})
	}
	return hosts, nil
}

func (c *Cluster) subscribeEvents(conn *Connection, events []string) error {
	types := frame.StringList{
		string(response.TopologyChange),
		string(response.StatusChange),
		string(response.SchemaChange),
	}
	if len(events) > 0 {
		types = events
	}
	return conn.Register(types, c.handleEvent)
}

func (c *Cluster) handleEvent(ev *response.Event) {
	switch ev.Type {
	case response.StatusChange:
		addr, err := ParseInetAddr(ev.Addr, c.controlAddr.Port)
		if err != nil {
			return
		}
		switch ev.ChangeType {
		case "DOWN":
			c.policy.OnEvent(DownHostEvent(addr))
		case "UP":
			c.mu.Lock()
			_, known := c.hosts[addr]
			c.mu.Unlock()
			if known {
				c.scheduleMonitor(addr)
			}
		}
	case response.TopologyChange:
		addr, err := ParseInetAddr(ev.Addr, c.controlAddr.Port)
		if err != nil {
			return
		}
		switch ev.ChangeType {
		case "NEW_NODE":
			c.rediscoverAndAdd(addr)
		case "REMOVED_NODE":
			c.removeHost(addr)
		}
	case response.SchemaChange:
		// ignored, per spec.md §4.9.
	}
}

func (c *Cluster) rediscoverAndAdd(addr InetAddr) {
	conn := c.currentControlConn()
	if conn == nil {
		return
	}
	peers, err := c.queryPeers(conn)
	if err != nil {
		return
	}
	for _, h := range peers {
		if h.Addr != addr {
			continue
		}
		if !c.policy.Acceptable(h) {
			return
		}
		c.setHost(h)
		if _, err := c.ensurePool(h.Addr); err != nil {
			return
		}
		c.policy.OnEvent(NewHostEvent(h))
		c.jobs.Add(h.Addr, true, func(ctx context.Context) {
			c.prepareAllOn(h.Addr)
		})
		return
	}
}

func (c *Cluster) removeHost(addr InetAddr) {
	c.mu.Lock()
	delete(c.hosts, addr)
	pool := c.pools[addr]
	delete(c.pools, addr)
	c.mu.Unlock()

	if pool != nil {
		pool.Destroy()
	}
	c.policy.OnEvent(GoneHostEvent(addr))
}

func (c *Cluster) currentControlConn() *Connection {
	c.controlMu.Lock()
	defer c.controlMu.Unlock()
	return c.controlConn
}

// OnConnectionError is called by the dispatcher whenever a request against
// host fails with a connection/IO/TLS error, per spec.md §4.10 point 5. If
// host is the current control address, it triggers control-connection
// failure recovery.
func (c *Cluster) OnConnectionError(host InetAddr, err error) {
	c.policy.OnEvent(DownHostEvent(host))

	c.controlMu.Lock()
	isControl := c.controlAddr == host && c.controlState == Connected
	c.controlMu.Unlock()

	if isControl {
		c.jobs.Add(controlJobAddr, true, c.reconnectControlLoop)
	} else {
		c.scheduleMonitor(host)
	}
}

// maxControlReconnectSweeps bounds reconnectControlLoop's retry: the
// largest number of full passes over every known host address before
// giving up and declaring the control connection unreachable, per
// spec.md §4.9's "if no host is reachable, transition to Disconnected
// and log fatal." The spec names the backoff shape but not a give-up
// bound; with the backoff starting at 5ms and doubling after each failed
// sweep, ten sweeps wait about five seconds in total (the 5s cap is not
// reached) before the cluster gives up.
const maxControlReconnectSweeps = 10

// reconnectControlLoop implements spec.md §4.9's control-connection
// failure recovery: transition Connected→Reconnecting, close the old
// connection, emit HostDown, then try every known host address in order,
// with exponential backoff capped at 5s (base 5ms), until one succeeds,
// the cluster shuts down, or maxControlReconnectSweeps is exhausted (in
// which case the cluster transitions to Disconnected and logs fatal).
func (c *Cluster) reconnectControlLoop(ctx context.Context) {
	c.controlMu.Lock()
	if c.controlState == Reconnecting {
		c.controlMu.Unlock()
		return
	}
	c.controlState = Reconnecting
	oldAddr := c.controlAddr
	oldConn := c.controlConn
	c.controlMu.Unlock()

	if oldConn != nil {
		oldConn.Close()
	}
	c.policy.OnEvent(DownHostEvent(oldAddr))

	backoff := 5 * time.Millisecond
	for sweep := 0; sweep < maxControlReconnectSweeps; sweep++ {
		for _, addr := range c.sortedKnownAddrs() {
			if ctx.Err() != nil {
				return
			}
			if err := c.replaceControl(addr); err == nil {
				return
			}
		}

		if err := sleepCtx(ctx, backoff); err != nil {
			return
		}
		backoff *= 2
		if backoff > 5*time.Second {
			backoff = 5 * time.Second
		}

		c.controlMu.Lock()
		stillReconnecting := c.controlState == Reconnecting
		c.controlMu.Unlock()
		if !stillReconnecting {
			return
		}
	}

	c.controlMu.Lock()
	if c.controlState == Reconnecting {
		c.controlState = Disconnected
	}
	c.controlMu.Unlock()
	c.logger.Printf("cql-io: FATAL: control connection unreachable against every known host after %d attempts", maxControlReconnectSweeps)
}

func (c *Cluster) sortedKnownAddrs() []InetAddr {
	c.mu.Lock()
	addrs := make([]InetAddr, 0, len(c.hosts))
	for a := range c.hosts {
		addrs = append(addrs, a)
	}
	c.mu.Unlock()

	sort.Slice(addrs, func(i, j int) bool {
		if addrs[i].IP != addrs[j].IP {
			return addrs[i].IP < addrs[j].IP
		}
		return addrs[i].Port < addrs[j].Port
	})
	return addrs
}

// replaceControl connects to addr and reruns initialisation (connect +
// discover + subscribe), per spec.md §4.9's "run replaceControl
// (connect + initialise)".
func (c *Cluster) replaceControl(addr InetAddr) error {
	conn, err := Connect(c.connSettings, c.tmgr, c.logger, addr.String())
	if err != nil {
		return err
	}
	if err := c.discover(conn, addr); err != nil {
		conn.Close()
		return err
	}
	if err := c.subscribeEvents(conn, nil); err != nil {
		conn.Close()
		return err
	}

	c.controlMu.Lock()
	c.controlConn = conn
	c.controlAddr = addr
	c.controlState = Connected
	c.controlMu.Unlock()

	c.policy.OnEvent(UpHostEvent(addr))
	return nil
}

// Policy exposes the configured Policy for query-path host selection.
func (c *Cluster) Policy() Policy { return c.policy }

// Prepared exposes the prepared-query cache for the dispatcher.
func (c *Cluster) Prepared() *PreparedQueries { return c.prepared }

// Jobs exposes the jobs registry, mainly for tests.
func (c *Cluster) Jobs() *JobsRegistry { return c.jobs }

// HostCount returns the current selectable host count from the policy.
func (c *Cluster) HostCount() int { return c.policy.HostCount() }

// Hosts returns a snapshot of every known host.
func (c *Cluster) Hosts() []Host {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Host, 0, len(c.hosts))
	for _, h := range c.hosts {
		out = append(out, h)
	}
	return out
}

// Close runs shutdown: destroy timeouts, destroy jobs, close the control
// connection, destroy all per-host pools, per spec.md §4.9.
func (c *Cluster) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pools := c.pools
	c.pools = make(map[InetAddr]*ConnPool)
	c.mu.Unlock()

	c.tmgr.Destroy()
	c.jobs.Destroy()

	c.controlMu.Lock()
	conn := c.controlConn
	c.controlState = Disconnected
	c.controlMu.Unlock()
	if conn != nil {
		conn.Close()
	}

	for _, p := range pools {
		p.Destroy()
	}
}
