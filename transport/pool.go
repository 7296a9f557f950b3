package transport

import (
	"sync"
	"time"
)

type idleConn struct {
	conn  *Connection
	since time.Time
}

type poolWaiter struct {
	ch chan *Connection
}

// ConnPool is a bounded per-host pool of Connections with acquire/release,
// idle eviction, and create-on-demand, per spec.md §4.4. It opens new
// connections up to PoolSettings.MaxConnections, places released
// connections on an idle queue, and closes idle connections exceeding
// IdleTimeout. Acquisition blocks up to WaitQueueTimeout, failing with
// HostsBusyError on expiry.
type ConnPool struct {
	host         string
	connSettings ConnConfig
	poolSettings PoolSettings
	tmgr         *TimeoutManager
	logger       Logger

	mu      sync.Mutex
	opened  int // connections that exist, in use or idle
	idle    []idleConn
	waiters []poolWaiter
	closed  bool
	stop    chan struct{}
	stopped sync.WaitGroup
}

// NewConnPool creates a pool for host. Connections are opened lazily on
// first Acquire, matching the teacher's Node.Init create-on-demand idiom.
func NewConnPool(host string, connSettings ConnConfig, poolSettings PoolSettings, tmgr *TimeoutManager, logger Logger) *ConnPool {
	p := &ConnPool{
		host:         host,
		connSettings: connSettings,
		poolSettings: poolSettings,
		tmgr:         tmgr,
		logger:       logger,
		stop:         make(chan struct{}),
	}
	p.stopped.Add(1)
	go p.reapIdle()
	return p
}

// Acquire returns an open Connection, opening one if the pool has spare
// capacity, waiting for a release if not, or failing with HostsBusyError
// after WaitQueueTimeout.
func (p *ConnPool) Acquire() (*Connection, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, &ConnectionClosedError{Addr: p.host}
	}

	if n := len(p.idle); n > 0 {
		ic := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return ic.conn, nil
	}

	if p.opened < p.poolSettings.MaxConnections {
		p.opened++
		p.mu.Unlock()

		conn, err := Connect(p.connSettings, p.tmgr, p.logger, p.host)
		if err != nil {
			p.mu.Lock()
			p.opened--
			p.mu.Unlock()
			return nil, err
		}
		return conn, nil
	}

	w := poolWaiter{ch: make(chan *Connection, 1)}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	timer := time.NewTimer(p.poolSettings.WaitQueueTimeout)
	defer timer.Stop()

	select {
	case conn := <-w.ch:
		if conn == nil {
			return nil, &ConnectionClosedError{Addr: p.host}
		}
		return conn, nil
	case <-timer.C:
		return nil, &HostsBusyError{}
	}
}

// Release returns conn to the idle queue, or hands it directly to a
// waiter. If failed is true the connection is closed instead and the
// pool's opened count is decremented, per the "closing connections that
// raised on action" behavior of With.
func (p *ConnPool) Release(conn *Connection, failed bool) {
	p.mu.Lock()
	if failed || !conn.IsOpen() || p.closed {
		p.opened--
		p.mu.Unlock()
		conn.Close()
		return
	}

	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		w.ch <- conn
		return
	}

	p.idle = append(p.idle, idleConn{conn: conn, since: time.Now()})
	p.mu.Unlock()
}

// With runs action against an acquired Connection, releasing it on every
// exit path and closing it if action returned an error, per spec.md §4.4.
func With(pool *ConnPool, action func(*Connection) error) error {
	conn, err := pool.Acquire()
	if err != nil {
		return err
	}

	actionErr := action(conn)
	pool.Release(conn, actionErr != nil)
	return actionErr
}

func (p *ConnPool) reapIdle() {
	defer p.stopped.Done()
	interval := p.poolSettings.IdleTimeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-t.C:
			p.evictExpired()
		}
	}
}

func (p *ConnPool) evictExpired() {
	cutoff := time.Now().Add(-p.poolSettings.IdleTimeout)

	p.mu.Lock()
	kept := p.idle[:0]
	var expired []idleConn
	for _, ic := range p.idle {
		if ic.since.Before(cutoff) {
			expired = append(expired, ic)
			p.opened--
		} else {
			kept = append(kept, ic)
		}
	}
	p.idle = kept
	p.mu.Unlock()

	for _, ic := range expired {
		ic.conn.Close()
	}
}

// Destroy closes every idle connection and fails pending waiters and
// future Acquire calls, per spec.md §4.4 lifecycle.
func (p *ConnPool) Destroy() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	close(p.stop)
	p.stopped.Wait()

	for _, ic := range idle {
		ic.conn.Close()
	}
	for _, w := range waiters {
		w.ch <- nil
	}
}

// Ping opens a short-lived throwaway connection to addr with a 5s connect
// timeout and immediately closes it, the helper spec.md §4.8's Monitor
// uses to probe reachability.
func Ping(addr string, base ConnConfig, tmgr *TimeoutManager, logger Logger) error {
	cfg := base
	cfg.ConnectTimeout = 5 * time.Second
	conn, err := Connect(cfg, tmgr, logger, addr)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}
