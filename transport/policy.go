package transport

import (
	"math/rand"
	"sync"
	"time"
)

// Policy is the pluggable host-selection capability set of spec.md §4.5.
// Implementations must be safe under concurrent Select/OnEvent calls; the
// built-in policies use a mutex the way the teacher's Node/Ring machinery
// guards shared host state.
type Policy interface {
	// Setup seeds the policy with the hosts discovered at init time, split
	// by reachability.
	Setup(up, down []Host)
	// OnEvent is called for every HostEvent the controller emits.
	OnEvent(ev HostEvent)
	// Select picks a host for one request; called per request.
	Select() (Host, bool)
	// Acceptable is consulted on discovery to decide whether the
	// controller should even pool a host.
	Acceptable(h Host) bool
	// HostCount bounds the per-request host-selection retry loop in the
	// dispatcher (spec.md §4.10 point 4).
	HostCount() int
	// Current lists all currently selectable hosts.
	Current() []Host
	// Display names the policy for diagnostics.
	Display() string
}

// roundRobinPolicy cycles through all up hosts. dcAwarePolicy wraps it;
// randomPolicy is a separate implementation.
type roundRobinPolicy struct {
	mu    sync.Mutex
	hosts []Host
	next  int
}

func NewRoundRobinPolicy() Policy {
	return &roundRobinPolicy{}
}

func (p *roundRobinPolicy) Setup(up, _ []Host) {
	p.mu.Lock()
	p.hosts = append([]Host(nil), up...)
	p.mu.Unlock()
}

func (p *roundRobinPolicy) OnEvent(ev HostEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch ev.Kind {
	case HostEventNew, HostEventUp:
		if !p.contains(ev.Addr) {
			h := ev.Host
			if h.Addr == (InetAddr{}) {
				h = Host{Addr: ev.Addr}
			}
			p.hosts = append(p.hosts, h)
		}
	case HostEventGone, HostEventDown:
		p.remove(ev.Addr)
	}
}

func (p *roundRobinPolicy) contains(addr InetAddr) bool {
	for _, h := range p.hosts {
		if h.Addr == addr {
			return true
		}
	}
	return false
}

func (p *roundRobinPolicy) remove(addr InetAddr) {
	out := p.hosts[:0]
	for _, h := range p.hosts {
		if h.Addr != addr {
			out = append(out, h)
		}
	}
	p.hosts = out
}

func (p *roundRobinPolicy) Select() (Host, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.hosts) == 0 {
		return Host{}, false
	}
	h := p.hosts[p.next%len(p.hosts)]
	p.next++
	return h, true
}

func (p *roundRobinPolicy) Acceptable(Host) bool { return true }

func (p *roundRobinPolicy) HostCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.hosts)
}

func (p *roundRobinPolicy) Current() []Host {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Host(nil), p.hosts...)
}

func (p *roundRobinPolicy) Display() string { return "round-robin" }

// dcAwarePolicy wraps a round-robin policy but only Accepts hosts in the
// configured local datacentre, per spec.md §4.5's "datacentre-filtered
// round-robin" built-in.
type dcAwarePolicy struct {
	*roundRobinPolicy
	localDC string
}

func NewDCAwareRoundRobinPolicy(localDC string) Policy {
	return &dcAwarePolicy{roundRobinPolicy: &roundRobinPolicy{}, localDC: localDC}
}

func (p *dcAwarePolicy) Acceptable(h Host) bool {
	return h.Datacenter == p.localDC
}

func (p *dcAwarePolicy) Setup(up, down []Host) {
	p.roundRobinPolicy.Setup(filterDC(up, p.localDC), filterDC(down, p.localDC))
}

func (p *dcAwarePolicy) OnEvent(ev HostEvent) {
	if ev.Kind == HostEventNew && ev.Host.Datacenter != p.localDC {
		return
	}
	p.roundRobinPolicy.OnEvent(ev)
}

func (p *dcAwarePolicy) Display() string { return "dc-aware-round-robin(" + p.localDC + ")" }

func filterDC(hosts []Host, dc string) []Host {
	var out []Host
	for _, h := range hosts {
		if h.Datacenter == dc {
			out = append(out, h)
		}
	}
	return out
}

// randomPolicy picks a uniformly random up host per request.
type randomPolicy struct {
	mu    sync.Mutex
	hosts []Host
	rnd   *rand.Rand
}

func NewRandomPolicy() Policy {
	return &randomPolicy{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (p *randomPolicy) Setup(up, _ []Host) {
	p.mu.Lock()
	p.hosts = append([]Host(nil), up...)
	p.mu.Unlock()
}

func (p *randomPolicy) OnEvent(ev HostEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch ev.Kind {
	case HostEventNew, HostEventUp:
		for _, h := range p.hosts {
			if h.Addr == ev.Addr {
				return
			}
		}
		h := ev.Host
		if h.Addr == (InetAddr{}) {
			h = Host{Addr: ev.Addr}
		}
		p.hosts = append(p.hosts, h)
	case HostEventGone, HostEventDown:
		out := p.hosts[:0]
		for _, h := range p.hosts {
			if h.Addr != ev.Addr {
				out = append(out, h)
			}
		}
		p.hosts = out
	}
}

func (p *randomPolicy) Select() (Host, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.hosts) == 0 {
		return Host{}, false
	}
	return p.hosts[p.rnd.Intn(len(p.hosts))], true
}

func (p *randomPolicy) Acceptable(Host) bool { return true }

func (p *randomPolicy) HostCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.hosts)
}

func (p *randomPolicy) Current() []Host {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Host(nil), p.hosts...)
}

func (p *randomPolicy) Display() string { return "random" }
