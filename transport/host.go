package transport

import (
	"net"
	"strconv"
)

// InetAddr is an immutable, hashable value wrapping a socket address, per
// spec.md §3. Host equality and ordering are by address alone.
type InetAddr struct {
	IP   string
	Port int
}

func (a InetAddr) String() string {
	return net.JoinHostPort(a.IP, strconv.Itoa(a.Port))
}

// ParseInetAddr parses a "host:port" string into an InetAddr.
func ParseInetAddr(s string, defaultPort int) (InetAddr, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		host = s
		return InetAddr{IP: host, Port: defaultPort}, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return InetAddr{}, err
	}
	return InetAddr{IP: host, Port: port}, nil
}

// Host is a cluster member identified by an InetAddr, carrying datacentre
// and rack metadata, per spec.md §3. It is created when discovered via
// system.local/system.peers or a NewNode event, removed on RemovedNode,
// and mutated only by the cluster controller.
type Host struct {
	Addr       InetAddr
	Datacenter string
	Rack       string
}

// HostEventKind tags the union in spec.md §3.
type HostEventKind int

const (
	HostEventNew HostEventKind = iota
	HostEventGone
	HostEventUp
	HostEventDown
)

// HostEvent is the tagged union {New(Host), Gone(addr), Up(addr),
// Down(addr)} emitted by the controller and consumed by the policy.
type HostEvent struct {
	Kind HostEventKind
	Host Host     // valid when Kind == HostEventNew
	Addr InetAddr // valid otherwise
}

func NewHostEvent(h Host) HostEvent      { return HostEvent{Kind: HostEventNew, Host: h, Addr: h.Addr} }
func GoneHostEvent(a InetAddr) HostEvent { return HostEvent{Kind: HostEventGone, Addr: a} }
func UpHostEvent(a InetAddr) HostEvent   { return HostEvent{Kind: HostEventUp, Addr: a} }
func DownHostEvent(a InetAddr) HostEvent { return HostEvent{Kind: HostEventDown, Addr: a} }
