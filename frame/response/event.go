package response

import (
	"fmt"
	"net"

	"github.com/AnalytiksAI/cql-io/frame"
)

var _ frame.Response = (*Event)(nil)

// EventType names the REGISTER-able event classes of spec.md §4.9.
type EventType string

const (
	TopologyChange EventType = "TOPOLOGY_CHANGE"
	StatusChange   EventType = "STATUS_CHANGE"
	SchemaChange   EventType = "SCHEMA_CHANGE"
)

// Event spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L619
//
// Delivered on stream id -1 by the reader loop and fanned out on the
// connection's event Signal, per spec.md §4.1.
type Event struct {
	Type EventType

	// TOPOLOGY_CHANGE / STATUS_CHANGE fields.
	ChangeType string // "NEW_NODE" | "REMOVED_NODE" | "UP" | "DOWN"
	Addr       string
}

func (*Event) OpCode() frame.OpCode { return frame.OpEvent }

func ParseEvent(buf *frame.Buffer) *Event {
	e := &Event{Type: EventType(buf.ReadString())}
	switch e.Type {
	case TopologyChange, StatusChange:
		e.ChangeType = buf.ReadString()
		e.Addr = decodeInet(buf)
	case SchemaChange:
		_ = buf.ReadString() // change type
		_ = buf.ReadString() // target
		_ = buf.ReadString() // keyspace
	}
	return e
}

// decodeInet decodes a CQL [inet]: a one-byte address length (4 or 16),
// that many address bytes, then a trailing [int] port.
func decodeInet(buf *frame.Buffer) string {
	n := int(buf.ReadByteN())
	ipBytes := buf.ReadRaw(n)
	port := buf.ReadInt()
	return net.JoinHostPort(net.IP(ipBytes).String(), fmt.Sprintf("%d", int32(port)))
}
