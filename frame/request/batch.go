package request

import "github.com/AnalytiksAI/cql-io/frame"

var _ frame.Request = (*Batch)(nil)

// BatchType selects LOGGED/UNLOGGED/COUNTER batch semantics.
type BatchType byte

const (
	BatchLogged   BatchType = 0
	BatchUnlogged BatchType = 1
	BatchCounter  BatchType = 2
)

// BatchStatement is one statement within a BATCH request: either a plain
// query string or a prepared QueryId, per the <kind> byte of the spec.
type BatchStatement struct {
	IsPrepared bool
	QueryOrID  []byte
	Values     []frame.Value
}

// Batch spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L467
//
// Consistency is rewritten by the retry engine on i≥1 exactly like
// Query/Execute, per spec.md §4.10 point 3.
type Batch struct {
	Type        BatchType
	Statements  []BatchStatement
	Consistency frame.Consistency
}

func (b *Batch) WriteTo(buf *frame.Buffer) {
	buf.WriteByte(byte(b.Type))
	buf.WriteShort(frame.Short(len(b.Statements)))
	for _, s := range b.Statements {
		if s.IsPrepared {
			buf.WriteByte(1)
			buf.WriteShortBytes(s.QueryOrID)
		} else {
			buf.WriteByte(0)
			buf.WriteLongString(string(s.QueryOrID))
		}
		buf.WriteShort(frame.Short(len(s.Values)))
		for _, v := range s.Values {
			buf.WriteBytes(v.Bytes)
		}
	}
	buf.WriteConsistency(b.Consistency)
	buf.WriteByte(0)
}

func (*Batch) OpCode() frame.OpCode {
	return frame.OpBatch
}
