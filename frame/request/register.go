package request

import "github.com/AnalytiksAI/cql-io/frame"

var _ frame.Request = (*Register)(nil)

// Register spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L518
type Register struct {
	EventTypes frame.StringList
}

func (r *Register) WriteTo(buf *frame.Buffer) {
	buf.WriteStringList(r.EventTypes)
}

func (*Register) OpCode() frame.OpCode {
	return frame.OpRegister
}
