package request

import "github.com/AnalytiksAI/cql-io/frame"

var _ frame.Request = (*Query)(nil)

// Query spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L399
type Query struct {
	Content string
	Params  QueryParams
}

func (q *Query) WriteTo(buf *frame.Buffer) {
	buf.WriteLongString(q.Content)
	q.Params.WriteTo(buf)
}

func (*Query) OpCode() frame.OpCode {
	return frame.OpQuery
}
