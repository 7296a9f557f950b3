package request

import "github.com/AnalytiksAI/cql-io/frame"

var _ frame.Request = (*Execute)(nil)

// Execute spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L438
//
// ID is the server-assigned QueryId returned by a prior PREPARE. On
// Unprepared errors the dispatcher re-prepares and retries with the same
// Params unchanged, per spec.md §4.10 "Prepared-query path".
type Execute struct {
	ID     []byte
	Params QueryParams
}

func (e *Execute) WriteTo(buf *frame.Buffer) {
	buf.WriteShortBytes(e.ID)
	e.Params.WriteTo(buf)
}

func (*Execute) OpCode() frame.OpCode {
	return frame.OpExecute
}
