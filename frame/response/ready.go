package response

import "github.com/AnalytiksAI/cql-io/frame"

var _ frame.Response = (*Ready)(nil)

// Ready spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L265
type Ready struct{}

func (*Ready) OpCode() frame.OpCode { return frame.OpReady }

func ParseReady(_ *frame.Buffer) *Ready {
	return &Ready{}
}
