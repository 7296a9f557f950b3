package response

import "github.com/AnalytiksAI/cql-io/frame"

var _ frame.Response = (*Authenticate)(nil)

// Authenticate spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L301
type Authenticate struct {
	Authenticator string
}

func (*Authenticate) OpCode() frame.OpCode { return frame.OpAuthenticate }

func ParseAuthenticate(buf *frame.Buffer) *Authenticate {
	return &Authenticate{Authenticator: buf.ReadString()}
}
