package response

import "github.com/AnalytiksAI/cql-io/frame"

var _ frame.Response = (*AuthSuccess)(nil)

// AuthSuccess spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L390
type AuthSuccess struct {
	Token []byte
}

func (*AuthSuccess) OpCode() frame.OpCode { return frame.OpAuthSuccess }

func ParseAuthSuccess(buf *frame.Buffer) *AuthSuccess {
	return &AuthSuccess{Token: buf.ReadBytes()}
}
