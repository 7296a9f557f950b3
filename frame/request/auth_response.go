package request

import "github.com/AnalytiksAI/cql-io/frame"

var _ frame.Request = (*AuthResponse)(nil)

// AuthResponse spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L372
type AuthResponse struct {
	Token []byte
}

func (a *AuthResponse) WriteTo(buf *frame.Buffer) {
	buf.WriteBytes(a.Token)
}

func (*AuthResponse) OpCode() frame.OpCode {
	return frame.OpAuthResponse
}
