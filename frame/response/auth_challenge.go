package response

import "github.com/AnalytiksAI/cql-io/frame"

var _ frame.Response = (*AuthChallenge)(nil)

// AuthChallenge spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L383
type AuthChallenge struct {
	Token []byte
}

func (*AuthChallenge) OpCode() frame.OpCode { return frame.OpAuthChallenge }

func ParseAuthChallenge(buf *frame.Buffer) *AuthChallenge {
	return &AuthChallenge{Token: buf.ReadBytes()}
}
