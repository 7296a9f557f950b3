package request

import "github.com/AnalytiksAI/cql-io/frame"

var _ frame.Request = (*Startup)(nil)

// Startup spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L246
type Startup struct {
	Options frame.StartupOptions
}

func (s *Startup) WriteTo(buf *frame.Buffer) {
	buf.WriteStringMap(s.Options)
}

func (*Startup) OpCode() frame.OpCode {
	return frame.OpStartup
}
