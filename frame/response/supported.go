package response

import "github.com/AnalytiksAI/cql-io/frame"

var _ frame.Response = (*Supported)(nil)

// Supported spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L345
//
// Options["COMPRESSION"] lists the algorithms the server accepts; the
// connect path validates the configured compressor's name appears here
// before sending COMPRESSION in STARTUP, per spec.md §4.1.
type Supported struct {
	Options map[string]frame.StringList
}

func (*Supported) OpCode() frame.OpCode { return frame.OpSupported }

func ParseSupported(buf *frame.Buffer) *Supported {
	return &Supported{Options: buf.ReadStringMultiMap()}
}
