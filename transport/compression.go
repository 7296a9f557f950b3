package transport

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/pierrec/lz4/v4"
)

// Compressor negotiates and applies one of the algorithms a server may
// advertise in SUPPORTED, per spec.md §4.1's compression validation step.
// STARTUP/OPTIONS are always sent uncompressed regardless of negotiation
// (spec.md §6); Compressor only applies to bodies of later frames.
type Compressor interface {
	// Name is the STARTUP COMPRESSION option value, e.g. "snappy" or "lz4".
	Name() string
	Compress(body []byte) ([]byte, error)
	Decompress(body []byte) ([]byte, error)
}

// SnappyCompressor implements Compressor using klauspost/compress's Snappy
// codec, the algorithm most Cassandra/Scylla deployments advertise first.
type SnappyCompressor struct{}

func (SnappyCompressor) Name() string { return "snappy" }

func (SnappyCompressor) Compress(body []byte) ([]byte, error) {
	return snappy.Encode(nil, body), nil
}

func (SnappyCompressor) Decompress(body []byte) ([]byte, error) {
	return snappy.Decode(nil, body)
}

// LZ4Compressor implements Compressor using pierrec/lz4. The CQL wire
// format prefixes an LZ4-compressed body with its uncompressed length as
// a 4-byte big-endian int, per the native protocol's "lz4" framing.
type LZ4Compressor struct{}

func (LZ4Compressor) Name() string { return "lz4" }

func (LZ4Compressor) Compress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(body)))

	w := lz4.NewWriter(&buf)
	if _, err := w.Write(body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (LZ4Compressor) Decompress(body []byte) ([]byte, error) {
	if len(body) < 4 {
		return nil, io.ErrUnexpectedEOF
	}
	n := readUint32(body[:4])
	out := make([]byte, n)
	r := lz4.NewReader(bytes.NewReader(body[4:]))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	buf.Write([]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

func readUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// compressorsByName is consulted when validating a configured compressor
// against the server's SUPPORTED COMPRESSION list (spec.md §4.1).
var compressorsByName = map[string]Compressor{
	"snappy": SnappyCompressor{},
	"lz4":    LZ4Compressor{},
}
