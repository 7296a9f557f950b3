// Package frame implements the CQL native protocol (v3/v4) wire framing:
// the 9-byte frame header, the primitive value codecs used by request and
// response bodies, and the opcode table. It has no knowledge of cluster
// topology, retries, or connection pooling; those live in package transport.
package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Version identifies the CQL native protocol version carried in a frame
// header. The driver supports v3 and v4.
type Version uint8

const (
	CQLv3 Version = 0x03
	CQLv4 Version = 0x04

	// versionMask strips the response/request direction bit (0x80) set by
	// the server on every reply frame.
	versionMask Version = 0x7f
)

// OpCode is the CQL opcode occupying byte 4 of the frame header.
type OpCode uint8

const (
	OpError         OpCode = 0x00
	OpStartup       OpCode = 0x01
	OpReady         OpCode = 0x02
	OpAuthenticate  OpCode = 0x03
	OpOptions       OpCode = 0x05
	OpSupported     OpCode = 0x06
	OpQuery         OpCode = 0x07
	OpResult        OpCode = 0x08
	OpPrepare       OpCode = 0x09
	OpExecute       OpCode = 0x0A
	OpRegister      OpCode = 0x0B
	OpEvent         OpCode = 0x0C
	OpBatch         OpCode = 0x0D
	OpAuthChallenge OpCode = 0x0E
	OpAuthResponse  OpCode = 0x0F
	OpAuthSuccess   OpCode = 0x10
)

// Flag is a bitmask carried in byte 1 of the frame header.
type Flag uint8

const (
	FlagCompression   Flag = 0x01
	FlagTracing       Flag = 0x02
	FlagCustomPayload Flag = 0x04
	FlagWarning       Flag = 0x08
)

// StreamID is the signed 16-bit tag multiplexing frames on one connection.
// -1 is reserved for server-initiated event frames.
type StreamID int16

// EventStreamID is the stream id the server uses for unsolicited EVENT
// frames; it is never assigned to a client request.
const EventStreamID StreamID = -1

// HeaderSize is the fixed length, in bytes, of a frame header.
const HeaderSize = 9

// Header is the 9-byte preamble of every frame.
type Header struct {
	Version  Version
	Flags    Flag
	StreamID StreamID
	OpCode   OpCode
	Length   uint32
}

// WriteTo serializes the header to buf, including h.Length as the body
// length; callers set Length to the body size before calling it.
func (h Header) WriteTo(buf *Buffer) {
	buf.WriteByte(byte(h.Version))
	buf.WriteByte(byte(h.Flags))
	buf.writeShortID(h.StreamID)
	buf.WriteByte(byte(h.OpCode))
	var lenb [4]byte
	binary.BigEndian.PutUint32(lenb[:], h.Length)
	buf.Write(lenb[:])
}

// ParseHeader decodes a header previously copied into buf's internal bytes.
func ParseHeader(buf *Buffer) Header {
	var h Header
	h.Version = Version(buf.readByte()) & versionMask
	h.Flags = Flag(buf.readByte())
	h.StreamID = buf.readShortID()
	h.OpCode = OpCode(buf.readByte())
	h.Length = buf.readUint32()
	return h
}

// Request is implemented by every client-initiated message body.
type Request interface {
	WriteTo(buf *Buffer)
	OpCode() OpCode
}

// Response is implemented by every server message body.
type Response interface {
	OpCode() OpCode
}

// CodedError is implemented by responses carrying a server error code,
// letting callers recover the original error from a generic Response.
type CodedError interface {
	error
	Code() int32
}

// CopyBuffer writes buf's accumulated bytes to w in one call, the way the
// teacher's connWriter.send flushes a fully-assembled frame.
func CopyBuffer(buf *Buffer, w io.Writer) (int64, error) {
	return io.Copy(w, bytes.NewReader(buf.Bytes()))
}

// BufferWriter adapts buf so io.CopyN can deposit raw header/body bytes
// into it before they are parsed, as the teacher's connReader.recv does.
func BufferWriter(buf *Buffer) io.Writer {
	return buf
}

// Buffer is a growable byte buffer with CQL primitive codecs layered on
// top of bytes.Buffer. A non-nil err short-circuits all further reads,
// mirroring the teacher's frame.Buffer.Error() pattern used throughout
// connReader.recv/parse.
type Buffer struct {
	bytes.Buffer
	err error
}

// Error returns the first parse error recorded on the buffer, if any.
func (b *Buffer) Error() error { return b.err }

// Fail records err as the buffer's parse error if one isn't already set.
func (b *Buffer) Fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Buffer) readByte() byte {
	v, err := b.Buffer.ReadByte()
	if err != nil {
		b.Fail(fmt.Errorf("read byte: %w", err))
	}
	return v
}

func (b *Buffer) readN(n int) []byte {
	out := make([]byte, n)
	if _, err := io.ReadFull(&b.Buffer, out); err != nil {
		b.Fail(fmt.Errorf("read %d bytes: %w", n, err))
	}
	return out
}

func (b *Buffer) writeShortID(id StreamID) {
	var sb [2]byte
	binary.BigEndian.PutUint16(sb[:], uint16(id))
	b.Write(sb[:])
}

func (b *Buffer) readShortID() StreamID {
	return StreamID(binary.BigEndian.Uint16(b.readN(2)))
}

func (b *Buffer) readUint32() uint32 {
	return binary.BigEndian.Uint32(b.readN(4))
}

// ReadByteN reads a single raw byte, recording a parse error on EOF.
func (b *Buffer) ReadByteN() byte { return b.readByte() }

// ReadRaw reads n raw bytes, recording a parse error if fewer are available.
func (b *Buffer) ReadRaw(n int) []byte { return b.readN(n) }

// WriteInet encodes a CQL [inet]: a one-byte address length (4 or 16),
// the address bytes, then a trailing [int] port.
func (b *Buffer) WriteInet(ip []byte, port int32) {
	b.WriteByte(byte(len(ip)))
	b.Write(ip)
	b.WriteInt(Int(port))
}
