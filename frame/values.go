package frame

import (
	"encoding/binary"
	"fmt"
)

// Short is the CQL [short] type: an unsigned 16-bit integer.
type Short uint16

// Int is the CQL [int] type: a signed 32-bit integer.
type Int int32

// Long is the CQL [long] type: a signed 64-bit integer.
type Long int64

// Bytes is the CQL [bytes] type: a length-prefixed (possibly nil) byte
// string. A nil Bytes serializes as length -1, matching a CQL NULL.
type Bytes []byte

// StringList is the CQL [string list] type used by OPTIONS/SUPPORTED and
// REGISTER.
type StringList []string

// UUID is a raw 16-byte CQL [uuid] value; no parsing beyond byte layout is
// performed, matching the spec's non-goal of a full CQL value type system.
type UUID [16]byte

// Value is an already-serialized bound parameter: its Bytes are copied
// verbatim into a QUERY/EXECUTE/BATCH frame. The driver does not interpret
// CQL value types; callers are responsible for encoding.
type Value struct {
	Bytes Bytes
}

// Consistency is the CQL [consistency] level.
type Consistency = uint16

const (
	ANY         Consistency = 0x0000
	ONE         Consistency = 0x0001
	TWO         Consistency = 0x0002
	THREE       Consistency = 0x0003
	QUORUM      Consistency = 0x0004
	ALL         Consistency = 0x0005
	LOCALQUORUM Consistency = 0x0006
	EACHQUORUM  Consistency = 0x0007
	SERIAL      Consistency = 0x0008
	LOCALSERIAL Consistency = 0x0009
	LOCALONE    Consistency = 0x000A
)

func (b *Buffer) WriteShort(v Short) {
	var sb [2]byte
	binary.BigEndian.PutUint16(sb[:], uint16(v))
	b.Write(sb[:])
}

func (b *Buffer) ReadShort() Short {
	return Short(binary.BigEndian.Uint16(b.readN(2)))
}

func (b *Buffer) WriteInt(v Int) {
	var ib [4]byte
	binary.BigEndian.PutUint32(ib[:], uint32(v))
	b.Write(ib[:])
}

func (b *Buffer) ReadInt() Int {
	return Int(binary.BigEndian.Uint32(b.readN(4)))
}

func (b *Buffer) WriteLong(v Long) {
	var lb [8]byte
	binary.BigEndian.PutUint64(lb[:], uint64(v))
	b.Write(lb[:])
}

func (b *Buffer) ReadLong() Long {
	return Long(binary.BigEndian.Uint64(b.readN(8)))
}

// WriteString writes a CQL [string]: a [short] length followed by UTF-8
// bytes.
func (b *Buffer) WriteString(s string) {
	b.WriteShort(Short(len(s)))
	b.WriteString_(s)
}

func (b *Buffer) WriteString_(s string) {
	b.Write([]byte(s))
}

func (b *Buffer) ReadString() string {
	n := int(b.ReadShort())
	return string(b.readN(n))
}

// WriteLongString writes a CQL [long string]: an [int] length followed by
// UTF-8 bytes. Used for QUERY/PREPARE query text.
func (b *Buffer) WriteLongString(s string) {
	b.WriteInt(Int(len(s)))
	b.Write([]byte(s))
}

func (b *Buffer) ReadLongString() string {
	n := int(b.ReadInt())
	return string(b.readN(n))
}

func (b *Buffer) WriteStringList(l StringList) {
	b.WriteShort(Short(len(l)))
	for _, s := range l {
		b.WriteString(s)
	}
}

func (b *Buffer) ReadStringList() StringList {
	n := int(b.ReadShort())
	l := make(StringList, n)
	for i := range l {
		l[i] = b.ReadString()
	}
	return l
}

// WriteStringMap writes a CQL [string map]: used by STARTUP options.
func (b *Buffer) WriteStringMap(m map[string]string) {
	b.WriteShort(Short(len(m)))
	for k, v := range m {
		b.WriteString(k)
		b.WriteString(v)
	}
}

func (b *Buffer) ReadStringMultiMap() map[string]StringList {
	n := int(b.ReadShort())
	m := make(map[string]StringList, n)
	for i := 0; i < n; i++ {
		k := b.ReadString()
		m[k] = b.ReadStringList()
	}
	return m
}

// WriteBytes writes a CQL [bytes]: an [int] length (-1 for null) followed
// by that many raw bytes.
func (b *Buffer) WriteBytes(v Bytes) {
	if v == nil {
		b.WriteInt(-1)
		return
	}
	b.WriteInt(Int(len(v)))
	b.Write(v)
}

func (b *Buffer) ReadBytes() Bytes {
	n := b.ReadInt()
	if n < 0 {
		return nil
	}
	return Bytes(b.readN(int(n)))
}

func (b *Buffer) WriteShortBytes(v []byte) {
	b.WriteShort(Short(len(v)))
	b.Write(v)
}

func (b *Buffer) ReadShortBytes() []byte {
	n := int(b.ReadShort())
	return b.readN(n)
}

func (b *Buffer) WriteConsistency(c Consistency) {
	b.WriteShort(Short(c))
}

func (b *Buffer) ReadConsistency() Consistency {
	return Consistency(b.ReadShort())
}

func (b *Buffer) WriteUUID(u UUID) {
	b.Write(u[:])
}

func (b *Buffer) ReadUUID() UUID {
	var u UUID
	copy(u[:], b.readN(16))
	return u
}

// String renders a UUID in the canonical 8-4-4-4-12 hex form.
func (u UUID) String() string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", u[0:4], u[4:6], u[6:8], u[8:10], u[10:16])
}

// StartupOptions is the body of a STARTUP request: CQL_VERSION is
// mandatory, COMPRESSION is present only when negotiated.
type StartupOptions map[string]string

// Row is a single result row: one raw [bytes] value per column, passed
// through uninterpreted per the spec's non-goal of CQL value transformation.
type Row []Bytes

// ColumnSpec names one column of a result set without interpreting its
// CQL type beyond the raw type id/name pair the server sent.
type ColumnSpec struct {
	Keyspace string
	Table    string
	Name     string
	TypeID   Short
}

// ResultMetadata describes the columns of a RESULT Rows/Prepared payload.
type ResultMetadata struct {
	Flags       Int
	ColumnCount Int
	PagingState Bytes
	Columns     []ColumnSpec
}
