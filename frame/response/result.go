package response

import "github.com/AnalytiksAI/cql-io/frame"

// ResultKind is the <kind> [int] discriminator of a RESULT frame.
type ResultKind int32

const (
	ResultVoid         ResultKind = 0x0001
	ResultRows         ResultKind = 0x0002
	ResultSetKeyspace  ResultKind = 0x0003
	ResultPrepared     ResultKind = 0x0004
	ResultSchemaChange ResultKind = 0x0005
)

var _ frame.Response = (*Result)(nil)

// Result spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L588
//
// Rows/Columns pass query results through uninterpreted, per spec.md §1's
// non-goal of CQL value type transformation.
type Result struct {
	Kind     ResultKind
	Metadata *frame.ResultMetadata
	Rows     []frame.Row

	// Prepared result fields.
	PreparedID         []byte
	PreparedResultMeta *frame.ResultMetadata

	// SetKeyspace result field.
	Keyspace string
}

func (*Result) OpCode() frame.OpCode { return frame.OpResult }

func ParseResult(buf *frame.Buffer) *Result {
	r := &Result{Kind: ResultKind(buf.ReadInt())}
	switch r.Kind {
	case ResultVoid:
	case ResultSetKeyspace:
		r.Keyspace = buf.ReadString()
	case ResultRows:
		r.Metadata = parseResultMetadata(buf)
		n := int(buf.ReadInt())
		r.Rows = make([]frame.Row, n)
		cols := int(r.Metadata.ColumnCount)
		for i := 0; i < n; i++ {
			row := make(frame.Row, cols)
			for c := 0; c < cols; c++ {
				row[c] = buf.ReadBytes()
			}
			r.Rows[i] = row
		}
	case ResultPrepared:
		r.PreparedID = buf.ReadShortBytes()
		r.PreparedResultMeta = parseResultMetadata(buf)
	case ResultSchemaChange:
		_ = buf.ReadString() // change type
		_ = buf.ReadString() // target
		_ = buf.ReadString() // keyspace
	}
	return r
}

func parseResultMetadata(buf *frame.Buffer) *frame.ResultMetadata {
	m := &frame.ResultMetadata{
		Flags:       buf.ReadInt(),
		ColumnCount: buf.ReadInt(),
	}
	const flagHasMorePages = 0x0002
	const flagNoMetadata = 0x0004
	const flagGlobalTableSpec = 0x0001

	if m.Flags&flagHasMorePages != 0 {
		m.PagingState = buf.ReadBytes()
	}
	if m.Flags&flagNoMetadata != 0 {
		return m
	}

	var globalKeyspace, globalTable string
	if m.Flags&flagGlobalTableSpec != 0 {
		globalKeyspace = buf.ReadString()
		globalTable = buf.ReadString()
	}

	m.Columns = make([]frame.ColumnSpec, m.ColumnCount)
	for i := range m.Columns {
		cs := frame.ColumnSpec{Keyspace: globalKeyspace, Table: globalTable}
		if m.Flags&flagGlobalTableSpec == 0 {
			cs.Keyspace = buf.ReadString()
			cs.Table = buf.ReadString()
		}
		cs.Name = buf.ReadString()
		cs.TypeID = buf.ReadShort()
		m.Columns[i] = cs
	}
	return m
}
