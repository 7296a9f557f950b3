package request

import "github.com/AnalytiksAI/cql-io/frame"

// query parameter flags, spec: native_protocol_v4.spec QUERY/EXECUTE <flags>
const (
	flagValues            = 0x01
	flagSkipMetadata      = 0x02
	flagPageSize          = 0x04
	flagPagingState       = 0x08
	flagSerialConsistency = 0x10
	flagDefaultTimestamp  = 0x20
	flagNamesForValues    = 0x40
)

// QueryParams is the shared <query_parameters> structure of QUERY and
// EXECUTE, including the fields the dispatcher rewrites on retry
// (Consistency) per spec.md §4.10 point 3.
type QueryParams struct {
	Consistency          frame.Consistency
	Values               []frame.Value
	PageSize             int32
	PagingState          frame.Bytes
	SerialConsistency    frame.Consistency
	HasSerialConsistency bool
	Timestamp            int64
	HasTimestamp         bool
}

func (p QueryParams) WriteTo(buf *frame.Buffer) {
	buf.WriteConsistency(p.Consistency)

	var flags byte
	if len(p.Values) > 0 {
		flags |= flagValues
	}
	if p.PageSize > 0 {
		flags |= flagPageSize
	}
	if p.PagingState != nil {
		flags |= flagPagingState
	}
	if p.HasSerialConsistency {
		flags |= flagSerialConsistency
	}
	if p.HasTimestamp {
		flags |= flagDefaultTimestamp
	}
	buf.WriteByte(flags)

	if len(p.Values) > 0 {
		buf.WriteShort(frame.Short(len(p.Values)))
		for _, v := range p.Values {
			buf.WriteBytes(v.Bytes)
		}
	}
	if p.PageSize > 0 {
		buf.WriteInt(frame.Int(p.PageSize))
	}
	if p.PagingState != nil {
		buf.WriteBytes(p.PagingState)
	}
	if p.HasSerialConsistency {
		buf.WriteConsistency(p.SerialConsistency)
	}
	if p.HasTimestamp {
		buf.WriteLong(frame.Long(p.Timestamp))
	}
}

// WithConsistency returns a copy of p with Consistency replaced, used by
// the retry engine to apply reducedConsistency on a retried attempt
// without mutating the original request.
func (p QueryParams) WithConsistency(c frame.Consistency) QueryParams {
	p.Consistency = c
	return p
}
