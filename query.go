package cqlio

import (
	"github.com/AnalytiksAI/cql-io/frame"
	"github.com/AnalytiksAI/cql-io/frame/request"
	"github.com/AnalytiksAI/cql-io/frame/response"
	"github.com/AnalytiksAI/cql-io/transport"
)

// Query is a single statement awaiting execution, built by
// Session.Query/Session.Prepare and consumed by Exec/Iter.
type Query struct {
	session  *Session
	content  string
	params   request.QueryParams
	prepared bool
}

// ResetBindings clears previously bound values so the Query can be reused
// for another row without reallocating, the way a prepared statement is
// reused across a tight benchmark loop.
func (q *Query) ResetBindings() *Query {
	q.params.Values = q.params.Values[:0]
	return q
}

// Bind appends v as the next positional bind marker value. Values are
// pre-serialized to the CQL wire encoding by the caller; cqlio does not
// ship a type marshaller, per spec.md's scope (the wire layer, not a
// row-mapping ORM).
func (q *Query) Bind(v frame.Value) *Query {
	q.params.Values = append(q.params.Values, v)
	return q
}

// PageSize sets the requested page size for a subsequent Iter.
func (q *Query) PageSize(n int32) *Query {
	q.params.PageSize = n
	return q
}

// SerialConsistency sets the serial consistency used for conditional
// updates.
func (q *Query) SerialConsistency(c Consistency) *Query {
	q.params.SerialConsistency = c
	q.params.HasSerialConsistency = true
	return q
}

// Consistency overrides the session's default consistency for this query.
func (q *Query) Consistency(c Consistency) *Query {
	q.params.Consistency = c
	return q
}

// Result is the parsed RESULT frame of an Exec, re-exporting the fields a
// caller needs to walk rows and continue paging.
type Result struct {
	Rows        []frame.Row
	Metadata    *frame.ResultMetadata
	PagingState frame.Bytes
}

// Exec runs the statement to completion through the dispatcher's retry
// engine, per spec.md §4.10. Prepared statements go through the
// prepared-query path (auto re-prepare on Unprepared); plain statements go
// through the generic Do path.
func (q *Query) Exec() (Result, error) {
	var resp *transport.Response
	var err error

	if q.prepared {
		resp, err = q.session.dispatcher.Execute(q.content, q.params)
	} else {
		resp, err = q.session.dispatcher.Do(&request.Query{Content: q.content, Params: q.params})
	}
	if err != nil {
		return Result{}, err
	}
	if e, ok := resp.AsError(); ok {
		return Result{}, e
	}

	res, ok := resp.Body.(*response.Result)
	if !ok {
		return Result{}, &transport.UnexpectedResponseError{Response: resp.Body}
	}
	return Result{Rows: res.Rows, Metadata: res.Metadata, PagingState: pagingStateOf(res)}, nil
}

func pagingStateOf(res *response.Result) frame.Bytes {
	if res.Metadata != nil {
		return res.Metadata.PagingState
	}
	return nil
}

// Iter runs the statement once per call, advancing the paging state each
// time, until the server reports no further pages. It is a synchronous
// convenience wrapper around repeated Exec calls; it does not prefetch the
// next page in the background the way the teacher's channel-driven
// iterWorker does, since the dispatcher's connections are already
// multiplexed per host and prefetching would just burn a stream for no
// latency win on a single-threaded consumer.
type Iter struct {
	query *Query
	state frame.Bytes
	done  bool
	err   error
}

// Iter begins a paging iteration over the statement.
func (q *Query) Iter() *Iter {
	return &Iter{query: q}
}

// Next runs the next page request and returns its rows, or (nil, nil) once
// paging is exhausted.
func (it *Iter) Next() ([]frame.Row, error) {
	if it.done {
		return nil, it.err
	}
	it.query.params.PagingState = it.state

	res, err := it.query.Exec()
	if err != nil {
		it.done = true
		it.err = err
		return nil, err
	}
	if len(res.PagingState) == 0 {
		it.done = true
	}
	it.state = res.PagingState
	return res.Rows, nil
}

// Err returns the error, if any, that stopped iteration.
func (it *Iter) Err() error { return it.err }
