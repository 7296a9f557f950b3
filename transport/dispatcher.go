package transport

import (
	"errors"
	"net"
	"time"

	"github.com/AnalytiksAI/cql-io/frame"
	"github.com/AnalytiksAI/cql-io/frame/request"
	"github.com/AnalytiksAI/cql-io/frame/response"
)

// Dispatcher is the request dispatcher / retry engine of spec.md §4.10: it
// selects a host via the cluster's policy, executes with retries, rewrites
// consistency/timeouts on retry iterations, and drives the prepared-query
// auto re-prepare path.
type Dispatcher struct {
	cluster       *Cluster
	retryPolicy   RetryPolicy
	sendDelta     time.Duration
	recvDelta     time.Duration
	reduced       *frame.Consistency
	prepStrategy  PrepareStrategy
	baseSendTimeo time.Duration
	baseRecvTimeo time.Duration
}

// NewDispatcher builds a dispatcher wired to cluster's policy, prepared
// cache, and pools, per the RetrySettings/PrepareStrategy of the
// ClusterConfig cluster was built from.
func NewDispatcher(cluster *Cluster) *Dispatcher {
	rs := cluster.retrySettings
	return &Dispatcher{
		cluster:       cluster,
		retryPolicy:   rs.RetryPolicy,
		sendDelta:     rs.SendTimeoutChange,
		recvDelta:     rs.RecvTimeoutChange,
		reduced:       rs.ReducedConsistency,
		prepStrategy:  cluster.prepStrategy,
		baseSendTimeo: cluster.connSettings.SendTimeout,
		baseRecvTimeo: cluster.connSettings.ResponseTimeout,
	}
}

// servedResponse pairs a Response with the host that actually served it,
// so callers that need to act against "the same host" (the Unprepared
// auto-recovery path of spec.md §4.10) don't have to pick a fresh one.
type servedResponse struct {
	host Host
	resp *Response
}

// Do runs req to completion per spec.md §4.10 steps 1-3 and 6-7: it hides
// retryable server errors from the caller by retrying, and on exhaustion
// hands back the last RsError wrapped in a Response rather than as a Go
// error.
func (d *Dispatcher) Do(req frame.Request) (*Response, error) {
	served, err := d.do(req)
	if served == nil {
		return nil, err
	}
	return served.resp, err
}

// do is Do plus the serving host, used internally by Execute to target
// re-prepare/retry at the host that actually raised Unprepared.
func (d *Dispatcher) do(req frame.Request) (*servedResponse, error) {
	n := d.cluster.Policy().HostCount()

	var lastServed *servedResponse
	var lastErr error
	for attempt := 0; ; attempt++ {
		iterReq := req
		sendTimeout := d.baseSendTimeo
		responseTimeout := d.baseRecvTimeo
		if attempt >= 1 {
			sendTimeout += d.sendDelta
			responseTimeout += d.recvDelta
			if d.reduced != nil {
				iterReq = rewriteConsistency(req, *d.reduced)
			}
		}

		served, err := d.requestN(n, iterReq, sendTimeout, responseTimeout)
		if err == nil {
			if e, ok := served.resp.AsError(); ok && e.Retryable() {
				lastServed, lastErr = served, e
			} else {
				return served, nil
			}
		} else {
			lastErr = err
		}

		decision, delay := d.retryPolicy.Decide(RetryInfo{Attempt: attempt, Error: lastErr})
		if decision == DontRetry {
			break
		}
		if delay > 0 {
			time.Sleep(delay)
		}
	}

	if lastServed != nil {
		// Server error responses must not escape as exceptions, per
		// spec.md §4.10 point 7.
		return lastServed, nil
	}
	return nil, lastErr
}

// requestN implements spec.md §4.10 point 4: pick a host, try it, and on
// HostsBusy-for-that-host recurse with a smaller budget until exhausted.
func (d *Dispatcher) requestN(n int, req frame.Request, sendTimeout, responseTimeout time.Duration) (*servedResponse, error) {
	if n <= 0 {
		return nil, &HostsBusyError{}
	}
	host, ok := d.cluster.Policy().Select()
	if !ok {
		return nil, &NoHostAvailableError{}
	}
	resp, err := d.request1(host, req, sendTimeout, responseTimeout)
	if err == nil {
		return &servedResponse{host: host, resp: resp}, nil
	}
	if _, busy := err.(*HostsBusyError); busy {
		return d.requestN(n-1, req, sendTimeout, responseTimeout)
	}
	return nil, err
}

// request1 implements spec.md §4.10 point 5.
func (d *Dispatcher) request1(host Host, req frame.Request, sendTimeout, responseTimeout time.Duration) (*Response, error) {
	pool, err := d.cluster.Pool(host.Addr)
	if err != nil {
		return nil, err
	}

	var resp *Response
	err = With(pool, func(conn *Connection) error {
		var rerr error
		resp, rerr = conn.RequestWithTimeouts(req, sendTimeout, responseTimeout)
		return rerr
	})
	if err != nil {
		var netErr net.Error
		switch err.(type) {
		case *ConnectionClosedError, *ConnectTimeoutError, *ResponseTimeoutError:
			d.cluster.OnConnectionError(host.Addr, err)
		default:
			if errors.As(err, &netErr) {
				d.cluster.OnConnectionError(host.Addr, err)
			}
		}
		return nil, err
	}
	return resp, nil
}

func rewriteConsistency(req frame.Request, c frame.Consistency) frame.Request {
	switch r := req.(type) {
	case *request.Query:
		cp := *r
		cp.Params = cp.Params.WithConsistency(c)
		return &cp
	case *request.Execute:
		cp := *r
		cp.Params = cp.Params.WithConsistency(c)
		return &cp
	case *request.Batch:
		cp := *r
		cp.Consistency = c
		return &cp
	default:
		return req
	}
}

// Execute runs the prepared-query path of spec.md §4.10: look up the
// QueryId for text, preparing it first if missing, then run an Execute.
// On Unprepared(id), the cached text is re-prepared against the same
// host that raised the error and the original Execute retried there.
func (d *Dispatcher) Execute(text string, params request.QueryParams) (*Response, error) {
	id, ok := d.cluster.Prepared().Lookup(text)
	if !ok {
		var err error
		id, err = d.prepare(text)
		if err != nil {
			return nil, err
		}
	}

	served, err := d.do(&request.Execute{ID: id, Params: params})
	if err != nil {
		return nil, err
	}
	if e, ok := served.resp.AsError(); ok && e.ErrorCode == response.ErrUnprepared {
		cachedText, known := d.cluster.Prepared().LookupByID(e.UnpreparedID)
		if !known {
			cachedText = text
		}
		host := served.host
		newID, perr := d.prepareOn(host, cachedText)
		if perr != nil {
			return nil, perr
		}
		return d.request1(host, &request.Execute{ID: newID, Params: params}, d.baseSendTimeo, d.baseRecvTimeo)
	}
	return served.resp, nil
}

// prepare runs PREPARE per the configured PrepareStrategy and stores the
// result, spec.md §4.10 "PrepareStrategy ∈ {LazyPrepare, EagerPrepare}".
func (d *Dispatcher) prepare(text string) ([]byte, error) {
	if d.prepStrategy == EagerPrepare {
		return d.prepareEager(text)
	}
	host, ok := d.cluster.Policy().Select()
	if !ok {
		return nil, &NoHostAvailableError{}
	}
	return d.prepareOn(host, text)
}

// prepareEager issues PREPARE on every currently-selectable host and
// returns the first success; if none succeeds, NoHostAvailable, per
// spec.md §4.10 verbatim (a real per-host prepare error is not surfaced
// in place of NoHostAvailable, matching the spec's literal wording).
func (d *Dispatcher) prepareEager(text string) ([]byte, error) {
	hosts := d.cluster.Policy().Current()
	for _, h := range hosts {
		id, err := d.prepareOn(h, text)
		if err == nil {
			return id, nil
		}
	}
	return nil, &NoHostAvailableError{}
}

func (d *Dispatcher) prepareOn(host Host, text string) ([]byte, error) {
	resp, err := d.request1(host, &request.Prepare{Query: text}, d.baseSendTimeo, d.baseRecvTimeo)
	if err != nil {
		return nil, err
	}
	res, ok := resp.Body.(*response.Result)
	if !ok || res.Kind != response.ResultPrepared {
		if e, ok := resp.AsError(); ok {
			return nil, e
		}
		return nil, &UnexpectedResponseError{Host: host.Addr.String(), Response: resp.Body}
	}
	if err := d.cluster.Prepared().Insert(text, res.PreparedID); err != nil {
		return nil, err
	}
	return res.PreparedID, nil
}
