package transport

import "sync"

type ticketResult struct {
	id  int
	err error
}

// TicketPool is a bounded multiset of free ids in [0..n-1], per spec.md
// §4.2. It backs Connection's stream-id allocation: Get blocks until an id
// is available or the pool is closed, MarkAvailable returns an id to the
// free set, and Close fails all current and future Get callers.
//
// Waiters are served FIFO so no id is starved indefinitely under steady
// demand, satisfying the fairness requirement of spec.md §4.2.
type TicketPool struct {
	mu      sync.Mutex
	free    []int
	waiters []chan ticketResult
	closed  bool
	err     error
}

// NewTicketPool creates a pool pre-filled with ids 0..n-1.
func NewTicketPool(n int) *TicketPool {
	free := make([]int, n)
	for i := range free {
		free[i] = i
	}
	return &TicketPool{free: free}
}

// Get blocks until an id is available, returning it, or until the pool is
// closed, returning the close error.
func (p *TicketPool) Get() (int, error) {
	p.mu.Lock()
	if p.closed {
		err := p.err
		p.mu.Unlock()
		return 0, err
	}
	if n := len(p.free); n > 0 {
		id := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return id, nil
	}

	ch := make(chan ticketResult, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	r := <-ch
	return r.id, r.err
}

// MarkAvailable returns id to the free set, waking the longest-waiting
// Get caller if one is blocked. It is a no-op once the pool is closed.
func (p *TicketPool) MarkAvailable(id int) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if len(p.waiters) > 0 {
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		ch <- ticketResult{id: id}
		return
	}
	p.free = append(p.free, id)
	p.mu.Unlock()
}

// Close fails every current and future Get caller with err. Subsequent
// calls are no-ops.
func (p *TicketPool) Close(err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.err = err
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, ch := range waiters {
		ch <- ticketResult{err: err}
	}
}

// Len reports the number of currently free ids, used by tests to assert
// conservation (spec.md §8).
func (p *TicketPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
