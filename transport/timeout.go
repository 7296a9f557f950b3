package transport

import (
	"container/heap"
	"sync"
	"time"
)

// TimeoutManager is a shared "wheel" allowing many cheap per-operation
// deadlines (spec.md §2), used for the response timeout a Connection
// sets up per request instead of spinning up an independent OS timer for
// each one (the send timeout is a socket write deadline). A single goroutine services a min-heap of
// pending deadlines; Cancel is lazy (tombstone a ticket id) so it never
// has to search the heap.
type TimeoutManager struct {
	mu      sync.Mutex
	entries timeoutHeap
	live    map[uint64]bool
	nextID  uint64
	wake    chan struct{}
	done    chan struct{}
}

type timeoutEntry struct {
	id       uint64
	deadline time.Time
	fn       func()
}

type timeoutHeap []timeoutEntry

func (h timeoutHeap) Len() int            { return len(h) }
func (h timeoutHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timeoutHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timeoutHeap) Push(x interface{}) { *h = append(*h, x.(timeoutEntry)) }
func (h *timeoutHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// NewTimeoutManager starts the background loop and returns a manager ready
// for use. Destroy must be called to stop the loop.
func NewTimeoutManager() *TimeoutManager {
	m := &TimeoutManager{
		live: make(map[uint64]bool),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go m.loop()
	return m
}

// Ticket identifies a scheduled timeout so it can be cancelled.
type Ticket uint64

// After schedules fn to run after d elapses, returning a Ticket usable
// with Cancel. fn runs on the manager's own goroutine and must not block.
func (m *TimeoutManager) After(d time.Duration, fn func()) Ticket {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.live[id] = true
	heap.Push(&m.entries, timeoutEntry{id: id, deadline: time.Now().Add(d), fn: fn})
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return Ticket(id)
}

// Cancel prevents a scheduled timeout from firing if it hasn't already.
func (m *TimeoutManager) Cancel(t Ticket) {
	m.mu.Lock()
	delete(m.live, uint64(t))
	m.mu.Unlock()
}

func (m *TimeoutManager) loop() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		m.mu.Lock()
		var wait time.Duration
		if m.entries.Len() == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(m.entries[0].deadline)
		}
		m.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)

		select {
		case <-m.done:
			return
		case <-timer.C:
			m.fireDue()
		case <-m.wake:
		}
	}
}

func (m *TimeoutManager) fireDue() {
	now := time.Now()
	var due []timeoutEntry

	m.mu.Lock()
	for m.entries.Len() > 0 && !m.entries[0].deadline.After(now) {
		e := heap.Pop(&m.entries).(timeoutEntry)
		if m.live[e.id] {
			delete(m.live, e.id)
			due = append(due, e)
		}
	}
	m.mu.Unlock()

	for _, e := range due {
		e.fn()
	}
}

// Destroy stops the background loop. Scheduled timeouts that haven't
// fired never will; callers that need cleanup guarantees should Cancel
// everything they own before calling Destroy.
func (m *TimeoutManager) Destroy() {
	close(m.done)
}
