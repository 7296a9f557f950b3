package transport

import "sync"

// SyncSlot is a single-shot rendezvous cell in one of the states {empty,
// filled(value), closed(error)}, per spec.md §4.3. It is the building
// block for a Connection's per-stream response slots (§4.1): a requester
// calls Get and blocks until the reader task calls Put, or until a
// timeout/cancellation calls Kill/Close.
//
// Once the slot transitions out of empty it never transitions again: a
// second Put/Close/Kill is a no-op (Put reports failure; Close/Kill are
// idempotent), matching spec.md §8's Sync slot monotonicity invariant.
type SyncSlot[T any] struct {
	mu   sync.Mutex
	done bool
	val  T
	err  error
	wait chan struct{}
}

// NewSyncSlot creates an empty slot.
func NewSyncSlot[T any]() *SyncSlot[T] {
	return &SyncSlot[T]{wait: make(chan struct{})}
}

// Put fills the slot with v. It returns true if this call transitioned the
// slot out of empty, false if the slot was already filled or closed.
func (s *SyncSlot[T]) Put(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	s.done = true
	s.val = v
	close(s.wait)
	return true
}

// Close fails the slot with err. Pending and future Get calls observe err.
// A slot that is already done is left unchanged, per the monotonicity
// invariant: once closed, the slot never transitions again.
func (s *SyncSlot[T]) Close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.err = err
	close(s.wait)
}

// Kill aborts the current waiter with err, releasing it the same way Close
// does. It exists as a distinct name because the caller's intent differs
// (spec.md §5: a response timeout kills the slot to release the waiter,
// while Close is used during connection shutdown), but the mechanics are
// identical: single-shot, and a no-op once the slot is already done.
func (s *SyncSlot[T]) Kill(err error) {
	s.Close(err)
}

// Get blocks until Put or Close/Kill transitions the slot, then returns
// the filled value or the recorded error.
func (s *SyncSlot[T]) Get() (T, error) {
	<-s.wait
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.val, s.err
}

// GetChan exposes the completion channel for callers that need to select
// on it alongside a timer or context instead of blocking on Get.
func (s *SyncSlot[T]) GetChan() <-chan struct{} {
	return s.wait
}

// Result returns the slot's value and error without blocking; callers
// must only call it after receiving from GetChan.
func (s *SyncSlot[T]) Result() (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.val, s.err
}
