package transport

import (
	"hash/fnv"
	"sync"
)

// PrepQuery is the logical prepared-query key derived from query text,
// per spec.md §4.6. It is a hash rather than the raw text so the forward
// index stays compact; the reverse index (by QueryId) still holds the
// full text for re-prepare.
type PrepQuery uint64

// NewPrepQuery derives the logical key for a query string.
func NewPrepQuery(text string) PrepQuery {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return PrepQuery(h.Sum64())
}

type preparedEntry struct {
	text string
	id   string
}

// PreparedQueries is a bi-directional mapping between a PrepQuery key and
// a server-side QueryId, and between a QueryId and its originating query
// text, per spec.md §3/§4.6. Insert/Lookup execute under a single mutex so
// they observe a consistent view; a hash collision between two distinct
// query texts mapping to the same PrepQuery is a fatal HashCollisionError.
type PreparedQueries struct {
	mu      sync.Mutex
	byQuery map[PrepQuery]preparedEntry
	byID    map[string]string
}

func NewPreparedQueries() *PreparedQueries {
	return &PreparedQueries{
		byQuery: make(map[PrepQuery]preparedEntry),
		byID:    make(map[string]string),
	}
}

// Insert records that text prepares to id, detecting a hash collision
// against a previously inserted, different query text at the same key.
func (p *PreparedQueries) Insert(text string, id []byte) error {
	key := NewPrepQuery(text)
	idStr := string(id)

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.byQuery[key]; ok && existing.text != text {
		return &HashCollisionError{Key: text}
	}
	p.byQuery[key] = preparedEntry{text: text, id: idStr}
	p.byID[idStr] = text
	return nil
}

// Lookup returns the QueryId previously prepared for text, if any.
func (p *PreparedQueries) Lookup(text string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byQuery[NewPrepQuery(text)]
	if !ok {
		return nil, false
	}
	return []byte(e.id), true
}

// LookupByID returns the original query text for a server-assigned
// QueryId, consulted on Unprepared(id) errors per spec.md §4.6.
func (p *PreparedQueries) LookupByID(id []byte) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	text, ok := p.byID[string(id)]
	return text, ok
}

// Texts snapshots every query text currently cached, consulted when a
// newly up host needs every prepared statement re-prepared against it.
func (p *PreparedQueries) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.byQuery))
	for _, e := range p.byQuery {
		out = append(out, e.text)
	}
	return out
}
