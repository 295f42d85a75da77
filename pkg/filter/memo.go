package filter

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/willibrandon/ChronoState/pkg/recorder"
)

type memoKind uint8

const (
	memoBody memoKind = iota
	memoConstraint
	memoContact
)

type memoKey struct {
	kind memoKind
	a, b uint32
}

// Memo caches the decisions of another filter per object, so a predicate
// whose inputs drift keeps giving the answer it gave first. Decisions are
// only pinned while they stay in the cache; size it above the number of
// objects a pass visits.
type Memo struct {
	next  recorder.Filter
	cache *lru.Cache
}

// Memoize wraps f with an LRU decision cache holding up to size entries.
func Memoize(f recorder.Filter, size int) (*Memo, error) {
	if f == nil {
		f = recorder.AllowAll{}
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("filter: decision cache: %w", err)
	}
	return &Memo{next: f, cache: cache}, nil
}

func (m *Memo) lookup(key memoKey, decide func() bool) bool {
	if v, ok := m.cache.Get(key); ok {
		return v.(bool)
	}
	d := decide()
	m.cache.Add(key, d)
	return d
}

// ShouldSaveBody implements recorder.Filter.
func (m *Memo) ShouldSaveBody(body recorder.Body) bool {
	return m.lookup(memoKey{memoBody, uint32(body.ID()), 0}, func() bool {
		return m.next.ShouldSaveBody(body)
	})
}

// ShouldSaveConstraint implements recorder.Filter.
func (m *Memo) ShouldSaveConstraint(constraint recorder.Constraint) bool {
	return m.lookup(memoKey{memoConstraint, constraint.ID(), 0}, func() bool {
		return m.next.ShouldSaveConstraint(constraint)
	})
}

// ShouldSaveContact implements recorder.Filter.
func (m *Memo) ShouldSaveContact(body1, body2 recorder.BodyID) bool {
	return m.lookup(memoKey{memoContact, uint32(body1), uint32(body2)}, func() bool {
		return m.next.ShouldSaveContact(body1, body2)
	})
}

// Len returns the number of cached decisions.
func (m *Memo) Len() int {
	return m.cache.Len()
}

// Purge forgets every cached decision. Call it between sessions.
func (m *Memo) Purge() {
	m.cache.Purge()
}
