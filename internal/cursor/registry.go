// Package cursor implements the public cursor registry (spec.md §4.5):
// per-collection, capacity-bounded maps from a randomly generated public id
// to the resumable continuation state of a query or diff pack scan.
//
// Query and diff cursors carry different continuation payloads but share
// every bookkeeping rule (LRU eviction, the next/current/final slot
// lifecycle, idempotent replay of the same public id). Per spec.md §9's
// "dynamic dispatch across cursor kinds" note, that shared algorithm is
// written once as Registry[D] and parameterized over an Adapter[D]
// supplying the handful of operations specific to one cursor kind.
package cursor

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/anfivewer/diffbelt-sub000/internal/errs"
	"github.com/anfivewer/diffbelt-sub000/internal/telemetry"
)

// Adapter supplies the operations the registry needs to stay agnostic of
// what a cursor's Data actually contains.
type Adapter[D any] interface {
	// Bounds reports the (from, to) generation ids a cursor is scoped to,
	// used to build the "empty-with-generation-bounds marker" lookup
	// returns when a public id names a cursor that has no data of its own
	// (the synthetic final slot).
	Bounds(d D) (from, to []byte)

	// FromAddData builds the first Data of a brand new cursor from the
	// kind-specific parameters the caller supplied to "add".
	FromAddData(add any) (D, error)

	// FromContinuation builds the Data that replaces the current "next"
	// slot, given the previous Data and a continuation value taken from
	// that Data's own pack result.
	FromContinuation(prev D, continuation any) (D, error)
}

// Entry is what Lookup and a successful Continuation return: either live
// cursor Data to resume from, or a finished marker carrying only the
// cursor's generation bounds.
type Entry[D any] struct {
	Data     D
	Finished bool
	FromGID  []byte
	ToGID    []byte
}

type slot[D any] struct {
	data     D
	publicID uint64
}

// inner is the up-to-three-slot state spec.md §4.5 describes for one
// logical cursor: the position a caller would read next, the position it
// last read, and (once exhausted) a synthetic terminal id.
type inner[D any] struct {
	next    *slot[D]
	current *slot[D]
	finalID uint64
	fromGID []byte
	toGID   []byte
}

// Registry is the per-collection-kind LRU cursor table. One Registry
// instance serves exactly one cursor kind (query or diff); the database
// layer owns one of each per collection's worth of work, indexed by
// collection name.
type Registry[D any] struct {
	adapter  Adapter[D]
	capacity int

	mu        sync.Mutex
	byInnerID *lru.Cache[uint64, *inner[D]]
	byPublic  map[uint64]uint64 // public id -> inner id
}

// NewRegistry builds a registry with room for capacity inner cursors
// (spec.md §4.5's max_cursors_per_collection, default 16). Eviction is
// silent: the oldest inner cursor is dropped and every public id pointing
// into it starts returning NoSuchCursor.
func NewRegistry[D any](adapter Adapter[D], capacity int) *Registry[D] {
	r := &Registry[D]{
		adapter:  adapter,
		capacity: capacity,
		byPublic: make(map[uint64]uint64),
	}
	cache, err := lru.NewWithEvict(capacity, func(innerID uint64, in *inner[D]) {
		r.forgetSlots(in)
	})
	if err != nil {
		// Only returns an error for a non-positive size; capacity is always
		// a positive configured constant.
		panic(fmt.Sprintf("cursor: invalid registry capacity %d: %v", capacity, err))
	}
	r.byInnerID = cache
	return r
}

// forgetSlots removes an evicted inner cursor's public ids from the
// reverse index. Called with r.mu already held (lru's evict callback runs
// synchronously inside the Add call that triggered eviction).
func (r *Registry[D]) forgetSlots(in *inner[D]) {
	if in.next != nil {
		delete(r.byPublic, in.next.publicID)
	}
	if in.current != nil {
		delete(r.byPublic, in.current.publicID)
	}
	if in.finalID != 0 {
		delete(r.byPublic, in.finalID)
	}
	telemetry.Engine.CursorsOpen.Add(context.Background(), -1)
}

// Add creates a new inner cursor from add-data and returns its first
// public id together with the Data the caller should run its first pack
// against.
func (r *Registry[D]) Add(add any) (uint64, D, error) {
	var zero D
	data, err := r.adapter.FromAddData(add)
	if err != nil {
		return 0, zero, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	innerID, err := newPublicID()
	if err != nil {
		return 0, zero, err
	}
	publicID, err := newPublicID()
	if err != nil {
		return 0, zero, err
	}
	from, to := r.adapter.Bounds(data)
	in := &inner[D]{
		next:    &slot[D]{data: data, publicID: publicID},
		fromGID: from,
		toGID:   to,
	}
	r.byInnerID.Add(innerID, in)
	r.byPublic[publicID] = innerID
	telemetry.Engine.CursorsOpen.Add(context.Background(), 1)
	return publicID, data, nil
}

// Lookup resolves a public id to its cursor slot. It refreshes the inner
// cursor's LRU recency, matching "reading a cursor keeps it alive."
func (r *Registry[D]) Lookup(publicID uint64) (Entry[D], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	in, ok := r.findLocked(publicID)
	if !ok {
		return Entry[D]{}, errs.ErrNoSuchCursor
	}

	switch {
	case in.next != nil && in.next.publicID == publicID:
		return Entry[D]{Data: in.next.data, FromGID: in.fromGID, ToGID: in.toGID}, nil
	case in.current != nil && in.current.publicID == publicID:
		return Entry[D]{Data: in.current.data, FromGID: in.fromGID, ToGID: in.toGID}, nil
	case in.finalID == publicID:
		return Entry[D]{Finished: true, FromGID: in.fromGID, ToGID: in.toGID}, nil
	default:
		// The public id maps to this inner cursor in byPublic but no slot
		// still claims it: it was superseded by a later continuation and
		// the reverse index entry is stale bookkeeping that abort/continue
		// should have cleaned up. Treat as not found.
		return Entry[D]{}, errs.ErrNoSuchCursor
	}
}

// NextID reports the public id that currently names the live next slot of
// the inner cursor publicID belongs to, without mutating any state. Used
// when a caller resolves publicID to the current (already-consumed) slot
// and needs to report the same next id a prior call already minted, rather
// than erroring or minting a second one for the same position.
func (r *Registry[D]) NextID(publicID uint64) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	in, ok := r.findLocked(publicID)
	if !ok || in.next == nil {
		return 0, false
	}
	return in.next.publicID, true
}

func (r *Registry[D]) findLocked(publicID uint64) (*inner[D], bool) {
	innerID, ok := r.byPublic[publicID]
	if !ok {
		return nil, false
	}
	return r.byInnerID.Get(innerID)
}

// Continuation replaces an inner cursor's next slot with continuation
// data, shifting the old next into current, and returns a fresh public id
// for the new next. publicID must currently name the next slot (spec.md
// §4.5's "continuation" op); any other id, including one naming the
// current or final slot, gets ErrNoSuchCursor. The query and diff callers
// treat that error as a possible replay and fall back to NextID.
func (r *Registry[D]) Continuation(publicID uint64, continuation any) (uint64, D, error) {
	var zero D

	r.mu.Lock()
	defer r.mu.Unlock()

	in, ok := r.findLocked(publicID)
	if !ok || in.next == nil || in.next.publicID != publicID {
		return 0, zero, errs.ErrNoSuchCursor
	}

	data, err := r.adapter.FromContinuation(in.next.data, continuation)
	if err != nil {
		return 0, zero, err
	}

	newPublic, err := newPublicID()
	if err != nil {
		return 0, zero, err
	}

	delete(r.byPublic, in.current.publicIDOrZero())
	in.current = in.next
	in.next = &slot[D]{data: data, publicID: newPublic}
	from, to := r.adapter.Bounds(data)
	in.fromGID, in.toGID = from, to

	r.byPublic[newPublic] = r.byPublic[publicID]
	return newPublic, data, nil
}

func (s *slot[D]) publicIDOrZero() uint64 {
	if s == nil {
		return 0
	}
	return s.publicID
}

// Finish moves the current next slot to exhausted: next becomes nil and
// the id that named it becomes the synthetic final id, so a caller can
// tell "not found" apart from "this cursor finished" (spec.md §4.5).
// Reusing publicID itself as the final id (rather than minting a new one)
// is what makes retrying Finish with the same public id idempotent: the
// second call finds next already nil and finalID already == publicID,
// and simply returns the same answer.
func (r *Registry[D]) Finish(publicID uint64) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	in, ok := r.findLocked(publicID)
	if !ok {
		return 0, errs.ErrNoSuchCursor
	}
	if in.finalID == publicID {
		return in.finalID, nil
	}
	if in.next == nil || in.next.publicID != publicID {
		return 0, errs.ErrNoSuchCursor
	}

	in.next = nil
	in.finalID = publicID
	return in.finalID, nil
}

// FullyFinish forgets the current slot once a client has acknowledged the
// stream's end, per spec.md §4.5.
func (r *Registry[D]) FullyFinish(publicID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	in, ok := r.findLocked(publicID)
	if !ok {
		return errs.ErrNoSuchCursor
	}
	if in.current != nil && in.current.publicID == publicID {
		delete(r.byPublic, in.current.publicID)
		in.current = nil
		return nil
	}
	if in.finalID == publicID && in.next == nil && in.current == nil {
		delete(r.byPublic, in.finalID)
		in.finalID = 0
		return nil
	}
	return errs.ErrNotYetFinished
}

// Abort deletes every slot of the inner cursor publicID belongs to.
func (r *Registry[D]) Abort(publicID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	innerID, ok := r.byPublic[publicID]
	if !ok {
		return errs.ErrNoSuchCursor
	}
	r.byInnerID.Remove(innerID) // triggers forgetSlots via the evict callback
	return nil
}

// Len reports how many inner cursors are currently live, for tests and
// diagnostics.
func (r *Registry[D]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byInnerID.Len()
}
