package cursor

import (
	"fmt"

	"github.com/anfivewer/diffbelt-sub000/internal/engine"
)

// DiffAddData is what "add" needs to open a brand new diff cursor: the
// already mode-selected starting state (spec.md §4.4 fixes mode and to_GID
// once, at first-call time; the database layer runs SelectDiffMode and, for
// in-memory mode, CollectChangedKeys before calling Add).
type DiffAddData struct {
	State *engine.DiffState
}

// DiffAdapter implements Adapter[*engine.DiffState]. engine.DiffState is
// already exactly the resumable state spec.md §4.4 describes, so this
// adapter is mostly plumbing: it never re-derives mode or to_GID, matching
// §4.4's "resumption reuses to_GID unconditionally."
type DiffAdapter struct{}

var _ Adapter[*engine.DiffState] = DiffAdapter{}

func (DiffAdapter) Bounds(d *engine.DiffState) (from, to []byte) {
	return d.FromGID, d.ToGID
}

func (DiffAdapter) FromAddData(add any) (*engine.DiffState, error) {
	a, ok := add.(DiffAddData)
	if !ok {
		return nil, fmt.Errorf("cursor: diff adapter got %T, want DiffAddData", add)
	}
	return a.State, nil
}

// FromContinuation installs continuation as the new next-slot state
// outright, ignoring prev. engine.DiffPack mutates its *engine.DiffState
// argument in place, so the caller (the database layer's read-cursor
// handler) always runs a pack against its own engine.CloneDiffState of
// whatever Lookup returned, never against the stored pointer directly, and
// passes that already-advanced clone in as continuation here. That keeps
// prev (the registry's existing next-slot data) untouched, so it can
// become the new current slot's frozen snapshot without risk of a later
// pack call against the new next slot silently mutating it out from under
// a replay.
func (DiffAdapter) FromContinuation(prev *engine.DiffState, continuation any) (*engine.DiffState, error) {
	state, ok := continuation.(*engine.DiffState)
	if !ok {
		return nil, fmt.Errorf("cursor: diff adapter got %T, want *engine.DiffState", continuation)
	}
	return state, nil
}
