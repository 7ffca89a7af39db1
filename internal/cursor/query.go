package cursor

import (
	"fmt"

	"github.com/anfivewer/diffbelt-sub000/internal/engine"
)

// QueryCursorData is the resumable state of a query cursor's next pack
// call: the (GID, PID) snapshot it was opened against and the record key
// to resume the forward scan from (nil means "from the beginning").
type QueryCursorData struct {
	GID    []byte
	PID    []byte
	Resume []byte
	Done   bool
}

// QueryAddData is what "add" needs to open a brand new query cursor
// (spec.md §6's query op).
type QueryAddData struct {
	GID []byte
	PID []byte
}

// QueryAdapter implements Adapter[QueryCursorData] so Registry[QueryCursorData]
// can serve query cursors without knowing anything query-specific beyond
// this handful of methods.
type QueryAdapter struct{}

var _ Adapter[QueryCursorData] = QueryAdapter{}

func (QueryAdapter) Bounds(d QueryCursorData) (from, to []byte) {
	return nil, d.GID
}

func (QueryAdapter) FromAddData(add any) (QueryCursorData, error) {
	a, ok := add.(QueryAddData)
	if !ok {
		return QueryCursorData{}, fmt.Errorf("cursor: query adapter got %T, want QueryAddData", add)
	}
	return QueryCursorData{GID: a.GID, PID: a.PID}, nil
}

// FromContinuation advances a query cursor's resume point from the
// continuation engine.QueryPack returned. A nil continuation means the
// driver ran to exhaustion; the resulting Data is marked Done so the next
// pack call (if any) returns immediately empty.
func (QueryAdapter) FromContinuation(prev QueryCursorData, continuation any) (QueryCursorData, error) {
	cont, ok := continuation.(*engine.QueryContinuation)
	if !ok && continuation != nil {
		return QueryCursorData{}, fmt.Errorf("cursor: query adapter got %T, want *engine.QueryContinuation", continuation)
	}
	next := prev
	if cont == nil {
		next.Done = true
		next.Resume = nil
		return next, nil
	}
	next.Resume = cont.IteratorPositionRK
	return next, nil
}
