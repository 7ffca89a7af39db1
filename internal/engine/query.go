package engine

import (
	"github.com/anfivewer/diffbelt-sub000/internal/store"
)

// QueryContinuation is the state needed to resume a query pack scan. Per
// spec.md §4.3.1, it carries both the RK of the last emitted item and the
// RK at which the underlying iterator was left positioned — the driver
// has already peeked one record ahead of what it emitted.
type QueryContinuation struct {
	LastEmittedRK      []byte
	IteratorPositionRK []byte
}

// QueryPackResult is one page of a query cursor.
type QueryPackResult struct {
	Items        []QueryItem
	Continuation *QueryContinuation
}

// QueryPack runs the forward driver starting at startRK (nil means "from
// the beginning") and collects up to packLimit items or
// recordsToViewLimit raw records, whichever comes first (spec.md §4.3.1).
func QueryPack(txn *store.Txn, collection string, g, p []byte, startRK []byte, packLimit, recordsToViewLimit int) (QueryPackResult, error) {
	it := txn.NewIterator(collection, store.CFDefault, store.IteratorOptions{
		Direction: store.Forward,
		SeekKey:   startRK,
	})
	defer it.Close()

	var result QueryPackResult
	stoppedForPackLimit := false

	_, hitViewLimit, resumeFromRK := ScanDriver(it, store.Forward, g, p, recordsToViewLimit, func(r ScanResult) bool {
		if r.Tombstone {
			return true
		}
		result.Items = append(result.Items, QueryItem{CK: r.CK, Value: r.Value})
		rk, _ := encodeRK(r.CK, r.GID, r.PID)
		result.Continuation = &QueryContinuation{LastEmittedRK: rk}
		if len(result.Items) >= packLimit {
			stoppedForPackLimit = true
			return false
		}
		return true
	})

	switch {
	case stoppedForPackLimit && it.Valid():
		// The driver is still positioned at the unconsumed trigger record
		// (it hasn't advanced past it); that is exactly the resume point.
		pos := make([]byte, len(it.Key()))
		copy(pos, it.Key())
		result.Continuation.IteratorPositionRK = pos
	case hitViewLimit:
		if result.Continuation == nil {
			result.Continuation = &QueryContinuation{}
		}
		result.Continuation.IteratorPositionRK = resumeFromRK
	default:
		// Exhausted: the query is finished, no continuation.
		result.Continuation = nil
	}

	return result, nil
}
