package engine

import (
	"github.com/anfivewer/diffbelt-sub000/internal/keycodec"
	"github.com/anfivewer/diffbelt-sub000/internal/store"
)

// GetResult is the outcome of a point get (spec.md §4.3).
type GetResult struct {
	// Found is true only when a non-tombstone value exists for CK at GID.
	Found bool
	Value []byte
	// FoundAtGID is the GID at which the best-fit version was discovered,
	// set even for a tombstone so callers can observe the delete
	// generation (spec.md §4.3).
	FoundAtGID []byte
	TombstoneAtGID bool
}

// Get performs a point get of ck at (g, p) inside txn. It reuses
// ScanDriver bounded to the single CK's record range, rather than a
// bespoke reverse range scan, so the same best-fit algorithm backs Get,
// KeysAround and Query (spec.md §9's shared-algorithm design note).
func Get(txn *store.Txn, collection string, ck, g, p []byte) (GetResult, error) {
	lower, upper, err := ckRecordBounds(ck)
	if err != nil {
		return GetResult{}, err
	}

	it := txn.NewIterator(collection, store.CFDefault, store.IteratorOptions{
		Direction:  store.Forward,
		LowerBound: lower,
		UpperBound: upper,
	})
	defer it.Close()

	var result GetResult
	ScanDriver(it, store.Forward, g, p, 0, func(r ScanResult) bool {
		result.FoundAtGID = r.GID
		if r.Tombstone {
			result.TombstoneAtGID = true
			result.Found = false
		} else {
			result.Found = true
			result.Value = r.Value
		}
		return false // only the first (and only, for a single CK) finalized CK matters
	})
	return result, nil
}
