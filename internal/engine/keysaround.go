package engine

import (
	"bytes"

	"github.com/anfivewer/diffbelt-sub000/internal/errs"
	"github.com/anfivewer/diffbelt-sub000/internal/keycodec"
	"github.com/anfivewer/diffbelt-sub000/internal/store"
)

// KeysAroundResult is the outcome of get_keys_around (spec.md §4.3).
type KeysAroundResult struct {
	Left, Right             [][]byte
	HasMoreLeft, HasMoreRight bool
}

// KeysAround returns up to limit CKs on each side of ck that are live at
// (g, p), per spec.md §4.3. Returns errs.ErrCursorDidNotFindRecord if ck
// itself has no live value at (g, p).
func KeysAround(txn *store.Txn, collection string, ck, g, p []byte, limit, recordsToViewLimit int) (KeysAroundResult, error) {
	center, err := Get(txn, collection, ck, g, p)
	if err != nil {
		return KeysAroundResult{}, err
	}
	if !center.Found {
		return KeysAroundResult{}, errs.ErrCursorDidNotFindRecord
	}

	bound, err := keycodec.EncodeRecordKey(ck, nil, nil)
	if err != nil {
		return KeysAroundResult{}, err
	}

	var res KeysAroundResult

	// Right side: ascending CKs strictly greater than ck.
	func() {
		it := txn.NewIterator(collection, store.CFDefault, store.IteratorOptions{
			Direction:  store.Forward,
			LowerBound: bound,
		})
		defer it.Close()
		_, hitView, _ := ScanDriver(it, store.Forward, g, p, recordsToViewLimit, func(r ScanResult) bool {
			if bytes.Equal(r.CK, ck) {
				return true // skip the center itself
			}
			if r.Tombstone {
				return true
			}
			if len(res.Right) >= limit {
				res.HasMoreRight = true
				return false
			}
			res.Right = append(res.Right, r.CK)
			return true
		})
		if hitView && !res.HasMoreRight {
			res.HasMoreRight = true
		}
	}()

	// Left side: descending CKs strictly less than ck.
	func() {
		it := txn.NewIterator(collection, store.CFDefault, store.IteratorOptions{
			Direction:  store.Reverse,
			UpperBound: bound,
		})
		defer it.Close()
		_, hitView, _ := ScanDriver(it, store.Reverse, g, p, recordsToViewLimit, func(r ScanResult) bool {
			if r.Tombstone {
				return true
			}
			if len(res.Left) >= limit {
				res.HasMoreLeft = true
				return false
			}
			res.Left = append(res.Left, r.CK)
			return true
		})
		if hitView && !res.HasMoreLeft {
			res.HasMoreLeft = true
		}
	}()

	return res, nil
}
